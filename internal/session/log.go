// Package session tracks the live recording session: its identifier, the
// running aggregate of extracted records, and the on-disk mirrors that let a
// crashed process be reconstructed from its logs.
//
// Two files are written under the log directory: an append-only
// session-<id>.jsonl with one record per line, and a session-<id>.json
// aggregate that is atomically rewritten after every chunk.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dungeonarchive/chronicler/pkg/chronicle"
)

// NewID derives a session identifier from the wall clock, e.g.
// "20260831-193045".
func NewID(now time.Time) string {
	return now.Format("20060102-150405")
}

// Aggregate is the JSON shape of the session file served at /session.json.
type Aggregate struct {
	SessionID string             `json:"session_id"`
	StartedAt string             `json:"started_at"`
	Chunks    []chronicle.Record `json:"chunks"`
}

// Log accumulates one session's records and mirrors them to disk.
// All methods are safe for concurrent use.
type Log struct {
	mu        sync.Mutex
	id        string
	startedAt time.Time
	chunks    []chronicle.Record

	jsonlPath string
	jsonPath  string
	jsonl     *os.File
}

// NewLog opens the session log files under dir, creating the directory if
// needed.
func NewLog(dir, id string, startedAt time.Time) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create log dir: %w", err)
	}
	jsonlPath := filepath.Join(dir, fmt.Sprintf("session-%s.jsonl", id))
	jsonl, err := os.OpenFile(jsonlPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("session: open jsonl: %w", err)
	}
	l := &Log{
		id:        id,
		startedAt: startedAt.UTC(),
		chunks:    []chronicle.Record{},
		jsonlPath: jsonlPath,
		jsonPath:  filepath.Join(dir, fmt.Sprintf("session-%s.json", id)),
		jsonl:     jsonl,
	}
	if err := l.writeAggregate(); err != nil {
		jsonl.Close()
		return nil, err
	}
	return l, nil
}

// ID returns the session identifier.
func (l *Log) ID() string {
	return l.id
}

// Append adds one record to the aggregate and flushes both disk mirrors.
func (l *Log) Append(rec chronicle.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	line, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("session: marshal record: %w", err)
	}
	if _, err := l.jsonl.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("session: append jsonl: %w", err)
	}

	l.chunks = append(l.chunks, rec)
	return l.writeAggregate()
}

// Snapshot returns a copy of the current aggregate.
func (l *Log) Snapshot() Aggregate {
	l.mu.Lock()
	defer l.mu.Unlock()
	chunks := make([]chronicle.Record, len(l.chunks))
	copy(chunks, l.chunks)
	return l.aggregate(chunks)
}

// Close flushes and closes the log files.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.jsonl == nil {
		return nil
	}
	err := l.jsonl.Close()
	l.jsonl = nil
	return err
}

func (l *Log) aggregate(chunks []chronicle.Record) Aggregate {
	return Aggregate{
		SessionID: l.id,
		StartedAt: l.startedAt.Format(time.RFC3339),
		Chunks:    chunks,
	}
}

// writeAggregate rewrites the aggregate file atomically: marshal to a temp
// file in the same directory, then rename over the target. Callers hold mu.
func (l *Log) writeAggregate() error {
	data, err := json.MarshalIndent(l.aggregate(l.chunks), "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal aggregate: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(l.jsonPath), ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("session: temp aggregate: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("session: write aggregate: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("session: close aggregate: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.jsonPath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("session: replace aggregate: %w", err)
	}
	return nil
}
