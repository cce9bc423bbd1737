package session

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dungeonarchive/chronicler/pkg/chronicle"
)

func TestNewID(t *testing.T) {
	id := NewID(time.Date(2026, 8, 31, 19, 30, 45, 0, time.UTC))
	if id != "20260831-193045" {
		t.Errorf("id = %q", id)
	}
}

func TestLogAppendAndSnapshot(t *testing.T) {
	dir := t.TempDir()
	started := time.Date(2026, 8, 31, 19, 0, 0, 0, time.UTC)
	l, err := NewLog(dir, "20260831-190000", started)
	if err != nil {
		t.Fatalf("NewLog: %v", err)
	}
	defer l.Close()

	rec := chronicle.Record{
		QuestUpdates: []chronicle.QuestUpdate{{Quest: "Dragon Hunt", Update: "tracks found"}},
	}
	rec.Normalize()
	if err := l.Append(rec); err != nil {
		t.Fatalf("Append: %v", err)
	}

	snap := l.Snapshot()
	if snap.SessionID != "20260831-190000" {
		t.Errorf("session id = %q", snap.SessionID)
	}
	if snap.StartedAt != "2026-08-31T19:00:00Z" {
		t.Errorf("started at = %q", snap.StartedAt)
	}
	if len(snap.Chunks) != 1 || len(snap.Chunks[0].QuestUpdates) != 1 {
		t.Errorf("chunks = %+v", snap.Chunks)
	}
}

func TestLogWritesBothMirrors(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLog(dir, "test", time.Now())
	if err != nil {
		t.Fatalf("NewLog: %v", err)
	}
	defer l.Close()

	for range 2 {
		rec := (&chronicle.Record{}).Normalize()
		if err := l.Append(*rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	jsonl, err := os.Open(filepath.Join(dir, "session-test.jsonl"))
	if err != nil {
		t.Fatalf("open jsonl: %v", err)
	}
	defer jsonl.Close()
	lines := 0
	scanner := bufio.NewScanner(jsonl)
	for scanner.Scan() {
		var rec chronicle.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Errorf("jsonl line %d: %v", lines, err)
		}
		lines++
	}
	if lines != 2 {
		t.Errorf("jsonl lines = %d, want 2", lines)
	}

	data, err := os.ReadFile(filepath.Join(dir, "session-test.json"))
	if err != nil {
		t.Fatalf("read aggregate: %v", err)
	}
	var agg Aggregate
	if err := json.Unmarshal(data, &agg); err != nil {
		t.Fatalf("unmarshal aggregate: %v", err)
	}
	if len(agg.Chunks) != 2 {
		t.Errorf("aggregate chunks = %d, want 2", len(agg.Chunks))
	}
}

func TestLogAggregateExistsBeforeFirstChunk(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLog(dir, "empty", time.Now())
	if err != nil {
		t.Fatalf("NewLog: %v", err)
	}
	defer l.Close()

	data, err := os.ReadFile(filepath.Join(dir, "session-empty.json"))
	if err != nil {
		t.Fatalf("read aggregate: %v", err)
	}
	var agg Aggregate
	if err := json.Unmarshal(data, &agg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if agg.Chunks == nil || len(agg.Chunks) != 0 {
		t.Errorf("chunks = %+v, want empty list", agg.Chunks)
	}
}
