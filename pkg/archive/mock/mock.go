// Package mock provides an in-memory archive.Store for tests.
package mock

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dungeonarchive/chronicler/pkg/archive"
	"github.com/dungeonarchive/chronicler/pkg/chronicle"
)

// Compile-time assertion that Store satisfies archive.Store.
var _ archive.Store = (*Store)(nil)

// Store keeps everything in memory with the same observable behavior as the
// real backend: dense per-session chunk indexes, case-insensitive entity
// dedup, and recency-ordered results. Search is a substring match over
// transcript and metadata.
//
// Err, when set, is returned by every mutating and querying call, for
// exercising failure paths.
type Store struct {
	mu sync.Mutex

	Err error

	sessions map[string]archive.Session
	chunks   []archive.Chunk
	entities []archive.Entity

	nextChunkID  int64
	nextEntityID int64
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		sessions:     make(map[string]archive.Session),
		nextChunkID:  1,
		nextEntityID: 1,
	}
}

// EnsureSession implements archive.Store.
func (s *Store) EnsureSession(_ context.Context, sessionID string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	if _, ok := s.sessions[sessionID]; !ok {
		s.sessions[sessionID] = archive.Session{ID: sessionID, StartedAt: startedAt}
	}
	return nil
}

// StoreChunk implements archive.Store.
func (s *Store) StoreChunk(_ context.Context, sessionID, transcript string, rec chronicle.Record) (*archive.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	if _, ok := s.sessions[sessionID]; !ok {
		s.sessions[sessionID] = archive.Session{ID: sessionID, StartedAt: time.Now()}
	}

	rec.Normalize()

	index := 0
	for _, c := range s.chunks {
		if c.SessionID == sessionID && c.Index >= index {
			index = c.Index + 1
		}
	}

	chunk := archive.Chunk{
		ID:         s.nextChunkID,
		SessionID:  sessionID,
		Index:      index,
		Transcript: transcript,
		SearchText: rec.SearchText(),
		Record:     rec,
		CreatedAt:  time.Now(),
	}
	s.nextChunkID++
	s.chunks = append(s.chunks, chunk)

	for _, m := range rec.Entities {
		s.mergeEntity(m, chunk.ID)
	}
	return &chunk, nil
}

func (s *Store) mergeEntity(m chronicle.EntityMention, chunkID int64) {
	name := strings.TrimSpace(m.Name)
	if name == "" {
		return
	}
	kind := chronicle.NormalizeKind(m.Kind)

	for i := range s.entities {
		e := &s.entities[i]
		if !strings.EqualFold(e.Name, name) {
			continue
		}
		if e.Kind == chronicle.KindUnknown && chronicle.KindIsSpecific(kind) {
			e.Kind = kind
		}
		if m.Description != "" && len(m.Description) > len(e.Description) {
			e.Description = m.Description
		}
		e.LastChunkID = chunkID
		for _, alias := range m.Aliases {
			s.addAlias(e, alias)
		}
		return
	}

	e := archive.Entity{
		ID:           s.nextEntityID,
		Name:         name,
		Kind:         kind,
		Description:  m.Description,
		FirstChunkID: chunkID,
		LastChunkID:  chunkID,
	}
	s.nextEntityID++
	for _, alias := range m.Aliases {
		s.addAlias(&e, alias)
	}
	s.entities = append(s.entities, e)
}

func (s *Store) addAlias(e *archive.Entity, alias string) {
	alias = strings.TrimSpace(alias)
	if alias == "" || strings.EqualFold(alias, e.Name) {
		return
	}
	for _, a := range e.Aliases {
		if strings.EqualFold(a, alias) {
			return
		}
	}
	e.Aliases = append(e.Aliases, alias)
}

// SearchChunks implements archive.Store.
func (s *Store) SearchChunks(ctx context.Context, question, sessionID string, limit int) ([]archive.Chunk, error) {
	s.mu.Lock()
	if s.Err != nil {
		s.mu.Unlock()
		return nil, s.Err
	}

	terms := archive.SearchTerms(question)
	if len(terms) == 0 {
		s.mu.Unlock()
		return s.RecentChunks(ctx, sessionID, limit)
	}

	var out []archive.Chunk
	for i := len(s.chunks) - 1; i >= 0 && len(out) < limit; i-- {
		c := s.chunks[i]
		if sessionID != "" && c.SessionID != sessionID {
			continue
		}
		haystack := strings.ToLower(c.Transcript + " " + c.SearchText)
		matched := true
		for _, t := range terms {
			if !strings.Contains(haystack, t) {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, c)
		}
	}
	s.mu.Unlock()
	return out, nil
}

// RecentChunks implements archive.Store. As with the real backend the
// returned chunks carry no hydrated record.
func (s *Store) RecentChunks(_ context.Context, sessionID string, limit int) ([]archive.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	var out []archive.Chunk
	for i := len(s.chunks) - 1; i >= 0 && len(out) < limit; i-- {
		c := s.chunks[i]
		if sessionID != "" && c.SessionID != sessionID {
			continue
		}
		c.Record = chronicle.Record{}
		c.Record.Normalize()
		out = append(out, c)
	}
	return out, nil
}

// EntityByName implements archive.Store.
func (s *Store) EntityByName(_ context.Context, name string) (*archive.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, e := range s.entities {
		if strings.EqualFold(e.Name, name) {
			cp := e
			return &cp, nil
		}
	}
	return nil, nil
}

// Entities implements archive.Store.
func (s *Store) Entities(_ context.Context) ([]archive.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]archive.Entity, len(s.entities))
	copy(out, s.entities)
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// Session returns the recorded session row, for assertions. The bool reports
// whether the session exists.
func (s *Store) Session(sessionID string) (archive.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	return sess, ok
}

// Chunks returns every stored chunk in insertion order, for assertions.
func (s *Store) Chunks() []archive.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]archive.Chunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// Close implements archive.Store.
func (s *Store) Close() {}
