// Package archive defines the persistent chronicle store: sessions, ordered
// transcript chunks with their extracted records, and the deduplicated entity
// ledger built up as chunks arrive.
//
// Implementations must be safe for concurrent use.
package archive

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/dungeonarchive/chronicler/pkg/chronicle"
)

// Session is one recording session. IDs are caller-assigned, typically a
// local timestamp such as "20260831-193045".
type Session struct {
	ID        string
	StartedAt time.Time
}

// Chunk is one stored utterance with its extraction result.
//
// Index is the chunk's position within its session, dense from 0 with no
// gaps. SearchText is the flattened rendering of Record that is indexed
// alongside the transcript (see [chronicle.Record.SearchText]). Record is
// hydrated from the linked detail rows by SearchChunks; RecentChunks leaves
// it empty.
type Chunk struct {
	ID         int64
	SessionID  string
	Index      int
	Transcript string
	SearchText string
	Record     chronicle.Record
	CreatedAt  time.Time
}

// Entity is one row of the deduplicated entity ledger. Names are unique
// case-insensitively; Aliases holds alternate spellings in insertion order.
type Entity struct {
	ID           int64
	Name         string
	Kind         string
	Description  string
	Aliases      []string
	FirstChunkID int64
	LastChunkID  int64
}

// Store is the abstraction over the chronicle archive backend.
//
// StoreChunk is atomic: the chunk row, its narrative rows, and all entity
// merges commit together or not at all.
type Store interface {
	// EnsureSession creates the session row if it does not exist yet,
	// recording startedAt as the session start. Calling it again for a
	// known session is a no-op: the original start is kept.
	EnsureSession(ctx context.Context, sessionID string, startedAt time.Time) error

	// StoreChunk appends transcript and its extracted record to the
	// session, assigning the next dense chunk index, and merges every
	// entity mention into the ledger. The returned chunk carries the
	// assigned ID and index.
	StoreChunk(ctx context.Context, sessionID, transcript string, rec chronicle.Record) (*Chunk, error)

	// SearchChunks finds up to limit chunks relevant to the question,
	// newest first, with each chunk's Record hydrated from its detail
	// rows. An empty sessionID searches across all sessions. A question
	// that reduces to no usable terms falls back to recency.
	SearchChunks(ctx context.Context, question, sessionID string, limit int) ([]Chunk, error)

	// RecentChunks returns up to limit of the newest chunks, newest
	// first, without record hydration. An empty sessionID spans all
	// sessions.
	RecentChunks(ctx context.Context, sessionID string, limit int) ([]Chunk, error)

	// EntityByName looks up one ledger entry case-insensitively.
	// Returns (nil, nil) when no such entity exists.
	EntityByName(ctx context.Context, name string) (*Entity, error)

	// Entities lists the ledger ordered by name.
	Entities(ctx context.Context) ([]Entity, error)

	// Close releases the store's resources.
	Close()
}

// stopwords are question words carrying no search signal.
var stopwords = map[string]struct{}{
	"what": {}, "where": {}, "who": {}, "did": {}, "does": {},
	"have": {}, "has": {}, "get": {}, "got": {}, "the": {},
	"a": {}, "an": {}, "in": {}, "of": {}, "and": {}, "to": {},
	"for": {}, "is": {}, "are": {}, "was": {}, "were": {}, "with": {},
}

// maxSearchTerms caps how many terms of a question feed the search query.
const maxSearchTerms = 6

// termRe extracts word-character runs. Apostrophes stay inside a token so
// possessives keep their stem; anything else, hyphens included, splits.
var termRe = regexp.MustCompile(`[\w']+`)

// SearchTerms reduces a free-form question to the terms a keyword search
// should match, all lowercased: word tokens with stopwords and
// single-character tokens removed, deduplicated in first-seen order, capped
// at six. When filtering would remove everything, the unfiltered tokens are
// kept instead so short questions still search rather than falling straight
// through to recency. An empty result means the caller should fall back.
func SearchTerms(question string) []string {
	raw := termRe.FindAllString(strings.ToLower(question), -1)

	seen := make(map[string]struct{}, len(raw))
	var terms []string
	for _, t := range raw {
		if len(t) <= 1 {
			continue
		}
		if _, skip := stopwords[t]; skip {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}

	if len(terms) == 0 {
		for _, t := range raw {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			terms = append(terms, t)
		}
	}

	if len(terms) > maxSearchTerms {
		terms = terms[:maxSearchTerms]
	}
	return terms
}
