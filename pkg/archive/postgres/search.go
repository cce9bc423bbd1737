package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/dungeonarchive/chronicler/pkg/archive"
)

// SearchChunks implements archive.Store. The question is reduced to search
// terms with [archive.SearchTerms] and matched against the transcript and
// search-text full-text indexes, all terms required, newest chunks first.
// Matched chunks come back with their records hydrated from the detail
// tables.
//
// When the query engine rejects the tsquery, a substring (ILIKE) match over
// the same terms takes its place. When keyword search matches nothing and an
// embedder is configured, a nearest-neighbour lookup runs instead. A question
// with no usable terms skips matching entirely and returns the newest chunks,
// hydrated.
func (s *Store) SearchChunks(ctx context.Context, question, sessionID string, limit int) ([]archive.Chunk, error) {
	if limit <= 0 {
		return []archive.Chunk{}, nil
	}

	chunks, err := s.searchRaw(ctx, question, sessionID, limit)
	if err != nil {
		return nil, err
	}
	if err := s.hydrateChunks(ctx, chunks); err != nil {
		return nil, err
	}
	return chunks, nil
}

func (s *Store) searchRaw(ctx context.Context, question, sessionID string, limit int) ([]archive.Chunk, error) {
	terms := archive.SearchTerms(question)
	if len(terms) == 0 {
		return s.RecentChunks(ctx, sessionID, limit)
	}

	chunks, err := s.searchFTS(ctx, terms, sessionID, limit)
	if err != nil {
		// A term the parser rejects must not fail the question; only then
		// does the forgiving substring match take over.
		slog.Warn("archive: full-text search failed, trying substring match",
			"terms", terms, "error", err)
		chunks, err = s.searchSubstring(ctx, terms, sessionID, limit)
		if err != nil {
			return nil, err
		}
	}
	if len(chunks) > 0 {
		return chunks, nil
	}

	if s.embedder != nil {
		chunks, err = s.searchSemantic(ctx, question, sessionID, limit)
		if err != nil {
			slog.Warn("archive: semantic search failed", "error", err)
			return []archive.Chunk{}, nil
		}
		return chunks, nil
	}
	return []archive.Chunk{}, nil
}

// searchFTS requires every term to match either the transcript or the
// search blob.
func (s *Store) searchFTS(ctx context.Context, terms []string, sessionID string, limit int) ([]archive.Chunk, error) {
	args := []any{strings.Join(terms, " ")}
	conditions := []string{
		`(to_tsvector('english', transcript) @@ plainto_tsquery('english', $1)
		  OR to_tsvector('english', search_text) @@ plainto_tsquery('english', $1))`,
	}
	if sessionID != "" {
		args = append(args, sessionID)
		conditions = append(conditions, fmt.Sprintf("session_id = $%d", len(args)))
	}
	args = append(args, limit)

	q := fmt.Sprintf(`
		SELECT id, session_id, chunk_index, transcript, search_text, created_at
		FROM   chunks
		WHERE  %s
		ORDER  BY id DESC
		LIMIT  $%d`, strings.Join(conditions, "\n\t\t  AND  "), len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("archive: fts search: %w", err)
	}
	return collectChunks(rows)
}

// searchSubstring is the forgiving fallback: any term appearing as a
// substring of the transcript or search text qualifies the chunk.
func (s *Store) searchSubstring(ctx context.Context, terms []string, sessionID string, limit int) ([]archive.Chunk, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var matches []string
	for _, t := range terms {
		p := next("%" + t + "%")
		matches = append(matches, fmt.Sprintf("(transcript ILIKE %s OR search_text ILIKE %s)", p, p))
	}
	conditions := []string{"(" + strings.Join(matches, " OR ") + ")"}
	if sessionID != "" {
		conditions = append(conditions, "session_id = "+next(sessionID))
	}

	q := fmt.Sprintf(`
		SELECT id, session_id, chunk_index, transcript, search_text, created_at
		FROM   chunks
		WHERE  %s
		ORDER  BY id DESC
		LIMIT  %s`, strings.Join(conditions, "\n\t\t  AND  "), next(limit))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("archive: substring search: %w", err)
	}
	return collectChunks(rows)
}

// searchSemantic ranks chunks by cosine distance to the embedded question.
func (s *Store) searchSemantic(ctx context.Context, question, sessionID string, limit int) ([]archive.Chunk, error) {
	vec, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("archive: embed question: %w", err)
	}

	args := []any{pgvector.NewVector(vec)}
	conditions := []string{"embedding IS NOT NULL"}
	if sessionID != "" {
		args = append(args, sessionID)
		conditions = append(conditions, fmt.Sprintf("session_id = $%d", len(args)))
	}
	args = append(args, limit)

	q := fmt.Sprintf(`
		SELECT id, session_id, chunk_index, transcript, search_text, created_at
		FROM   chunks
		WHERE  %s
		ORDER  BY embedding <=> $1
		LIMIT  $%d`, strings.Join(conditions, "\n\t\t  AND  "), len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("archive: semantic search: %w", err)
	}
	return collectChunks(rows)
}
