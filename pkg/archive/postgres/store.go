package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/dungeonarchive/chronicler/pkg/archive"
	"github.com/dungeonarchive/chronicler/pkg/chronicle"
	"github.com/dungeonarchive/chronicler/pkg/provider/embeddings"
)

// Compile-time assertion that Store satisfies archive.Store.
var _ archive.Store = (*Store)(nil)

// Store is the PostgreSQL-backed chronicle archive. It holds a single
// [pgxpool.Pool]; all operations are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
}

// Option is a functional option for Store.
type Option func(*Store)

// WithEmbedder enables the semantic index: stored chunks are embedded with
// the given provider and SearchChunks gains a nearest-neighbour fallback for
// questions that match nothing by keyword. The provider's Dimensions() must
// stay constant across the archive's lifetime.
func WithEmbedder(e embeddings.Provider) Option {
	return func(s *Store) { s.embedder = e }
}

// New creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, and runs [Migrate] to ensure all required tables exist.
// When an embedder is configured, pgvector types are registered on every
// connection.
func New(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	s := &Store{}
	for _, o := range opts {
		o(s)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: parse dsn: %w", err)
	}
	if s.embedder != nil {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			return pgxvec.RegisterTypes(ctx, conn)
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}

	dims := 0
	if s.embedder != nil {
		dims = s.embedder.Dimensions()
		if dims <= 0 {
			pool.Close()
			return nil, fmt.Errorf("archive: embedder %q reports no dimensions", s.embedder.ModelID())
		}
	}
	if err := Migrate(ctx, pool, dims); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}

	s.pool = pool
	return s, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSession implements archive.Store. A zero startedAt falls back to the
// current time.
func (s *Store) EnsureSession(ctx context.Context, sessionID string, startedAt time.Time) error {
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	const q = `INSERT INTO sessions (id, started_at) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, q, sessionID, startedAt); err != nil {
		return fmt.Errorf("archive: ensure session: %w", err)
	}
	return nil
}

// StoreChunk implements archive.Store. The chunk row, its narrative rows,
// and all entity merges commit in one transaction; the chunk index is
// assigned inside that transaction so indexes stay dense per session even
// under concurrent writers.
func (s *Store) StoreChunk(ctx context.Context, sessionID, transcript string, rec chronicle.Record) (*archive.Chunk, error) {
	rec.Normalize()
	searchText := rec.SearchText()

	// Embedding happens outside the transaction; a slow or failing embed
	// must not hold row locks. Losing the vector is acceptable, losing the
	// chunk is not.
	var embedding *pgvector.Vector
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, transcript)
		if err != nil {
			slog.Warn("archive: embedding failed, storing chunk without vector",
				"session_id", sessionID, "error", err)
		} else {
			v := pgvector.NewVector(vec)
			embedding = &v
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO sessions (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, sessionID); err != nil {
		return nil, fmt.Errorf("archive: ensure session: %w", err)
	}

	chunk := &archive.Chunk{
		SessionID:  sessionID,
		Transcript: transcript,
		SearchText: searchText,
		Record:     rec,
	}

	insert := `
		INSERT INTO chunks (session_id, chunk_index, transcript, search_text)
		VALUES ($1, (SELECT COALESCE(MAX(chunk_index) + 1, 0) FROM chunks WHERE session_id = $1), $2, $3)
		RETURNING id, chunk_index, created_at`
	args := []any{sessionID, transcript, searchText}
	if embedding != nil {
		insert = `
		INSERT INTO chunks (session_id, chunk_index, transcript, search_text, embedding)
		VALUES ($1, (SELECT COALESCE(MAX(chunk_index) + 1, 0) FROM chunks WHERE session_id = $1), $2, $3, $4)
		RETURNING id, chunk_index, created_at`
		args = append(args, *embedding)
	}
	if err := tx.QueryRow(ctx, insert, args...).Scan(&chunk.ID, &chunk.Index, &chunk.CreatedAt); err != nil {
		return nil, fmt.Errorf("archive: insert chunk: %w", err)
	}

	if err := insertNarrative(ctx, tx, chunk.ID, rec); err != nil {
		return nil, err
	}
	for _, m := range rec.Entities {
		if err := mergeEntity(ctx, tx, chunk.ID, m); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("archive: commit: %w", err)
	}
	return chunk, nil
}

// insertNarrative writes the record's world, character, and quest rows.
func insertNarrative(ctx context.Context, tx pgx.Tx, chunkID int64, rec chronicle.Record) error {
	for _, w := range rec.WorldStateUpdates {
		if _, err := tx.Exec(ctx,
			`INSERT INTO world_state_updates (chunk_id, location, detail) VALUES ($1, $2, $3)`,
			chunkID, w.Location, w.Update); err != nil {
			return fmt.Errorf("archive: insert world state update: %w", err)
		}
	}
	for _, c := range rec.CharacterEvents {
		if _, err := tx.Exec(ctx,
			`INSERT INTO character_events (chunk_id, character, action, outcome) VALUES ($1, $2, $3, $4)`,
			chunkID, c.Character, c.Action, c.Outcome); err != nil {
			return fmt.Errorf("archive: insert character event: %w", err)
		}
	}
	for _, q := range rec.QuestUpdates {
		if _, err := tx.Exec(ctx,
			`INSERT INTO quest_updates (chunk_id, quest, detail) VALUES ($1, $2, $3)`,
			chunkID, q.Quest, q.Update); err != nil {
			return fmt.Errorf("archive: insert quest update: %w", err)
		}
	}
	return nil
}

// mergeEntity folds one mention into the ledger. The row is locked for the
// duration of the merge so concurrent chunks cannot interleave updates.
// Merge policy: the kind only moves from unknown to something specific, the
// description is replaced only by a strictly longer non-empty one, and
// last_chunk_id always advances.
func mergeEntity(ctx context.Context, tx pgx.Tx, chunkID int64, m chronicle.EntityMention) error {
	name := strings.TrimSpace(m.Name)
	if name == "" {
		return nil
	}
	kind := chronicle.NormalizeKind(m.Kind)

	var (
		entityID int64
		curKind  string
	)
	err := tx.QueryRow(ctx,
		`SELECT id, kind FROM entities WHERE lower(name) = lower($1) FOR UPDATE`,
		name).Scan(&entityID, &curKind)

	switch {
	case err == pgx.ErrNoRows:
		err = tx.QueryRow(ctx,
			`INSERT INTO entities (name, kind, description, first_chunk_id, last_chunk_id)
			 VALUES ($1, $2, $3, $4, $4)
			 RETURNING id`,
			name, kind, m.Description, chunkID).Scan(&entityID)
		if err != nil {
			return fmt.Errorf("archive: insert entity %q: %w", name, err)
		}
	case err != nil:
		return fmt.Errorf("archive: lookup entity %q: %w", name, err)
	default:
		newKind := curKind
		if curKind == chronicle.KindUnknown && chronicle.KindIsSpecific(kind) {
			newKind = kind
		}
		if _, err := tx.Exec(ctx,
			`UPDATE entities
			 SET kind = $2,
			     description = CASE WHEN $3 <> '' AND length($3) > length(description) THEN $3 ELSE description END,
			     last_chunk_id = $4,
			     updated_at = now()
			 WHERE id = $1`,
			entityID, newKind, m.Description, chunkID); err != nil {
			return fmt.Errorf("archive: update entity %q: %w", name, err)
		}
	}

	for i, alias := range m.Aliases {
		alias = strings.TrimSpace(alias)
		if alias == "" || strings.EqualFold(alias, name) {
			continue
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO entity_aliases (entity_id, alias, position) VALUES ($1, $2, $3)
			 ON CONFLICT (entity_id, lower(alias)) DO NOTHING`,
			entityID, alias, i); err != nil {
			return fmt.Errorf("archive: insert alias %q: %w", alias, err)
		}
	}

	// The mention row keeps the chunk-local description snippet even when the
	// ledger's description comes from another chunk.
	if _, err := tx.Exec(ctx,
		`INSERT INTO entity_mentions (entity_id, chunk_id, mention_text) VALUES ($1, $2, $3)
		 ON CONFLICT (entity_id, chunk_id) DO NOTHING`,
		entityID, chunkID, strings.TrimSpace(m.Description)); err != nil {
		return fmt.Errorf("archive: insert mention: %w", err)
	}
	return nil
}

// RecentChunks implements archive.Store. The detail rows are not hydrated;
// this is the lightweight inspection path.
func (s *Store) RecentChunks(ctx context.Context, sessionID string, limit int) ([]archive.Chunk, error) {
	q := `
		SELECT id, session_id, chunk_index, transcript, search_text, created_at
		FROM   chunks`
	args := []any{}
	if sessionID != "" {
		q += "\n\t\tWHERE  session_id = $1"
		args = append(args, sessionID)
	}
	args = append(args, limit)
	q += fmt.Sprintf("\n\t\tORDER  BY id DESC\n\t\tLIMIT  $%d", len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("archive: recent chunks: %w", err)
	}
	return collectChunks(rows)
}

// EntityByName implements archive.Store.
func (s *Store) EntityByName(ctx context.Context, name string) (*archive.Entity, error) {
	const q = `
		SELECT id, name, kind, description, first_chunk_id, last_chunk_id
		FROM   entities
		WHERE  lower(name) = lower($1)`

	var e archive.Entity
	err := s.pool.QueryRow(ctx, q, name).Scan(
		&e.ID, &e.Name, &e.Kind, &e.Description, &e.FirstChunkID, &e.LastChunkID)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("archive: entity by name: %w", err)
	}
	if err := s.loadAliases(ctx, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Entities implements archive.Store.
func (s *Store) Entities(ctx context.Context) ([]archive.Entity, error) {
	const q = `
		SELECT id, name, kind, description, first_chunk_id, last_chunk_id
		FROM   entities
		ORDER  BY lower(name)`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("archive: list entities: %w", err)
	}
	entities, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (archive.Entity, error) {
		var e archive.Entity
		err := row.Scan(&e.ID, &e.Name, &e.Kind, &e.Description, &e.FirstChunkID, &e.LastChunkID)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("archive: scan entities: %w", err)
	}
	for i := range entities {
		if err := s.loadAliases(ctx, &entities[i]); err != nil {
			return nil, err
		}
	}
	if entities == nil {
		entities = []archive.Entity{}
	}
	return entities, nil
}

func (s *Store) loadAliases(ctx context.Context, e *archive.Entity) error {
	rows, err := s.pool.Query(ctx,
		`SELECT alias FROM entity_aliases WHERE entity_id = $1 ORDER BY position, alias`, e.ID)
	if err != nil {
		return fmt.Errorf("archive: load aliases: %w", err)
	}
	aliases, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var a string
		err := row.Scan(&a)
		return a, err
	})
	if err != nil {
		return fmt.Errorf("archive: scan aliases: %w", err)
	}
	e.Aliases = aliases
	return nil
}

// collectChunks scans bare chunk rows. Records start out empty; the search
// path hydrates them afterwards via hydrateChunks.
func collectChunks(rows pgx.Rows) ([]archive.Chunk, error) {
	chunks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (archive.Chunk, error) {
		var c archive.Chunk
		if err := row.Scan(&c.ID, &c.SessionID, &c.Index, &c.Transcript, &c.SearchText, &c.CreatedAt); err != nil {
			return archive.Chunk{}, err
		}
		c.Record.Normalize()
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive: scan chunks: %w", err)
	}
	if chunks == nil {
		chunks = []archive.Chunk{}
	}
	return chunks, nil
}

// hydrateChunks fills each chunk's Record from the detail tables with one
// batched query per table, keyed by chunk id.
func (s *Store) hydrateChunks(ctx context.Context, chunks []archive.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	ids := make([]int64, len(chunks))
	byID := make(map[int64]*archive.Chunk, len(chunks))
	for i := range chunks {
		ids[i] = chunks[i].ID
		byID[chunks[i].ID] = &chunks[i]
	}

	rows, err := s.pool.Query(ctx,
		`SELECT chunk_id, location, detail FROM world_state_updates WHERE chunk_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return fmt.Errorf("archive: hydrate world state: %w", err)
	}
	if err := forEachRow(rows, func(row pgx.CollectableRow) error {
		var (
			chunkID int64
			w       chronicle.WorldStateUpdate
		)
		if err := row.Scan(&chunkID, &w.Location, &w.Update); err != nil {
			return err
		}
		c := byID[chunkID]
		c.Record.WorldStateUpdates = append(c.Record.WorldStateUpdates, w)
		return nil
	}); err != nil {
		return fmt.Errorf("archive: hydrate world state: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT chunk_id, character, action, outcome FROM character_events WHERE chunk_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return fmt.Errorf("archive: hydrate character events: %w", err)
	}
	if err := forEachRow(rows, func(row pgx.CollectableRow) error {
		var (
			chunkID int64
			ev      chronicle.CharacterEvent
		)
		if err := row.Scan(&chunkID, &ev.Character, &ev.Action, &ev.Outcome); err != nil {
			return err
		}
		c := byID[chunkID]
		c.Record.CharacterEvents = append(c.Record.CharacterEvents, ev)
		return nil
	}); err != nil {
		return fmt.Errorf("archive: hydrate character events: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT chunk_id, quest, detail FROM quest_updates WHERE chunk_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return fmt.Errorf("archive: hydrate quest updates: %w", err)
	}
	if err := forEachRow(rows, func(row pgx.CollectableRow) error {
		var (
			chunkID int64
			q       chronicle.QuestUpdate
		)
		if err := row.Scan(&chunkID, &q.Quest, &q.Update); err != nil {
			return err
		}
		c := byID[chunkID]
		c.Record.QuestUpdates = append(c.Record.QuestUpdates, q)
		return nil
	}); err != nil {
		return fmt.Errorf("archive: hydrate quest updates: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT m.chunk_id, e.id, e.name, e.kind, e.description
		FROM   entity_mentions m
		JOIN   entities e ON e.id = m.entity_id
		WHERE  m.chunk_id = ANY($1)
		ORDER  BY e.id`, ids)
	if err != nil {
		return fmt.Errorf("archive: hydrate entities: %w", err)
	}
	type mentionRow struct {
		chunkID  int64
		entityID int64
		mention  chronicle.EntityMention
	}
	var mentions []mentionRow
	if err := forEachRow(rows, func(row pgx.CollectableRow) error {
		var mr mentionRow
		if err := row.Scan(&mr.chunkID, &mr.entityID, &mr.mention.Name, &mr.mention.Kind, &mr.mention.Description); err != nil {
			return err
		}
		mr.mention.Aliases = []string{}
		mentions = append(mentions, mr)
		return nil
	}); err != nil {
		return fmt.Errorf("archive: hydrate entities: %w", err)
	}

	if len(mentions) > 0 {
		seen := make(map[int64]struct{}, len(mentions))
		var entityIDs []int64
		for _, mr := range mentions {
			if _, dup := seen[mr.entityID]; !dup {
				seen[mr.entityID] = struct{}{}
				entityIDs = append(entityIDs, mr.entityID)
			}
		}
		aliases := make(map[int64][]string)
		rows, err = s.pool.Query(ctx,
			`SELECT entity_id, alias FROM entity_aliases WHERE entity_id = ANY($1) ORDER BY position, alias`, entityIDs)
		if err != nil {
			return fmt.Errorf("archive: hydrate aliases: %w", err)
		}
		if err := forEachRow(rows, func(row pgx.CollectableRow) error {
			var (
				entityID int64
				alias    string
			)
			if err := row.Scan(&entityID, &alias); err != nil {
				return err
			}
			aliases[entityID] = append(aliases[entityID], alias)
			return nil
		}); err != nil {
			return fmt.Errorf("archive: hydrate aliases: %w", err)
		}

		for _, mr := range mentions {
			if a := aliases[mr.entityID]; a != nil {
				mr.mention.Aliases = a
			}
			c := byID[mr.chunkID]
			c.Record.Entities = append(c.Record.Entities, mr.mention)
		}
	}

	return nil
}

// forEachRow drains rows through fn, closing them and surfacing the first
// error.
func forEachRow(rows pgx.Rows, fn func(pgx.CollectableRow) error) error {
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
