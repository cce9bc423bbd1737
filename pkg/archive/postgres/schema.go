// Package postgres provides the PostgreSQL-backed implementation of
// [archive.Store]. Sessions, chunks, narrative detail rows, and the entity
// ledger live in one database behind a single [pgxpool.Pool]; keyword search
// runs over GIN full-text indexes on the chunk transcript and metadata.
//
// When an embeddings provider is configured, chunks additionally carry a
// pgvector column and search gains a nearest-neighbour fallback. The pgvector
// extension is only required in that configuration.
//
// Usage:
//
//	store, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.EnsureSession(ctx, "20260831-193045", time.Now())
//	chunk, _ := store.StoreChunk(ctx, "20260831-193045", text, rec)
//	hits, _ := store.SearchChunks(ctx, "who is the blacksmith?", "", 5)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT         PRIMARY KEY,
    started_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// ddlChunks returns the chunks DDL. With embeddingDimensions > 0 the table
// gains a vector column and an HNSW index; the dimension is baked into the
// column type at schema creation time.
func ddlChunks(embeddingDimensions int) string {
	embedColumn := ""
	embedIndex := ""
	extension := ""
	if embeddingDimensions > 0 {
		extension = "CREATE EXTENSION IF NOT EXISTS vector;\n"
		embedColumn = fmt.Sprintf("    embedding    vector(%d),\n", embeddingDimensions)
		embedIndex = `
CREATE INDEX IF NOT EXISTS idx_chunks_embedding
    ON chunks USING hnsw (embedding vector_cosine_ops);
`
	}

	return extension + `
CREATE TABLE IF NOT EXISTS chunks (
    id           BIGSERIAL    PRIMARY KEY,
    session_id   TEXT         NOT NULL REFERENCES sessions (id),
    chunk_index  INTEGER      NOT NULL,
    transcript   TEXT         NOT NULL,
    search_text  TEXT         NOT NULL DEFAULT '',
` + embedColumn + `    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (session_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_chunks_session_id
    ON chunks (session_id);

CREATE INDEX IF NOT EXISTS idx_chunks_transcript_fts
    ON chunks USING GIN (to_tsvector('english', transcript));

CREATE INDEX IF NOT EXISTS idx_chunks_search_text_fts
    ON chunks USING GIN (to_tsvector('english', search_text));
` + embedIndex
}

const ddlNarrative = `
CREATE TABLE IF NOT EXISTS world_state_updates (
    id        BIGSERIAL  PRIMARY KEY,
    chunk_id  BIGINT     NOT NULL REFERENCES chunks (id) ON DELETE CASCADE,
    location  TEXT       NOT NULL DEFAULT '',
    detail    TEXT       NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_world_state_updates_chunk
    ON world_state_updates (chunk_id);

CREATE TABLE IF NOT EXISTS character_events (
    id         BIGSERIAL  PRIMARY KEY,
    chunk_id   BIGINT     NOT NULL REFERENCES chunks (id) ON DELETE CASCADE,
    character  TEXT       NOT NULL,
    action     TEXT       NOT NULL DEFAULT '',
    outcome    TEXT       NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_character_events_chunk
    ON character_events (chunk_id);

CREATE TABLE IF NOT EXISTS quest_updates (
    id        BIGSERIAL  PRIMARY KEY,
    chunk_id  BIGINT     NOT NULL REFERENCES chunks (id) ON DELETE CASCADE,
    quest     TEXT       NOT NULL,
    detail    TEXT       NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_quest_updates_chunk
    ON quest_updates (chunk_id);
`

const ddlEntities = `
CREATE TABLE IF NOT EXISTS entities (
    id              BIGSERIAL    PRIMARY KEY,
    name            TEXT         NOT NULL,
    kind            TEXT         NOT NULL DEFAULT 'unknown',
    description     TEXT         NOT NULL DEFAULT '',
    first_chunk_id  BIGINT       NOT NULL REFERENCES chunks (id),
    last_chunk_id   BIGINT       NOT NULL REFERENCES chunks (id),
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_name_ci
    ON entities (lower(name));

CREATE TABLE IF NOT EXISTS entity_aliases (
    entity_id  BIGINT  NOT NULL REFERENCES entities (id) ON DELETE CASCADE,
    alias      TEXT    NOT NULL,
    position   INTEGER NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entity_aliases_ci
    ON entity_aliases (entity_id, lower(alias));

CREATE TABLE IF NOT EXISTS entity_mentions (
    entity_id     BIGINT  NOT NULL REFERENCES entities (id) ON DELETE CASCADE,
    chunk_id      BIGINT  NOT NULL REFERENCES chunks (id) ON DELETE CASCADE,
    mention_text  TEXT    NOT NULL DEFAULT '',
    PRIMARY KEY (entity_id, chunk_id)
);
`

// Migrate creates or ensures all required tables and indexes exist. It is
// idempotent and safe to call on every application start.
//
// embeddingDimensions <= 0 skips the vector column entirely; a positive value
// must match the configured embedding model and requires the pgvector
// extension. Changing the value after the first migration requires a manual
// schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlSessions,
		ddlChunks(embeddingDimensions),
		ddlNarrative,
		ddlEntities,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
