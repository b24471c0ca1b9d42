// Package postgres stores evaluation results in PostgreSQL with the pgvector
// extension.
//
// The proposed and actual response embeddings are kept in vector columns; an
// HNSW cosine index over the actual-response embedding backs
// [Store.SimilarActual], which finds recorded agent replies close to a new
// proposal.
//
//	st, err := postgres.New(ctx, dsn, 1536)
//	if err != nil { … }
//	defer st.Close()
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlExtension = `CREATE EXTENSION IF NOT EXISTS vector`

const ddlRuns = `
CREATE TABLE IF NOT EXISTS eval_runs (
    id               TEXT         PRIMARY KEY,
    chat_model       TEXT         NOT NULL DEFAULT '',
    embedding_model  TEXT         NOT NULL DEFAULT '',
    decoys           TEXT[]       NOT NULL DEFAULT '{}',
    transcripts      INTEGER      NOT NULL DEFAULT 0,
    started_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_eval_runs_started_at
    ON eval_runs (started_at DESC);
`

// ddlResults returns the results DDL with the embedding dimension baked into
// the vector column types.
func ddlResults(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS eval_results (
    run_id             TEXT              NOT NULL REFERENCES eval_runs (id) ON DELETE CASCADE,
    transcript         TEXT              NOT NULL,
    window_index       INTEGER           NOT NULL,
    proposed           TEXT              NOT NULL DEFAULT '',
    actual             TEXT              NOT NULL DEFAULT '',
    self_score         DOUBLE PRECISION  NOT NULL DEFAULT 0,
    actual_score       DOUBLE PRECISION  NOT NULL DEFAULT 0,
    lexical_score      DOUBLE PRECISION  NOT NULL DEFAULT 0,
    decoy_scores       DOUBLE PRECISION[] NOT NULL DEFAULT '{}',
    prompt_tokens      INTEGER           NOT NULL DEFAULT 0,
    completion_tokens  INTEGER           NOT NULL DEFAULT 0,
    skip_reason        TEXT              NOT NULL DEFAULT '',
    proposed_embedding vector(%[1]d),
    actual_embedding   vector(%[1]d),
    created_at         TIMESTAMPTZ       NOT NULL DEFAULT now(),
    PRIMARY KEY (run_id, transcript, window_index)
);

CREATE INDEX IF NOT EXISTS idx_eval_results_actual_embedding
    ON eval_results USING hnsw (actual_embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates the extension, tables and indexes if they do not exist. It
// is idempotent and runs on every [New].
//
// embeddingDimensions must match the embeddings model (e.g. 1536 for
// text-embedding-ada-002, 768 for nomic-embed-text). Changing it after the
// first migration requires a manual schema change.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres migrate: embedding dimensions must be positive, got %d", embeddingDimensions)
	}
	for _, stmt := range []string{
		ddlExtension,
		ddlRuns,
		ddlResults(embeddingDimensions),
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
