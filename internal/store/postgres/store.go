package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/nextbest/internal/store"
)

var _ store.Store = (*Store)(nil)

// ErrDimensionMismatch is returned when an embedding does not have the size of
// the vector columns.
var ErrDimensionMismatch = errors.New("postgres store: embedding dimension mismatch")

// Store is the PostgreSQL result backend. All methods are safe for concurrent
// use.
type Store struct {
	pool *pgxpool.Pool
	dims int
}

// Neighbour is a stored result returned by [Store.SimilarActual].
type Neighbour struct {
	RunID string
	store.ResultRecord

	// Distance is the cosine distance to the query embedding (0 = identical).
	Distance float64
}

// New connects to dsn, makes sure the vector extension exists, registers the
// pgvector types on every pooled connection and runs [Migrate].
//
// embeddingDimensions sizes the vector columns. When the results table already
// exists its size wins: 0 adopts it, and any other differing value fails with
// [ErrDimensionMismatch].
func New(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// The vector type has to exist before AfterConnect can register it.
	if err := ensureExtension(ctx, cfg.ConnConfig); err != nil {
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	existing, err := SchemaDimensions(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	switch {
	case existing > 0 && embeddingDimensions == 0:
		embeddingDimensions = existing
	case existing > 0 && existing != embeddingDimensions:
		pool.Close()
		return nil, fmt.Errorf("%w: eval_results holds %d-dimensional embeddings, got %d",
			ErrDimensionMismatch, existing, embeddingDimensions)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return &Store{pool: pool, dims: embeddingDimensions}, nil
}

// SchemaDimensions returns the size of the embedding columns of an existing
// eval_results table, or 0 when the table does not exist yet.
func SchemaDimensions(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var typmod int
	err := pool.QueryRow(ctx, `
		SELECT atttypmod
		FROM pg_attribute
		WHERE attrelid = to_regclass('eval_results')
		  AND attname = 'actual_embedding'
		  AND NOT attisdropped`).Scan(&typmod)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema dimensions: %w", err)
	}
	// pgvector stores the declared dimension as the type modifier; -1 means
	// the column was declared without one.
	return max(typmod, 0), nil
}

// Dimensions returns the size of the embedding columns.
func (s *Store) Dimensions() int {
	return s.dims
}

func ensureExtension(ctx context.Context, cc *pgx.ConnConfig) error {
	conn, err := pgx.ConnectConfig(ctx, cc.Copy())
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(ctx)
	if _, err := conn.Exec(ctx, ddlExtension); err != nil {
		return fmt.Errorf("create extension: %w", err)
	}
	return nil
}

// SaveRun implements [store.Store].
func (s *Store) SaveRun(ctx context.Context, run store.Run) error {
	const q = `
		INSERT INTO eval_runs (id, chat_model, embedding_model, decoys, transcripts, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
		    chat_model      = EXCLUDED.chat_model,
		    embedding_model = EXCLUDED.embedding_model,
		    decoys          = EXCLUDED.decoys,
		    transcripts     = EXCLUDED.transcripts,
		    started_at      = EXCLUDED.started_at`

	decoys := run.Decoys
	if decoys == nil {
		decoys = []string{}
	}
	if _, err := s.pool.Exec(ctx, q,
		run.ID, run.ChatModel, run.EmbeddingModel, decoys, run.Transcripts, run.StartedAt,
	); err != nil {
		return fmt.Errorf("postgres store: save run: %w", err)
	}
	return nil
}

// SaveResult implements [store.Store]. Skipped windows are stored with NULL
// embeddings.
func (s *Store) SaveResult(ctx context.Context, runID string, rec store.ResultRecord) error {
	const q = `
		INSERT INTO eval_results
		    (run_id, transcript, window_index, proposed, actual,
		     self_score, actual_score, lexical_score, decoy_scores,
		     prompt_tokens, completion_tokens, skip_reason,
		     proposed_embedding, actual_embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (run_id, transcript, window_index) DO UPDATE SET
		    proposed           = EXCLUDED.proposed,
		    actual             = EXCLUDED.actual,
		    self_score         = EXCLUDED.self_score,
		    actual_score       = EXCLUDED.actual_score,
		    lexical_score      = EXCLUDED.lexical_score,
		    decoy_scores       = EXCLUDED.decoy_scores,
		    prompt_tokens      = EXCLUDED.prompt_tokens,
		    completion_tokens  = EXCLUDED.completion_tokens,
		    skip_reason        = EXCLUDED.skip_reason,
		    proposed_embedding = EXCLUDED.proposed_embedding,
		    actual_embedding   = EXCLUDED.actual_embedding,
		    created_at         = EXCLUDED.created_at`

	for _, v := range [][]float32{rec.ProposedEmbedding, rec.ActualEmbedding} {
		if len(v) != 0 && len(v) != s.dims {
			return fmt.Errorf("%w: %s window %d has %d-dimensional embeddings, columns hold %d",
				ErrDimensionMismatch, rec.Transcript, rec.Window, len(v), s.dims)
		}
	}

	decoys := rec.DecoyScores
	if decoys == nil {
		decoys = []float64{}
	}
	_, err := s.pool.Exec(ctx, q,
		runID, rec.Transcript, rec.Window, rec.Proposed, rec.Actual,
		rec.SelfScore, rec.ActualScore, rec.LexicalScore, decoys,
		rec.PromptTokens, rec.CompletionTokens, rec.SkipReason,
		vectorOrNil(rec.ProposedEmbedding), vectorOrNil(rec.ActualEmbedding),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save result: %w", err)
	}
	return nil
}

const selectResultColumns = `
	transcript, window_index, proposed, actual,
	self_score, actual_score, lexical_score, decoy_scores,
	prompt_tokens, completion_tokens, skip_reason,
	proposed_embedding, actual_embedding, created_at`

// ListResults implements [store.Store].
func (s *Store) ListResults(ctx context.Context, runID string) ([]store.ResultRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+selectResultColumns+`
		FROM   eval_results
		WHERE  run_id = $1
		ORDER  BY transcript, window_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list results: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.ResultRecord, error) {
		var rec store.ResultRecord
		err := scanResult(row, &rec)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan results: %w", err)
	}
	if results == nil {
		results = []store.ResultRecord{}
	}
	return results, nil
}

const selectRun = `
		SELECT id, chat_model, embedding_model, decoys, transcripts, started_at
		FROM   eval_runs`

// LatestRun implements [store.Store].
func (s *Store) LatestRun(ctx context.Context) (store.Run, error) {
	run, err := scanRun(s.pool.QueryRow(ctx, selectRun+`
		ORDER  BY started_at DESC
		LIMIT  1`))
	if err != nil {
		return store.Run{}, fmt.Errorf("postgres store: latest run: %w", err)
	}
	return run, nil
}

// Run implements [store.Store].
func (s *Store) Run(ctx context.Context, id string) (store.Run, error) {
	run, err := scanRun(s.pool.QueryRow(ctx, selectRun+`
		WHERE  id = $1`, id))
	if err != nil {
		return store.Run{}, fmt.Errorf("postgres store: run %q: %w", id, err)
	}
	return run, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var run store.Run
	err := row.Scan(&run.ID, &run.ChatModel, &run.EmbeddingModel, &run.Decoys, &run.Transcripts, &run.StartedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Run{}, store.ErrNotFound
	}
	return run, err
}

// SimilarActual returns up to k stored results whose actual-response
// embedding is closest (cosine distance) to embedding, most similar first.
// Skipped windows are never returned.
func (s *Store) SimilarActual(ctx context.Context, embedding []float32, k int) ([]Neighbour, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, `+selectResultColumns+`,
		       actual_embedding <=> $1 AS distance
		FROM   eval_results
		WHERE  actual_embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  $2`, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("postgres store: similar actual: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Neighbour, error) {
		var (
			n                  Neighbour
			proposedV, actualV *pgvector.Vector
		)
		if err := row.Scan(
			&n.RunID,
			&n.Transcript, &n.Window, &n.Proposed, &n.Actual,
			&n.SelfScore, &n.ActualScore, &n.LexicalScore, &n.DecoyScores,
			&n.PromptTokens, &n.CompletionTokens, &n.SkipReason,
			&proposedV, &actualV, &n.CreatedAt,
			&n.Distance,
		); err != nil {
			return Neighbour{}, err
		}
		n.ProposedEmbedding = sliceOrNil(proposedV)
		n.ActualEmbedding = sliceOrNil(actualV)
		return n, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan neighbours: %w", err)
	}
	if results == nil {
		results = []Neighbour{}
	}
	return results, nil
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [store.Store].
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanResult(row pgx.CollectableRow, rec *store.ResultRecord) error {
	var proposedV, actualV *pgvector.Vector
	if err := row.Scan(
		&rec.Transcript, &rec.Window, &rec.Proposed, &rec.Actual,
		&rec.SelfScore, &rec.ActualScore, &rec.LexicalScore, &rec.DecoyScores,
		&rec.PromptTokens, &rec.CompletionTokens, &rec.SkipReason,
		&proposedV, &actualV, &rec.CreatedAt,
	); err != nil {
		return err
	}
	rec.ProposedEmbedding = sliceOrNil(proposedV)
	rec.ActualEmbedding = sliceOrNil(actualV)
	return nil
}

func vectorOrNil(v []float32) *pgvector.Vector {
	if len(v) == 0 {
		return nil
	}
	vec := pgvector.NewVector(v)
	return &vec
}

func sliceOrNil(v *pgvector.Vector) []float32 {
	if v == nil {
		return nil
	}
	return v.Slice()
}
