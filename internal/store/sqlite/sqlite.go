// Package sqlite is a single-file result backend for local runs. Embeddings and
// score lists are stored as JSON text; timestamps as RFC 3339 UTC text.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/nextbest/internal/store"
)

var _ store.Store = (*Store)(nil)

const createRunsTableSQL = `
CREATE TABLE IF NOT EXISTS eval_runs (
	id TEXT PRIMARY KEY,
	chat_model TEXT NOT NULL,
	embedding_model TEXT NOT NULL,
	decoys_json TEXT NOT NULL,
	transcripts INTEGER NOT NULL,
	started_at_utc TEXT NOT NULL
)`

const createResultsTableSQL = `
CREATE TABLE IF NOT EXISTS eval_results (
	run_id TEXT NOT NULL,
	transcript TEXT NOT NULL,
	window_index INTEGER NOT NULL,
	proposed TEXT NOT NULL,
	actual TEXT NOT NULL,
	self_score REAL NOT NULL,
	actual_score REAL NOT NULL,
	lexical_score REAL NOT NULL,
	decoy_scores_json TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	skip_reason TEXT NOT NULL,
	proposed_embedding_json TEXT NOT NULL,
	actual_embedding_json TEXT NOT NULL,
	created_at_utc TEXT NOT NULL,
	PRIMARY KEY (run_id, transcript, window_index)
)`

var createIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_eval_runs_started ON eval_runs(started_at_utc)`,
}

const upsertRunSQL = `
INSERT INTO eval_runs (
	id,
	chat_model,
	embedding_model,
	decoys_json,
	transcripts,
	started_at_utc
) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	chat_model = excluded.chat_model,
	embedding_model = excluded.embedding_model,
	decoys_json = excluded.decoys_json,
	transcripts = excluded.transcripts,
	started_at_utc = excluded.started_at_utc`

const upsertResultSQL = `
INSERT INTO eval_results (
	run_id,
	transcript,
	window_index,
	proposed,
	actual,
	self_score,
	actual_score,
	lexical_score,
	decoy_scores_json,
	prompt_tokens,
	completion_tokens,
	skip_reason,
	proposed_embedding_json,
	actual_embedding_json,
	created_at_utc
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (run_id, transcript, window_index) DO UPDATE SET
	proposed = excluded.proposed,
	actual = excluded.actual,
	self_score = excluded.self_score,
	actual_score = excluded.actual_score,
	lexical_score = excluded.lexical_score,
	decoy_scores_json = excluded.decoy_scores_json,
	prompt_tokens = excluded.prompt_tokens,
	completion_tokens = excluded.completion_tokens,
	skip_reason = excluded.skip_reason,
	proposed_embedding_json = excluded.proposed_embedding_json,
	actual_embedding_json = excluded.actual_embedding_json,
	created_at_utc = excluded.created_at_utc`

const listResultsSQL = `
SELECT
	transcript,
	window_index,
	proposed,
	actual,
	self_score,
	actual_score,
	lexical_score,
	decoy_scores_json,
	prompt_tokens,
	completion_tokens,
	skip_reason,
	proposed_embedding_json,
	actual_embedding_json,
	created_at_utc
FROM eval_results
WHERE run_id = ?
ORDER BY transcript, window_index`

const selectRunSQL = `
SELECT id, chat_model, embedding_model, decoys_json, transcripts, started_at_utc
FROM eval_runs`

const latestRunSQL = selectRunSQL + `
ORDER BY started_at_utc DESC
LIMIT 1`

const runByIDSQL = selectRunSQL + `
WHERE id = ?`

// timeLayout has a fixed-width fraction so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store writes evaluation results to a SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open %s: %w", path, err)
	}
	// SQLite allows a single writer; serialise through one connection so
	// concurrent window workers do not hit SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: ping %s: %w", path, err)
	}

	stmts := append([]string{createRunsTableSQL, createResultsTableSQL}, createIndexesSQL...)
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite store: ensure schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// SaveRun implements [store.Store].
func (s *Store) SaveRun(ctx context.Context, run store.Run) error {
	decoys, err := marshalJSON(run.Decoys, []string{})
	if err != nil {
		return fmt.Errorf("sqlite store: save run: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, upsertRunSQL,
		run.ID,
		run.ChatModel,
		run.EmbeddingModel,
		decoys,
		run.Transcripts,
		formatTime(run.StartedAt),
	); err != nil {
		return fmt.Errorf("sqlite store: save run: %w", err)
	}
	return nil
}

// SaveResult implements [store.Store].
func (s *Store) SaveResult(ctx context.Context, runID string, rec store.ResultRecord) error {
	decoyScores, err := marshalJSON(rec.DecoyScores, []float64{})
	if err != nil {
		return fmt.Errorf("sqlite store: save result: %w", err)
	}
	proposed, err := marshalJSON(rec.ProposedEmbedding, []float32{})
	if err != nil {
		return fmt.Errorf("sqlite store: save result: %w", err)
	}
	actual, err := marshalJSON(rec.ActualEmbedding, []float32{})
	if err != nil {
		return fmt.Errorf("sqlite store: save result: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, upsertResultSQL,
		runID,
		rec.Transcript,
		rec.Window,
		rec.Proposed,
		rec.Actual,
		rec.SelfScore,
		rec.ActualScore,
		rec.LexicalScore,
		decoyScores,
		rec.PromptTokens,
		rec.CompletionTokens,
		rec.SkipReason,
		proposed,
		actual,
		formatTime(rec.CreatedAt),
	); err != nil {
		return fmt.Errorf("sqlite store: save result: %w", err)
	}
	return nil
}

// ListResults implements [store.Store].
func (s *Store) ListResults(ctx context.Context, runID string) ([]store.ResultRecord, error) {
	rows, err := s.db.QueryContext(ctx, listResultsSQL, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list results: %w", err)
	}
	defer rows.Close()

	results := []store.ResultRecord{}
	for rows.Next() {
		var (
			rec                           store.ResultRecord
			decoyScores, proposed, actual string
			createdAt                     string
		)
		if err := rows.Scan(
			&rec.Transcript,
			&rec.Window,
			&rec.Proposed,
			&rec.Actual,
			&rec.SelfScore,
			&rec.ActualScore,
			&rec.LexicalScore,
			&decoyScores,
			&rec.PromptTokens,
			&rec.CompletionTokens,
			&rec.SkipReason,
			&proposed,
			&actual,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite store: scan result: %w", err)
		}
		if err := json.Unmarshal([]byte(decoyScores), &rec.DecoyScores); err != nil {
			return nil, fmt.Errorf("sqlite store: decode decoy scores: %w", err)
		}
		if rec.ProposedEmbedding, err = decodeEmbedding(proposed); err != nil {
			return nil, fmt.Errorf("sqlite store: decode proposed embedding: %w", err)
		}
		if rec.ActualEmbedding, err = decodeEmbedding(actual); err != nil {
			return nil, fmt.Errorf("sqlite store: decode actual embedding: %w", err)
		}
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: list results: %w", err)
	}
	return results, nil
}

// LatestRun implements [store.Store].
func (s *Store) LatestRun(ctx context.Context) (store.Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, latestRunSQL))
	if err != nil {
		return store.Run{}, fmt.Errorf("sqlite store: latest run: %w", err)
	}
	return run, nil
}

// Run implements [store.Store].
func (s *Store) Run(ctx context.Context, id string) (store.Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, runByIDSQL, id))
	if err != nil {
		return store.Run{}, fmt.Errorf("sqlite store: run %q: %w", id, err)
	}
	return run, nil
}

func scanRun(row *sql.Row) (store.Run, error) {
	var (
		run       store.Run
		decoys    string
		startedAt string
	)
	err := row.Scan(&run.ID, &run.ChatModel, &run.EmbeddingModel, &decoys, &run.Transcripts, &startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Run{}, store.ErrNotFound
	}
	if err != nil {
		return store.Run{}, err
	}
	if err := json.Unmarshal([]byte(decoys), &run.Decoys); err != nil {
		return store.Run{}, fmt.Errorf("decode decoys: %w", err)
	}
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return store.Run{}, err
	}
	return run, nil
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements [store.Store].
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// marshalJSON encodes v, substituting empty for a nil slice so the column
// always holds a JSON array.
func marshalJSON[T any](v []T, empty []T) (string, error) {
	if v == nil {
		v = empty
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeEmbedding(s string) ([]float32, error) {
	var v []float32
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, nil
	}
	return v, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
