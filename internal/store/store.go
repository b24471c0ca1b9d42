// Package store persists evaluation runs and their per-window results.
//
// Two backends implement [Store]: [github.com/MrWong99/nextbest/internal/store/postgres]
// keeps embeddings in pgvector columns so stored ground truths can be searched
// by similarity, and [github.com/MrWong99/nextbest/internal/store/sqlite]
// writes a single local file for ad-hoc runs.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("store: not found")

// Run describes one invocation of the evaluator.
type Run struct {
	ID             string
	ChatModel      string
	EmbeddingModel string
	Decoys         []string
	StartedAt      time.Time
	Transcripts    int
}

// ResultRecord is the stored form of one evaluated window.
type ResultRecord struct {
	Transcript string
	Window     int

	Proposed string
	Actual   string

	SelfScore    float64
	ActualScore  float64
	LexicalScore float64
	DecoyScores  []float64

	PromptTokens     int
	CompletionTokens int

	// SkipReason is non-empty when the window was not sent to the model. All
	// scores and embeddings are then zero.
	SkipReason string

	ProposedEmbedding []float32
	ActualEmbedding   []float32

	CreatedAt time.Time
}

// Store is implemented by every result backend. Implementations must be safe
// for concurrent use.
type Store interface {
	// SaveRun inserts or replaces run.
	SaveRun(ctx context.Context, run Run) error

	// SaveResult stores rec under runID. A record with the same transcript and
	// window in that run is replaced.
	SaveResult(ctx context.Context, runID string, rec ResultRecord) error

	// ListResults returns the records of runID ordered by transcript and
	// window. An unknown runID yields an empty slice.
	ListResults(ctx context.Context, runID string) ([]ResultRecord, error)

	// LatestRun returns the most recently started run, or ErrNotFound.
	LatestRun(ctx context.Context) (Run, error)

	// Run returns the run with the given ID, or ErrNotFound.
	Run(ctx context.Context, id string) (Run, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}
