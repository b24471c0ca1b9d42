package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/nextbest/internal/store"
	"github.com/MrWong99/nextbest/internal/store/postgres"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if NEXTBEST_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("NEXTBEST_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("NEXTBEST_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// dropSchema removes the result tables so the next [postgres.New] migrates
// from scratch.
func dropSchema(t *testing.T, dsn string) {
	t.Helper()
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS eval_results CASCADE",
		"DROP TABLE IF EXISTS eval_runs CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema: %v", err)
		}
	}
}

// newTestStore creates a [postgres.Store] on a clean schema and closes it when
// the test finishes.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	dropSchema(t, dsn)

	st, err := postgres.New(context.Background(), dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func saveRun(t *testing.T, st *postgres.Store, id string, started time.Time) {
	t.Helper()
	err := st.SaveRun(context.Background(), store.Run{
		ID:             id,
		ChatModel:      "gpt-4o",
		EmbeddingModel: "text-embedding-ada-002",
		Decoys:         []string{"Thank you for calling."},
		StartedAt:      started,
		Transcripts:    2,
	})
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
}

func TestStore_LatestRun(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.LatestRun(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("LatestRun on empty store: err = %v, want ErrNotFound", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	saveRun(t, st, "older", now.Add(-time.Hour))
	saveRun(t, st, "newer", now)

	run, err := st.LatestRun(ctx)
	if err != nil {
		t.Fatalf("LatestRun: %v", err)
	}
	if run.ID != "newer" {
		t.Errorf("ID = %q, want newer", run.ID)
	}
	if len(run.Decoys) != 1 || run.Decoys[0] != "Thank you for calling." {
		t.Errorf("Decoys = %v", run.Decoys)
	}
	if !run.StartedAt.Equal(now) {
		t.Errorf("StartedAt = %v, want %v", run.StartedAt, now)
	}
}

func TestStore_Run(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.Run(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Run on empty store: err = %v, want ErrNotFound", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	saveRun(t, st, "older", now.Add(-time.Hour))
	saveRun(t, st, "newer", now)

	run, err := st.Run(ctx, "older")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.ID != "older" || run.Transcripts != 2 {
		t.Errorf("got %+v", run)
	}
	if len(run.Decoys) != 1 || run.Decoys[0] != "Thank you for calling." {
		t.Errorf("Decoys = %v", run.Decoys)
	}
	if !run.StartedAt.Equal(now.Add(-time.Hour)) {
		t.Errorf("StartedAt = %v", run.StartedAt)
	}
}

func TestStore_SaveAndListResults(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	saveRun(t, st, "run-1", time.Now())

	records := []store.ResultRecord{
		{
			Transcript: "b.csv", Window: 0,
			Proposed: "sure", Actual: "okay",
			SelfScore: 1, ActualScore: 0.9, LexicalScore: 0.4,
			DecoyScores:       []float64{0.7},
			PromptTokens:      120,
			CompletionTokens:  4,
			ProposedEmbedding: []float32{1, 0, 0, 0},
			ActualEmbedding:   []float32{0.9, 0.1, 0, 0},
			CreatedAt:         time.Now(),
		},
		{Transcript: "a.csv", Window: 1, Actual: "too long", SkipReason: "context_window", CreatedAt: time.Now()},
		{Transcript: "a.csv", Window: 0, Proposed: "hi", Actual: "hello", ActualEmbedding: []float32{0, 1, 0, 0}, CreatedAt: time.Now()},
	}
	for _, rec := range records {
		if err := st.SaveResult(ctx, "run-1", rec); err != nil {
			t.Fatalf("SaveResult: %v", err)
		}
	}

	got, err := st.ListResults(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	order := []struct {
		transcript string
		window     int
	}{{"a.csv", 0}, {"a.csv", 1}, {"b.csv", 0}}
	for i, want := range order {
		if got[i].Transcript != want.transcript || got[i].Window != want.window {
			t.Errorf("result %d = %s/%d, want %s/%d", i, got[i].Transcript, got[i].Window, want.transcript, want.window)
		}
	}
	if got[1].SkipReason != "context_window" || got[1].ActualEmbedding != nil {
		t.Errorf("skipped window = %+v", got[1])
	}
	if len(got[2].DecoyScores) != 1 || got[2].DecoyScores[0] != 0.7 {
		t.Errorf("DecoyScores = %v", got[2].DecoyScores)
	}
	if len(got[2].ProposedEmbedding) != testEmbeddingDim {
		t.Errorf("ProposedEmbedding = %v", got[2].ProposedEmbedding)
	}

	empty, err := st.ListResults(ctx, "unknown")
	if err != nil {
		t.Fatalf("ListResults(unknown): %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("ListResults(unknown) = %v, want empty slice", empty)
	}
}

func TestStore_SaveResultUpserts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	saveRun(t, st, "run-1", time.Now())

	rec := store.ResultRecord{Transcript: "a.csv", Window: 0, Proposed: "first", CreatedAt: time.Now()}
	if err := st.SaveResult(ctx, "run-1", rec); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	rec.Proposed = "second"
	if err := st.SaveResult(ctx, "run-1", rec); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	got, err := st.ListResults(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(got) != 1 || got[0].Proposed != "second" {
		t.Errorf("got %+v, want single record with Proposed=second", got)
	}
}

func TestStore_SimilarActual(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	saveRun(t, st, "run-1", time.Now())

	for i, emb := range [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0.9, 0.1, 0, 0},
	} {
		err := st.SaveResult(ctx, "run-1", store.ResultRecord{
			Transcript: "a.csv", Window: i, ActualEmbedding: emb, CreatedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("SaveResult: %v", err)
		}
	}
	// Skipped windows have no embedding and never match.
	if err := st.SaveResult(ctx, "run-1", store.ResultRecord{
		Transcript: "a.csv", Window: 3, SkipReason: "context_window", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	got, err := st.SimilarActual(ctx, []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("SimilarActual: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Window != 0 || got[1].Window != 2 {
		t.Errorf("windows = %d, %d; want 0, 2", got[0].Window, got[1].Window)
	}
	if got[0].Distance > 1e-6 {
		t.Errorf("closest distance = %v, want ~0", got[0].Distance)
	}
	if got[0].RunID != "run-1" {
		t.Errorf("RunID = %q", got[0].RunID)
	}
}

func TestNew_DimensionsOnFreshSchema(t *testing.T) {
	dsn := testDSN(t)
	for _, dims := range []int{0, -1} {
		dropSchema(t, dsn)
		if _, err := postgres.New(context.Background(), dsn, dims); err == nil {
			t.Errorf("New(%d) on an empty database: expected error", dims)
		}
	}
}

func TestNew_DimensionsFromExistingSchema(t *testing.T) {
	st := newTestStore(t)
	dsn := testDSN(t)
	ctx := context.Background()

	if got := st.Dimensions(); got != testEmbeddingDim {
		t.Fatalf("Dimensions() = %d, want %d", got, testEmbeddingDim)
	}

	reopened, err := postgres.New(ctx, dsn, 0)
	if err != nil {
		t.Fatalf("New(0) on an existing schema: %v", err)
	}
	defer reopened.Close()
	if got := reopened.Dimensions(); got != testEmbeddingDim {
		t.Errorf("adopted dimensions = %d, want %d", got, testEmbeddingDim)
	}

	_, err = postgres.New(ctx, dsn, 768)
	if !errors.Is(err, postgres.ErrDimensionMismatch) {
		t.Errorf("New(768) over a %d-dimensional schema: err = %v, want ErrDimensionMismatch", testEmbeddingDim, err)
	}
}

func TestStore_SaveResultRejectsWrongSize(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	saveRun(t, st, "run-1", time.Now())

	err := st.SaveResult(ctx, "run-1", store.ResultRecord{
		Transcript:        "a.txt",
		ProposedEmbedding: []float32{1, 0, 0, 0, 0, 0, 0, 0},
		ActualEmbedding:   []float32{1, 0, 0, 0, 0, 0, 0, 0},
		CreatedAt:         time.Now(),
	})
	if !errors.Is(err, postgres.ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
}
