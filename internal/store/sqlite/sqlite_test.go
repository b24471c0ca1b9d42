package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/nextbest/internal/store"
	"github.com/MrWong99/nextbest/internal/store/sqlite"
)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	ctx := context.Background()

	st, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.SaveRun(ctx, store.Run{ID: "r1", StartedAt: time.Now()}); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = sqlite.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	run, err := st.LatestRun(ctx)
	if err != nil {
		t.Fatalf("LatestRun: %v", err)
	}
	if run.ID != "r1" {
		t.Errorf("ID = %q, want r1", run.ID)
	}
}

func TestOpen_BadPath(t *testing.T) {
	if _, err := sqlite.Open(filepath.Join(t.TempDir(), "missing", "dir", "results.db")); err == nil {
		t.Fatal("expected error for a path in a missing directory")
	}
}

func TestLatestRun(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.LatestRun(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	runs := []store.Run{
		{ID: "b", StartedAt: base.Add(500 * time.Millisecond), Decoys: []string{"Goodbye."}, Transcripts: 3},
		{ID: "a", StartedAt: base},
		{ID: "c", StartedAt: base.Add(time.Second)},
	}
	for _, r := range runs {
		if err := st.SaveRun(ctx, r); err != nil {
			t.Fatalf("SaveRun(%s): %v", r.ID, err)
		}
	}

	got, err := st.LatestRun(ctx)
	if err != nil {
		t.Fatalf("LatestRun: %v", err)
	}
	if got.ID != "c" {
		t.Errorf("ID = %q, want c", got.ID)
	}
	if !got.StartedAt.Equal(base.Add(time.Second)) {
		t.Errorf("StartedAt = %v", got.StartedAt)
	}
	if len(got.Decoys) != 0 {
		t.Errorf("Decoys = %v, want empty", got.Decoys)
	}

	// Replacing a run moves it.
	if err := st.SaveRun(ctx, store.Run{ID: "b", StartedAt: base.Add(time.Minute), Decoys: []string{"Goodbye."}}); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	got, err = st.LatestRun(ctx)
	if err != nil {
		t.Fatalf("LatestRun: %v", err)
	}
	if got.ID != "b" || len(got.Decoys) != 1 || got.Decoys[0] != "Goodbye." {
		t.Errorf("got %+v", got)
	}
}

func TestRun(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, r := range []store.Run{
		{ID: "old", ChatModel: "openai/gpt-4o-mini", Decoys: []string{"Goodbye.", "I like Po-boys."}, StartedAt: started, Transcripts: 2},
		{ID: "new", StartedAt: started.Add(time.Hour)},
	} {
		if err := st.SaveRun(ctx, r); err != nil {
			t.Fatalf("SaveRun(%s): %v", r.ID, err)
		}
	}

	got, err := st.Run(ctx, "old")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.ID != "old" || got.ChatModel != "openai/gpt-4o-mini" || got.Transcripts != 2 {
		t.Errorf("got %+v", got)
	}
	if len(got.Decoys) != 2 || got.Decoys[1] != "I like Po-boys." {
		t.Errorf("Decoys = %v", got.Decoys)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}

	if _, err := st.Run(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveAndListResults(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC)

	records := []store.ResultRecord{
		{
			Transcript: "b.csv", Window: 0,
			Proposed: "Sure, let me check.", Actual: "One moment please.",
			SelfScore: 1, ActualScore: 0.83, LexicalScore: 0.5,
			DecoyScores:       []float64{0.71, 0.62},
			PromptTokens:      210,
			CompletionTokens:  7,
			ProposedEmbedding: []float32{0.5, 0.5},
			ActualEmbedding:   []float32{0.25, 0.75},
			CreatedAt:         created,
		},
		{Transcript: "a.csv", Window: 2, Actual: "x", SkipReason: "context_window", CreatedAt: created},
		{Transcript: "a.csv", Window: 1, Proposed: "hi", Actual: "hello", CreatedAt: created},
	}
	for _, rec := range records {
		if err := st.SaveResult(ctx, "run", rec); err != nil {
			t.Fatalf("SaveResult: %v", err)
		}
	}
	if err := st.SaveResult(ctx, "other", store.ResultRecord{Transcript: "z.csv", CreatedAt: created}); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	got, err := st.ListResults(ctx, "run")
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	wantOrder := []string{"a.csv/1", "a.csv/2", "b.csv/0"}
	for i, r := range got {
		if key := fmt.Sprintf("%s/%d", r.Transcript, r.Window); key != wantOrder[i] {
			t.Errorf("result %d = %s, want %s", i, key, wantOrder[i])
		}
	}

	full := got[2]
	if full.Proposed != "Sure, let me check." || full.ActualScore != 0.83 || full.PromptTokens != 210 {
		t.Errorf("round trip lost fields: %+v", full)
	}
	if len(full.DecoyScores) != 2 || full.DecoyScores[1] != 0.62 {
		t.Errorf("DecoyScores = %v", full.DecoyScores)
	}
	if len(full.ActualEmbedding) != 2 || full.ActualEmbedding[1] != 0.75 {
		t.Errorf("ActualEmbedding = %v", full.ActualEmbedding)
	}
	if !full.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", full.CreatedAt, created)
	}

	skipped := got[1]
	if skipped.SkipReason != "context_window" {
		t.Errorf("SkipReason = %q", skipped.SkipReason)
	}
	if skipped.ProposedEmbedding != nil || skipped.ActualEmbedding != nil {
		t.Errorf("skipped embeddings = %v / %v, want nil", skipped.ProposedEmbedding, skipped.ActualEmbedding)
	}
}

func TestSaveResult_Upserts(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	rec := store.ResultRecord{Transcript: "a.csv", Window: 0, Proposed: "first"}
	if err := st.SaveResult(ctx, "run", rec); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	rec.Proposed = "second"
	if err := st.SaveResult(ctx, "run", rec); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	got, err := st.ListResults(ctx, "run")
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(got) != 1 || got[0].Proposed != "second" {
		t.Errorf("got %+v", got)
	}
}

func TestListResults_UnknownRun(t *testing.T) {
	st := openTestStore(t)
	got, err := st.ListResults(context.Background(), "nope")
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty non-nil slice", got)
	}
}

func TestSaveResult_Concurrent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- st.SaveResult(ctx, "run", store.ResultRecord{Transcript: "a.csv", Window: i})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("SaveResult: %v", err)
		}
	}

	got, err := st.ListResults(ctx, "run")
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(got) != 20 {
		t.Errorf("len = %d, want 20", len(got))
	}
}

func TestPing(t *testing.T) {
	if err := openTestStore(t).Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
