package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MrWong99/nextbest/internal/config"
	"github.com/MrWong99/nextbest/internal/evaluate"
	"github.com/MrWong99/nextbest/internal/store"
	"github.com/MrWong99/nextbest/internal/store/postgres"
)

type reportOptions struct {
	runID      string
	windows    bool
	neighbours int
}

func newReportCmd(root *rootOptions) *cobra.Command {
	opts := &reportOptions{}
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarise a stored evaluation run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Store.Backend == config.StoreNone {
				return errors.New("report needs a result store; set store.backend to sqlite or postgres")
			}
			st, err := openStore(cmd.Context(), cfg.Store)
			if err != nil {
				return err
			}
			defer func() {
				if err := st.Close(); err != nil {
					slog.Warn("close store", "err", err)
				}
			}()
			return runReport(cmd.Context(), cmd.OutOrStdout(), st, *opts)
		},
	}
	cmd.Flags().StringVar(&opts.runID, "run", "", "run ID to report (default: the latest run)")
	cmd.Flags().BoolVar(&opts.windows, "windows", false, "list every window with its proposal and ground truth")
	cmd.Flags().IntVar(&opts.neighbours, "neighbours", 0, "show the k stored ground truths nearest to each proposal (postgres only)")
	return cmd
}

func runReport(ctx context.Context, out io.Writer, st store.Store, opts reportOptions) error {
	var (
		run store.Run
		err error
	)
	if opts.runID == "" {
		run, err = st.LatestRun(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return errors.New("no runs stored yet; run nextbest evaluate first")
		}
		if err != nil {
			return fmt.Errorf("latest run: %w", err)
		}
	} else {
		run, err = st.Run(ctx, opts.runID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("run %q not found", opts.runID)
		}
		if err != nil {
			return fmt.Errorf("load run: %w", err)
		}
	}
	runID, decoys := run.ID, run.Decoys

	records, err := st.ListResults(ctx, runID)
	if err != nil {
		return fmt.Errorf("list results: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("run %q has no stored results", runID)
	}

	if err := printSummary(out, evaluate.Summarize(runID, records), decoys); err != nil {
		return err
	}
	if opts.windows {
		if err := printWindows(out, records); err != nil {
			return err
		}
	}
	if opts.neighbours > 0 {
		return reportNeighbours(ctx, out, st, records, opts.neighbours)
	}
	return nil
}

// neighbourSearcher is implemented by stores that index embeddings.
type neighbourSearcher interface {
	SimilarActual(ctx context.Context, embedding []float32, k int) ([]postgres.Neighbour, error)
}

func reportNeighbours(ctx context.Context, out io.Writer, st store.Store, records []store.ResultRecord, k int) error {
	searcher, ok := st.(neighbourSearcher)
	if !ok {
		return errors.New("--neighbours requires the postgres store")
	}
	for _, rec := range records {
		if rec.SkipReason != "" || len(rec.ProposedEmbedding) == 0 {
			continue
		}
		neighbours, err := searcher.SimilarActual(ctx, rec.ProposedEmbedding, k)
		if err != nil {
			return fmt.Errorf("similar ground truths for %s window %d: %w", rec.Transcript, rec.Window, err)
		}
		if err := printNeighbours(out, rec, neighbours); err != nil {
			return err
		}
	}
	return nil
}
