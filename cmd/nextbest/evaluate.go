package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/MrWong99/nextbest/internal/config"
	"github.com/MrWong99/nextbest/internal/evaluate"
	"github.com/MrWong99/nextbest/internal/health"
	"github.com/MrWong99/nextbest/internal/observe"
	"github.com/MrWong99/nextbest/internal/store"
	"github.com/MrWong99/nextbest/internal/store/postgres"
	"github.com/MrWong99/nextbest/internal/store/sqlite"
	"github.com/MrWong99/nextbest/pkg/provider/embeddings"
)

func newEvaluateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate [transcript ...]",
		Short: "Propose and score the next agent sentence for every window",
		Long: "Evaluate reads each transcript, asks the configured chat model for the next\n" +
			"agent sentence of every window and scores it against what the agent said.\n" +
			"Without arguments the transcripts listed in the configuration are used.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			return runEvaluate(cmd.Context(), cmd.OutOrStdout(), cfg, args)
		},
	}
}

func runEvaluate(ctx context.Context, out io.Writer, cfg *config.Config, args []string) error {
	patterns := args
	if len(patterns) == 0 {
		patterns = cfg.Evaluation.Transcripts
	}
	paths, err := resolveTranscripts(patterns)
	if err != nil {
		return err
	}

	// ── Observability ─────────────────────────────────────────────────────────

	promReg := prometheus.NewRegistry()
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Registerer:     promReg,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	chat, embedder, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}

	// ── Store ─────────────────────────────────────────────────────────────────

	storeCfg := cfg.Store
	if storeCfg.Backend == config.StorePostgres {
		dims, err := embeddingDimensions(storeCfg.EmbeddingDimensions, embedder)
		if err != nil {
			return err
		}
		storeCfg.EmbeddingDimensions = dims
	}
	st, err := openStore(ctx, storeCfg)
	if err != nil {
		return err
	}
	if st != nil {
		defer func() {
			if err := st.Close(); err != nil {
				slog.Warn("close store", "err", err)
			}
		}()
	}

	// ── Metrics listener ──────────────────────────────────────────────────────

	if cfg.Server.MetricsAddr != "" {
		var checks []health.Checker
		if st != nil {
			checks = append(checks, health.PingCheck("store", st))
		}
		mux := health.NewMux(health.New(checks...), promReg)
		srv, err := health.Listen(cfg.Server.MetricsAddr, observe.Middleware(metrics)(mux))
		if err != nil {
			return err
		}
		srvCtx, stopSrv := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := srv.Serve(srvCtx); err != nil {
				slog.Error("metrics listener", "err", err)
			}
		}()
		defer func() {
			stopSrv()
			<-done
		}()
	}

	// ── Evaluate ──────────────────────────────────────────────────────────────

	ev := cfg.Evaluation
	opts := []evaluate.Option{
		evaluate.WithDecoys(ev.Decoys),
		evaluate.WithConcurrency(ev.Concurrency),
		evaluate.WithMetrics(metrics),
		evaluate.WithStrictChannels(ev.StrictChannels),
		evaluate.WithMaxTokens(ev.MaxTokens),
		evaluate.WithTemperature(ev.Temperature),
		evaluate.WithSystemPrompt(ev.SystemPrompt),
		evaluate.WithProviderNames(
			cfg.Providers.LLM.Name+"/"+cfg.Providers.LLM.Model,
			cfg.Providers.Embeddings.Name+"/"+embedder.ModelID(),
		),
	}
	if st != nil {
		opts = append(opts, evaluate.WithStore(st))
	}

	sum, err := evaluate.New(chat, embedder, opts...).Run(ctx, paths)
	if err != nil {
		return err
	}
	return printSummary(out, *sum, ev.Decoys)
}

// resolveTranscripts expands patterns into a sorted, de-duplicated list of
// files. A pattern without glob metacharacters is kept as is so a missing file
// surfaces as a not-found error from the evaluator.
func resolveTranscripts(patterns []string) ([]string, error) {
	var paths []string
	for _, p := range patterns {
		if !hasMeta(p) {
			paths = append(paths, p)
			continue
		}
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("transcript pattern %q: %w", p, err)
		}
		if len(matches) == 0 {
			slog.Warn("transcript pattern matched nothing", "pattern", p)
		}
		paths = append(paths, matches...)
	}
	slices.Sort(paths)
	paths = slices.Compact(paths)
	if len(paths) == 0 {
		return nil, errors.New("no transcripts to evaluate; pass files as arguments or set evaluation.transcripts")
	}
	return paths, nil
}

func hasMeta(p string) bool {
	for _, c := range p {
		switch c {
		case '*', '?', '[', '\\':
			return true
		}
	}
	return false
}

// embeddingDimensions picks the vector column size for the postgres store:
// the configured value when set, otherwise the embedder's. A configured value
// that disagrees with the embedder fails before any provider is called.
func embeddingDimensions(configured int, embedder embeddings.Provider) (int, error) {
	got := embedder.Dimensions()
	switch {
	case configured == 0 && got <= 0:
		return 0, fmt.Errorf("cannot determine the dimensions of embeddings model %q; set store.embedding_dimensions", embedder.ModelID())
	case configured == 0:
		return got, nil
	case got > 0 && got != configured:
		return 0, fmt.Errorf("store.embedding_dimensions is %d but embeddings model %q produces %d-dimensional vectors",
			configured, embedder.ModelID(), got)
	}
	return configured, nil
}

// openStore opens the configured backend. It returns nil when no backend is
// configured.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.StoreSQLite:
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		slog.Info("store opened", "backend", cfg.Backend, "path", cfg.SQLitePath)
		return st, nil
	case config.StorePostgres:
		st, err := postgres.New(ctx, cfg.PostgresDSN, cfg.EmbeddingDimensions)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		slog.Info("store opened", "backend", cfg.Backend, "dimensions", st.Dimensions())
		return st, nil
	default:
		return nil, nil
	}
}
