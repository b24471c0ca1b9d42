// Command nextbest evaluates how well a chat model proposes the next agent
// sentence in recorded call-center conversations.
//
//	nextbest evaluate -c nextbest.yaml [transcript ...]
//	nextbest report -c nextbest.yaml [--run ID] [--windows]
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/nextbest/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Warn("interrupted")
			return 130
		}
		fmt.Fprintf(os.Stderr, "nextbest: %v\n", err)
		return 1
	}
	return 0
}

// rootOptions holds the flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "nextbest",
		Short:         "Score chat model next-best responses against call transcripts",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "nextbest.yaml", "path to the YAML configuration file")

	root.AddCommand(newEvaluateCmd(opts), newReportCmd(opts))
	return root
}

// loadConfig reads the configuration and installs the default logger.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found; copy configs/nextbest.example.yaml to get started", o.configPath)
		}
		return nil, err
	}
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	return cfg, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
