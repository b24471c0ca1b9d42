package main

import (
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/nextbest/internal/config"
	"github.com/MrWong99/nextbest/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/nextbest/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/nextbest/pkg/provider/embeddings/openai"
	"github.com/MrWong99/nextbest/pkg/provider/llm"
	"github.com/MrWong99/nextbest/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/nextbest/pkg/provider/llm/openai"
)

// defaultAzureAPIVersion is used when an azure entry sets no api_version option.
const defaultAzureAPIVersion = "2024-06-01"

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai and azure go through the official SDK so Azure deployments and
	// organisation headers work; everything else goes through any-llm-go.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		opts := openAILLMOptions(entry)
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})
	reg.RegisterLLM("azure", func(entry config.ProviderEntry) (llm.Provider, error) {
		opts := append(openAILLMOptions(entry), oaillm.WithAzure(entry.BaseURL, azureAPIVersion(entry)))
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, backend := range anyllm.Backends {
		if backend == "openai" {
			continue
		}
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		opts := openAIEmbedOptions(entry)
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})
	reg.RegisterEmbeddings("azure", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		opts := append(openAIEmbedOptions(entry), oaembed.WithAzure(entry.BaseURL, azureAPIVersion(entry)))
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if d := config.OptInt(entry.Options, "dimensions"); d > 0 {
			opts = append(opts, ollamaembed.WithDimensions(d))
		}
		if ka := config.OptString(entry.Options, "keep_alive"); ka != "" {
			opts = append(opts, ollamaembed.WithKeepAlive(ka))
		}
		if truncate, ok := config.OptBool(entry.Options, "truncate"); ok {
			opts = append(opts, ollamaembed.WithTruncate(truncate))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, ollamaembed.WithTimeout(d))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	for _, kind := range []string{"llm", "embeddings"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

func openAILLMOptions(entry config.ProviderEntry) []oaillm.Option {
	var opts []oaillm.Option
	if org := config.OptString(entry.Options, "organization"); org != "" {
		opts = append(opts, oaillm.WithOrganization(org))
	}
	if d := optDuration(entry.Options, "timeout"); d > 0 {
		opts = append(opts, oaillm.WithTimeout(d))
	}
	return opts
}

func openAIEmbedOptions(entry config.ProviderEntry) []oaembed.Option {
	var opts []oaembed.Option
	if org := config.OptString(entry.Options, "organization"); org != "" {
		opts = append(opts, oaembed.WithOrganization(org))
	}
	if d := config.OptInt(entry.Options, "dimensions"); d > 0 {
		opts = append(opts, oaembed.WithDimensions(d))
	}
	if d := optDuration(entry.Options, "timeout"); d > 0 {
		opts = append(opts, oaembed.WithTimeout(d))
	}
	return opts
}

func azureAPIVersion(entry config.ProviderEntry) string {
	if v := config.OptString(entry.Options, "api_version"); v != "" {
		return v
	}
	return defaultAzureAPIVersion
}

// optDuration parses a duration option such as "30s". Invalid values are
// logged and ignored.
func optDuration(opts map[string]any, key string) time.Duration {
	s := config.OptString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid duration option", "key", key, "value", s, "err", err)
		return 0
	}
	return d
}

// buildProviders instantiates the chat and embeddings providers named in cfg.
func buildProviders(cfg *config.Config, reg *config.Registry) (llm.Provider, embeddings.Provider, error) {
	chat, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "model", cfg.Providers.LLM.Model)

	embedder, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
	if err != nil {
		return nil, nil, fmt.Errorf("create embeddings provider %q: %w", cfg.Providers.Embeddings.Name, err)
	}
	slog.Info("provider created", "kind", "embeddings", "name", cfg.Providers.Embeddings.Name, "model", embedder.ModelID())
	return chat, embedder, nil
}
