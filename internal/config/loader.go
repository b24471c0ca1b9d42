package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "azure", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "azure", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references in
// string values, applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandEnv(&node)

	cfg := &Config{}
	if len(node.Content) > 0 {
		// Node.Decode ignores KnownFields, so re-encode the expanded tree and
		// decode it strictly.
		expanded, err := yaml.Marshal(&node)
		if err != nil {
			return nil, fmt.Errorf("config: encode expanded yaml: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(expanded))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv replaces ${VAR} and $VAR references in every scalar string value.
// Keys and non-string scalars are left alone.
func expandEnv(n *yaml.Node) {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!str" || n.Tag == "" {
			n.Value = os.ExpandEnv(n.Value)
		}
	case yaml.MappingNode:
		for i := 1; i < len(n.Content); i += 2 {
			expandEnv(n.Content[i])
		}
	default:
		for _, c := range n.Content {
			expandEnv(c)
		}
	}
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}
	if cfg.Evaluation.Concurrency == 0 {
		cfg.Evaluation.Concurrency = DefaultConcurrency
	}
	if cfg.Evaluation.MaxTokens == 0 {
		cfg.Evaluation.MaxTokens = DefaultMaxTokens
	}
	if cfg.Store.Backend == StoreSQLite && cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = DefaultSQLitePath
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Providers
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("providers.embeddings.name is required"))
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// Evaluation
	ev := cfg.Evaluation
	for i, pattern := range ev.Transcripts {
		if pattern == "" {
			errs = append(errs, fmt.Errorf("evaluation.transcripts[%d] is empty", i))
			continue
		}
		if _, err := filepath.Match(pattern, ""); err != nil {
			errs = append(errs, fmt.Errorf("evaluation.transcripts[%d] %q: %w", i, pattern, err))
		}
	}
	for i, d := range ev.Decoys {
		if d == "" {
			errs = append(errs, fmt.Errorf("evaluation.decoys[%d] is empty", i))
		}
	}
	if ev.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("evaluation.concurrency %d must be at least 1", ev.Concurrency))
	}
	if ev.MaxTokens < 1 {
		errs = append(errs, fmt.Errorf("evaluation.max_tokens %d must be at least 1", ev.MaxTokens))
	}
	if ev.Temperature < 0 || ev.Temperature > 2 {
		errs = append(errs, fmt.Errorf("evaluation.temperature %.2f is out of range [0, 2]", ev.Temperature))
	}

	// Store
	st := cfg.Store
	switch {
	case !st.Backend.IsValid():
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: sqlite, postgres or empty", st.Backend))
	case st.Backend == StorePostgres && st.PostgresDSN == "":
		errs = append(errs, errors.New("store.postgres_dsn is required when store.backend is postgres"))
	case st.Backend == StoreSQLite && st.SQLitePath == "":
		errs = append(errs, errors.New("store.sqlite_path is required when store.backend is sqlite"))
	}
	if st.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("store.embedding_dimensions %d must not be negative", st.EmbeddingDimensions))
	}
	if st.Backend == StoreNone {
		slog.Warn("store.backend is empty; results are only summarised, not persisted")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
