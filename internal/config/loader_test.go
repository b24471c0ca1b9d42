package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/nextbest/internal/config"
)

func TestLoadFromReader_EnvInListsAndOptions(t *testing.T) {
	t.Setenv("NEXTBEST_TEST_DATA", "/srv/calls")
	t.Setenv("NEXTBEST_TEST_VERSION", "2024-06-01")

	cfg, err := config.LoadFromReader(strings.NewReader(`
providers:
  llm:
    name: azure
    base_url: https://example.openai.azure.com
    options:
      api_version: ${NEXTBEST_TEST_VERSION}
  embeddings: {name: openai}
evaluation:
  transcripts: ["${NEXTBEST_TEST_DATA}/*.txt"]
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cfg.Evaluation.Transcripts[0]; got != "/srv/calls/*.txt" {
		t.Errorf("transcripts[0] = %q", got)
	}
	if got := config.OptString(cfg.Providers.LLM.Options, "api_version"); got != "2024-06-01" {
		t.Errorf("api_version = %q", got)
	}
}

func TestLoadFromReader_UnsetEnvBecomesEmpty(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(`
providers:
  llm: {name: openai, api_key: "${NEXTBEST_TEST_DEFINITELY_UNSET}"}
  embeddings: {name: openai}
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.LLM.APIKey != "" {
		t.Errorf("api_key = %q, want empty", cfg.Providers.LLM.APIKey)
	}
}

func TestLoadFromReader_NumbersUntouched(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(`
providers:
  llm: {name: openai}
  embeddings: {name: openai}
evaluation:
  concurrency: 2
  temperature: 0.7
  strict_channels: true
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ev := cfg.Evaluation
	if ev.Concurrency != 2 || ev.Temperature != 0.7 || !ev.StrictChannels {
		t.Errorf("evaluation = %+v", ev)
	}
}

func TestLoadFromReader_MalformedYAML(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("providers: [unclosed"))
	if err == nil {
		t.Fatal("expected error for malformed yaml")
	}
	if !strings.Contains(err.Error(), "decode yaml") {
		t.Errorf("error = %v", err)
	}
}

func TestLoadFromReader_EmptyDocument(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader(""))
	if err == nil || !strings.Contains(err.Error(), "providers.llm.name") {
		t.Fatalf("empty document should fail provider validation, got %v", err)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := config.Load("../../configs/nextbest.example.yaml")
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.Providers.LLM.APIKey != "sk-test" {
		t.Errorf("llm api_key = %q", cfg.Providers.LLM.APIKey)
	}
	if cfg.Store.Backend != config.StoreSQLite {
		t.Errorf("store.backend = %q", cfg.Store.Backend)
	}
	if len(cfg.Evaluation.Decoys) != 2 {
		t.Errorf("decoys = %v", cfg.Evaluation.Decoys)
	}
}
