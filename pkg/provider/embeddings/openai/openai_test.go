package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	oai "github.com/openai/openai-go"
)

func TestModelDimensions(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
		{"my-ada-deployment", 1536},
	}
	for _, tt := range tests {
		if got := modelDimensions(tt.model); got != tt.want {
			t.Errorf("modelDimensions(%q) = %d, want %d", tt.model, got, tt.want)
		}
	}
}

func TestDimensions_ExplicitOverride(t *testing.T) {
	p, err := New("sk-test", "text-embedding-3-large", WithDimensions(256))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.Dimensions(); got != 256 {
		t.Errorf("Dimensions() = %d, want 256", got)
	}
	params := p.params(oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{"x"}})
	if got := params.Dimensions.Value; got != 256 {
		t.Errorf("dimensions param = %d, want 256", got)
	}
}

// TestNew_DefaultModel verifies that an empty model string defaults to ada-002.
func TestNew_DefaultModel(t *testing.T) {
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("expected default model %s, got %s", DefaultModel, p.ModelID())
	}
}

// TestNew_MissingAPIKey checks that an empty API key is rejected.
func TestNew_MissingAPIKey(t *testing.T) {
	if _, err := New("", "text-embedding-3-small"); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestNew_Options(t *testing.T) {
	_, err := New("sk-test", "text-embedding-ada-002",
		WithOrganization("org-123"),
		WithAzure("https://example.openai.azure.com", "2024-06-01"),
		WithTimeout(0),
	)
	if err != nil {
		t.Fatalf("unexpected error with valid options: %v", err)
	}
}

// TestEmbedBatch_ReordersByIndex serves embeddings out of order and checks
// they are placed by their reported index.
func TestEmbedBatch_ReordersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "text-embedding-ada-002",
			"data": []map[string]any{
				{"object": "embedding", "index": 1, "embedding": []float64{0, 1}},
				{"object": "embedding", "index": 0, "embedding": []float64{1, 0}},
			},
			"usage": map[string]any{"prompt_tokens": 2, "total_tokens": 2},
		})
	}))
	defer srv.Close()

	p, err := New("sk-test", "text-embedding-ada-002", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.EmbedBatch(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if got[0][0] != 1 || got[1][1] != 1 {
		t.Errorf("vectors not ordered by index: %v", got)
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	p, _ := New("sk-test", "")
	got, err := p.EmbedBatch(context.Background(), nil)
	if err != nil || got != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v; want nil, nil", got, err)
	}
}

func TestFloat64ToFloat32(t *testing.T) {
	in := []float64{1.0, 2.5, -0.5}
	out := float64ToFloat32(in)
	if len(out) != len(in) {
		t.Fatalf("expected %d elements, got %d", len(in), len(out))
	}
	for i, v := range out {
		if v != float32(in[i]) {
			t.Errorf("index %d: expected %v, got %v", i, float32(in[i]), v)
		}
	}
}
