// Package ollama provides an embeddings provider backed by a local Ollama server.
//
// It talks to Ollama's native /api/embed endpoint, which accepts a batch of
// inputs per request, so one evaluated window costs a single round trip.
//
//	p, err := ollama.New("", "nomic-embed-text") // http://localhost:11434
//	vecs, err := p.EmbedBatch(ctx, []string{generated, actual})
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/nextbest/pkg/provider/embeddings"
)

// DefaultBaseURL is the default base URL for a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

// maxErrorBody caps how much of a failed response body is quoted in errors.
const maxErrorBody = 512

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider using a local Ollama server.
//
// Dimensions come from WithDimensions, then the knownDimensions table, and
// otherwise from a single detection request whose result is cached.
type Provider struct {
	baseURL    string
	model      string
	keepAlive  string
	truncate   *bool
	httpClient *http.Client

	dimensions int
	detectOnce sync.Once
}

type config struct {
	timeout    time.Duration
	dimensions int
	keepAlive  string
	truncate   *bool
}

// Option is a functional option for Provider.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithDimensions pre-sets the embedding dimension and skips the detection request.
func WithDimensions(dims int) Option {
	return func(c *config) {
		c.dimensions = dims
	}
}

// WithKeepAlive controls how long Ollama keeps the model loaded after a
// request (e.g. "10m", "-1" for forever).
func WithKeepAlive(d string) Option {
	return func(c *config) {
		c.keepAlive = d
	}
}

// WithTruncate controls whether Ollama truncates inputs that exceed the
// model's context length. When false, over-long inputs fail the request.
func WithTruncate(truncate bool) Option {
	return func(c *config) {
		c.truncate = &truncate
	}
}

// New constructs a new Ollama Provider. An empty baseURL selects
// DefaultBaseURL; model must not be empty.
func New(baseURL string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	p := &Provider{
		baseURL:    baseURL,
		model:      model,
		keepAlive:  cfg.keepAlive,
		truncate:   cfg.truncate,
		httpClient: &http.Client{Timeout: cfg.timeout},
		dimensions: cfg.dimensions,
	}
	if p.dimensions == 0 {
		p.dimensions = knownDimensions(model)
	}
	return p, nil
}

type embedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	KeepAlive string   `json:"keep_alive,omitempty"`
	Truncate  *bool    `json:"truncate,omitempty"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.callEmbed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider. An empty texts slice returns
// (nil, nil) without a network request.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.callEmbed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama embeddings: embed batch: expected %d embeddings, got %d", len(texts), len(vecs))
	}
	return vecs, nil
}

// Dimensions implements embeddings.Provider. If the detection request for an
// unknown model fails, 0 is returned.
func (p *Provider) Dimensions() int {
	p.detectOnce.Do(func() {
		if p.dimensions != 0 {
			return
		}
		vecs, err := p.callEmbed(context.Background(), []string{"dimensions"})
		if err == nil {
			p.dimensions = len(vecs[0])
		}
	})
	return p.dimensions
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	return p.model
}

func (p *Provider) callEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{
		Model:     p.model,
		Input:     texts,
		KeepAlive: p.keepAlive,
		Truncate:  p.truncate,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embeddings in response")
	}
	return result.Embeddings, nil
}

// knownDimensions returns the output dimension of well-known Ollama embedding
// models, or 0 for unknown models.
func knownDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "nomic-embed-text"):
		return 768
	case strings.Contains(lower, "mxbai-embed-large"):
		return 1024
	case strings.Contains(lower, "snowflake-arctic-embed"):
		return 1024
	case strings.Contains(lower, "bge-m3"):
		return 1024
	case strings.Contains(lower, "all-minilm"):
		return 384
	default:
		return 0
	}
}
