// Package mock provides an embeddings.Provider backed by a fixed text to
// vector table, for tests that need predictable cosine similarities.
//
//	p := &mock.Provider{Vectors: map[string][]float32{
//	    "One moment please.": mock.Unit(2, 0),
//	    "I like Po-boys.":    mock.Unit(2, 1),
//	}}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/nextbest/pkg/provider/embeddings"
)

// Unit returns the dims-dimensional basis vector along axis. Two different
// axes have cosine similarity 0; the same axis has 1.
func Unit(dims, axis int) []float32 {
	v := make([]float32, dims)
	v[axis] = 1
	return v
}

// Provider embeds texts by table lookup and records every batch it receives.
// The zero value embeds everything to [1 0].
type Provider struct {
	// Vectors maps exact input texts to their embeddings.
	Vectors map[string][]float32
	// Default is the embedding of texts missing from Vectors. When nil it is
	// Unit(Dims, 0), or [1 0] when Dims is zero.
	Default []float32
	// Batch, when set, replaces the table lookup in EmbedBatch.
	Batch func(texts []string) ([][]float32, error)
	// Err fails every Embed and EmbedBatch call.
	Err error

	Dims  int
	Model string

	mu      sync.Mutex
	batches [][]string
}

var _ embeddings.Provider = (*Provider)(nil)

func (p *Provider) lookup(text string) []float32 {
	if v, ok := p.Vectors[text]; ok {
		return v
	}
	if p.Default != nil {
		return p.Default
	}
	if p.Dims > 0 {
		return Unit(p.Dims, 0)
	}
	return Unit(2, 0)
}

func (p *Provider) record(texts []string) {
	p.mu.Lock()
	p.batches = append(p.batches, slices.Clone(texts))
	p.mu.Unlock()
}

// Embed records text as a batch of one.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.record([]string{text})
	if p.Err != nil {
		return nil, p.Err
	}
	return p.lookup(text), nil
}

func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.record(texts)
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Batch != nil {
		return p.Batch(slices.Clone(texts))
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = p.lookup(text)
	}
	return out, nil
}

func (p *Provider) Dimensions() int { return p.Dims }

func (p *Provider) ModelID() string { return p.Model }

// Batches returns the texts of every call so far, oldest first.
func (p *Provider) Batches() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.batches)
}
