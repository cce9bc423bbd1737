// Package mock provides a deterministic embeddings.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/dungeonarchive/chronicler/pkg/provider/embeddings"
)

// Compile-time assertion that Provider satisfies embeddings.Provider.
var _ embeddings.Provider = (*Provider)(nil)

// Provider is a test double that derives small deterministic vectors from the
// input text, so equal texts always embed equally. Vectors override the
// derivation for specific inputs.
type Provider struct {
	mu sync.Mutex

	// Dim is the vector length. Defaults to 4 when zero.
	Dim int

	// Vectors maps exact input text to a fixed vector.
	Vectors map[string][]float32

	// Err, when non-nil, is returned by every call.
	Err error

	// Texts records every text passed to Embed or EmbedBatch.
	Texts []string
}

func (p *Provider) dim() int {
	if p.Dim <= 0 {
		return 4
	}
	return p.Dim
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Texts = append(p.Texts, text)
	if p.Err != nil {
		return nil, p.Err
	}
	return p.vectorFor(text), nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Texts = append(p.Texts, texts...)
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vectorFor(t)
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.dim() }

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return "mock" }

func (p *Provider) vectorFor(text string) []float32 {
	if v, ok := p.Vectors[text]; ok {
		return v
	}
	vec := make([]float32, p.dim())
	for i, r := range text {
		vec[i%len(vec)] += float32(r%13) / 13
	}
	return vec
}
