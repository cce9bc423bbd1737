package extract

import (
	"context"
	"fmt"

	"github.com/dungeonarchive/chronicler/pkg/chronicle"
	"github.com/dungeonarchive/chronicler/pkg/provider/llm"
)

// defaultTemperature keeps LLM tiers close to deterministic; the record is
// an extraction, not a creative rewrite.
const defaultTemperature = 0.1

// Structured is the primary extraction tier. It asks a structured-generation
// backend for the record in JSON mode, so the response content is expected to
// be exactly one JSON object.
type Structured struct {
	provider llm.Provider
}

var _ Extractor = (*Structured)(nil)

// NewStructured wraps an LLM provider that supports constrained JSON output.
func NewStructured(provider llm.Provider) *Structured {
	return &Structured{provider: provider}
}

// Name implements [Extractor].
func (*Structured) Name() string { return "structured" }

// Extract implements [Extractor].
func (s *Structured) Extract(ctx context.Context, text string) (*chronicle.Record, error) {
	resp, err := s.provider.Complete(ctx, llm.Request{
		SystemPrompt: SystemPrompt,
		UserText:     text,
		Temperature:  defaultTemperature,
		JSONOnly:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("extract: structured backend: %w", err)
	}
	return decodeRecord(resp.Content)
}
