package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/dungeonarchive/chronicler/pkg/chronicle"
	"github.com/dungeonarchive/chronicler/pkg/provider/llm"
)

// TextGen is the secondary extraction tier. It sends the same instruction to
// a plain text-generation backend and digs the record out of the free-form
// response: models without a JSON mode tend to wrap the object in prose or
// markdown fences, so the first balanced-brace block is taken as the answer.
type TextGen struct {
	provider llm.Provider
}

var _ Extractor = (*TextGen)(nil)

// NewTextGen wraps an LLM provider used without constrained output.
func NewTextGen(provider llm.Provider) *TextGen {
	return &TextGen{provider: provider}
}

// Name implements [Extractor].
func (*TextGen) Name() string { return "textgen" }

// Extract implements [Extractor].
func (t *TextGen) Extract(ctx context.Context, text string) (*chronicle.Record, error) {
	resp, err := t.provider.Complete(ctx, llm.Request{
		SystemPrompt: SystemPrompt,
		UserText:     text,
		Temperature:  defaultTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("extract: text backend: %w", err)
	}
	block := jsonBlock(strings.TrimSpace(resp.Content))
	if block == "" {
		return nil, fmt.Errorf("extract: no JSON object in response")
	}
	return decodeRecord(block)
}

// jsonBlock returns the first balanced-brace {...} substring of text,
// scanning left to right, or "" when no balanced block exists. Brace depth
// is tracked without string-literal awareness; the extraction prompt never
// produces braces inside field values in practice.
func jsonBlock(text string) string {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
