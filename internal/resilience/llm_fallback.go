package resilience

import (
	"context"

	"github.com/dungeonarchive/chronicler/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across multiple
// model backends. Each backend has its own circuit breaker; when the primary
// fails or its breaker is open, the next healthy fallback is tried.
//
// The answerer uses this to fall back from a dedicated answering model to the
// structured-extraction model when the former is down.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional model backend as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends the request to the first healthy backend and returns its
// response. If the primary fails, subsequent fallbacks are tried in order.
func (f *LLMFallback) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.Response, error) {
		return p.Complete(ctx, req)
	})
}
