// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4o or a
// local Ollama instance) and exposes a uniform non-streaming completion call
// for the extraction tiers and the question answerer, without coupling either
// to a specific SDK.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Usage holds token accounting information returned by the LLM backend.
// All counts are in the model's native token unit and may differ between
// providers for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the system prompt and
	// user text.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens. Some providers return
	// it directly rather than computing it from the parts.
	TotalTokens int
}

// Request carries everything the LLM needs to produce a response. Callers
// should treat a zero-value request as invalid; at minimum UserText must be
// non-empty.
type Request struct {
	// SystemPrompt is an optional high-priority instruction injected before
	// the user text. Providers without a dedicated system field prepend it
	// as a "system"-role message.
	SystemPrompt string

	// UserText is the content of the single user turn.
	UserText string

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// requests the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// JSONOnly requests the backend's JSON response mode so the reply is a
	// single well-formed JSON object. Providers without such a mode ignore
	// it; callers must still validate the reply.
	JSONOnly bool
}

// Response is the model's full reply.
type Response struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must propagate context cancellation promptly: when ctx is
// cancelled, Complete must return as quickly as possible.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or if ctx is cancelled before
	// the completion arrives.
	Complete(ctx context.Context, req Request) (*Response, error)
}
