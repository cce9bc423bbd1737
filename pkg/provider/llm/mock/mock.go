// Package mock provides a scripted llm.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/dungeonarchive/chronicler/pkg/provider/llm"
)

// Compile-time assertion that Provider satisfies llm.Provider.
var _ llm.Provider = (*Provider)(nil)

// Provider is a test double that replays scripted completions.
//
// Each Complete call consumes the next entry of Script; once exhausted,
// Default is returned. If Err is non-nil it is returned instead, after the
// request has been recorded.
type Provider struct {
	mu sync.Mutex

	// Script holds per-call reply texts, consumed in order.
	Script []string

	// Default is returned once Script is exhausted.
	Default string

	// Err, when non-nil, is returned by every Complete call.
	Err error

	// Requests records every request passed to Complete.
	Requests []llm.Request

	pos int
}

// Complete records req and replays the next scripted reply.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Requests = append(p.Requests, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Err != nil {
		return nil, p.Err
	}

	content := p.Default
	if p.pos < len(p.Script) {
		content = p.Script[p.pos]
		p.pos++
	}
	return &llm.Response{Content: content}, nil
}

// Calls returns the number of Complete invocations so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}
