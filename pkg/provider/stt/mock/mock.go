// Package mock provides a scripted stt.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/dungeonarchive/chronicler/pkg/provider/stt"
)

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Provider is a test double that replays scripted segment batches.
//
// Each Transcribe call consumes the next entry of Script; once the script is
// exhausted, Default is returned. If Err is non-nil it is returned instead,
// after the request has been recorded.
type Provider struct {
	mu sync.Mutex

	// Script holds per-call results, consumed in order.
	Script [][]stt.Segment

	// Default is returned once Script is exhausted.
	Default []stt.Segment

	// Err, when non-nil, is returned by every Transcribe call.
	Err error

	// Requests records every request passed to Transcribe.
	Requests []stt.Request

	pos int
}

// Transcribe records req and replays the next scripted result.
func (p *Provider) Transcribe(_ context.Context, req stt.Request) ([]stt.Segment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Requests = append(p.Requests, req)
	if p.Err != nil {
		return nil, p.Err
	}
	if p.pos < len(p.Script) {
		segs := p.Script[p.pos]
		p.pos++
		return segs, nil
	}
	return p.Default, nil
}

// Calls returns the number of Transcribe invocations so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}
