// Package whisper implements stt.Provider on top of the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
package whisper

import (
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/dungeonarchive/chronicler/pkg/provider/stt"
)

const (
	defaultLanguage = "en"
	defaultThreads  = 4
)

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Provider runs buffered whisper.cpp inference. The model is loaded once at
// construction and shared across calls; each Transcribe creates its own
// inference context, so concurrent calls do not interfere.
type Provider struct {
	model    whisperlib.Model
	language string
	threads  int

	mu     sync.Mutex
	closed bool
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the default BCP-47 language code used when a request does
// not carry one. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithThreads sets the number of CPU threads whisper.cpp uses per inference.
// Defaults to 4.
func WithThreads(n int) Option {
	return func(p *Provider) { p.threads = n }
}

// New loads the whisper.cpp model from modelPath. The caller must call Close
// when the provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &Provider{
		model:    model,
		language: defaultLanguage,
		threads:  defaultThreads,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model. Transcribe calls after Close fail.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.model.Close()
}

// Transcribe runs whisper.cpp over the full sample buffer and returns the
// recognizer's segments with their confidence statistics.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) ([]stt.Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("whisper: provider is closed")
	}
	p.mu.Unlock()

	if len(req.Samples) == 0 {
		return nil, nil
	}

	// Each whisper context is NOT thread-safe, but the model can be shared
	// across goroutines.
	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}
	wctx.SetThreads(uint(p.threads))
	if req.InitialPrompt != "" {
		wctx.SetInitialPrompt(req.InitialPrompt)
	}

	if err := wctx.Process(req.Samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var segments []stt.Segment
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		segments = append(segments, stt.Segment{
			Text:             text,
			AvgLogProb:       avgLogProb(segment.Tokens),
			CompressionRatio: compressionRatio(text),
		})
	}
	return segments, nil
}

// avgLogProb computes the mean natural-log probability over the segment's
// tokens. Tokens with a zero probability are clamped to avoid -Inf skewing
// the mean.
func avgLogProb(tokens []whisperlib.Token) float64 {
	if len(tokens) == 0 {
		return 0
	}
	const floor = 1e-9
	var sum float64
	for _, t := range tokens {
		p := float64(t.P)
		if p < floor {
			p = floor
		}
		sum += math.Log(p)
	}
	return sum / float64(len(tokens))
}

// compressionRatio reports len(text) divided by the deflate-compressed
// length of text. Repetitive recognizer loops compress well and score high.
func compressionRatio(text string) float64 {
	if text == "" {
		return 0
	}
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write([]byte(text)); err != nil {
		w.Close()
		return 0
	}
	if err := w.Close(); err != nil {
		return 0
	}
	if buf.Len() == 0 {
		return 0
	}
	return float64(len(text)) / float64(buf.Len())
}
