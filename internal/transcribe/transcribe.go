// Package transcribe converts finalized utterance audio into normalized
// transcript text. It drives the speech-to-text provider with a session
// vocabulary prompt, filters out low-confidence and hallucinated segments,
// and runs the transcript normalizer over the surviving text.
package transcribe

import (
	"context"
	"fmt"
	"strings"

	"github.com/dungeonarchive/chronicler/internal/normalize"
	"github.com/dungeonarchive/chronicler/pkg/audio"
	"github.com/dungeonarchive/chronicler/pkg/provider/stt"
)

// Segment quality gates. Whisper reports a mean token log-probability and a
// zlib compression ratio per segment; segments below the probability floor or
// above the repetition ceiling are usually noise or looped hallucinations.
const (
	minAvgLogProb       = -1.1
	maxCompressionRatio = 2.4
)

// hallucinations are short phrases whisper emits for silence and breath
// noise. Compared case-insensitively against the whole trimmed segment.
var hallucinations = map[string]struct{}{
	"thank you.": {},
	"okay.":      {},
	"ok.":        {},
	"you.":       {},
	"bye.":       {},
}

// Prompt builds the initial decoding prompt. Seeding the decoder with the
// campaign's proper names measurably improves their recognition.
func Prompt(names []string) string {
	return "Transcribe literally. This is a Dungeons & Dragons tabletop session. " +
		"Use digits for numbers. Prefer these spellings: " + strings.Join(names, ", ") + ". " +
		"Use 'and' instead of '&'. Avoid filler like 'thank you' or 'okay'."
}

// Transcriber turns utterance samples into clean transcript text.
type Transcriber struct {
	provider   stt.Provider
	normalizer *normalize.Normalizer
	language   string
	prompt     string
}

// Option customizes a [Transcriber].
type Option func(*Transcriber)

// WithNormalizer sets the text normalizer applied to every transcript.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(t *Transcriber) {
		t.normalizer = n
	}
}

// WithLanguage sets the spoken language hint. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(t *Transcriber) {
		t.language = lang
	}
}

// WithNames seeds the decoding prompt with the campaign's proper names.
func WithNames(names []string) Option {
	return func(t *Transcriber) {
		t.prompt = Prompt(names)
	}
}

// New builds a transcriber over the given speech-to-text provider.
func New(provider stt.Provider, opts ...Option) (*Transcriber, error) {
	if provider == nil {
		return nil, fmt.Errorf("transcribe: nil provider")
	}
	t := &Transcriber{
		provider: provider,
		language: "en",
		prompt:   Prompt(nil),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Transcribe converts one utterance into normalized text. An empty string
// with a nil error means every segment was filtered out; callers should drop
// the utterance rather than persist an empty chunk.
func (t *Transcriber) Transcribe(ctx context.Context, samples []int16) (string, error) {
	segments, err := t.provider.Transcribe(ctx, stt.Request{
		Samples:       audio.Int16ToFloat32(samples),
		Language:      t.language,
		InitialPrompt: t.prompt,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}

	var parts []string
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if seg.AvgLogProb < minAvgLogProb || seg.CompressionRatio > maxCompressionRatio {
			continue
		}
		if _, drop := hallucinations[strings.ToLower(text)]; drop {
			continue
		}
		parts = append(parts, text)
	}
	if len(parts) == 0 {
		return "", nil
	}
	return t.normalizer.Normalize(strings.Join(parts, " ")), nil
}
