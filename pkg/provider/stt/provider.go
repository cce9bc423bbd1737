// Package stt defines the abstraction over buffered speech-to-text backends.
//
// Unlike streaming recognizers, implementations here receive a complete
// utterance (mono float32 PCM at 16 kHz) and return the recognizer's
// segmentation of it, including the per-segment confidence statistics the
// transcription layer uses to filter hallucinated output.
package stt

import "context"

// Segment is one contiguous stretch of recognized speech.
type Segment struct {
	// Text is the recognized text with surrounding whitespace trimmed.
	Text string

	// AvgLogProb is the mean log probability of the tokens in the segment.
	// Values far below zero indicate the recognizer was guessing.
	AvgLogProb float64

	// CompressionRatio is the ratio of the segment text's length to its
	// deflate-compressed length. Highly repetitive (looping) output
	// compresses well and yields a large ratio.
	CompressionRatio float64
}

// Request describes a single buffered transcription call.
type Request struct {
	// Samples is mono PCM in the range [-1, 1] at 16 kHz.
	Samples []float32

	// Language is a BCP-47 language code such as "en". Empty means the
	// provider's configured default.
	Language string

	// InitialPrompt biases decoding toward the given vocabulary, typically
	// a comma-separated list of proper nouns expected in the audio. May be
	// empty. Providers that cannot honor it silently ignore it.
	InitialPrompt string
}

// Provider is a buffered speech-to-text backend.
//
// Implementations must be safe for concurrent use; each Transcribe call is
// independent.
type Provider interface {
	// Transcribe runs recognition over the full sample buffer and returns
	// the recognizer's segments in order. An empty slice with a nil error
	// means the recognizer found no speech.
	Transcribe(ctx context.Context, req Request) ([]Segment, error)
}
