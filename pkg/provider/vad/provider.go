// Package vad defines the Engine interface for frame-level voice activity
// classification.
//
// A VAD engine wraps a binary speech detector (WebRTC-style DSP, an ONNX
// model, or simple energy heuristics) and surfaces it as a stateful
// per-stream session. Each session keeps its own smoothing state so multiple
// concurrent audio streams can be classified independently.
//
// Classification is synchronous by design: IsSpeech returns immediately,
// making it suitable for the CPU-bound endpointing loop that gates STT input.
// It must never perform I/O.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle must not be shared across goroutines unless the
// implementation documents otherwise.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// frames passed to IsSpeech. The pipeline uses 16000.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds. Most
	// detectors operate on fixed frame sizes (10, 20, or 30 ms). IsSpeech
	// returns an error when the supplied frame does not match.
	FrameSizeMs int

	// Aggressiveness tunes the speech/non-speech decision from 0 (least
	// aggressive about filtering out non-speech) to 3 (most aggressive).
	// Engines map this onto their native threshold scale.
	Aggressiveness int
}

// SessionHandle is an active classification session for a single audio
// stream. Reset clears accumulated smoothing state without closing the
// session; use it when the stream is interrupted so stale state from the
// previous segment does not bleed into the next one.
type SessionHandle interface {
	// IsSpeech classifies a single frame of mono int16 samples. Returns an
	// error when the frame size does not match the session Config or the
	// engine hits an internal failure.
	//
	// Called synchronously in the frame-processing loop; must not block.
	IsSpeech(frame []int16) (bool, error)

	// Reset clears all accumulated detection state.
	Reset()

	// Close releases resources held by the session. Calling Close more than
	// once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions, implemented by each backend.
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously.
type Engine interface {
	// NewSession creates a session with the given configuration, immediately
	// ready to accept frames. Returns an error for invalid configuration or
	// when the engine cannot allocate session resources.
	NewSession(cfg Config) (SessionHandle, error)
}
