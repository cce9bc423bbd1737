// Package endpoint turns a stream of fixed-size audio frames into complete
// utterances. A two-state machine watches the frame-level speech decisions of
// a voice-activity classifier: enough consecutive speech frames open an
// utterance (prefixed with a short preroll window so onset is not clipped),
// enough consecutive silence closes it, and an upper duration bound force-
// finalizes rambling speech without losing audio.
//
// All thresholds are integer frame counts derived from their millisecond
// parameters; the detector never works in floating durations.
package endpoint

import (
	"errors"
	"fmt"

	"github.com/dungeonarchive/chronicler/pkg/audio"
	"github.com/dungeonarchive/chronicler/pkg/provider/vad"
)

// Config holds the endpointing thresholds in milliseconds. Every value must
// be a multiple of the 20 ms frame duration; zero selects the default.
type Config struct {
	// StartTriggerMs is the consecutive-speech run that opens an
	// utterance. Default 200 ms.
	StartTriggerMs int

	// HangoverMs is the consecutive-silence run that closes an utterance.
	// Default 800 ms.
	HangoverMs int

	// MinUtteranceMs is the least speech an utterance must carry to be
	// emitted; preroll counts, trailing hangover silence does not.
	// Anything under it at close time is discarded as noise.
	// Default 1000 ms.
	MinUtteranceMs int

	// MaxUtteranceMs force-finalizes an utterance still in speech.
	// Default 20000 ms.
	MaxUtteranceMs int

	// PrerollMs is the window of pre-trigger audio prepended to each
	// utterance. Default 200 ms.
	PrerollMs int

	// Aggressiveness is passed through to the voice-activity classifier.
	Aggressiveness int
}

func (c Config) withDefaults() Config {
	if c.StartTriggerMs <= 0 {
		c.StartTriggerMs = 200
	}
	if c.HangoverMs <= 0 {
		c.HangoverMs = 800
	}
	if c.MinUtteranceMs <= 0 {
		c.MinUtteranceMs = 1000
	}
	if c.MaxUtteranceMs <= 0 {
		c.MaxUtteranceMs = 20000
	}
	if c.PrerollMs <= 0 {
		c.PrerollMs = 200
	}
	return c
}

// frames converts a millisecond threshold to a whole frame count.
func frames(ms int) int {
	n := ms / audio.FrameMs
	if n < 1 {
		n = 1
	}
	return n
}

type state int

const (
	stateIdle state = iota
	stateInSpeech
)

// Detector is the per-session endpointing state machine. It is not safe for
// concurrent use; each live session owns exactly one Detector.
type Detector struct {
	session vad.SessionHandle

	startTrigger int // frames
	hangover     int // frames
	minFrames    int
	maxFrames    int
	prerollCap   int

	st           state
	speechRun    int
	silenceRun   int
	preroll      []audio.Frame
	buffer       []int16
	frameCount   int
	speechFrames int // preroll plus speech frames; hangover silence excluded
}

// New creates a Detector backed by a fresh classifier session. A nil or
// unavailable classifier fails here, not per frame.
func New(engine vad.Engine, cfg Config) (*Detector, error) {
	if engine == nil {
		return nil, errors.New("endpoint: classifier engine must not be nil")
	}
	cfg = cfg.withDefaults()

	session, err := engine.NewSession(vad.Config{
		SampleRate:     audio.SampleRate,
		FrameSizeMs:    audio.FrameMs,
		Aggressiveness: cfg.Aggressiveness,
	})
	if err != nil {
		return nil, fmt.Errorf("endpoint: open classifier session: %w", err)
	}

	return &Detector{
		session:      session,
		startTrigger: frames(cfg.StartTriggerMs),
		hangover:     frames(cfg.HangoverMs),
		minFrames:    frames(cfg.MinUtteranceMs),
		maxFrames:    frames(cfg.MaxUtteranceMs),
		prerollCap:   frames(cfg.PrerollMs),
	}, nil
}

// Process feeds one 20 ms frame through the state machine and returns any
// utterances completed by it, normally none or one. The returned sample
// slices are owned by the caller.
func (d *Detector) Process(frame audio.Frame) ([][]int16, error) {
	if len(frame) != audio.FrameSamples {
		return nil, fmt.Errorf("endpoint: frame has %d samples, want %d", len(frame), audio.FrameSamples)
	}

	isSpeech, err := d.session.IsSpeech(frame)
	if err != nil {
		return nil, fmt.Errorf("endpoint: classify frame: %w", err)
	}

	var out [][]int16
	switch d.st {
	case stateIdle:
		d.pushPreroll(frame)
		if isSpeech {
			d.speechRun++
			if d.speechRun >= d.startTrigger {
				d.openUtterance()
			}
		} else {
			d.speechRun = 0
		}

	case stateInSpeech:
		d.appendFrame(frame)
		if isSpeech {
			d.silenceRun = 0
			d.speechFrames++
		} else {
			d.silenceRun++
			if d.silenceRun >= d.hangover {
				if u := d.closeUtterance(); u != nil {
					out = append(out, u)
				}
				return out, nil
			}
		}
		// Force-finalize without losing the ongoing stream: the emitted
		// buffer ends here and a fresh one keeps accumulating.
		if d.frameCount >= d.maxFrames {
			out = append(out, d.buffer)
			d.buffer = nil
			d.frameCount = 0
			d.speechFrames = 0
		}
	}
	return out, nil
}

// Flush finalizes a pending utterance at end of stream. It returns nil when
// the detector is idle or the buffer is below the minimum duration. The
// detector is fully reset afterwards.
func (d *Detector) Flush() []int16 {
	if d.st != stateInSpeech {
		d.Reset()
		return nil
	}
	u := d.closeUtterance()
	return u
}

// Reset returns the detector to idle with all counters and buffers cleared.
func (d *Detector) Reset() {
	d.st = stateIdle
	d.speechRun = 0
	d.silenceRun = 0
	d.preroll = nil
	d.buffer = nil
	d.frameCount = 0
	d.speechFrames = 0
	d.session.Reset()
}

// Close releases the classifier session. The detector must not be used
// afterwards.
func (d *Detector) Close() error {
	return d.session.Close()
}

func (d *Detector) pushPreroll(frame audio.Frame) {
	cp := make(audio.Frame, len(frame))
	copy(cp, frame)
	d.preroll = append(d.preroll, cp)
	if len(d.preroll) > d.prerollCap {
		d.preroll = d.preroll[1:]
	}
}

// openUtterance transitions to In-Speech, seeding the buffer with the
// preroll window so speech onset is preserved.
func (d *Detector) openUtterance() {
	d.st = stateInSpeech
	d.silenceRun = 0
	d.buffer = audio.Concat(d.preroll)
	d.frameCount = len(d.preroll)
	d.speechFrames = len(d.preroll)
	d.preroll = nil
}

// closeUtterance finalizes the current buffer, discarding it when it carries
// less than the minimum of speech, and fully resets the machine either way.
// The gate counts speech frames only: a short blip padded out by its own
// hangover silence still reads as short.
func (d *Detector) closeUtterance() []int16 {
	buffer := d.buffer
	long := d.speechFrames >= d.minFrames
	d.Reset()
	if !long {
		return nil
	}
	return buffer
}

func (d *Detector) appendFrame(frame audio.Frame) {
	d.buffer = append(d.buffer, frame...)
	d.frameCount++
}
