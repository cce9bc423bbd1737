// Package energy implements a dependency-free vad.Engine using short-term
// energy and zero-crossing heuristics with an adaptive noise floor.
//
// It is not a replacement for a model-based detector in noisy rooms, but it
// runs everywhere, needs no model files, and behaves well for close-mic
// tabletop recordings. Classification is a few arithmetic passes over the
// frame, comfortably inside the 20 ms frame budget.
package energy

import (
	"errors"
	"fmt"
	"math"

	"github.com/dungeonarchive/chronicler/pkg/provider/vad"
)

// smoothing is the exponential moving average factor applied to frame energy,
// matching light smoothing so single-frame spikes do not flap the decision.
const smoothing = 0.25

// floorAdapt is the adaptation rate of the noise floor during non-speech.
const floorAdapt = 0.05

// thresholdRatios maps Config.Aggressiveness to the energy ratio over the
// noise floor required to call a frame speech.
var thresholdRatios = [4]float64{1.5, 2.0, 3.0, 4.5}

// Engine creates energy-based VAD sessions. The zero value is ready to use.
type Engine struct{}

var _ vad.Engine = (*Engine)(nil)

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy vad: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy vad: frame size must be positive, got %d ms", cfg.FrameSizeMs)
	}
	if cfg.Aggressiveness < 0 || cfg.Aggressiveness > 3 {
		return nil, fmt.Errorf("energy vad: aggressiveness must be in [0,3], got %d", cfg.Aggressiveness)
	}
	return &session{
		frameSamples: cfg.SampleRate * cfg.FrameSizeMs / 1000,
		ratio:        thresholdRatios[cfg.Aggressiveness],
		// Start the floor at a typical quiet-room level so the first frames
		// of a stream are not all classified as speech.
		noiseFloor: 120,
	}, nil
}

type session struct {
	frameSamples int
	ratio        float64

	noiseFloor float64
	smoothed   float64
	primed     bool
	closed     bool
}

// IsSpeech implements vad.SessionHandle.
func (s *session) IsSpeech(frame []int16) (bool, error) {
	if s.closed {
		return false, errors.New("energy vad: session closed")
	}
	if len(frame) != s.frameSamples {
		return false, fmt.Errorf("energy vad: expected %d samples, got %d", s.frameSamples, len(frame))
	}

	rms, zcr := analyse(frame)

	if !s.primed {
		s.smoothed = rms
		s.primed = true
	} else {
		s.smoothed = smoothing*rms + (1-smoothing)*s.smoothed
	}

	// Voiced speech sits well above the noise floor with a moderate
	// zero-crossing rate; hiss and hum land outside that band.
	speech := s.smoothed > s.noiseFloor*s.ratio && zcr > 0.005 && zcr < 0.35

	if !speech {
		s.noiseFloor = floorAdapt*s.smoothed + (1-floorAdapt)*s.noiseFloor
		if s.noiseFloor < 1 {
			s.noiseFloor = 1
		}
	}
	return speech, nil
}

// Reset implements vad.SessionHandle.
func (s *session) Reset() {
	s.smoothed = 0
	s.primed = false
}

// Close implements vad.SessionHandle.
func (s *session) Close() error {
	s.closed = true
	return nil
}

// analyse returns the RMS amplitude and zero-crossing rate of the frame.
func analyse(frame []int16) (rms, zcr float64) {
	var sumSq float64
	var crossings int
	for i, sample := range frame {
		v := float64(sample)
		sumSq += v * v
		if i > 0 && (sample >= 0) != (frame[i-1] >= 0) {
			crossings++
		}
	}
	rms = math.Sqrt(sumSq / float64(len(frame)))
	zcr = float64(crossings) / float64(len(frame))
	return rms, zcr
}
