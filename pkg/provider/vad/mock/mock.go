// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script speech/non-speech decisions and inspect the frames
// submitted for classification.
package mock

import (
	"sync"

	"github.com/dungeonarchive/chronicler/pkg/provider/vad"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the handle returned by NewSession. If nil, NewSession
	// returns a fresh default Session.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records the Config of every NewSession call in order.
	NewSessionCalls []vad.Config
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Session is a mock implementation of vad.SessionHandle. Decisions are
// consumed from Script one per IsSpeech call; once the script is exhausted,
// Default is returned.
type Session struct {
	mu sync.Mutex

	// Script is the ordered list of decisions to return.
	Script []bool

	// Default is returned after Script runs out.
	Default bool

	// Err, if non-nil, is returned from every IsSpeech call.
	Err error

	// Frames records every frame passed to IsSpeech.
	Frames [][]int16

	// ResetCalls counts Reset invocations.
	ResetCalls int

	pos int
}

// IsSpeech returns the next scripted decision.
func (s *Session) IsSpeech(frame []int16) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames = append(s.Frames, frame)
	if s.Err != nil {
		return false, s.Err
	}
	if s.pos < len(s.Script) {
		d := s.Script[s.pos]
		s.pos++
		return d, nil
	}
	return s.Default, nil
}

// Reset counts the call and rewinds the script.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCalls++
}

// Close is a no-op.
func (s *Session) Close() error { return nil }
