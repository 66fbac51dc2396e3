// Package energy implements a [vad.Engine] that classifies frames by their
// RMS amplitude.
//
// A frame is voiced when its RMS exceeds Config.SpeechThreshold and silent
// when it falls below Config.SilenceThreshold. Speech starts after
// MinSpeechFrames consecutive voiced frames and ends after MinSilenceFrames
// consecutive silent ones.
package energy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/babelcall/pkg/audio"
	"github.com/MrWong99/babelcall/pkg/provider/vad"
)

// ErrClosed is returned by ProcessFrame after Close.
var ErrClosed = errors.New("energy: session closed")

// Engine creates energy VAD sessions. The zero value is ready to use.
type Engine struct{}

// New returns an energy VAD engine.
func New() *Engine { return &Engine{} }

// NewSession validates cfg and returns a fresh session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Session{cfg: cfg, frameBytes: cfg.FrameBytes()}, nil
}

var _ vad.Engine = (*Engine)(nil)

// Session is a single-stream energy detector. It is safe for concurrent use.
type Session struct {
	cfg        vad.Config
	frameBytes int

	mu       sync.Mutex
	voiced   int
	silent   int
	speaking bool
	closed   bool
}

// ProcessFrame classifies one frame.
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if len(frame) != s.frameBytes {
		return vad.VADEvent{}, fmt.Errorf("energy: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}
	rms := audio.RMS(frame)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, ErrClosed
	}

	switch {
	case rms > s.cfg.SpeechThreshold:
		s.voiced++
		s.silent = 0
	case rms < s.cfg.SilenceThreshold:
		s.silent++
		s.voiced = 0
	}

	ev := vad.VADEvent{Type: vad.VADSilence, Score: rms}
	switch {
	case !s.speaking && s.voiced >= s.cfg.MinSpeechFrames:
		s.speaking = true
		ev.Type = vad.VADSpeechStart
	case s.speaking && s.silent >= s.cfg.MinSilenceFrames:
		s.speaking = false
		ev.Type = vad.VADSpeechEnd
	case s.speaking:
		ev.Type = vad.VADSpeechContinue
	}
	return ev, nil
}

// Reset clears the run counters.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voiced, s.silent, s.speaking = 0, 0, false
}

// Close marks the session closed. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ vad.SessionHandle = (*Session)(nil)
