// Package mock provides a scripted [vad.Engine] for tests.
//
// A Session replays Events one per frame and then keeps answering with
// EventResult, which lets a test lay out an utterance frame by frame:
//
//	sess := &mock.Session{
//	    Events:      []vad.VADEvent{{Type: vad.VADSpeechStart}, {Type: vad.VADSpeechEnd}},
//	    EventResult: vad.VADEvent{Type: vad.VADSilence},
//	}
//	eng := &mock.Engine{Session: sess}
package mock

import (
	"slices"
	"sync"

	"github.com/MrWong99/babelcall/pkg/provider/vad"
)

// Engine hands out Session, or a fresh silent one when Session is nil.
type Engine struct {
	mu sync.Mutex

	Session       vad.SessionHandle
	NewSessionErr error

	// Configs holds the config of every NewSession call.
	Configs []vad.Config
}

var _ vad.Engine = (*Engine)(nil)

func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Configs = append(e.Configs, cfg)
	switch {
	case e.NewSessionErr != nil:
		return nil, e.NewSessionErr
	case e.Session != nil:
		return e.Session, nil
	}
	return &Session{EventResult: vad.VADEvent{Type: vad.VADSilence}}, nil
}

// Session is a scripted vad.SessionHandle.
type Session struct {
	mu sync.Mutex

	Events          []vad.VADEvent
	EventResult     vad.VADEvent
	ProcessFrameErr error
	CloseErr        error

	// Frames holds a copy of every processed frame.
	Frames [][]byte
	Resets int
	Closes int
}

var _ vad.SessionHandle = (*Session)(nil)

func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames = append(s.Frames, slices.Clone(frame))
	if s.ProcessFrameErr != nil {
		return vad.VADEvent{}, s.ProcessFrameErr
	}
	if len(s.Events) == 0 {
		return s.EventResult, nil
	}
	ev := s.Events[0]
	s.Events = s.Events[1:]
	return ev, nil
}

func (s *Session) Reset() {
	s.mu.Lock()
	s.Resets++
	s.mu.Unlock()
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closes++
	return s.CloseErr
}
