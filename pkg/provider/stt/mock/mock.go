// Package mock provides an in-memory [stt.Provider] for tests.
//
// Tests push transcripts into a Session's channels and inspect the audio the
// code under test sent:
//
//	sess := mock.NewSession(4)
//	p := &mock.Provider{Session: sess}
//	sess.FinalsCh <- stt.Transcript{Text: "hello", IsFinal: true}
package mock

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/MrWong99/babelcall/pkg/provider/stt"
)

// ErrClosed is returned by SendAudio after Close.
var ErrClosed = errors.New("mock: session closed")

// Provider returns Session from every StartStream call, or a fresh buffered
// session when Session is nil.
type Provider struct {
	mu sync.Mutex

	Session        stt.SessionHandle
	StartStreamErr error

	// Streams holds the config of every StartStream call, failed ones
	// included.
	Streams []stt.StreamConfig
}

var _ stt.Provider = (*Provider)(nil)

func (p *Provider) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Streams = append(p.Streams, cfg)
	switch {
	case p.StartStreamErr != nil:
		return nil, p.StartStreamErr
	case p.Session != nil:
		return p.Session, nil
	}
	return NewSession(16), nil
}

// Session is a scripted stt.SessionHandle. Close closes both channels the
// way a provider ends its stream.
type Session struct {
	mu     sync.Mutex
	closed bool

	PartialsCh   chan stt.Transcript
	FinalsCh     chan stt.Transcript
	SendAudioErr error
	CloseErr     error

	chunks [][]byte
	closes int
}

var _ stt.SessionHandle = (*Session)(nil)

// NewSession returns a Session whose channels buffer n transcripts each.
func NewSession(n int) *Session {
	return &Session{
		PartialsCh: make(chan stt.Transcript, n),
		FinalsCh:   make(chan stt.Transcript, n),
	}
}

func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, slices.Clone(chunk))
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Session) Partials() <-chan stt.Transcript { return s.PartialsCh }

func (s *Session) Finals() <-chan stt.Transcript { return s.FinalsCh }

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if !s.closed {
		s.closed = true
		if s.PartialsCh != nil {
			close(s.PartialsCh)
		}
		if s.FinalsCh != nil {
			close(s.FinalsCh)
		}
	}
	return s.CloseErr
}

// Chunks returns a copy of every chunk passed to SendAudio.
func (s *Session) Chunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.chunks)
}

// Closes returns how often Close was called.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
