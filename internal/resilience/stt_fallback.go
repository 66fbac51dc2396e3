package resilience

import (
	"context"
	"sync"

	"github.com/MrWong99/babelcall/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with failover across recognition
// backends. A call-long session counts against the breaker of the backend
// that opened it: the first failed SendAudio is reported as a failure, so a
// backend whose sockets keep dropping mid-call is skipped for the next
// channel even though its handshakes succeed.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers a backend tried after the ones already added.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// StartStream opens a session on the first healthy backend.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	sess, breaker, err := execute(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
	if err != nil {
		return nil, err
	}
	return &reportingSession{SessionHandle: sess, breaker: breaker}, nil
}

// Snapshots returns the breaker state of every registered backend.
func (f *STTFallback) Snapshots() []Snapshot {
	return f.group.Snapshots()
}

// reportingSession forwards to the backend session and reports its first
// send failure to the breaker that admitted it.
type reportingSession struct {
	stt.SessionHandle
	breaker *CircuitBreaker
	once    sync.Once
}

func (s *reportingSession) SendAudio(chunk []byte) error {
	err := s.SessionHandle.SendAudio(chunk)
	if err != nil {
		s.once.Do(func() { s.breaker.Report(err) })
	}
	return err
}
