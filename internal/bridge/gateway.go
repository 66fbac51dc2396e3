// Package bridge adapts the ingestion transports to the pipeline's
// [pipeline.FrameSource] contract.
//
// Transports push frames from their own goroutines and must never block, so
// each source owns a bounded frame queue. A full queue drops the newest frame
// and counts it; a closed transport closes the queue, which the orchestrator
// treats as the end of the call.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/babelcall/internal/gateway"
	"github.com/MrWong99/babelcall/internal/pipeline"
	"github.com/MrWong99/babelcall/pkg/audio"
)

// DefaultQueue is the inbound frame queue length, about 1.3s of 20ms frames.
const DefaultQueue = 64

// ErrClosed is returned by Write after the source was disconnected.
var ErrClosed = errors.New("bridge: source closed")

// GatewayWriter is the part of [*gateway.Gateway] a [GatewaySource] needs.
type GatewayWriter interface {
	Send(ctx context.Context, connID string, pcm []byte) error
}

var _ GatewayWriter = (*gateway.Gateway)(nil)

// SourceStats is the JSON snapshot returned by Stats.
type SourceStats struct {
	Protocol      string `json:"protocol"`
	ConnectionID  string `json:"connection_id"`
	Identity      string `json:"identity"`
	FramesPushed  uint64 `json:"frames_pushed"`
	FramesDropped uint64 `json:"frames_dropped"`
	FramesWritten uint64 `json:"frames_written"`
	WriteErrors   uint64 `json:"write_errors"`
	Closed        bool   `json:"closed"`
}

// queue is the bounded, closable frame channel shared by both sources.
type queue struct {
	mu     sync.Mutex
	ch     chan audio.Frame
	closed bool

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

func newQueue(n int) *queue {
	if n <= 0 {
		n = DefaultQueue
	}
	return &queue{ch: make(chan audio.Frame, n)}
}

// push enqueues f without blocking. It reports false when f was dropped.
func (q *queue) push(f audio.Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- f:
		q.pushed.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

func (q *queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// GatewaySource is the frame source of one gateway connection. The
// application pushes the connection's frames from the gateway event
// callback; translated audio goes back through [gateway.Gateway.Send].
type GatewaySource struct {
	gw       GatewayWriter
	connID   string
	identity string
	q        *queue

	written   atomic.Uint64
	writeErrs atomic.Uint64
}

var _ pipeline.FrameSource = (*GatewaySource)(nil)

// NewGatewaySource creates a source for connID. queueLen <= 0 uses
// [DefaultQueue].
func NewGatewaySource(gw GatewayWriter, connID, identity string, queueLen int) *GatewaySource {
	return &GatewaySource{gw: gw, connID: connID, identity: identity, q: newQueue(queueLen)}
}

// ConnectionID returns the gateway connection this source is bound to.
func (s *GatewaySource) ConnectionID() string { return s.connID }

// Connect is a no-op; the gateway connection is already established.
func (s *GatewaySource) Connect(context.Context) error {
	if s.q.isClosed() {
		return ErrClosed
	}
	return nil
}

// Push queues one frame. It never blocks and reports false if the frame was
// dropped because the queue is full or the source is closed.
func (s *GatewaySource) Push(f audio.Frame) bool { return s.q.push(f) }

// Close ends the frame stream. Call it when the gateway connection goes away.
func (s *GatewaySource) Close() { s.q.close() }

// Frames returns the inbound frame stream.
func (s *GatewaySource) Frames() <-chan audio.Frame { return s.q.ch }

// Write sends one frame back to the caller.
func (s *GatewaySource) Write(ctx context.Context, frame []byte) error {
	if s.q.isClosed() {
		return ErrClosed
	}
	if err := s.gw.Send(ctx, s.connID, frame); err != nil {
		s.writeErrs.Add(1)
		return fmt.Errorf("bridge: write %s: %w", s.connID, err)
	}
	s.written.Add(1)
	return nil
}

// Disconnect stops accepting frames. The gateway connection itself stays
// open; hanging up is the transport's decision.
func (s *GatewaySource) Disconnect() error {
	s.q.close()
	return nil
}

// Stats returns a [SourceStats] snapshot.
func (s *GatewaySource) Stats() any {
	return SourceStats{
		Protocol:      "gateway",
		ConnectionID:  s.connID,
		Identity:      s.identity,
		FramesPushed:  s.q.pushed.Load(),
		FramesDropped: s.q.dropped.Load(),
		FramesWritten: s.written.Load(),
		WriteErrors:   s.writeErrs.Load(),
		Closed:        s.q.isClosed(),
	}
}
