package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/babelcall/pkg/audio"
)

// Transport identifies the wire protocol a connection arrived on.
type Transport string

const (
	// TransportFramed is the length-prefixed AudioSocket stream over TCP.
	TransportFramed Transport = "framed"

	// TransportMessage is the WebSocket message stream.
	TransportMessage Transport = "message"
)

// String returns the transport name.
func (t Transport) String() string { return string(t) }

// wire is the transport-specific write/close side of a connection.
type wire interface {
	// writeFrame writes one fixed-size frame of PCM.
	writeFrame(ctx context.Context, frame []byte) error
	close() error
}

// ConnectionStats is a snapshot of one connection's counters.
type ConnectionStats struct {
	ID                string    `json:"id"`
	Transport         Transport `json:"transport"`
	Identity          string    `json:"identity,omitempty"`
	IdentityConfirmed bool      `json:"identity_confirmed"`
	RemoteAddr        string    `json:"remote_addr"`
	ConnectedAt       time.Time `json:"connected_at"`
	LastActivity      time.Time `json:"last_activity"`
	LastSend          time.Time `json:"last_send,omitzero"`
	FramesIn          uint64    `json:"frames_in"`
	BytesIn           uint64    `json:"bytes_in"`
	FramesOut         uint64    `json:"frames_out"`
	BytesOut          uint64    `json:"bytes_out"`
	DroppedFrames     uint64    `json:"dropped_frames"`
	Errors            uint64    `json:"errors"`
	PendingBytes      int       `json:"pending_bytes"`
	FPS               float64   `json:"fps"`
}

// conn is the gateway's record of one live transport connection. Inbound
// state (accumulator, sequence) is only touched by the connection's read
// goroutine; counters are guarded by mu because Stats and Send read them
// from other goroutines.
type conn struct {
	id         string
	transport  Transport
	remoteAddr string
	createdAt  time.Time
	wire       wire
	acc        *audio.Accumulator
	seq        uint64

	writeMu sync.Mutex

	mu                sync.Mutex
	identity          string
	identityConfirmed bool
	lastActivity      time.Time
	lastSend          time.Time
	framesIn          uint64
	bytesIn           uint64
	framesOut         uint64
	bytesOut          uint64
	dropped           uint64
	errors            uint64
	pending           int

	closeOnce sync.Once
	closeErr  error
}

func (c *conn) setIdentity(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = id
	c.identityConfirmed = true
}

func (c *conn) identityState() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity, c.identityConfirmed
}

func (c *conn) touch(now time.Time) {
	c.mu.Lock()
	c.lastActivity = now
	c.mu.Unlock()
}

func (c *conn) countFrameIn(n int) {
	c.mu.Lock()
	c.framesIn++
	c.bytesIn += uint64(n)
	c.mu.Unlock()
}

func (c *conn) setPending(n int) {
	c.mu.Lock()
	c.pending = n
	c.mu.Unlock()
}

func (c *conn) countFrameOut(n int, now time.Time) {
	c.mu.Lock()
	c.framesOut++
	c.bytesOut += uint64(n)
	c.lastSend = now
	c.mu.Unlock()
}

func (c *conn) countDropped() {
	c.mu.Lock()
	c.dropped++
	c.mu.Unlock()
}

func (c *conn) countError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

func (c *conn) close() error {
	c.closeOnce.Do(func() { c.closeErr = c.wire.close() })
	return c.closeErr
}

func (c *conn) snapshot(now time.Time) ConnectionStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := ConnectionStats{
		ID:                c.id,
		Transport:         c.transport,
		Identity:          c.identity,
		IdentityConfirmed: c.identityConfirmed,
		RemoteAddr:        c.remoteAddr,
		ConnectedAt:       c.createdAt,
		LastActivity:      c.lastActivity,
		LastSend:          c.lastSend,
		FramesIn:          c.framesIn,
		BytesIn:           c.bytesIn,
		FramesOut:         c.framesOut,
		BytesOut:          c.bytesOut,
		DroppedFrames:     c.dropped,
		Errors:            c.errors,
		PendingBytes:      c.pending,
	}
	if elapsed := now.Sub(c.createdAt).Seconds(); elapsed > 0 {
		s.FPS = float64(c.framesIn) / elapsed
	}
	return s
}
