package rtp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
)

// maxDatagram is large enough for any RTP packet over a standard MTU path.
const maxDatagram = 2048

// ErrNoRemote is returned by [Listener.WritePacket] before any packet has
// been received, since the far end's address is learned from inbound traffic.
var ErrNoRemote = errors.New("rtp: remote address not yet known")

// Listener binds a UDP address and feeds every datagram to a [Decoder].
type Listener struct {
	addr string
	dec  *Decoder

	mu     sync.Mutex
	conn   net.PacketConn
	remote net.Addr
	ready  chan struct{}

	readErrors atomic.Uint64
}

// NewListener creates a Listener for addr. Nothing is bound until [Run].
func NewListener(addr string, dec *Decoder) *Listener {
	return &Listener{addr: addr, dec: dec, ready: make(chan struct{})}
}

// Run binds the socket and reads datagrams until ctx is cancelled. Read
// errors on a live socket are counted and logged; they do not stop the loop.
func (l *Listener) Run(ctx context.Context) error {
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", l.addr)
	if err != nil {
		return fmt.Errorf("rtp: listen %s: %w", l.addr, err)
	}
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	close(l.ready)

	slog.Info("rtp listener started", "addr", conn.LocalAddr().String(), "stream", l.dec.cfg.Name)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				slog.Info("rtp listener stopped", "stream", l.dec.cfg.Name)
				return nil
			}
			l.readErrors.Add(1)
			slog.Warn("rtp: read error", "stream", l.dec.cfg.Name, "err", err)
			continue
		}
		l.mu.Lock()
		l.remote = from
		l.mu.Unlock()
		l.dec.Handle(buf[:n], from)
	}
}

// Ready is closed once the socket is bound.
func (l *Listener) Ready() <-chan struct{} { return l.ready }

// LocalAddr returns the bound address, or nil before [Run] has bound it.
func (l *Listener) LocalAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Remote returns the address of the most recent sender.
func (l *Listener) Remote() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remote
}

// ReadErrors returns the number of socket read errors seen so far.
func (l *Listener) ReadErrors() uint64 { return l.readErrors.Load() }

// Decoder returns the decoder fed by this listener.
func (l *Listener) Decoder() *Decoder { return l.dec }

// WritePacket sends b to the most recent sender from the bound socket, so
// the far end sees replies coming from the port it sends to.
func (l *Listener) WritePacket(b []byte) error {
	l.mu.Lock()
	conn, remote := l.conn, l.remote
	l.mu.Unlock()
	if conn == nil || remote == nil {
		return ErrNoRemote
	}
	if _, err := conn.WriteTo(b, remote); err != nil {
		return fmt.Errorf("rtp: write to %s: %w", remote, err)
	}
	return nil
}
