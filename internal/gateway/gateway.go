// Package gateway accepts live call audio over two wire transports and
// normalises it into fixed-size PCM frames.
//
// The framed transport is the AudioSocket protocol over TCP: a stream of
// [type][length][payload] units where the call identity arrives in-band.
// The message transport is a WebSocket whose URL path carries the identity
// and whose binary messages are raw PCM. Both feed the same connection
// registry and the same [Event] stream, and both accept translated audio
// back through [Gateway.Send].
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/babelcall/internal/observe"
	"github.com/MrWong99/babelcall/pkg/audio"
)

var (
	// ErrUnknownConnection is returned by [Gateway.Send] and
	// [Gateway.Close] for connection ids not in the registry.
	ErrUnknownConnection = errors.New("gateway: unknown connection")

	// ErrProtocol wraps framing violations on the framed transport.
	ErrProtocol = errors.New("gateway: protocol error")
)

// Config configures a [Gateway].
type Config struct {
	// FramedAddr is the TCP listen address of the framed transport.
	// Empty disables it. Example: ":5050".
	FramedAddr string

	// MessageAddr is the HTTP listen address of the message transport.
	// Empty disables it. Example: ":5051".
	MessageAddr string

	// MessagePath is the URL prefix whose next path segment is the
	// participant identity. Default: "/mic/".
	MessagePath string

	// FrameSize is the frame length in bytes. Default: 320.
	FrameSize int

	// SampleRate of the PCM carried by both transports. Default: 8000.
	SampleRate int

	// WriteTimeout bounds every outbound write. Default: 2s.
	WriteTimeout time.Duration

	// OnEvent receives all gateway events. It is called synchronously on
	// the connection's read goroutine and must not block.
	OnEvent func(Event)
}

func (c *Config) setDefaults() {
	if c.MessagePath == "" {
		c.MessagePath = "/mic/"
	}
	if c.FrameSize <= 0 {
		c.FrameSize = audio.DefaultFrameSize
	}
	if c.SampleRate <= 0 {
		c.SampleRate = audio.DefaultSampleRate
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 2 * time.Second
	}
}

// Stats is a snapshot of gateway-wide counters plus every live connection.
type Stats struct {
	TotalConnections  uint64            `json:"total_connections"`
	ActiveConnections int               `json:"active_connections"`
	FramesIn          uint64            `json:"frames_in"`
	BytesIn           uint64            `json:"bytes_in"`
	FramesOut         uint64            `json:"frames_out"`
	BytesOut          uint64            `json:"bytes_out"`
	Errors            uint64            `json:"errors"`
	Connections       []ConnectionStats `json:"connections"`
}

// Gateway is the frame ingestion gateway. All methods are safe for
// concurrent use.
type Gateway struct {
	cfg     Config
	metrics *observe.Metrics
	now     func() time.Time

	mu    sync.Mutex
	conns map[string]*conn
	wg    sync.WaitGroup

	framedReady  chan struct{}
	messageReady chan struct{}
	addrMu       sync.Mutex
	framedAddr   net.Addr
	messageAddr  net.Addr

	totalConns atomic.Uint64
	framesIn   atomic.Uint64
	bytesIn    atomic.Uint64
	framesOut  atomic.Uint64
	bytesOut   atomic.Uint64
	errs       atomic.Uint64
}

// Option is a functional option for [New].
type Option func(*Gateway)

// WithMetrics records gateway metrics to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// New creates a Gateway. Nothing listens until [Gateway.Serve].
func New(cfg Config, opts ...Option) *Gateway {
	cfg.setDefaults()
	g := &Gateway{
		cfg:          cfg,
		metrics:      observe.DefaultMetrics(),
		now:          time.Now,
		conns:        make(map[string]*conn),
		framedReady:  make(chan struct{}),
		messageReady: make(chan struct{}),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// FrameSize returns the configured frame length in bytes.
func (g *Gateway) FrameSize() int { return g.cfg.FrameSize }

// SampleRate returns the PCM rate of both transports.
func (g *Gateway) SampleRate() int { return g.cfg.SampleRate }

// Serve binds every configured endpoint and blocks until ctx is cancelled.
// If any endpoint fails to bind, none is served. On return all connections
// are closed.
func (g *Gateway) Serve(ctx context.Context) error {
	var lc net.ListenConfig
	var framed, message net.Listener
	if g.cfg.FramedAddr != "" {
		ln, err := lc.Listen(ctx, "tcp", g.cfg.FramedAddr)
		if err != nil {
			return fmt.Errorf("gateway: listen framed %s: %w", g.cfg.FramedAddr, err)
		}
		framed = ln
	}
	if g.cfg.MessageAddr != "" {
		ln, err := lc.Listen(ctx, "tcp", g.cfg.MessageAddr)
		if err != nil {
			if framed != nil {
				framed.Close()
			}
			return fmt.Errorf("gateway: listen message %s: %w", g.cfg.MessageAddr, err)
		}
		message = ln
	}

	eg, ctx := errgroup.WithContext(ctx)
	if framed != nil {
		eg.Go(func() error { return g.ServeFramed(ctx, framed) })
	}
	if message != nil {
		eg.Go(func() error { return g.ServeMessage(ctx, message) })
	}

	err := eg.Wait()
	g.closeAll()
	g.wg.Wait()
	return err
}

// ServeMessage serves the message transport on ln until ctx is cancelled.
func (g *Gateway) ServeMessage(ctx context.Context, ln net.Listener) error {
	g.setAddr(&g.messageAddr, ln.Addr(), g.messageReady)
	slog.Info("gateway message transport listening", "addr", ln.Addr().String(), "path", g.cfg.MessagePath)

	srv := &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// Hijacked WebSocket connections are not tracked by the server;
		// close them ourselves so Shutdown does not wait on them.
		g.closeTransport(TransportMessage)
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("gateway: message transport: %w", err)
	}
}

func (g *Gateway) setAddr(dst *net.Addr, addr net.Addr, ready chan struct{}) {
	g.addrMu.Lock()
	*dst = addr
	g.addrMu.Unlock()
	close(ready)
}

// FramedAddr blocks until the framed endpoint is bound and returns its
// address, or returns nil if ctx ends first.
func (g *Gateway) FramedAddr(ctx context.Context) net.Addr {
	return g.waitAddr(ctx, &g.framedAddr, g.framedReady)
}

// MessageAddr blocks until the message endpoint is bound and returns its
// address, or returns nil if ctx ends first.
func (g *Gateway) MessageAddr(ctx context.Context) net.Addr {
	return g.waitAddr(ctx, &g.messageAddr, g.messageReady)
}

func (g *Gateway) waitAddr(ctx context.Context, src *net.Addr, ready chan struct{}) net.Addr {
	select {
	case <-ready:
	case <-ctx.Done():
		return nil
	}
	g.addrMu.Lock()
	defer g.addrMu.Unlock()
	return *src
}

// ─── Connection registry ────────────────────────────────────────────────────

func (g *Gateway) register(t Transport, remote string, w wire) *conn {
	prefix := "tcp"
	if t == TransportMessage {
		prefix = "ws"
	}
	now := g.now()
	c := &conn{
		id:           prefix + "-" + uuid.NewString(),
		transport:    t,
		remoteAddr:   remote,
		createdAt:    now,
		lastActivity: now,
		wire:         w,
		acc:          audio.NewAccumulator(g.cfg.FrameSize),
	}
	g.mu.Lock()
	g.conns[c.id] = c
	g.mu.Unlock()
	g.wg.Add(1)

	g.totalConns.Add(1)
	g.metrics.ActiveConnections.Add(context.Background(), 1, attrsFor(t))
	slog.Info("gateway connection opened", "conn_id", c.id, "transport", t, "remote", remote)
	g.emit(ConnectEvent{ConnectionID: c.id, Transport: t, RemoteAddr: remote, At: now})
	return c
}

func (g *Gateway) unregister(c *conn, reason string) {
	_ = c.close()
	g.mu.Lock()
	delete(g.conns, c.id)
	g.mu.Unlock()
	defer g.wg.Done()

	now := g.now()
	stats := c.snapshot(now)
	duration := now.Sub(c.createdAt)
	g.metrics.ActiveConnections.Add(context.Background(), -1, attrsFor(c.transport))
	slog.Info("gateway connection closed",
		"conn_id", c.id,
		"identity", stats.Identity,
		"reason", reason,
		"duration", duration,
		"frames_in", stats.FramesIn,
		"frames_out", stats.FramesOut,
		"avg_fps", stats.FPS,
	)
	g.emit(DisconnectEvent{
		ConnectionID: c.id,
		Transport:    c.transport,
		Identity:     stats.Identity,
		Reason:       reason,
		Duration:     duration,
		AvgFPS:       stats.FPS,
		Stats:        stats,
	})
}

func (g *Gateway) lookup(id string) (*conn, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.conns[id]
	return c, ok
}

func (g *Gateway) closeAll() {
	g.mu.Lock()
	conns := make([]*conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()
	for _, c := range conns {
		_ = c.close()
	}
}

func (g *Gateway) closeTransport(t Transport) {
	g.mu.Lock()
	var conns []*conn
	for _, c := range g.conns {
		if c.transport == t {
			conns = append(conns, c)
		}
	}
	g.mu.Unlock()
	for _, c := range conns {
		_ = c.close()
	}
}

// ─── Inbound audio ──────────────────────────────────────────────────────────

// ingest runs PCM through the connection's accumulator and publishes every
// completed frame. Called only from the connection's read goroutine.
func (g *Gateway) ingest(c *conn, pcm []byte) {
	now := g.now()
	c.touch(now)
	frames := c.acc.Push(pcm)
	c.setPending(c.acc.Pending())
	if len(frames) == 0 {
		return
	}
	identity, _ := c.identityState()
	for _, f := range frames {
		c.seq++
		c.countFrameIn(len(f))
		g.framesIn.Add(1)
		g.bytesIn.Add(uint64(len(f)))
		g.metrics.RecordFrameIn(context.Background(), c.transport.String(), len(f))
		g.emit(FrameEvent{Frame: audio.Frame{
			Data:         f,
			ConnectionID: c.id,
			Identity:     identity,
			Protocol:     c.transport.String(),
			Sequence:     c.seq,
			CapturedAt:   now,
			SampleRate:   g.cfg.SampleRate,
		}})
	}
}

func (g *Gateway) protocolError(c *conn, kind string, err error) {
	c.countError()
	g.errs.Add(1)
	g.metrics.RecordTransportError(context.Background(), c.transport.String(), kind)
	g.emit(ErrorEvent{ConnectionID: c.id, Transport: c.transport, Err: err})
}

func (g *Gateway) emit(ev Event) {
	if g.cfg.OnEvent != nil {
		g.cfg.OnEvent(ev)
	}
}

// ─── Outbound audio ─────────────────────────────────────────────────────────

// Send writes pcm to the connection identified by connID, cut into frames of
// the configured size with the last frame zero-padded. Each frame write is
// bounded by the configured write timeout.
func (g *Gateway) Send(ctx context.Context, connID string, pcm []byte) error {
	c, ok := g.lookup(connID)
	if !ok {
		slog.Warn("gateway: send to unknown connection", "conn_id", connID)
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for _, f := range audio.Reframe(pcm, g.cfg.FrameSize) {
		wctx, cancel := context.WithTimeout(ctx, g.cfg.WriteTimeout)
		err := c.wire.writeFrame(wctx, f)
		cancel()
		if err != nil {
			g.protocolError(c, "write", err)
			return fmt.Errorf("gateway: send to %s: %w", connID, err)
		}
		c.countFrameOut(len(f), g.now())
		g.framesOut.Add(1)
		g.bytesOut.Add(uint64(len(f)))
		g.metrics.FramesOut.Add(ctx, 1, attrsFor(c.transport))
	}
	return nil
}

// Close terminates the connection identified by connID. The disconnect
// event follows once its read goroutine has exited.
func (g *Gateway) Close(connID string) error {
	c, ok := g.lookup(connID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	return c.close()
}

// Connection returns a snapshot of one live connection.
func (g *Gateway) Connection(connID string) (ConnectionStats, bool) {
	c, ok := g.lookup(connID)
	if !ok {
		return ConnectionStats{}, false
	}
	return c.snapshot(g.now()), true
}

// Stats returns gateway-wide totals and a snapshot of every live connection.
func (g *Gateway) Stats() Stats {
	g.mu.Lock()
	conns := make([]*conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	now := g.now()
	s := Stats{
		TotalConnections:  g.totalConns.Load(),
		ActiveConnections: len(conns),
		FramesIn:          g.framesIn.Load(),
		BytesIn:           g.bytesIn.Load(),
		FramesOut:         g.framesOut.Load(),
		BytesOut:          g.bytesOut.Load(),
		Errors:            g.errs.Load(),
		Connections:       make([]ConnectionStats, 0, len(conns)),
	}
	for _, c := range conns {
		s.Connections = append(s.Connections, c.snapshot(now))
	}
	return s
}

func attrsFor(t Transport) metric.MeasurementOption {
	return metric.WithAttributes(observe.Attr("protocol", t.String()))
}
