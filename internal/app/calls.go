package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/babelcall/internal/bridge"
	"github.com/MrWong99/babelcall/internal/gateway"
	"github.com/MrWong99/babelcall/internal/pipeline"
)

// callStopTimeout bounds stopping a channel after its connection went away.
const callStopTimeout = 5 * time.Second

// call is one gateway connection that has completed its handshake.
type call struct {
	identity string
	source   *bridge.GatewaySource

	mu   sync.Mutex
	orch *pipeline.Orchestrator
	gone bool // the connection disconnected
}

// callRouter turns gateway events into channels: a handshake starts a
// pipeline keyed by the participant identity, frames are queued to it and a
// disconnect stops it. All methods are safe for concurrent use.
type callRouter struct {
	app *App
	gw  *gateway.Gateway

	mu    sync.Mutex
	calls map[string]*call // by connection id
}

func newCallRouter(a *App) *callRouter {
	return &callRouter{app: a, calls: make(map[string]*call)}
}

// handle is the gateway's OnEvent callback. It runs on the connection's read
// goroutine, so anything that may block is started asynchronously.
func (r *callRouter) handle(ev gateway.Event) {
	switch e := ev.(type) {
	case gateway.HandshakeEvent:
		r.handshake(e)
	case gateway.FrameEvent:
		r.frame(e)
	case gateway.DisconnectEvent:
		r.disconnect(e)
	case gateway.ErrorEvent:
		slog.Debug("gateway connection error", "conn_id", e.ConnectionID, "transport", e.Transport, "err", e.Err)
	}
}

// handshake starts the channel of a connection's identity. A repeated
// identity is ignored; a changed one stops the previous channel first.
func (r *callRouter) handshake(e gateway.HandshakeEvent) {
	r.mu.Lock()
	prev, ok := r.calls[e.ConnectionID]
	if ok && prev.identity == e.Identity {
		r.mu.Unlock()
		return
	}
	src := bridge.NewGatewaySource(r.gw, e.ConnectionID, e.Identity, 0)
	c := &call{identity: e.Identity, source: src}
	r.calls[e.ConnectionID] = c
	r.mu.Unlock()

	if ok {
		slog.Info("call identity changed", "conn_id", e.ConnectionID, "old", prev.identity, "new", e.Identity)
		r.retire(prev)
	}

	cfg := r.app.cfg.Load()
	spec := channelSpec{
		id:         e.Identity,
		route:      cfg.Pipeline.Resolve(e.Identity),
		source:     src,
		frameSize:  r.gw.FrameSize(),
		sampleRate: r.gw.SampleRate(),
	}
	go r.start(c, e, spec)
}

func (r *callRouter) start(c *call, e gateway.HandshakeEvent, spec channelSpec) {
	o, err := r.app.startChannel(context.Background(), spec)
	if err != nil {
		switch {
		case errors.Is(err, bridge.ErrClosed):
			slog.Debug("call ended before its channel started", "conn_id", e.ConnectionID, "channel_id", spec.id)
		case errors.Is(err, pipeline.ErrChannelExists):
			slog.Warn("call rejected: channel already active",
				"conn_id", e.ConnectionID,
				"channel_id", spec.id,
			)
		default:
			slog.Error("call failed to start", "conn_id", e.ConnectionID, "channel_id", spec.id, "err", err)
		}
		c.source.Close()
		c.mu.Lock()
		gone := c.gone
		c.mu.Unlock()
		if gone {
			return
		}
		if cerr := r.gw.Close(e.ConnectionID); cerr != nil && !errors.Is(cerr, gateway.ErrUnknownConnection) {
			slog.Warn("close rejected connection", "conn_id", e.ConnectionID, "err", cerr)
		}
		return
	}

	c.mu.Lock()
	gone := c.gone
	if !gone {
		c.orch = o
	}
	c.mu.Unlock()
	if gone {
		r.stop(spec.id, o, c.source)
		return
	}
	slog.Info("call started",
		"conn_id", e.ConnectionID,
		"transport", e.Transport,
		"channel_id", spec.id,
		"source_lang", spec.route.SourceLang,
		"target_lang", spec.route.TargetLang,
	)
}

func (r *callRouter) frame(e gateway.FrameEvent) {
	r.mu.Lock()
	c, ok := r.calls[e.Frame.ConnectionID]
	r.mu.Unlock()
	if !ok {
		return
	}
	if !c.source.Push(e.Frame) {
		slog.Debug("frame dropped", "conn_id", e.Frame.ConnectionID, "seq", e.Frame.Sequence)
	}
}

func (r *callRouter) disconnect(e gateway.DisconnectEvent) {
	r.mu.Lock()
	c, ok := r.calls[e.ConnectionID]
	delete(r.calls, e.ConnectionID)
	r.mu.Unlock()
	if !ok {
		return
	}

	slog.Info("call ended",
		"conn_id", e.ConnectionID,
		"channel_id", c.identity,
		"reason", e.Reason,
		"duration", e.Duration,
	)
	r.retire(c)
}

// retire marks c gone and stops its channel. The connection is left open.
func (r *callRouter) retire(c *call) {
	c.mu.Lock()
	c.gone = true
	o := c.orch
	c.mu.Unlock()

	if o == nil {
		// Still starting; the closed source fails the start or the
		// starter stops the channel once it sees gone.
		c.source.Close()
		return
	}
	go r.stop(c.identity, o, c.source)
}

// stop stops o and closes its source.
func (r *callRouter) stop(channelID string, o *pipeline.Orchestrator, src *bridge.GatewaySource) {
	ctx, cancel := context.WithTimeout(context.Background(), callStopTimeout)
	defer cancel()
	if err := o.Stop(ctx); err != nil {
		slog.Warn("call stop", "channel_id", channelID, "err", err)
	}
	src.Close()
}

// active returns the number of calls past their handshake.
func (r *callRouter) active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
