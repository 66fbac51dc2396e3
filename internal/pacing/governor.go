// Package pacing releases synthesized audio at real-time cadence.
//
// A [Governor] queues outbound frames in a small ring and releases one per
// tick of a frame-duration clock, so bursts from the synthesizer never reach
// the caller faster than they can be played. When the ring is full the oldest
// frame is dropped; when it is empty the tick is skipped or, if configured,
// filled with a silence placeholder.
package pacing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/babelcall/internal/pipeline"
	"github.com/MrWong99/babelcall/pkg/audio"
)

// Compile-time interface assertion.
var _ pipeline.PacingSink = (*Governor)(nil)

const (
	// DefaultCapacity is the ring size in frames.
	DefaultCapacity = 8

	// DefaultFrameDuration is the release interval.
	DefaultFrameDuration = 20 * time.Millisecond

	// DefaultFadeFrames is the fade-in length after placeholder frames.
	DefaultFadeFrames = 3
)

var (
	// ErrStopped is returned by Enqueue and Start after Stop.
	ErrStopped = errors.New("pacing: governor stopped")

	// ErrStarted is returned by a second Start.
	ErrStarted = errors.New("pacing: governor already started")
)

// Ticker is the clock driving releases. Stop must release its resources.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// Option configures a [Governor] during construction.
type Option func(*Governor)

// WithCapacity sets the ring size in frames.
func WithCapacity(n int) Option {
	return func(g *Governor) {
		if n > 0 {
			g.capacity = n
		}
	}
}

// WithFrameDuration sets the release interval.
func WithFrameDuration(d time.Duration) Option {
	return func(g *Governor) {
		if d > 0 {
			g.frameDur = d
		}
	}
}

// WithSilencePlaceholder releases frameSize bytes of silence on ticks with
// nothing queued, and fades the next real audio in.
func WithSilencePlaceholder(frameSize int) Option {
	return func(g *Governor) {
		g.placeholder = true
		if frameSize > 0 {
			g.frameSize = frameSize
		}
	}
}

// WithTicker replaces the wall-clock ticker, mainly for tests.
func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(g *Governor) {
		g.newTicker = newTicker
	}
}

// Stats is a snapshot of governor activity.
type Stats struct {
	Enqueued     uint64 `json:"enqueued"`
	Released     uint64 `json:"released"`
	Overruns     uint64 `json:"overruns"`
	Underruns    uint64 `json:"underruns"`
	Placeholders uint64 `json:"placeholders"`
	Queued       int    `json:"queued"`
}

// Governor implements [pipeline.PacingSink]. All exported methods are safe
// for concurrent use.
type Governor struct {
	capacity    int
	frameDur    time.Duration
	frameSize   int                        // placeholder frame length
	placeholder bool                       // release silence on empty ticks
	newTicker   func(time.Duration) Ticker // clock factory

	mu       sync.Mutex
	ring     [][]byte
	head     int  // index of the oldest queued frame
	count    int  // queued frames
	draining bool // a frame was released on the previous tick
	filler   int  // placeholder frames since the last real frame
	fade     int  // fade-in frames left
	started  bool
	stopped  bool
	stats    Stats

	out  chan []byte   // released frames; never closed
	done chan struct{} // closed by Stop
}

// New creates a stopped governor; call Start to begin releasing.
func New(opts ...Option) *Governor {
	g := &Governor{
		capacity:  DefaultCapacity,
		frameDur:  DefaultFrameDuration,
		frameSize: audio.DefaultFrameSize,
		newTicker: func(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} },
		out:       make(chan []byte),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(g)
	}
	g.ring = make([][]byte, g.capacity)
	return g
}

// Start begins releasing frames until ctx is cancelled or Stop is called.
func (g *Governor) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case g.stopped:
		return ErrStopped
	case g.started:
		return ErrStarted
	}
	g.started = true
	go g.run(ctx, g.newTicker(g.frameDur))
	return nil
}

// Enqueue queues one frame. A full ring drops its oldest frame.
func (g *Governor) Enqueue(frame []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return ErrStopped
	}
	if g.count == g.capacity {
		g.ring[g.head] = nil
		g.head = (g.head + 1) % g.capacity
		g.count--
		g.stats.Overruns++
	}
	g.ring[(g.head+g.count)%g.capacity] = frame
	g.count++
	g.stats.Enqueued++
	return nil
}

// Released yields frames at the pacing interval.
func (g *Governor) Released() <-chan []byte { return g.out }

// Stop halts releasing and drops queued frames. Stop is idempotent.
func (g *Governor) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return nil
	}
	g.stopped = true
	clear(g.ring)
	g.count = 0
	close(g.done)
	return nil
}

// Stats returns a snapshot.
func (g *Governor) Stats() any {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.stats
	st.Queued = g.count
	return st
}

// run is the release goroutine.
func (g *Governor) run(ctx context.Context, t Ticker) {
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.done:
			return
		case <-t.C():
		}

		frame, ok := g.next()
		if !ok {
			continue
		}
		select {
		case g.out <- frame:
		case <-ctx.Done():
			return
		case <-g.done:
			return
		}
	}
}

// next pops the frame for this tick, or a placeholder.
func (g *Governor) next() ([]byte, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.count == 0 {
		if g.draining {
			g.stats.Underruns++
			g.draining = false
		}
		if !g.placeholder {
			return nil, false
		}
		g.filler++
		g.stats.Placeholders++
		return audio.Silence(g.frameSize), true
	}

	frame := g.ring[g.head]
	g.ring[g.head] = nil
	g.head = (g.head + 1) % g.capacity
	g.count--
	g.draining = true
	g.stats.Released++

	if g.filler > 0 {
		g.filler = 0
		g.fade = DefaultFadeFrames
	}
	if g.fade > 0 {
		step := DefaultFadeFrames - g.fade
		frame = fadeIn(frame, float64(step)/DefaultFadeFrames, float64(step+1)/DefaultFadeFrames)
		g.fade--
	}
	return frame, true
}

// fadeIn returns a copy of frame with a linear gain ramp from..to.
func fadeIn(frame []byte, from, to float64) []byte {
	samples := audio.BytesToInt16s(frame)
	n := len(samples)
	for i, s := range samples {
		gain := from + (to-from)*float64(i)/float64(n)
		samples[i] = int16(float64(s) * gain)
	}
	return audio.Int16sToBytes(samples)
}
