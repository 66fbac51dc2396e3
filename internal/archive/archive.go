// Package archive records finished translations to durable storage.
//
// A [Recorder] consumes pipeline events on the hot path without blocking:
// events are queued and a single writer goroutine turns them into channel
// rows and utterance rows in a [Store]. When the queue is full, events are
// dropped and counted rather than slowing down a call. Only committed
// translations are archived; interim captions never reach the store.
package archive

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/babelcall/internal/pipeline"
)

const (
	// DefaultQueueSize is the number of events buffered between the
	// pipelines and the writer.
	DefaultQueueSize = 1024

	// DefaultWriteTimeout bounds a single store call.
	DefaultWriteTimeout = 5 * time.Second
)

// Channel describes one run of a channel's pipeline.
type Channel struct {
	ChannelID  string
	SourceLang string
	TargetLang string
	StartedAt  time.Time
}

// Utterance is one committed translation.
type Utterance struct {
	SourceText  string `json:"source_text"`
	Translation string `json:"translation"`

	// Latency is the time from transcript to translation.
	Latency time.Duration `json:"latency_ns"`
	At      time.Time     `json:"at"`
}

// Hit is one search result: an utterance and the channel row it belongs to.
type Hit struct {
	ChannelID string `json:"channel_id"`
	Row       int64  `json:"row"`
	Utterance
}

// End closes a channel row.
type End struct {
	EndedAt      time.Time
	Reason       string
	Segments     uint64
	Translations uint64
	Errors       uint64
}

// Store persists archived channels and their utterances. Implementations
// must be safe for concurrent use.
type Store interface {
	// StartChannel creates a channel row and returns its id.
	StartChannel(ctx context.Context, ch Channel) (int64, error)

	// AddUtterance appends u to the channel row id.
	AddUtterance(ctx context.Context, id int64, u Utterance) error

	// EndChannel marks the channel row id as finished.
	EndChannel(ctx context.Context, id int64, end End) error
}

// Stats reports the recorder's counters.
type Stats struct {
	Written int64 `json:"written"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
	Queued  int   `json:"queued"`
}

// Option is a functional option for [NewRecorder].
type Option func(*Recorder)

// WithQueueSize sets the event queue capacity. Non-positive values are
// ignored.
func WithQueueSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithWriteTimeout bounds each store call. Non-positive values are ignored.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithClock overrides the clock used to timestamp events.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

type entry struct {
	ev pipeline.Event
	at time.Time
}

// Recorder queues pipeline events and writes them to a [Store]. Record is
// safe for concurrent use.
type Recorder struct {
	store     Store
	queueSize int
	timeout   time.Duration
	now       func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan entry
	done   chan struct{}

	// open maps a channel id to its current row. Owned by the writer.
	open map[string]int64

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewRecorder starts a Recorder writing to store. Call [Recorder.Close] to
// flush the queue and stop the writer.
func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{
		store:     store,
		queueSize: DefaultQueueSize,
		timeout:   DefaultWriteTimeout,
		now:       time.Now,
		open:      make(map[string]int64),
	}
	for _, o := range opts {
		o(r)
	}
	r.queue = make(chan entry, r.queueSize)
	r.done = make(chan struct{})
	go r.run()
	return r
}

// Record queues ev for archiving. It never blocks. Events other than
// started, committed translation and stopped events are ignored.
func (r *Recorder) Record(ev pipeline.Event) {
	switch e := ev.(type) {
	case pipeline.StartedEvent, pipeline.StoppedEvent:
	case pipeline.TranslationEvent:
		if !e.Stable {
			return
		}
	default:
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- entry{ev: ev, at: r.now()}:
	default:
		r.dropped.Add(1)
	}
}

// Close stops accepting events, writes everything still queued and waits
// for the writer to exit. It is safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
	return nil
}

// Stats returns the current counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Written: r.written.Load(),
		Dropped: r.dropped.Load(),
		Failed:  r.failed.Load(),
		Queued:  len(r.queue),
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		if err := r.write(e); err != nil {
			r.failed.Add(1)
			slog.Warn("archive: write failed", "channel_id", e.ev.Channel(), "err", err)
			continue
		}
		r.written.Add(1)
	}
}

func (r *Recorder) write(e entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	switch ev := e.ev.(type) {
	case pipeline.StartedEvent:
		id, err := r.store.StartChannel(ctx, Channel{
			ChannelID:  ev.ChannelID,
			SourceLang: ev.SourceLang,
			TargetLang: ev.TargetLang,
			StartedAt:  e.at,
		})
		if err != nil {
			return err
		}
		r.open[ev.ChannelID] = id

	case pipeline.TranslationEvent:
		id, ok := r.open[ev.ChannelID]
		if !ok {
			// The start event was dropped or failed; open a row without
			// language metadata so the utterance is not lost.
			var err error
			id, err = r.store.StartChannel(ctx, Channel{ChannelID: ev.ChannelID, StartedAt: e.at})
			if err != nil {
				return err
			}
			r.open[ev.ChannelID] = id
		}
		return r.store.AddUtterance(ctx, id, Utterance{
			SourceText:  ev.SourceText,
			Translation: ev.Text,
			Latency:     ev.Latency,
			At:          e.at,
		})

	case pipeline.StoppedEvent:
		id, ok := r.open[ev.ChannelID]
		if !ok {
			return nil
		}
		delete(r.open, ev.ChannelID)
		return r.store.EndChannel(ctx, id, End{
			EndedAt:      e.at,
			Reason:       ev.Reason,
			Segments:     ev.Stats.Counters.Segments,
			Translations: ev.Stats.Counters.Translations,
			Errors:       ev.Stats.Counters.Errors,
		})
	}
	return nil
}
