package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// RegistryConfig configures a [Registry].
type RegistryConfig struct {
	// OnEvent receives every event of every registered orchestrator, tagged
	// with its channel. It may be called concurrently and must not block.
	OnEvent func(Event)

	// Options are applied to every orchestrator the registry creates.
	Options []Option
}

// Registry owns the orchestrators of all active channels. At most one
// orchestrator exists per channel id. All methods are safe for concurrent
// use.
type Registry struct {
	cfg RegistryConfig

	mu       sync.Mutex
	entries  map[string]*Orchestrator
	starting map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		cfg:      cfg,
		entries:  make(map[string]*Orchestrator),
		starting: make(map[string]struct{}),
	}
}

// Create builds and starts an orchestrator for cfg.ChannelID. The channel is
// reserved for the duration of the start so concurrent creates for the same
// id fail with [ErrChannelExists]; the orchestrator is registered only once
// it is RUNNING.
func (r *Registry) Create(ctx context.Context, cfg Config, c Collaborators, opts ...Option) (*Orchestrator, error) {
	id := cfg.ChannelID

	r.mu.Lock()
	_, running := r.entries[id]
	_, starting := r.starting[id]
	if running || starting {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrChannelExists, id)
	}
	r.starting[id] = struct{}{}
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		delete(r.starting, id)
		r.mu.Unlock()
	}

	var o *Orchestrator
	cfg.OnEvent = func(ev Event) {
		if _, ok := ev.(StoppedEvent); ok {
			r.remove(id, o)
		}
		if r.cfg.OnEvent != nil {
			r.cfg.OnEvent(ev)
		}
	}

	all := append(append([]Option(nil), r.cfg.Options...), opts...)
	o, err := New(cfg, c, all...)
	if err != nil {
		release()
		return nil, err
	}
	if err := o.Start(ctx); err != nil {
		release()
		return nil, err
	}

	r.mu.Lock()
	delete(r.starting, id)
	r.entries[id] = o
	r.mu.Unlock()

	// A fatal error can stop the pipeline before it was registered.
	if o.State() == StateStopped {
		r.remove(id, o)
	}
	slog.Info("pipeline registered", "channel_id", id, "active", r.Len())
	return o, nil
}

// remove deletes id only if it still maps to o.
func (r *Registry) remove(id string, o *Orchestrator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[id]; ok && cur == o {
		delete(r.entries, id)
	}
}

// Get returns the orchestrator for id.
func (r *Registry) Get(id string) (*Orchestrator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.entries[id]
	return o, ok
}

// Stop stops and removes the orchestrator for id. A missing id is not an
// error.
func (r *Registry) Stop(ctx context.Context, id string) error {
	r.mu.Lock()
	o, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return o.Stop(ctx)
}

// StopAll stops every orchestrator concurrently, waits for all of them and
// clears the registry. A failure in one does not prevent the others from
// stopping; the first error is returned.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	all := make([]*Orchestrator, 0, len(r.entries))
	for _, o := range r.entries {
		all = append(all, o)
	}
	r.mu.Unlock()

	var eg errgroup.Group
	for _, o := range all {
		eg.Go(func() error {
			if err := o.Stop(ctx); err != nil {
				return fmt.Errorf("pipeline: stop %s: %w", o.ChannelID(), err)
			}
			return nil
		})
	}
	err := eg.Wait()

	r.mu.Lock()
	clear(r.entries)
	r.mu.Unlock()
	return err
}

// AllStats returns the stats of every registered channel keyed by id.
func (r *Registry) AllStats() map[string]Stats {
	r.mu.Lock()
	all := make([]*Orchestrator, 0, len(r.entries))
	for _, o := range r.entries {
		all = append(all, o)
	}
	r.mu.Unlock()

	out := make(map[string]Stats, len(all))
	for _, o := range all {
		out[o.ChannelID()] = o.Stats()
	}
	return out
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
