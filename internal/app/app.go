// Package app wires the babelcall subsystems into a running server.
//
// The App owns the full lifecycle: New builds the ingestion gateway, the RTP
// stream listeners, the shared translator and the pipeline registry; Run
// serves until its context is cancelled; Shutdown stops every channel and
// releases the rest in order.
//
// Channels are created on demand. A gateway connection becomes a channel
// once its identity is known and ends when the connection goes away. An RTP
// stream is a standing channel that is restarted with backoff whenever its
// pipeline stops.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/babelcall/internal/archive"
	"github.com/MrWong99/babelcall/internal/config"
	"github.com/MrWong99/babelcall/internal/gateway"
	"github.com/MrWong99/babelcall/internal/observe"
	"github.com/MrWong99/babelcall/internal/pipeline"
	"github.com/MrWong99/babelcall/internal/resilience"
	"github.com/MrWong99/babelcall/internal/speech"
	"github.com/MrWong99/babelcall/internal/transcript"
	"github.com/MrWong99/babelcall/internal/transcript/phonetic"
	"github.com/MrWong99/babelcall/pkg/provider/mt"
	"github.com/MrWong99/babelcall/pkg/provider/tts"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg       atomic.Pointer[config.Config]
	providers *Providers
	metrics   *observe.Metrics
	hook      func(pipeline.Event)
	archive   *archive.Recorder // nil when archiving is disabled

	gateway    *gateway.Gateway // nil when no gateway endpoint is configured
	endpoints  int              // gateway endpoints that must bind
	bound      atomic.Int32
	registry   *pipeline.Registry
	translator *speech.Translator
	synth      atomic.Pointer[speech.Synthesizer]
	glossary   atomic.Pointer[transcript.Glossary] // nil without terms
	calls      *callRouter
	streams    []*rtpStream

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records metrics to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithEventHook receives every pipeline event after the app has handled it.
// It must not block.
func WithEventHook(fn func(pipeline.Event)) Option {
	return func(a *App) { a.hook = fn }
}

// WithArchive records pipeline events to rec. The app closes rec during
// Shutdown, after every channel has stopped and before the closers run.
func WithArchive(rec *archive.Recorder) Option {
	return func(a *App) { a.archive = rec }
}

// WithCloser registers fn to run during Shutdown, after every channel has
// stopped.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// New creates an App from a validated configuration. Nothing listens until
// [App.Run].
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if err := providers.validate(); err != nil {
		return nil, err
	}

	a := &App{
		providers: providers,
		metrics:   observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(a)
	}
	a.cfg.Store(cfg)

	a.translator = newTranslator(cfg, providers.MT, a.metrics)
	a.synth.Store(newSynthesizer(cfg, providers.TTS, a.metrics))
	a.glossary.Store(newGlossary(cfg.Pipeline.Glossary))

	a.registry = pipeline.NewRegistry(pipeline.RegistryConfig{
		OnEvent: a.handlePipelineEvent,
		Options: []pipeline.Option{pipeline.WithMetrics(a.metrics)},
	})

	if cfg.Gateway.FramedAddr != "" || cfg.Gateway.MessageAddr != "" {
		a.calls = newCallRouter(a)
		a.gateway = gateway.New(gateway.Config{
			FramedAddr:   cfg.Gateway.FramedAddr,
			MessageAddr:  cfg.Gateway.MessageAddr,
			MessagePath:  cfg.Gateway.MessagePath,
			FrameSize:    cfg.Gateway.FrameSize,
			SampleRate:   cfg.Gateway.SampleRate,
			WriteTimeout: cfg.Gateway.WriteTimeout,
			OnEvent:      a.calls.handle,
		}, gateway.WithMetrics(a.metrics))
		a.calls.gw = a.gateway
		if cfg.Gateway.FramedAddr != "" {
			a.endpoints++
		}
		if cfg.Gateway.MessageAddr != "" {
			a.endpoints++
		}
	}

	for _, sc := range cfg.RTP.Streams {
		s, err := newRTPStream(a, sc)
		if err != nil {
			return nil, fmt.Errorf("app: rtp stream %q: %w", sc.Name, err)
		}
		a.streams = append(a.streams, s)
	}

	return a, nil
}

// newGlossary returns nil when gc lists no terms.
func newGlossary(gc config.GlossaryConfig) *transcript.Glossary {
	return transcript.New(gc.Terms,
		phonetic.WithPhoneticThreshold(gc.PhoneticThreshold),
		phonetic.WithFuzzyThreshold(gc.FuzzyThreshold),
	)
}

func newTranslator(cfg *config.Config, p mt.Provider, m *observe.Metrics) *speech.Translator {
	tc := cfg.Translator
	opts := []speech.Option{
		speech.WithProviderName(cfg.Providers.MT.Name),
		speech.WithMetrics(m),
	}
	if tc.ContextLimit > 0 {
		opts = append(opts, speech.WithContextLimit(tc.ContextLimit))
	}
	if tc.CacheTTL > 0 || tc.CacheSize > 0 {
		ttl, size := tc.CacheTTL, tc.CacheSize
		if ttl <= 0 {
			ttl = speech.DefaultCacheTTL
		}
		if size <= 0 {
			size = speech.DefaultCacheSize
		}
		opts = append(opts, speech.WithCache(ttl, size))
	}
	if tc.Retries > 0 || tc.Backoff > 0 {
		n, backoff := tc.Retries, tc.Backoff
		if n <= 0 {
			n = speech.DefaultRetries
		}
		if backoff <= 0 {
			backoff = speech.DefaultBackoff
		}
		opts = append(opts, speech.WithRetries(n, backoff))
	}
	if tc.Formality != "" {
		opts = append(opts, speech.WithFormality(mt.Formality(tc.Formality)))
	}
	return speech.NewTranslator(p, opts...)
}

// newSynthesizer builds a synthesizer over the configured voice table. The
// table is keyed by the names pipelines refer to as voice ids.
func newSynthesizer(cfg *config.Config, p tts.Provider, m *observe.Metrics) *speech.Synthesizer {
	voices := make(map[string]tts.VoiceProfile, len(cfg.Voices))
	for name, v := range cfg.Voices {
		voices[name] = tts.VoiceProfile{
			ID:              v.VoiceID,
			Name:            name,
			Provider:        cfg.Providers.TTS.Name,
			Stability:       v.Stability,
			SimilarityBoost: v.SimilarityBoost,
			Style:           v.Style,
			SpeedFactor:     v.SpeedFactor,
		}
	}
	return speech.NewSynthesizer(p, voices,
		speech.WithProviderName(cfg.Providers.TTS.Name),
		speech.WithMetrics(m),
	)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the gateway and every RTP stream and blocks until ctx is
// cancelled or an endpoint fails. Channels keep running after Run returns;
// call [App.Shutdown] to stop them.
func (a *App) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	if a.gateway != nil {
		gcfg := a.cfg.Load().Gateway
		eg.Go(func() error { return a.gateway.Serve(ctx) })
		if gcfg.FramedAddr != "" {
			go a.awaitBind(ctx, a.gateway.FramedAddr)
		}
		if gcfg.MessageAddr != "" {
			go a.awaitBind(ctx, a.gateway.MessageAddr)
		}
	}

	for _, s := range a.streams {
		eg.Go(func() error { return s.listener.Run(ctx) })
		eg.Go(func() error { return a.supervise(ctx, s) })
	}

	eg.Go(func() error { return a.pruneSessions(ctx) })

	slog.Info("app running",
		"gateway", a.gateway != nil,
		"rtp_streams", len(a.streams),
	)
	return eg.Wait()
}

// awaitBind counts a gateway endpoint once it is bound.
func (a *App) awaitBind(ctx context.Context, addr func(context.Context) net.Addr) {
	if addr(ctx) != nil {
		a.bound.Add(1)
	}
}

// pruneSessions drops translator context of channels idle for longer than
// the configured session idle time.
func (a *App) pruneSessions(ctx context.Context) error {
	idle := a.cfg.Load().Translator.SessionIdle
	if idle <= 0 {
		return nil
	}
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := a.translator.PruneSessions(idle); n > 0 {
				slog.Debug("pruned idle translator sessions", "count", n)
			}
		}
	}
}

// Ready reports whether every configured gateway endpoint and RTP listener
// is bound.
func (a *App) Ready() bool {
	if int(a.bound.Load()) < a.endpoints {
		return false
	}
	for _, s := range a.streams {
		select {
		case <-s.listener.Ready():
		default:
			return false
		}
	}
	return true
}

// ─── Pipeline events ─────────────────────────────────────────────────────────

func (a *App) handlePipelineEvent(ev pipeline.Event) {
	switch e := ev.(type) {
	case pipeline.TranslationEvent:
		slog.Debug("translation",
			"channel_id", e.ChannelID,
			"stable", e.Stable,
			"latency", e.Latency,
			"text", e.Text,
		)
	case pipeline.ErrorEvent:
		slog.Warn("pipeline stage failed", "channel_id", e.ChannelID, "stage", e.Stage, "err", e.Err)
	case pipeline.HighLatencyEvent:
		slog.Warn("utterance over latency budget", "channel_id", e.ChannelID, "total", e.Total, "budget", e.Budget)
	}
	if a.archive != nil {
		a.archive.Record(ev)
	}
	if a.hook != nil {
		a.hook(ev)
	}
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of next: pipeline defaults and
// the voice table. Both take effect for channels created afterwards. Changes
// to any other section are reported and left for a restart.
func (a *App) ApplyConfig(prev, next *config.Config) config.ConfigDiff {
	d := config.Diff(prev, next)

	cur := *a.cfg.Load()
	cur.Server.LogLevel = next.Server.LogLevel
	cur.Pipeline = next.Pipeline
	cur.Voices = next.Voices
	a.cfg.Store(&cur)

	if d.PipelineChanged {
		a.glossary.Store(newGlossary(cur.Pipeline.Glossary))
		slog.Info("config: pipeline defaults updated",
			"source_lang", cur.Pipeline.SourceLang,
			"target_lang", cur.Pipeline.TargetLang,
			"voice_id", cur.Pipeline.VoiceID,
			"glossary_terms", len(cur.Pipeline.Glossary.Terms),
		)
	}
	if d.VoicesChanged {
		a.synth.Store(newSynthesizer(&cur, a.providers.TTS, a.metrics))
		for _, vc := range d.VoiceChanges {
			slog.Info("config: voice updated", "voice", vc.Name, "added", vc.Added, "removed", vc.Removed)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config: changes require a restart", "sections", d.RestartRequired)
	}
	return d
}

// Config returns the configuration currently in effect.
func (a *App) Config() *config.Config { return a.cfg.Load() }

// ─── Accessors ───────────────────────────────────────────────────────────────

// Registry returns the pipeline registry.
func (a *App) Registry() *pipeline.Registry { return a.registry }

// Gateway returns the ingestion gateway, or nil when none is configured.
func (a *App) Gateway() *gateway.Gateway { return a.gateway }

// Translator returns the translator shared by every channel.
func (a *App) Translator() *speech.Translator { return a.translator }

// ─── Stats ───────────────────────────────────────────────────────────────────

// Stats is the JSON telemetry snapshot served on /stats.
type Stats struct {
	Gateway    *gateway.Stats                   `json:"gateway,omitempty"`
	Calls      int                              `json:"calls"`
	Channels   map[string]pipeline.Stats        `json:"channels"`
	Streams    []StreamStats                    `json:"rtp_streams,omitempty"`
	Translator any                              `json:"translator"`
	Providers  map[string][]resilience.Snapshot `json:"providers,omitempty"`
	Archive    *archive.Stats                   `json:"archive,omitempty"`
}

// Stats returns a snapshot of every subsystem.
func (a *App) Stats() Stats {
	st := Stats{
		Channels:   a.registry.AllStats(),
		Translator: a.translator.Stats(),
		Providers:  a.providers.BreakerSnapshots(),
	}
	if a.gateway != nil {
		gs := a.gateway.Stats()
		st.Gateway = &gs
		st.Calls = a.calls.active()
	}
	for _, s := range a.streams {
		st.Streams = append(st.Streams, s.stats())
	}
	if a.archive != nil {
		as := a.archive.Stats()
		st.Archive = &as
	}
	return st
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops every channel, then runs the registered closers. It is safe
// to call more than once; only the first call has any effect.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "channels", a.registry.Len())
		if err := a.registry.StopAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: stop channels: %w", err))
		}
		if a.archive != nil {
			if err := a.archive.Close(); err != nil {
				errs = append(errs, fmt.Errorf("app: close archive: %w", err))
			}
		}
		for i, c := range a.closers {
			if err := c(); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
