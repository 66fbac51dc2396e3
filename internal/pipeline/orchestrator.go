// Package pipeline drives the per-channel translation pipeline and keeps the
// registry of running channels.
//
// An [Orchestrator] owns one channel. While RUNNING it runs three loops:
//
//	input:      frames → segmenter → recognizer (and the emotion adapter)
//	transcript: transcripts → translator → synthesizer → pacing queue
//	output:     paced frames → frame source
//
// Per-item failures are counted, reported as [ErrorEvent] and skipped. A
// loop that cannot continue (its input stream closed, or it panicked)
// moves the orchestrator to STOPPING. Every collaborator is torn down
// exactly once, however many times stop is requested.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/babelcall/internal/observe"
	"github.com/MrWong99/babelcall/pkg/audio"
)

// State is the lifecycle state of an [Orchestrator].
type State int

const (
	StateInit State = iota
	StateConnecting
	StateRunning
	StateStopping
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConnecting:
		return "CONNECTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// maxPendingSegments bounds the segment-ready times waiting for a committed
// transcript.
const maxPendingSegments = 32

// Config configures one channel.
type Config struct {
	ChannelID  string
	SourceLang string
	TargetLang string

	// VoiceID selects the synthesizer voice.
	VoiceID string

	// LatencyBudget is the end-to-end target per utterance. Default: 900ms.
	LatencyBudget time.Duration

	// FrameSize is the outbound frame length in bytes. Default: 320.
	FrameSize int

	// SampleRate of outbound frames. Synthesized audio at another rate is
	// resampled. Default: 8000.
	SampleRate int

	// OnEvent receives every event. It may be called concurrently from the
	// orchestrator's loops and must not block.
	OnEvent func(Event)
}

// Counters are the per-channel totals.
type Counters struct {
	FramesIn     uint64 `json:"frames_in"`
	Segments     uint64 `json:"segments"`
	Transcripts  uint64 `json:"transcripts"`
	Translations uint64 `json:"translations"`
	Errors       uint64 `json:"errors"`

	// OutputFrames counts frames enqueued for pacing; DeliveredFrames
	// counts those the source accepted after release.
	OutputFrames    uint64 `json:"output_frames"`
	DeliveredFrames uint64 `json:"delivered_frames"`
}

// Stats is a snapshot of one channel.
type Stats struct {
	ChannelID      string         `json:"channel_id"`
	SourceLang     string         `json:"source_lang"`
	TargetLang     string         `json:"target_lang"`
	State          string         `json:"state"`
	Running        bool           `json:"running"`
	Uptime         time.Duration  `json:"uptime"`
	Counters       Counters       `json:"counters"`
	Latency        LatencySummary `json:"latency"`
	EmotionEnabled bool           `json:"emotion_enabled"`
	Components     map[string]any `json:"components,omitempty"`
}

// Orchestrator runs the translation pipeline of one channel. All exported
// methods are safe for concurrent use.
type Orchestrator struct {
	cfg     Config
	c       Collaborators
	now     func() time.Time
	metrics *observe.Metrics
	log     *slog.Logger

	stopping atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	done     chan struct{}

	mu          sync.Mutex
	state       State
	startedAt   time.Time
	stoppedAt   time.Time
	stopReason  string
	counters    Counters
	markers     []LatencyMarker
	pendingT0   []time.Time
	emotionText *string
}

// Option is a functional option for [New].
type Option func(*Orchestrator)

// WithClock overrides the clock used for latency markers and uptime.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithMetrics records pipeline metrics to m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an orchestrator in the CONNECTING state.
func New(cfg Config, c Collaborators, opts ...Option) (*Orchestrator, error) {
	if cfg.ChannelID == "" {
		return nil, fmt.Errorf("pipeline: channel id is required")
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	if cfg.LatencyBudget <= 0 {
		cfg.LatencyBudget = DefaultLatencyBudget
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = audio.DefaultFrameSize
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	o := &Orchestrator{
		cfg:     cfg,
		c:       c,
		now:     time.Now,
		metrics: observe.DefaultMetrics(),
		log:     slog.With("channel_id", cfg.ChannelID),
		done:    make(chan struct{}),
		state:   StateInit,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.state = StateConnecting
	return o, nil
}

// ChannelID returns the channel this orchestrator serves.
func (o *Orchestrator) ChannelID() string { return o.cfg.ChannelID }

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Done is closed once the orchestrator reaches STOPPED after running.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// ─── Start ──────────────────────────────────────────────────────────────────

type connectStep struct {
	name    string
	connect func(context.Context) error
	release func() error
}

// Start connects every collaborator and begins processing. If any connect
// fails, the ones already connected are released, the orchestrator ends in
// STOPPED and RUNNING is never reached.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateConnecting {
		st := o.state
		o.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrAlreadyStarted, st)
	}
	o.mu.Unlock()

	// The run context outlives the caller's start deadline.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	steps := []connectStep{
		{"source", o.c.Source.Connect, o.c.Source.Disconnect},
		{"pacing", o.c.Pacing.Start, o.c.Pacing.Stop},
		{"recognizer", o.c.Recognizer.Connect, o.c.Recognizer.Disconnect},
	}
	if o.c.Emotion != nil {
		steps = append(steps, connectStep{"emotion", o.c.Emotion.Connect, o.c.Emotion.Disconnect})
	}

	for i, step := range steps {
		err := ctx.Err()
		if err == nil {
			err = step.connect(runCtx)
		}
		if err != nil {
			cancel()
			for j := i - 1; j >= 0; j-- {
				if rerr := steps[j].release(); rerr != nil {
					o.log.Warn("pipeline: release after failed start", "component", steps[j].name, "err", rerr)
				}
			}
			o.mu.Lock()
			o.state = StateStopped
			o.stopReason = "start failed"
			o.mu.Unlock()
			o.log.Error("pipeline: start failed", "component", step.name, "err", err)
			return fmt.Errorf("pipeline: channel %s: connect %s: %w", o.cfg.ChannelID, step.name, err)
		}
	}

	o.mu.Lock()
	o.cancel = cancel
	o.state = StateRunning
	o.startedAt = o.now()
	o.mu.Unlock()

	o.wg.Add(3)
	go o.inputLoop(runCtx)
	go o.transcriptLoop(runCtx)
	go o.outputLoop(runCtx)

	o.metrics.ActiveChannels.Add(runCtx, 1)
	o.log.Info("pipeline started",
		"source_lang", o.cfg.SourceLang,
		"target_lang", o.cfg.TargetLang,
		"emotion", o.c.Emotion != nil,
	)
	o.emit(StartedEvent{ChannelID: o.cfg.ChannelID, SourceLang: o.cfg.SourceLang, TargetLang: o.cfg.TargetLang})
	return nil
}

// ─── Loops ──────────────────────────────────────────────────────────────────

// guard recovers a panicking loop and treats it as fatal.
func (o *Orchestrator) guard(loop string) {
	if r := recover(); r != nil {
		o.fatal(loop, fmt.Errorf("panic: %v", r))
	}
}

func (o *Orchestrator) inputLoop(ctx context.Context) {
	defer o.wg.Done()
	defer o.guard("input")

	frames := o.c.Source.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				o.fatal("input", errSourceClosed)
				return
			}
			o.handleFrame(f)
		}
	}
}

func (o *Orchestrator) handleFrame(f audio.Frame) {
	if o.stopping.Load() {
		return
	}
	o.mu.Lock()
	o.counters.FramesIn++
	text := o.emotionText
	o.emotionText = nil
	o.mu.Unlock()

	if o.c.Emotion != nil {
		o.c.Emotion.PushAudioAndText(f.Data, text)
	}

	if err := o.c.Segmenter.ProcessFrame(f.Data); err != nil {
		o.itemError("segment", err)
		return
	}
	if !o.c.Segmenter.HasSegment() {
		return
	}
	seg := o.c.Segmenter.Segment()

	o.mu.Lock()
	o.counters.Segments++
	o.pendingT0 = append(o.pendingT0, o.now())
	if len(o.pendingT0) > maxPendingSegments {
		o.pendingT0 = o.pendingT0[1:]
	}
	o.mu.Unlock()

	o.log.Debug("pipeline: segment ready", "duration", seg.Duration, "bytes", len(seg.Audio))
	if err := o.c.Recognizer.SendAudio(seg.Audio); err != nil {
		o.itemError("recognize", err)
	}
}

func (o *Orchestrator) transcriptLoop(ctx context.Context) {
	defer o.wg.Done()
	defer o.guard("transcript")

	transcripts := o.c.Recognizer.Transcripts()
	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-transcripts:
			if !ok {
				o.fatal("transcript", errRecognizerClosed)
				return
			}
			o.handleTranscript(ctx, tr)
		}
	}
}

// takeT0 returns the ready time of the oldest pending segment. Committed
// transcripts consume it. Without a pending segment, fallback is used.
func (o *Orchestrator) takeT0(commit bool, fallback time.Time) time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.pendingT0) == 0 {
		return fallback
	}
	t0 := o.pendingT0[0]
	if commit {
		o.pendingT0 = o.pendingT0[1:]
	}
	return t0
}

func (o *Orchestrator) handleTranscript(ctx context.Context, tr Transcript) {
	if o.stopping.Load() {
		return
	}
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return
	}
	committed := tr.Kind.Committed()
	asrAt := o.now()
	t0 := o.takeT0(committed, asrAt)

	o.mu.Lock()
	o.counters.Transcripts++
	if committed && o.c.Emotion != nil {
		o.emotionText = &text
	}
	o.mu.Unlock()

	ctx, span := observe.StartUtteranceSpan(ctx, o.cfg.ChannelID, tr.Kind.String())
	defer span.End()

	tl, err := o.c.Translator.TranslateIncremental(ctx, o.cfg.ChannelID, o.cfg.SourceLang, o.cfg.TargetLang, text, committed)
	if err != nil {
		observe.FailSpan(span, "translate", err)
		o.itemError("translate", err)
		return
	}
	if o.stopping.Load() {
		return
	}
	mtAt := o.now()

	o.mu.Lock()
	o.counters.Translations++
	o.mu.Unlock()
	o.metrics.Translations.Add(ctx, 1, metric.WithAttributes(attribute.Bool("stable", committed)))
	o.emit(TranslationEvent{
		ChannelID:  o.cfg.ChannelID,
		SourceText: text,
		Text:       tl.Text,
		Stable:     committed,
		Latency:    mtAt.Sub(asrAt),
	})

	// Interim results are for captions only; speaking them would make the
	// caller hear revisions.
	if !committed || strings.TrimSpace(tl.Text) == "" {
		return
	}

	var syn Synthesis
	if o.c.Emotion != nil {
		syn, err = o.c.Synthesizer.SynthesizeWithEmotion(ctx, tl.Text, o.cfg.VoiceID, o.c.Emotion.EmotionVector())
	} else {
		syn, err = o.c.Synthesizer.Synthesize(ctx, tl.Text, o.cfg.VoiceID)
	}
	if err != nil {
		observe.FailSpan(span, "synthesize", err)
		o.itemError("synthesize", err)
		return
	}
	if o.stopping.Load() {
		return
	}
	ttsAt := o.now()

	pcm := syn.Audio
	if syn.SampleRate > 0 && syn.SampleRate != o.cfg.SampleRate {
		pcm = audio.ResampleMono16(pcm, syn.SampleRate, o.cfg.SampleRate)
	}

	frames := audio.Reframe(pcm, o.cfg.FrameSize)
	if len(frames) == 0 {
		return
	}
	for _, f := range frames {
		if o.stopping.Load() {
			return
		}
		if err := o.c.Pacing.Enqueue(f); err != nil {
			o.itemError("pacing", err)
			return
		}
		o.mu.Lock()
		o.counters.OutputFrames++
		o.mu.Unlock()
	}
	t1 := o.now()

	o.recordLatency(ctx, LatencyMarker{T0: t0, ASR: asrAt, MT: mtAt, TTS: ttsAt, T1: t1})
}

func (o *Orchestrator) recordLatency(ctx context.Context, m LatencyMarker) {
	o.mu.Lock()
	o.markers = append(o.markers, m)
	if len(o.markers) > maxLatencyHistory {
		o.markers = o.markers[len(o.markers)-maxLatencyHistory:]
	}
	o.mu.Unlock()

	o.metrics.RecordStage(ctx, o.metrics.ASRDuration, m.ASR.Sub(m.T0))
	o.metrics.RecordStage(ctx, o.metrics.MTDuration, m.MT.Sub(m.ASR))
	o.metrics.RecordStage(ctx, o.metrics.TTSDuration, m.TTS.Sub(m.MT))
	o.metrics.RecordStage(ctx, o.metrics.UtteranceDuration, m.Total())

	total := m.Total()
	if total > o.cfg.LatencyBudget {
		o.metrics.HighLatency.Add(ctx, 1)
		observe.WithTrace(ctx, o.log).Warn("pipeline: utterance over latency budget",
			"total", total,
			"budget", o.cfg.LatencyBudget,
			"asr", m.ASR.Sub(m.T0),
			"mt", m.MT.Sub(m.ASR),
			"tts", m.TTS.Sub(m.MT),
		)
		o.emit(HighLatencyEvent{ChannelID: o.cfg.ChannelID, Total: total, Budget: o.cfg.LatencyBudget})
	}
}

func (o *Orchestrator) outputLoop(ctx context.Context) {
	defer o.wg.Done()
	defer o.guard("output")

	released := o.c.Pacing.Released()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-released:
			if !ok {
				o.fatal("output", errPacingClosed)
				return
			}
			if o.stopping.Load() {
				return
			}
			if err := o.c.Source.Write(ctx, f); err != nil {
				o.itemError("output", err)
				continue
			}
			o.mu.Lock()
			o.counters.DeliveredFrames++
			o.mu.Unlock()
		}
	}
}

func (o *Orchestrator) itemError(stage string, err error) {
	if o.stopping.Load() {
		return
	}
	o.mu.Lock()
	o.counters.Errors++
	o.mu.Unlock()
	o.metrics.RecordPipelineError(context.Background(), stage)
	o.log.Warn("pipeline: item failed", "stage", stage, "err", err)
	o.emit(ErrorEvent{ChannelID: o.cfg.ChannelID, Stage: stage, Err: err})
}

// fatal stops the orchestrator from inside one of its own loops. The loop
// returns right after, so teardown completes on a separate goroutine.
func (o *Orchestrator) fatal(loop string, err error) {
	if o.stopping.Load() {
		return
	}
	o.log.Error("pipeline: loop failed, stopping", "loop", loop, "err", err)
	o.emit(ErrorEvent{ChannelID: o.cfg.ChannelID, Stage: loop, Err: err})
	if o.beginStop(loop + ": " + err.Error()) {
		go o.teardown()
	}
}

// ─── Stop ───────────────────────────────────────────────────────────────────

// beginStop moves RUNNING to STOPPING and reports whether this call did so.
func (o *Orchestrator) beginStop(reason string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateRunning {
		return false
	}
	o.state = StateStopping
	o.stopReason = reason
	o.stopping.Store(true)
	return true
}

// Stop tears the pipeline down and waits, bounded by ctx, for the loops to
// exit. Calling Stop when not RUNNING, including repeated calls, does
// nothing.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if o.beginStop("stopped") {
		o.teardown()
	}
	o.mu.Lock()
	started := !o.startedAt.IsZero()
	o.mu.Unlock()
	if !started {
		return nil
	}
	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// teardown releases every collaborator once. Failures are logged and do
// not prevent the remaining steps.
func (o *Orchestrator) teardown() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	release := func(name string, fn func() error) {
		if err := fn(); err != nil {
			o.log.Warn("pipeline: teardown step failed", "component", name, "err", err)
		}
	}
	release("source", o.c.Source.Disconnect)
	release("pacing", o.c.Pacing.Stop)
	release("recognizer", o.c.Recognizer.Disconnect)
	o.c.Segmenter.Reset()
	o.c.Translator.ClearSession(o.cfg.ChannelID)
	if o.c.Emotion != nil {
		release("emotion", o.c.Emotion.Disconnect)
	}

	go func() {
		o.wg.Wait()
		o.finish()
	}()
}

func (o *Orchestrator) finish() {
	o.mu.Lock()
	o.state = StateStopped
	o.stoppedAt = o.now()
	reason := o.stopReason
	o.mu.Unlock()

	o.metrics.ActiveChannels.Add(context.Background(), -1)
	stats := o.Stats()
	o.log.Info("pipeline stopped",
		"reason", reason,
		"uptime", stats.Uptime,
		"frames_in", stats.Counters.FramesIn,
		"translations", stats.Counters.Translations,
		"errors", stats.Counters.Errors,
		"p50_ms", stats.Latency.P50Ms,
		"p95_ms", stats.Latency.P95Ms,
	)
	close(o.done)
	o.emit(StoppedEvent{ChannelID: o.cfg.ChannelID, Reason: reason, Stats: stats})
}

func (o *Orchestrator) emit(ev Event) {
	if o.cfg.OnEvent != nil {
		o.cfg.OnEvent(ev)
	}
}

// ─── Stats ──────────────────────────────────────────────────────────────────

// Stats returns a snapshot of the channel, including collaborator stats.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	s := Stats{
		ChannelID:      o.cfg.ChannelID,
		SourceLang:     o.cfg.SourceLang,
		TargetLang:     o.cfg.TargetLang,
		State:          o.state.String(),
		Running:        o.state == StateRunning,
		Counters:       o.counters,
		Latency:        summarize(o.markers),
		EmotionEnabled: o.c.Emotion != nil,
	}
	switch {
	case o.startedAt.IsZero():
	case o.stoppedAt.IsZero():
		s.Uptime = o.now().Sub(o.startedAt)
	default:
		s.Uptime = o.stoppedAt.Sub(o.startedAt)
	}
	o.mu.Unlock()

	s.Components = map[string]any{
		"source":     o.c.Source.Stats(),
		"recognizer": o.c.Recognizer.Stats(),
		"translator": o.c.Translator.Stats(),
		"pacing":     o.c.Pacing.Stats(),
	}
	if o.c.Emotion != nil {
		s.Components["emotion"] = o.c.Emotion.Stats()
	}
	return s
}

// Latencies returns a copy of the recorded latency markers, oldest first.
func (o *Orchestrator) Latencies() []LatencyMarker {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]LatencyMarker(nil), o.markers...)
}
