package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/babelcall/internal/pipeline"
	"github.com/MrWong99/babelcall/internal/pipeline/mock"
	"github.com/MrWong99/babelcall/pkg/audio"
)

// ─── helpers ────────────────────────────────────────────────────────────────

// eventLog collects pipeline events and lets tests wait for them.
type eventLog struct {
	mu     sync.Mutex
	events []pipeline.Event
	notify chan struct{}
}

func newEventLog() *eventLog {
	return &eventLog{notify: make(chan struct{}, 1)}
}

func (l *eventLog) record(ev pipeline.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *eventLog) snapshot() []pipeline.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]pipeline.Event(nil), l.events...)
}

func (l *eventLog) waitFor(t *testing.T, what string, match func([]pipeline.Event) bool) []pipeline.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		evs := l.snapshot()
		if match(evs) {
			return evs
		}
		select {
		case <-l.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for %s; got %d events", what, len(evs))
		}
	}
}

func count[T pipeline.Event](evs []pipeline.Event) int {
	n := 0
	for _, ev := range evs {
		if _, ok := ev.(T); ok {
			n++
		}
	}
	return n
}

func has[T pipeline.Event](n int) func([]pipeline.Event) bool {
	return func(evs []pipeline.Event) bool { return count[T](evs) >= n }
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	source *mock.Source
	seg    *mock.Segmenter
	rec    *mock.Recognizer
	tr     *mock.Translator
	syn    *mock.Synthesizer
	pacing *mock.Pacing
	events *eventLog
}

func newFixture() *fixture {
	return &fixture{
		source: mock.NewSource(),
		seg:    &mock.Segmenter{Every: 1},
		rec:    mock.NewRecognizer(),
		tr:     &mock.Translator{Prefix: "de:"},
		syn:    &mock.Synthesizer{Audio: make([]byte, 2*audio.DefaultFrameSize), SampleRate: audio.DefaultSampleRate},
		pacing: mock.NewPacing(),
		events: newEventLog(),
	}
}

func (f *fixture) collaborators() pipeline.Collaborators {
	return pipeline.Collaborators{
		Source:      f.source,
		Segmenter:   f.seg,
		Recognizer:  f.rec,
		Translator:  f.tr,
		Synthesizer: f.syn,
		Pacing:      f.pacing,
	}
}

func (f *fixture) config() pipeline.Config {
	return pipeline.Config{
		ChannelID:  "call-1",
		SourceLang: "en",
		TargetLang: "de",
		VoiceID:    "voice-a",
		OnEvent:    f.events.record,
	}
}

// echoFinal makes the recognizer commit a final transcript for every
// segment it receives.
func (f *fixture) echoFinal(text string) {
	f.rec.OnSendAudio = func([]byte) {
		f.rec.TranscriptsCh <- pipeline.Transcript{Text: text, Kind: pipeline.TranscriptFinal}
	}
}

func (f *fixture) start(t *testing.T, opts ...pipeline.Option) *pipeline.Orchestrator {
	t.Helper()
	o, err := pipeline.New(f.config(), f.collaborators(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = o.Stop(ctx)
	})
	return o
}

func frame() audio.Frame {
	return audio.Frame{Data: make([]byte, audio.DefaultFrameSize), SampleRate: audio.DefaultSampleRate}
}

func waitState(t *testing.T, o *pipeline.Orchestrator, want pipeline.State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for o.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", o.State(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ─── construction ───────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	f := newFixture()

	if _, err := pipeline.New(pipeline.Config{}, f.collaborators()); err == nil {
		t.Error("expected error for empty channel id")
	}

	c := f.collaborators()
	c.Recognizer = nil
	c.Pacing = nil
	_, err := pipeline.New(f.config(), c)
	var missing *pipeline.MissingCollaboratorError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want MissingCollaboratorError", err)
	}
	if got := strings.Join(missing.Names, ","); got != "recognizer,pacing" {
		t.Errorf("missing = %q, want recognizer,pacing", got)
	}

	o, err := pipeline.New(f.config(), f.collaborators())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if o.State() != pipeline.StateConnecting {
		t.Errorf("state = %s, want CONNECTING", o.State())
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		s    pipeline.State
		want string
	}{
		{pipeline.StateInit, "INIT"},
		{pipeline.StateConnecting, "CONNECTING"},
		{pipeline.StateRunning, "RUNNING"},
		{pipeline.StateStopping, "STOPPING"},
		{pipeline.StateStopped, "STOPPED"},
		{pipeline.State(42), "State(42)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.s), got, tt.want)
		}
	}
}

// ─── start ──────────────────────────────────────────────────────────────────

func TestStart_FailureReleasesAndNeverRuns(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.rec.ConnectErr = errors.New("dial refused")

	o, err := pipeline.New(f.config(), f.collaborators())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = o.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "dial refused") {
		t.Fatalf("Start err = %v, want wrapped connect error", err)
	}
	if o.State() != pipeline.StateStopped {
		t.Errorf("state = %s, want STOPPED", o.State())
	}
	if got := f.source.Disconnects(); got != 1 {
		t.Errorf("source disconnects = %d, want 1", got)
	}
	if got := f.pacing.Stops(); got != 1 {
		t.Errorf("pacing stops = %d, want 1", got)
	}
	if n := count[pipeline.StartedEvent](f.events.snapshot()); n != 0 {
		t.Errorf("StartedEvent emitted %d times after failed start", n)
	}
	if err := o.Stop(context.Background()); err != nil {
		t.Errorf("Stop after failed start: %v", err)
	}
	if err := o.Start(context.Background()); !errors.Is(err, pipeline.ErrAlreadyStarted) {
		t.Errorf("second Start err = %v, want ErrAlreadyStarted", err)
	}
}

func TestStart_CancelledContext(t *testing.T) {
	t.Parallel()

	f := newFixture()
	o, err := pipeline.New(f.config(), f.collaborators())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := o.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Start err = %v, want context.Canceled", err)
	}
	if got := f.source.Connects(); got != 0 {
		t.Errorf("source connected %d times with cancelled context", got)
	}
}

// ─── processing ─────────────────────────────────────────────────────────────

func TestPipeline_EndToEnd(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.echoFinal("hello")
	o := f.start(t)

	if o.State() != pipeline.StateRunning {
		t.Fatalf("state = %s, want RUNNING", o.State())
	}

	f.source.FramesCh <- frame()

	evs := f.events.waitFor(t, "translation", has[pipeline.TranslationEvent](1))
	for _, ev := range evs {
		if tr, ok := ev.(pipeline.TranslationEvent); ok {
			if tr.Text != "de:hello" || tr.SourceText != "hello" || !tr.Stable {
				t.Errorf("translation = %+v", tr)
			}
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for f.source.WrittenCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("written = %d, want 2 frames", f.source.WrittenCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	deadline = time.Now().Add(3 * time.Second)
	for len(o.Latencies()) < 1 {
		if time.Now().After(deadline) {
			t.Fatal("no latency marker recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	calls := f.syn.CallsSnapshot()
	if len(calls) != 1 || calls[0].Text != "de:hello" || calls[0].VoiceID != "voice-a" || calls[0].Emotion != nil {
		t.Errorf("synthesize calls = %+v", calls)
	}

	stats := o.Stats()
	if stats.Counters.FramesIn != 1 || stats.Counters.Segments != 1 || stats.Counters.Translations != 1 {
		t.Errorf("counters = %+v", stats.Counters)
	}
	if stats.Latency.Count != 1 {
		t.Errorf("latency count = %d, want 1", stats.Latency.Count)
	}
	if !stats.Running || stats.State != "RUNNING" {
		t.Errorf("stats state = %s running=%v", stats.State, stats.Running)
	}
	if tc := f.tr.CallsSnapshot(); len(tc) != 1 || tc[0].SourceLang != "en" || tc[0].TargetLang != "de" || tc[0].ChannelID != "call-1" {
		t.Errorf("translator calls = %+v", tc)
	}
}

func TestPipeline_InterimNotSynthesized(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.start(t)

	f.rec.TranscriptsCh <- pipeline.Transcript{Text: "hel", Kind: pipeline.TranscriptInterim}
	evs := f.events.waitFor(t, "interim translation", has[pipeline.TranslationEvent](1))
	if tr := evs[len(evs)-1].(pipeline.TranslationEvent); tr.Stable {
		t.Errorf("interim translation marked stable: %+v", tr)
	}
	if n := len(f.syn.CallsSnapshot()); n != 0 {
		t.Fatalf("synthesized %d interim results", n)
	}

	f.rec.TranscriptsCh <- pipeline.Transcript{Text: "hello there", Kind: pipeline.TranscriptStable}
	f.events.waitFor(t, "stable translation", has[pipeline.TranslationEvent](2))

	deadline := time.Now().Add(3 * time.Second)
	for len(f.syn.CallsSnapshot()) < 1 {
		if time.Now().After(deadline) {
			t.Fatal("stable transcript was never synthesized")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := f.syn.CallsSnapshot()[0].Text; got != "de:hello there" {
		t.Errorf("synthesized %q", got)
	}
}

func TestPipeline_EmptyTranscriptIgnored(t *testing.T) {
	t.Parallel()

	f := newFixture()
	o := f.start(t)

	f.rec.TranscriptsCh <- pipeline.Transcript{Text: "   ", Kind: pipeline.TranscriptFinal}
	f.rec.TranscriptsCh <- pipeline.Transcript{Text: "ok", Kind: pipeline.TranscriptFinal}
	f.events.waitFor(t, "translation", has[pipeline.TranslationEvent](1))

	if got := f.tr.CallCount(); got != 1 {
		t.Errorf("translator calls = %d, want 1", got)
	}
	if got := o.Stats().Counters.Transcripts; got != 1 {
		t.Errorf("transcripts = %d, want 1", got)
	}
}

func TestPipeline_EmotionAware(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.echoFinal("wow")
	em := &mock.Emotion{Vector: pipeline.EmotionVector{Arousal: 0.9, Valence: 0.2, Dominance: 0.5}}

	c := f.collaborators()
	c.Emotion = em
	o, err := pipeline.New(f.config(), c)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.source.FramesCh <- frame()
	deadline := time.Now().Add(3 * time.Second)
	for len(f.syn.CallsSnapshot()) < 1 {
		if time.Now().After(deadline) {
			t.Fatal("no synthesis")
		}
		time.Sleep(5 * time.Millisecond)
	}
	call := f.syn.CallsSnapshot()[0]
	if call.Emotion == nil || *call.Emotion != em.Vector {
		t.Errorf("emotion = %+v, want %+v", call.Emotion, em.Vector)
	}

	// The committed transcript rides along with the next frame.
	f.source.FramesCh <- frame()
	deadline = time.Now().Add(3 * time.Second)
	for {
		texts := em.TextsSnapshot()
		if len(texts) > 0 {
			if texts[0] != "wow" {
				t.Errorf("emotion text = %q, want wow", texts[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("committed transcript never reached the emotion adapter")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !o.Stats().EmotionEnabled {
		t.Error("EmotionEnabled = false")
	}
	if err := o.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := em.Disconnects(); got != 1 {
		t.Errorf("emotion disconnects = %d, want 1", got)
	}
}

func TestPipeline_ResamplesSynthesis(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.echoFinal("hi")
	// 40 ms at 16 kHz becomes 40 ms at 8 kHz: two 320-byte frames.
	f.syn.Audio = make([]byte, 1280)
	f.syn.SampleRate = 16000
	f.start(t)

	f.source.FramesCh <- frame()
	deadline := time.Now().Add(3 * time.Second)
	for f.source.WrittenCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("written = %d, want 2", f.source.WrittenCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if got := f.source.WrittenCount(); got != 2 {
		t.Errorf("written = %d, want 2", got)
	}
}

// ─── per-item errors ────────────────────────────────────────────────────────

func TestPipeline_ItemErrorsKeepRunning(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(f *fixture)
		stage string
	}{
		{"segment", func(f *fixture) { f.seg.ProcessErr = errors.New("bad frame") }, "segment"},
		{"recognize", func(f *fixture) { f.rec.SendErr = errors.New("asr down") }, "recognize"},
		{"translate", func(f *fixture) { f.echoFinal("x"); f.tr.Err = errors.New("quota") }, "translate"},
		{"synthesize", func(f *fixture) { f.echoFinal("x"); f.syn.Err = errors.New("tts down") }, "synthesize"},
		{"pacing", func(f *fixture) { f.echoFinal("x"); f.pacing.EnqueueErr = errors.New("full") }, "pacing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture()
			tt.setup(f)
			o := f.start(t)

			f.source.FramesCh <- frame()
			evs := f.events.waitFor(t, "error event", has[pipeline.ErrorEvent](1))

			var got pipeline.ErrorEvent
			for _, ev := range evs {
				if e, ok := ev.(pipeline.ErrorEvent); ok {
					got = e
				}
			}
			if got.Stage != tt.stage || got.ChannelID != "call-1" || got.Err == nil {
				t.Errorf("error event = %+v, want stage %q", got, tt.stage)
			}
			if o.State() != pipeline.StateRunning {
				t.Errorf("state = %s, want RUNNING", o.State())
			}
			if n := o.Stats().Counters.Errors; n != 1 {
				t.Errorf("errors = %d, want 1", n)
			}
		})
	}
}

// ─── latency ────────────────────────────────────────────────────────────────

func TestPipeline_HighLatencyWarning(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		advance time.Duration
		want    int
	}{
		{"within budget", 100 * time.Millisecond, 0},
		{"at budget", pipeline.DefaultLatencyBudget, 0},
		{"over budget", 1200 * time.Millisecond, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clock := newFakeClock()
			f := newFixture()
			f.echoFinal("slow")
			f.syn.Hook = func() { clock.Advance(tt.advance) }
			o := f.start(t, pipeline.WithClock(clock.Now))

			f.source.FramesCh <- frame()
			deadline := time.Now().Add(3 * time.Second)
			for len(o.Latencies()) < 1 {
				if time.Now().After(deadline) {
					t.Fatal("no latency marker recorded")
				}
				time.Sleep(5 * time.Millisecond)
			}

			m := o.Latencies()[0]
			if m.Total() != tt.advance {
				t.Errorf("total = %v, want %v", m.Total(), tt.advance)
			}
			if m.TTS.Sub(m.MT) != tt.advance {
				t.Errorf("tts stage = %v, want %v", m.TTS.Sub(m.MT), tt.advance)
			}
			// Over budget or not, the audio is still handed to pacing.
			if n := f.pacing.EnqueuedFrames(); n != 2 {
				t.Errorf("enqueued = %d, want 2", n)
			}
			if n := o.Stats().Counters.OutputFrames; n != 2 {
				t.Errorf("output frames = %d, want 2", n)
			}
			evs := f.events.snapshot()
			if tt.want > 0 {
				evs = f.events.waitFor(t, "high latency", has[pipeline.HighLatencyEvent](tt.want))
			}
			if n := count[pipeline.HighLatencyEvent](evs); n != tt.want {
				t.Errorf("high latency events = %d, want %d", n, tt.want)
			}
		})
	}
}

func TestPipeline_T1AfterLastEnqueue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		frames int
	}{
		{"single frame", 1},
		{"three frames", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clock := newFakeClock()
			f := newFixture()
			f.echoFinal("long")
			f.syn.Audio = make([]byte, tt.frames*audio.DefaultFrameSize)
			f.pacing.Hold = true
			f.pacing.OnEnqueue = func() { clock.Advance(100 * time.Millisecond) }
			o := f.start(t, pipeline.WithClock(clock.Now))

			f.source.FramesCh <- frame()
			deadline := time.Now().Add(3 * time.Second)
			for len(o.Latencies()) < 1 {
				if time.Now().After(deadline) {
					t.Fatal("no latency marker recorded")
				}
				time.Sleep(5 * time.Millisecond)
			}

			m := o.Latencies()[0]
			want := time.Duration(tt.frames) * 100 * time.Millisecond
			if got := m.T1.Sub(m.TTS); got != want {
				t.Errorf("T1-TTS = %v, want %v", got, want)
			}
			c := o.Stats().Counters
			if c.OutputFrames != uint64(tt.frames) {
				t.Errorf("output frames = %d, want %d", c.OutputFrames, tt.frames)
			}
			if c.DeliveredFrames != 0 {
				t.Errorf("delivered frames = %d, want 0 while pacing holds them", c.DeliveredFrames)
			}
		})
	}
}

// ─── stop ───────────────────────────────────────────────────────────────────

func TestStop_Idempotent(t *testing.T) {
	t.Parallel()

	f := newFixture()
	o := f.start(t)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := o.Stop(context.Background()); err != nil {
				t.Errorf("Stop: %v", err)
			}
		}()
	}
	wg.Wait()

	if o.State() != pipeline.StateStopped {
		t.Errorf("state = %s, want STOPPED", o.State())
	}
	if got := f.source.Disconnects(); got != 1 {
		t.Errorf("source disconnects = %d, want 1", got)
	}
	if got := f.pacing.Stops(); got != 1 {
		t.Errorf("pacing stops = %d, want 1", got)
	}
	if _, _, got := f.rec.Counts(); got != 1 {
		t.Errorf("recognizer disconnects = %d, want 1", got)
	}
	if got := f.seg.Resets(); got != 1 {
		t.Errorf("segmenter resets = %d, want 1", got)
	}
	if got := f.tr.Cleared(); len(got) != 1 || got[0] != "call-1" {
		t.Errorf("cleared sessions = %v, want [call-1]", got)
	}

	evs := f.events.waitFor(t, "stopped", has[pipeline.StoppedEvent](1))
	if n := count[pipeline.StoppedEvent](evs); n != 1 {
		t.Errorf("stopped events = %d, want 1", n)
	}
	select {
	case <-o.Done():
	default:
		t.Error("Done not closed after Stop")
	}
}

func TestStop_NoWorkAfterStop(t *testing.T) {
	t.Parallel()

	f := newFixture()
	o := f.start(t)
	if err := o.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	f.source.FramesCh <- frame()
	f.rec.TranscriptsCh <- pipeline.Transcript{Text: "late", Kind: pipeline.TranscriptFinal}
	f.pacing.ReleasedCh <- make([]byte, audio.DefaultFrameSize)
	time.Sleep(50 * time.Millisecond)

	if got := f.seg.ProcessedCount(); got != 0 {
		t.Errorf("segmenter processed %d frames after stop", got)
	}
	if got := f.tr.CallCount(); got != 0 {
		t.Errorf("translator called %d times after stop", got)
	}
	if got := f.source.WrittenCount(); got != 0 {
		t.Errorf("wrote %d frames after stop", got)
	}
	if got := o.Stats().Counters; got != (pipeline.Counters{}) {
		t.Errorf("counters = %+v, want zero", got)
	}
}

func TestStop_NeverStarted(t *testing.T) {
	t.Parallel()

	f := newFixture()
	o, err := pipeline.New(f.config(), f.collaborators())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := o.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := f.source.Disconnects(); got != 0 {
		t.Errorf("source disconnects = %d, want 0", got)
	}
}

func TestStop_SourceClosedIsFatal(t *testing.T) {
	t.Parallel()

	f := newFixture()
	o := f.start(t)

	close(f.source.FramesCh)

	select {
	case <-o.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("orchestrator did not stop after source closed")
	}
	if o.State() != pipeline.StateStopped {
		t.Errorf("state = %s, want STOPPED", o.State())
	}
	if got := f.source.Disconnects(); got != 1 {
		t.Errorf("source disconnects = %d, want 1", got)
	}

	evs := f.events.waitFor(t, "stopped", has[pipeline.StoppedEvent](1))
	var stopped pipeline.StoppedEvent
	for _, ev := range evs {
		if s, ok := ev.(pipeline.StoppedEvent); ok {
			stopped = s
		}
	}
	if !strings.HasPrefix(stopped.Reason, "input") {
		t.Errorf("reason = %q, want input failure", stopped.Reason)
	}
	if stopped.Stats.Running {
		t.Error("final stats report running")
	}

	// A later explicit stop is a no-op.
	if err := o.Stop(context.Background()); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if got := f.source.Disconnects(); got != 1 {
		t.Errorf("source disconnects after Stop = %d, want 1", got)
	}
}

func TestStop_RecognizerClosedIsFatal(t *testing.T) {
	t.Parallel()

	f := newFixture()
	o := f.start(t)

	close(f.rec.TranscriptsCh)
	waitState(t, o, pipeline.StateStopped)

	if _, _, got := f.rec.Counts(); got != 1 {
		t.Errorf("recognizer disconnects = %d, want 1", got)
	}
}

func TestStop_UptimeFrozen(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	f := newFixture()
	o := f.start(t, pipeline.WithClock(clock.Now))

	clock.Advance(5 * time.Second)
	if err := o.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	clock.Advance(time.Minute)
	if got := o.Stats().Uptime; got != 5*time.Second {
		t.Errorf("uptime = %v, want 5s", got)
	}
}
