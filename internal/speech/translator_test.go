package speech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/babelcall/pkg/provider/mt"
	mtmock "github.com/MrWong99/babelcall/pkg/provider/mt/mock"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// instantSleep records backoff durations and returns immediately.
type instantSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *instantSleep) sleep(d time.Duration) <-chan time.Time {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func TestTranslator_StableExtendsContext(t *testing.T) {
	t.Parallel()
	p := &mtmock.Provider{Prefix: "de:"}
	tr := NewTranslator(p)
	ctx := context.Background()

	got, err := tr.TranslateIncremental(ctx, "call-1", "en", "de", "hello", true)
	if err != nil {
		t.Fatalf("TranslateIncremental: %v", err)
	}
	if got.Text != "de:hello" || !got.Stable {
		t.Errorf("translation = %+v", got)
	}

	if _, err := tr.TranslateIncremental(ctx, "call-1", "en", "de", "how are you", true); err != nil {
		t.Fatalf("TranslateIncremental: %v", err)
	}
	reqs := p.RequestsSnapshot()
	if reqs[0].Context != "" {
		t.Errorf("first request context = %q, want empty", reqs[0].Context)
	}
	if reqs[1].Context != "hello" {
		t.Errorf("second request context = %q, want %q", reqs[1].Context, "hello")
	}
	if reqs[1].SourceLang != "en" || reqs[1].TargetLang != "de" {
		t.Errorf("langs = %q -> %q", reqs[1].SourceLang, reqs[1].TargetLang)
	}

	src, dst := tr.Context("call-1")
	if src != "hello how are you" || dst != "de:hello de:how are you" {
		t.Errorf("context = %q / %q", src, dst)
	}
	if src, _ := tr.Context("call-2"); src != "" {
		t.Errorf("other channel context = %q, want empty", src)
	}
}

func TestTranslator_InterimLeavesContextAndCache(t *testing.T) {
	t.Parallel()
	p := &mtmock.Provider{Prefix: "de:"}
	tr := NewTranslator(p)
	ctx := context.Background()

	for range 2 {
		got, err := tr.TranslateIncremental(ctx, "call-1", "en", "de", "hel", false)
		if err != nil {
			t.Fatalf("TranslateIncremental: %v", err)
		}
		if got.Stable {
			t.Error("interim translation marked stable")
		}
	}
	if p.CallCount() != 2 {
		t.Errorf("provider calls = %d, want 2 (interim is never cached)", p.CallCount())
	}
	if src, _ := tr.Context("call-1"); src != "" {
		t.Errorf("context = %q, want empty", src)
	}
	st := tr.Stats().(TranslatorStats)
	if st.Partial != 2 || st.Stable != 0 || st.CacheSize != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestTranslator_Cache(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	p := &mtmock.Provider{Prefix: "de:"}
	tr := NewTranslator(p, WithClock(clock.Now), WithContextLimit(0))
	ctx := context.Background()

	for range 2 {
		if _, err := tr.TranslateIncremental(ctx, "call-1", "en", "de", "yes", true); err != nil {
			t.Fatalf("TranslateIncremental: %v", err)
		}
	}
	if p.CallCount() != 1 {
		t.Fatalf("provider calls = %d, want 1 (second stable hit the cache)", p.CallCount())
	}

	clock.Advance(DefaultCacheTTL)
	if _, err := tr.TranslateIncremental(ctx, "call-1", "en", "de", "yes", true); err != nil {
		t.Fatalf("TranslateIncremental: %v", err)
	}
	if p.CallCount() != 2 {
		t.Errorf("provider calls = %d, want 2 after expiry", p.CallCount())
	}

	// A different target language is a different key.
	if _, err := tr.TranslateIncremental(ctx, "call-1", "en", "fr", "yes", true); err != nil {
		t.Fatalf("TranslateIncremental: %v", err)
	}
	if p.CallCount() != 3 {
		t.Errorf("provider calls = %d, want 3", p.CallCount())
	}

	st := tr.Stats().(TranslatorStats)
	if st.CacheHits != 1 || st.CacheMisses != 3 {
		t.Errorf("cache hits/misses = %d/%d, want 1/3", st.CacheHits, st.CacheMisses)
	}
}

func TestTranslator_CacheEviction(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	tr := NewTranslator(&mtmock.Provider{}, WithClock(clock.Now), WithContextLimit(0), WithCache(time.Minute, 2))
	ctx := context.Background()
	for _, s := range []string{"a", "b", "c"} {
		clock.Advance(time.Second)
		if _, err := tr.TranslateIncremental(ctx, "c1", "en", "de", s, true); err != nil {
			t.Fatalf("TranslateIncremental: %v", err)
		}
	}
	if st := tr.Stats().(TranslatorStats); st.CacheSize != 2 {
		t.Errorf("cache size = %d, want 2", st.CacheSize)
	}
}

func TestTranslator_ContextLimit(t *testing.T) {
	t.Parallel()
	tr := NewTranslator(&mtmock.Provider{}, WithContextLimit(10))
	ctx := context.Background()
	for _, s := range []string{"first part", "second part"} {
		if _, err := tr.TranslateIncremental(ctx, "c1", "en", "de", s, true); err != nil {
			t.Fatalf("TranslateIncremental: %v", err)
		}
	}
	if src, _ := tr.Context("c1"); src != "econd part" {
		t.Errorf("context = %q, want the last 10 characters", src)
	}
}

func TestTranslator_Retry(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		failTimes int
		wantErr   bool
		wantCalls int
		wantWaits []time.Duration
	}{
		{"first attempt", 0, false, 1, nil},
		{"recovers on retry", 2, false, 3, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}},
		{"exhausted", 5, true, 3, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &mtmock.Provider{Prefix: "x:"}
			if tt.failTimes > 0 {
				p.Err = errors.New("503")
				p.FailTimes = tt.failTimes
			}
			sl := &instantSleep{}
			tr := NewTranslator(p, WithSleep(sl.sleep))
			_, err := tr.TranslateIncremental(context.Background(), "c1", "en", "de", "hi", true)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if p.CallCount() != tt.wantCalls {
				t.Errorf("calls = %d, want %d", p.CallCount(), tt.wantCalls)
			}
			if len(sl.waits) != len(tt.wantWaits) {
				t.Fatalf("waits = %v, want %v", sl.waits, tt.wantWaits)
			}
			for i := range sl.waits {
				if sl.waits[i] != tt.wantWaits[i] {
					t.Errorf("wait[%d] = %v, want %v", i, sl.waits[i], tt.wantWaits[i])
				}
			}
			st := tr.Stats().(TranslatorStats)
			if tt.wantErr && st.Errors != 1 {
				t.Errorf("errors = %d, want 1", st.Errors)
			}
		})
	}
}

func TestTranslator_RetryStopsOnCancel(t *testing.T) {
	t.Parallel()
	p := &mtmock.Provider{Err: errors.New("down")}
	ctx, cancel := context.WithCancel(context.Background())
	blocked := func(time.Duration) <-chan time.Time {
		cancel()
		return make(chan time.Time)
	}
	tr := NewTranslator(p, WithSleep(blocked))
	_, err := tr.TranslateIncremental(ctx, "c1", "en", "de", "hi", false)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if p.CallCount() != 1 {
		t.Errorf("calls = %d, want 1", p.CallCount())
	}
}

func TestTranslator_EmptyText(t *testing.T) {
	t.Parallel()
	p := &mtmock.Provider{}
	tr := NewTranslator(p)
	got, err := tr.TranslateIncremental(context.Background(), "c1", "en", "de", "   ", true)
	if err != nil || got.Text != "" {
		t.Errorf("got %+v, %v", got, err)
	}
	if p.CallCount() != 0 {
		t.Errorf("provider called for empty text")
	}
}

func TestTranslator_Sessions(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	tr := NewTranslator(&mtmock.Provider{}, WithClock(clock.Now), WithFormality(mt.FormalityMore))
	ctx := context.Background()

	_, _ = tr.TranslateIncremental(ctx, "old", "en", "de", "a", true)
	clock.Advance(10 * time.Minute)
	_, _ = tr.TranslateIncremental(ctx, "new", "en", "de", "b", true)

	if n := tr.PruneSessions(5 * time.Minute); n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
	if src, _ := tr.Context("old"); src != "" {
		t.Errorf("old context survived prune: %q", src)
	}
	tr.ClearSession("new")
	if st := tr.Stats().(TranslatorStats); st.Sessions != 0 {
		t.Errorf("sessions = %d, want 0", st.Sessions)
	}
}

func TestTail(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "llo"},
		{"grüße", 3, "ße"},
		{"", 3, ""},
	}
	for _, tt := range tests {
		if got := tail(tt.in, tt.n); got != tt.want {
			t.Errorf("tail(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
