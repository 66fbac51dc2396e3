package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/babelcall/internal/pipeline"
	"github.com/MrWong99/babelcall/pkg/provider/mt"
)

// cacheKeyContext is how much trailing context participates in a cache key.
const cacheKeyContext = 100

// TranslatorStats is the JSON snapshot returned by [Translator.Stats].
type TranslatorStats struct {
	Provider     string  `json:"provider"`
	Total        int64   `json:"total"`
	Partial      int64   `json:"partial"`
	Stable       int64   `json:"stable"`
	Characters   int64   `json:"characters"`
	Errors       int64   `json:"errors"`
	Retries      int64   `json:"retries"`
	CacheHits    int64   `json:"cache_hits"`
	CacheMisses  int64   `json:"cache_misses"`
	CacheSize    int     `json:"cache_size"`
	Sessions     int     `json:"sessions"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

type sessionContext struct {
	source      string
	translation string
	updated     time.Time
}

type cacheEntry struct {
	text string
	at   time.Time
}

// Translator adapts an mt.Provider to [pipeline.Translator].
//
// Each channel keeps a rolling window of its stable source text, passed to
// the provider as context. Stable results are cached briefly so a repeated
// commit of the same text under the same context is not paid for twice.
// Interim text is translated without touching context or cache.
type Translator struct {
	provider mt.Provider
	opts     options

	mu       sync.Mutex
	sessions map[string]*sessionContext
	cache    map[string]cacheEntry
	stats    TranslatorStats
	latency  time.Duration
}

var _ pipeline.Translator = (*Translator)(nil)

// NewTranslator returns a Translator over p.
func NewTranslator(p mt.Provider, opts ...Option) *Translator {
	o := defaults("mt")
	o.apply(opts)
	return &Translator{
		provider: p,
		opts:     o,
		sessions: make(map[string]*sessionContext),
		cache:    make(map[string]cacheEntry),
	}
}

// TranslateIncremental translates text for channelID. A stable call extends
// the channel's context with text and its translation.
func (t *Translator) TranslateIncremental(ctx context.Context, channelID, sourceLang, targetLang, text string, stable bool) (pipeline.Translation, error) {
	start := t.opts.now()
	text = strings.TrimSpace(text)
	if text == "" {
		return pipeline.Translation{Stable: stable}, nil
	}

	t.mu.Lock()
	history := ""
	if sc, ok := t.sessions[channelID]; ok {
		history = sc.source
	}
	key := cacheKey(text, sourceLang, targetLang, history)
	if stable && t.opts.cacheTTL > 0 {
		if e, ok := t.cache[key]; ok {
			if start.Sub(e.at) < t.opts.cacheTTL {
				t.stats.CacheHits++
				t.mu.Unlock()
				return pipeline.Translation{Text: e.text, Stable: true, Latency: t.opts.now().Sub(start)}, nil
			}
			delete(t.cache, key)
		}
		t.stats.CacheMisses++
	}
	t.mu.Unlock()

	res, err := t.translate(ctx, mt.Request{
		Text:       text,
		SourceLang: sourceLang,
		TargetLang: targetLang,
		Context:    history,
		Formality:  t.opts.formality,
	})
	latency := t.opts.now().Sub(start)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.stats.Errors++
		return pipeline.Translation{}, fmt.Errorf("speech: translate: %w", err)
	}

	t.stats.Total++
	t.stats.Characters += int64(len(text))
	t.latency += latency
	if stable {
		t.stats.Stable++
		t.extendContext(channelID, text, res.Text)
		if t.opts.cacheTTL > 0 {
			t.store(key, res.Text)
		}
	} else {
		t.stats.Partial++
	}
	return pipeline.Translation{Text: res.Text, Stable: stable, Latency: latency}, nil
}

// translate calls the provider, retrying with exponential backoff.
func (t *Translator) translate(ctx context.Context, req mt.Request) (mt.Result, error) {
	var err error
	for attempt := 0; attempt <= t.opts.retries; attempt++ {
		if attempt > 0 {
			t.mu.Lock()
			t.stats.Retries++
			t.mu.Unlock()
			select {
			case <-t.opts.sleep(t.opts.backoff << (attempt - 1)):
			case <-ctx.Done():
				return mt.Result{}, errors.Join(err, ctx.Err())
			}
		}
		var res mt.Result
		res, err = t.provider.Translate(ctx, req)
		if err == nil {
			t.opts.metrics.RecordProviderRequest(ctx, t.opts.name, "mt", "ok")
			return res, nil
		}
		t.opts.metrics.RecordProviderError(ctx, t.opts.name, "mt")
		if ctx.Err() != nil {
			return mt.Result{}, err
		}
		slog.Debug("speech: translation attempt failed", "provider", t.opts.name, "attempt", attempt+1, "err", err)
	}
	return mt.Result{}, err
}

// extendContext appends a stable pair to the channel history, keeping the
// last contextLimit characters. Callers hold t.mu.
func (t *Translator) extendContext(channelID, source, translation string) {
	if t.opts.contextLimit <= 0 {
		return
	}
	sc, ok := t.sessions[channelID]
	if !ok {
		sc = &sessionContext{}
		t.sessions[channelID] = sc
	}
	sc.source = tail(strings.TrimSpace(sc.source+" "+source), t.opts.contextLimit)
	sc.translation = tail(strings.TrimSpace(sc.translation+" "+translation), t.opts.contextLimit)
	sc.updated = t.opts.now()
}

// store caches a stable result, evicting expired entries when full. Callers
// hold t.mu.
func (t *Translator) store(key, text string) {
	now := t.opts.now()
	if len(t.cache) >= t.opts.cacheSize {
		for k, e := range t.cache {
			if now.Sub(e.at) >= t.opts.cacheTTL {
				delete(t.cache, k)
			}
		}
	}
	if len(t.cache) >= t.opts.cacheSize {
		var oldestKey string
		var oldest time.Time
		for k, e := range t.cache {
			if oldestKey == "" || e.at.Before(oldest) {
				oldestKey, oldest = k, e.at
			}
		}
		delete(t.cache, oldestKey)
	}
	t.cache[key] = cacheEntry{text: text, at: now}
}

// Context returns the channel's current source and translated history.
func (t *Translator) Context(channelID string) (source, translation string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sc, ok := t.sessions[channelID]; ok {
		return sc.source, sc.translation
	}
	return "", ""
}

// ClearSession drops the channel's context.
func (t *Translator) ClearSession(channelID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, channelID)
}

// PruneSessions drops contexts not updated within maxAge and returns how
// many were removed.
func (t *Translator) PruneSessions(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.opts.now()
	n := 0
	for id, sc := range t.sessions {
		if now.Sub(sc.updated) > maxAge {
			delete(t.sessions, id)
			n++
		}
	}
	return n
}

// Stats returns a [TranslatorStats] snapshot.
func (t *Translator) Stats() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats
	s.Provider = t.opts.name
	s.CacheSize = len(t.cache)
	s.Sessions = len(t.sessions)
	if s.Total > 0 {
		s.AvgLatencyMs = float64(t.latency.Microseconds()) / float64(s.Total) / 1000
	}
	return s
}

func cacheKey(text, sourceLang, targetLang, history string) string {
	return sourceLang + "\x00" + targetLang + "\x00" + tail(history, cacheKeyContext) + "\x00" + text
}

// tail returns the last n bytes of s, moved forward to a rune boundary.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
