package speech

import (
	"time"

	"github.com/MrWong99/babelcall/internal/observe"
	"github.com/MrWong99/babelcall/internal/transcript"
	"github.com/MrWong99/babelcall/pkg/provider/mt"
)

// Corrector rewrites recognized text, for example to restore glossary terms
// the recognizer misheard. *transcript.Glossary implements it.
type Corrector interface {
	Correct(text string) (string, []transcript.Correction)
}

// Option configures the adapters in this package. Options that do not apply
// to an adapter are ignored by it.
type Option func(*options)

type options struct {
	name    string
	metrics *observe.Metrics
	now     func() time.Time
	sleep   func(time.Duration) <-chan time.Time

	// Recognizer.
	corrector Corrector

	// Translator.
	contextLimit int
	cacheTTL     time.Duration
	cacheSize    int
	retries      int
	backoff      time.Duration
	formality    mt.Formality
}

const (
	// DefaultContextLimit is how many characters of source history are kept
	// per channel.
	DefaultContextLimit = 500

	// DefaultCacheTTL is how long a stable translation is reused.
	DefaultCacheTTL = 60 * time.Second

	// DefaultCacheSize caps the number of cached stable translations.
	DefaultCacheSize = 1024

	// DefaultRetries is the number of retries after a failed provider call.
	DefaultRetries = 2

	// DefaultBackoff is the first retry delay; it doubles per attempt.
	DefaultBackoff = 100 * time.Millisecond
)

func defaults(name string) options {
	return options{
		name:         name,
		metrics:      observe.DefaultMetrics(),
		now:          time.Now,
		sleep:        time.After,
		contextLimit: DefaultContextLimit,
		cacheTTL:     DefaultCacheTTL,
		cacheSize:    DefaultCacheSize,
		retries:      DefaultRetries,
		backoff:      DefaultBackoff,
	}
}

func (o *options) apply(opts []Option) {
	for _, fn := range opts {
		fn(o)
	}
}

// WithProviderName sets the provider label used on metrics and logs.
func WithProviderName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithMetrics records provider metrics to m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithClock overrides the time source. Used by tests for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithSleep overrides how retry backoff waits. Used by tests.
func WithSleep(sleep func(time.Duration) <-chan time.Time) Option {
	return func(o *options) {
		o.sleep = sleep
	}
}

// WithCorrector rewrites every recognized transcript through c before it
// reaches the pipeline.
func WithCorrector(c Corrector) Option {
	return func(o *options) {
		o.corrector = c
	}
}

// WithContextLimit sets how many characters of source history the
// Translator keeps per channel. Zero disables context.
func WithContextLimit(n int) Option {
	return func(o *options) {
		o.contextLimit = n
	}
}

// WithCache sets the TTL and capacity of the Translator's stable-result
// cache. A zero TTL disables caching.
func WithCache(ttl time.Duration, size int) Option {
	return func(o *options) {
		o.cacheTTL = ttl
		o.cacheSize = size
	}
}

// WithRetries sets how many times a failed translation is retried and the
// initial backoff, which doubles per attempt.
func WithRetries(n int, backoff time.Duration) Option {
	return func(o *options) {
		o.retries = n
		o.backoff = backoff
	}
}

// WithFormality sets the register requested from the translation provider.
func WithFormality(f mt.Formality) Option {
	return func(o *options) {
		o.formality = f
	}
}
