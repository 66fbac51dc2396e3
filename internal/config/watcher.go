package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] polls its file.
const DefaultWatchInterval = 5 * time.Second

// WatcherStats reports what a [Watcher] has seen since it was created.
type WatcherStats struct {
	Reloads    int       `json:"reloads"`
	Rejected   int       `json:"rejected"`
	LastReload time.Time `json:"last_reload,omitzero"`
	LastError  string    `json:"last_error,omitempty"`
}

// fileState identifies one version of the watched file.
type fileState struct {
	mtime time.Time
	size  int64
	hash  [sha256.Size]byte
}

// Watcher polls a config file and hands every valid change to a callback.
// Changes are detected by mtime and size, then confirmed by a SHA-256 of the
// content, so a touch without an edit is ignored and a config map swapping
// its symlink is picked up. An edit that fails validation is logged once and
// skipped; the previous configuration stays current until the file changes
// again.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config
	seen    fileState
	stats   WatcherStats
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path once and returns a Watcher for it. Polling starts
// with [Watcher.Run]. onChange may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}

	st, data, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.seen = st
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stats returns a snapshot of the reload counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Run polls until ctx is cancelled. It always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	prev := w.seen
	w.mu.Unlock()
	if info.ModTime().Equal(prev.mtime) && info.Size() == prev.size {
		return
	}

	st, data, err := w.read()
	if err != nil {
		slog.Warn("config watcher: cannot read file", "path", w.path, "err", err)
		return
	}
	if st.hash == prev.hash {
		w.mu.Lock()
		w.seen = st
		w.mu.Unlock()
		return
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))

	w.mu.Lock()
	w.seen = st
	if err != nil {
		w.stats.Rejected++
		w.stats.LastError = err.Error()
		w.mu.Unlock()
		slog.Warn("config watcher: change rejected, keeping previous configuration", "path", w.path, "err", err)
		return
	}
	old := w.current
	w.current = cfg
	w.stats.Reloads++
	w.stats.LastReload = time.Now()
	w.stats.LastError = ""
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)

	// Outside the lock so the callback may call Current.
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// read returns the file content and the state identifying it.
func (w *Watcher) read() (fileState, []byte, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return fileState{}, nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fileState{}, nil, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return fileState{}, nil, err
	}
	data := buf.Bytes()
	return fileState{mtime: info.ModTime(), size: info.Size(), hash: sha256.Sum256(data)}, data, nil
}
