package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// ChangeFunc receives the previous and the newly loaded config together
// with their diff.
type ChangeFunc func(old, new *Config, d ConfigDiff)

// snapshot is one accepted version of the file.
type snapshot struct {
	cfg   *Config
	sum   [sha256.Size]byte
	mtime time.Time
	size  int64
}

// unchanged reports whether info still describes the file s was read from.
func (s *snapshot) unchanged(info os.FileInfo) bool {
	return info.Size() == s.size && info.ModTime().Equal(s.mtime)
}

// Watcher polls a config file and hands valid changes to a [ChangeFunc].
// A file that fails to parse or validate is logged and ignored, so the
// running config is always the last valid one.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc

	checkMu sync.Mutex // serializes Run ticks and Reload
	current atomic.Pointer[snapshot]
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and returns a watcher for it. The initial load must
// succeed. Call [Watcher.Run] to start polling.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: 5 * time.Second, onChange: onChange}
	for _, opt := range opts {
		opt(w)
	}
	snap, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current.Store(snap)
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	return w.current.Load().cfg
}

// Run polls until ctx ends. It always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.poll(false)
		}
	}
}

// Reload re-reads the file now, even if its size and mtime look unchanged.
// It reports whether a different config was applied.
func (w *Watcher) Reload() bool { return w.poll(true) }

func (w *Watcher) poll(force bool) bool {
	w.checkMu.Lock()
	defer w.checkMu.Unlock()

	prev := w.current.Load()
	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			slog.Warn("config: watcher cannot stat file", "path", w.path, "err", err)
			return false
		}
		if prev.unchanged(info) {
			return false
		}
	}

	next, err := readSnapshot(w.path)
	if err != nil {
		slog.Warn("config: reload rejected, keeping previous config", "path", w.path, "err", err)
		return false
	}
	if next.sum == prev.sum {
		// Touched but identical; remember the new mtime so the next tick
		// skips the read.
		next.cfg = prev.cfg
		w.current.Store(next)
		return false
	}
	w.current.Store(next)

	d := Diff(prev.cfg, next.cfg)
	slog.Info("config: reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"catalog_changed", d.CatalogChanged,
		"capabilities_changed", d.CapabilitiesChanged,
	)
	if len(d.RestartRequired) > 0 {
		slog.Warn("config: some changes need a restart", "settings", d.RestartRequired)
	}
	if w.onChange != nil {
		w.onChange(prev.cfg, next.cfg, d)
	}
	return true
}

func readSnapshot(path string) (*snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, err
	}
	return &snapshot{
		cfg:   cfg,
		sum:   sha256.Sum256(buf.Bytes()),
		mtime: info.ModTime(),
		size:  info.Size(),
	}, nil
}
