package config

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher monitors a config file, and every table file it references, for
// changes and calls a callback when any of them is modified. It polls
// modification times and confirms changes by content hash.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu       sync.Mutex
	current  *Config
	done     chan struct{}
	stopOnce sync.Once

	// last known state of every watched file
	lastMtimes map[string]time.Time
	lastHash   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher creates a config file watcher. It loads the initial config
// immediately and starts polling in a background goroutine.
//
// onChange receives the previous and the new config. It is also called when
// only a table file changed, in which case old and new may be equal.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := w.snapshot()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = snap.cfg
	w.lastHash = snap.hash
	w.lastMtimes = snap.mtimes

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the file watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reloads when any watched file has a new mtime and, if the combined
// content changed and the config is valid, calls onChange.
func (w *Watcher) check() {
	w.mu.Lock()
	mtimes := w.lastMtimes
	w.mu.Unlock()

	changed := false
	for p, mtime := range mtimes {
		info, err := os.Stat(p)
		if err != nil {
			slog.Warn("config watcher: cannot stat file", "path", p, "err", err)
			return
		}
		if !info.ModTime().Equal(mtime) {
			changed = true
		}
	}
	if !changed {
		return
	}

	snap, err := w.snapshot()
	if err != nil {
		slog.Warn("config watcher: failed to load config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if snap.hash == w.lastHash {
		// Touched but identical.
		w.lastMtimes = snap.mtimes
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = snap.cfg
	w.lastHash = snap.hash
	w.lastMtimes = snap.mtimes
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path, "files", len(snap.mtimes))

	// Outside the lock so the callback can call Current().
	if w.onChange != nil {
		w.onChange(old, snap.cfg)
	}
}

// snapshot is a parsed config plus the state of every file it depends on.
type snapshot struct {
	cfg    *Config
	hash   [sha256.Size]byte
	mtimes map[string]time.Time
}

// snapshot loads the config and hashes it together with its table files. An
// invalid config returns an error and the caller keeps the old one.
func (w *Watcher) snapshot() (snapshot, error) {
	h := sha256.New()
	mtimes := make(map[string]time.Time)

	data, mtime, err := readFile(w.path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := parseFile(w.path, data)
	if err != nil {
		return snapshot{}, err
	}
	h.Write(data)
	mtimes[w.path] = mtime

	for _, p := range cfg.Tables.Files {
		data, mtime, err := readFile(p)
		if err != nil {
			return snapshot{}, fmt.Errorf("config: table file: %w", err)
		}
		fmt.Fprintf(h, "\x00%s\x00", p)
		h.Write(data)
		mtimes[p] = mtime
	}

	var sum [sha256.Size]byte
	copy(sum[:], h.Sum(nil))
	return snapshot{cfg: cfg, hash: sum, mtimes: mtimes}, nil
}

func readFile(path string) ([]byte, time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	return data, info.ModTime(), nil
}
