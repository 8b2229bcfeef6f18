package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxintent/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
tables:
  files: [intents.yaml]
`

const watcherUpdatedYAML = `
server:
  log_level: debug
tables:
  files: [intents.yaml]
`

const watcherInvalidYAML = `
server:
  log_level: bananas
tables:
  files: [intents.yaml]
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// bumpMtime moves the modification time of path forward so that a rewrite in
// the same clock tick is still noticed.
func bumpMtime(t *testing.T, path string) {
	t.Helper()
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("failed to touch file: %v", err)
	}
}

// watchDir writes a config plus its table file into a temp directory and
// returns the config path.
func watchDir(t *testing.T) (dir, cfgPath string) {
	t.Helper()
	dir = t.TempDir()
	cfgPath = filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)
	writeFile(t, filepath.Join(dir, "intents.yaml"), "phrases: []\n")
	return dir, cfgPath
}

// recorder collects onChange invocations.
type recorder struct {
	mu     sync.Mutex
	calls  int
	old    *config.Config
	new    *config.Config
	called chan struct{}
}

func newRecorder() *recorder {
	return &recorder{called: make(chan struct{}, 1)}
}

func (r *recorder) onChange(old, new *config.Config) {
	r.mu.Lock()
	r.calls++
	r.old, r.new = old, new
	r.mu.Unlock()
	select {
	case r.called <- struct{}{}:
	default:
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.called:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	dir, cfgPath := watchDir(t)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if want := filepath.Join(dir, "intents.yaml"); cfg.Tables.Files[0] != want {
		t.Errorf("tables.files[0]: got %q, want %q", cfg.Tables.Files[0], want)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	_, cfgPath := watchDir(t)
	rec := newRecorder()

	w, err := config.NewWatcher(cfgPath, rec.onChange, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	writeFile(t, cfgPath, watcherUpdatedYAML)
	bumpMtime(t, cfgPath)
	rec.wait(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.old == nil || rec.new == nil {
		t.Fatal("callback received nil configs")
	}
	if rec.old.Server.LogLevel != config.LogInfo {
		t.Errorf("old log_level: got %q, want %q", rec.old.Server.LogLevel, config.LogInfo)
	}
	if rec.new.Server.LogLevel != config.LogDebug {
		t.Errorf("new log_level: got %q, want %q", rec.new.Server.LogLevel, config.LogDebug)
	}

	if cur := w.Current(); cur.Server.LogLevel != config.LogDebug {
		t.Errorf("Current() log_level: got %q, want %q", cur.Server.LogLevel, config.LogDebug)
	}
}

func TestWatcher_DetectsTableFileChange(t *testing.T) {
	t.Parallel()
	dir, cfgPath := watchDir(t)
	rec := newRecorder()

	w, err := config.NewWatcher(cfgPath, rec.onChange, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	tablePath := filepath.Join(dir, "intents.yaml")
	writeFile(t, tablePath, "phrases:\n  - key: NOW\n    text: what time is it\n    subject: TIME\n    item: NOW\n")
	bumpMtime(t, tablePath)
	rec.wait(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if config.Diff(rec.old, rec.new).LogLevelChanged {
		t.Error("table-only change should leave the config itself unchanged")
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	_, cfgPath := watchDir(t)
	rec := newRecorder()

	w, err := config.NewWatcher(cfgPath, rec.onChange, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	writeFile(t, cfgPath, watcherInvalidYAML)
	bumpMtime(t, cfgPath)

	// Wait enough polls for it to notice the change.
	time.Sleep(300 * time.Millisecond)

	if calls := rec.count(); calls != 0 {
		t.Errorf("callback should not be called for invalid config, got %d calls", calls)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogInfo {
		t.Errorf("Current() should still have old config, got log_level=%q", cur.Server.LogLevel)
	}
}

func TestWatcher_MissingTableFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	_, cfgPath := watchDir(t)
	rec := newRecorder()

	w, err := config.NewWatcher(cfgPath, rec.onChange, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	writeFile(t, cfgPath, "server:\n  log_level: debug\ntables:\n  files: [missing.yaml]\n")
	bumpMtime(t, cfgPath)
	time.Sleep(300 * time.Millisecond)

	if calls := rec.count(); calls != 0 {
		t.Errorf("callback should not be called when a table file is missing, got %d calls", calls)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	_, err := config.NewWatcher("/nonexistent/path.yaml", nil)
	if err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}

	// A config whose table file does not exist fails too.
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)
	if _, err := config.NewWatcher(cfgPath, nil); err == nil {
		t.Fatal("expected error for missing table file, got nil")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	_, cfgPath := watchDir(t)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Multiple stops should not panic.
	w.Stop()
	w.Stop()
	w.Stop()
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	dir, cfgPath := watchDir(t)
	rec := newRecorder()

	w, err := config.NewWatcher(cfgPath, rec.onChange, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	bumpMtime(t, cfgPath)
	bumpMtime(t, filepath.Join(dir, "intents.yaml"))
	time.Sleep(300 * time.Millisecond)

	if calls := rec.count(); calls != 0 {
		t.Errorf("callback should not fire for touch-only, got %d calls", calls)
	}
}
