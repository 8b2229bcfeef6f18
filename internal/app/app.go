// Package app wires the voxintent subsystems into a running application.
//
// The App struct owns the full lifecycle: New loads the correction and phrase
// tables and builds the resolver pipeline, Run serves HTTP and watches the
// config for changes, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithTableSource,
// WithMetrics, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxintent/internal/config"
	"github.com/MrWong99/voxintent/internal/health"
	"github.com/MrWong99/voxintent/internal/observe"
	"github.com/MrWong99/voxintent/internal/resilience"
	"github.com/MrWong99/voxintent/internal/resolver"
	"github.com/MrWong99/voxintent/internal/server"
	"github.com/MrWong99/voxintent/internal/tables"
	"github.com/MrWong99/voxintent/internal/tables/postgres"
)

// TableSource supplies correction and phrase tables from outside the config
// files. [postgres.Source] implements it.
type TableSource interface {
	Load(ctx context.Context) (*tables.File, error)
	Ping(ctx context.Context) error
}

// App owns all subsystem lifetimes.
type App struct {
	mu  sync.Mutex // serialises reloads and config swaps
	cfg *config.Config

	source   TableSource
	pipeline atomic.Pointer[resolver.Pipeline]

	levelVar       *slog.LevelVar
	metrics        *observe.Metrics
	metricsHandler http.Handler

	watchPath     string
	watchInterval time.Duration
	watcher       *config.Watcher

	server  *server.Server
	httpSrv *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTableSource injects a table source instead of opening one from
// tables.postgres_dsn.
func WithTableSource(s TableSource) Option {
	return func(a *App) { a.source = s }
}

// WithMetrics records metrics to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets config reloads change the log level of the handler that
// owns lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// WithWatch makes Run poll path, and every table file it references, and
// apply changes without a restart. interval <= 0 uses the watcher default.
func WithWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.watchPath = path
		a.watchInterval = interval
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. It opens the PostgreSQL table source when one
// is configured, loads every table and builds the first pipeline; any failure
// is returned and nothing is left running.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Table source ──────────────────────────────────────────────────
	if err := a.initSource(ctx); err != nil {
		return nil, fmt.Errorf("app: init table source: %w", err)
	}
	if a.source != nil {
		a.source = resilience.NewFallbackSource(a.source, resilience.BreakerConfig{Name: "table-source"})
	}

	// ── 2. Pipeline ──────────────────────────────────────────────────────
	if err := a.Reload(ctx); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: initial load: %w", err)
	}

	// ── 3. HTTP server ───────────────────────────────────────────────────
	if err := a.initServer(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	return a, nil
}

// initSource opens the PostgreSQL source or keeps an injected one.
func (a *App) initSource(ctx context.Context) error {
	if a.source != nil || a.cfg.Tables.PostgresDSN == "" {
		return nil
	}
	src, err := postgres.Open(ctx, a.cfg.Tables.PostgresDSN)
	if err != nil {
		return err
	}
	a.source = src
	a.closers = append(a.closers, func() error {
		src.Close()
		return nil
	})
	slog.Info("app: postgres table source connected")
	return nil
}

func (a *App) initServer() error {
	proxies, err := a.cfg.Server.TrustedProxyPrefixes()
	if err != nil {
		return err
	}
	checkers := []health.Checker{
		health.Loaded("pipeline", func() bool { return a.pipeline.Load() != nil }),
	}
	if a.source != nil {
		checkers = append(checkers, health.Ping("postgres", a.source))
	}

	opts := []server.Option{
		server.WithMetrics(a.metrics),
		server.WithHealth(health.New(checkers...)),
		server.WithRequestsPerMinute(a.cfg.Server.RequestsPerMinute),
		server.WithTrustedProxies(proxies...),
	}
	if a.metricsHandler != nil {
		opts = append(opts, server.WithMetricsHandler(a.metricsHandler))
	}
	a.server = server.New(a.pipeline.Load, opts...)
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Pipeline returns the pipeline currently serving requests.
func (a *App) Pipeline() *resolver.Pipeline {
	return a.pipeline.Load()
}

// Handler returns the HTTP handler serving the voxintent API.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Config returns the config currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on server.listen_addr until ctx is cancelled or the server
// fails. When a watch path is configured it also applies config and table
// changes as they happen. Run returns ctx.Err() after cancellation; callers
// should then call Shutdown.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen on %q: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener. It takes ownership of ln.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	if a.watchPath != "" {
		var wopts []config.WatcherOption
		if a.watchInterval > 0 {
			wopts = append(wopts, config.WithInterval(a.watchInterval))
		}
		w, err := config.NewWatcher(a.watchPath, func(old, new *config.Config) {
			a.ApplyConfig(ctx, new)
		}, wopts...)
		if err != nil {
			ln.Close()
			return fmt.Errorf("app: start config watcher: %w", err)
		}
		a.mu.Lock()
		a.watcher = w
		a.mu.Unlock()
	}

	srv := &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	a.mu.Lock()
	a.httpSrv = srv
	a.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	slog.Info("app: http server listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the config watcher, drains in-flight HTTP requests and then
// closes the table source. It respects the context deadline: if ctx expires
// while requests are still running the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "closers", len(a.closers))

		a.mu.Lock()
		w, srv := a.watcher, a.httpSrv
		a.mu.Unlock()

		if w != nil {
			w.Stop()
		}
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				slog.Warn("app: http shutdown", "err", err)
				shutdownErr = err
			}
		}

		if p := a.pipeline.Swap(nil); p != nil {
			a.metrics.CorpusSize.Add(context.WithoutCancel(ctx), -int64(p.Corpus().Len()))
		}

		a.runClosers()
		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() {
	for i, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("app: closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}
