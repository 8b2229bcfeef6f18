package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/voxintent/internal/config"
	"github.com/MrWong99/voxintent/internal/fuzzy"
	"github.com/MrWong99/voxintent/internal/resilience"
	"github.com/MrWong99/voxintent/internal/resolver"
	"github.com/MrWong99/voxintent/internal/tables"
)

// Table source labels used in the voxintent.table.reloads metric.
const (
	sourceFile     = "file"
	sourcePostgres = "postgres"
)

// Reload reads every table source, builds a new pipeline from the current
// config and swaps it in. On failure the previous pipeline keeps serving.
func (a *App) Reload(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reloadLocked(ctx, a.cfg)
}

// ApplyConfig switches to cfg. Log level and rate limit changes take effect
// immediately; the tables are reloaded and the pipeline is rebuilt with the
// new matcher settings. Settings that need a restart are logged and ignored.
func (a *App) ApplyConfig(ctx context.Context, cfg *config.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()

	d := config.Diff(a.cfg, cfg)
	if !d.HotReloadable() {
		slog.Warn("app: config changes need a restart to take effect", "settings", d.RestartRequired)
	}
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(d.NewLogLevel.Level())
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.RateLimitChanged && a.server != nil {
		a.server.SetRequestsPerMinute(cfg.Server.RequestsPerMinute)
		slog.Info("app: rate limit changed", "requests_per_minute", cfg.Server.RequestsPerMinute)
	}

	// Table files may have changed even when the config did not.
	if err := a.reloadLocked(ctx, cfg); err != nil {
		slog.Error("app: reload failed, keeping previous tables", "err", err)
	}
	a.cfg = config.Effective(a.cfg, cfg)
}

func (a *App) reloadLocked(ctx context.Context, cfg *config.Config) error {
	f, err := a.loadTables(ctx, cfg)
	if err != nil {
		return err
	}
	table, c, err := f.Build()
	if err != nil {
		return fmt.Errorf("app: build tables: %w", err)
	}

	p, err := resolver.New(table, c, a.pipelineOptions(cfg.Matcher)...)
	if err != nil {
		return fmt.Errorf("app: build pipeline: %w", err)
	}

	old := a.pipeline.Swap(p)
	delta := int64(c.Len())
	if old != nil {
		delta -= int64(old.Corpus().Len())
	}
	a.metrics.CorpusSize.Add(ctx, delta)

	slog.Info("app: tables loaded",
		"corrections", table.Len(),
		"phrases", c.Len(),
		"threshold", p.Threshold(),
	)
	return nil
}

// loadTables merges the table files and then the external source, in that
// order, recording one reload metric per source. A source serving stale
// tables does not fail the load.
func (a *App) loadTables(ctx context.Context, cfg *config.Config) (*tables.File, error) {
	var files *tables.File
	if len(cfg.Tables.Files) > 0 {
		var err error
		files, err = tables.LoadFiles(cfg.Tables.Files...)
		if err != nil {
			a.metrics.RecordTableReload(ctx, sourceFile, "error")
			return nil, err
		}
		a.metrics.RecordTableReload(ctx, sourceFile, "ok")
	}

	var db *tables.File
	if a.source != nil {
		var err error
		db, err = a.source.Load(ctx)
		switch {
		case errors.Is(err, resilience.ErrStale):
			a.metrics.RecordTableReload(ctx, sourcePostgres, "stale")
		case err != nil:
			a.metrics.RecordTableReload(ctx, sourcePostgres, "error")
			return nil, fmt.Errorf("app: load postgres tables: %w", err)
		default:
			a.metrics.RecordTableReload(ctx, sourcePostgres, "ok")
		}
	}

	return tables.Merge(files, db), nil
}

// pipelineOptions translates matcher settings into resolver options.
func (a *App) pipelineOptions(m config.MatcherConfig) []resolver.Option {
	var fopts []fuzzy.Option
	switch {
	case m.DisableStopWords:
		fopts = append(fopts, fuzzy.WithStopWords())
	case len(m.StopWords) > 0:
		fopts = append(fopts, fuzzy.WithStopWords(m.StopWords...))
	}
	if m.Phonetic {
		fopts = append(fopts, fuzzy.WithPhonetic(true))
	}

	return []resolver.Option{
		resolver.WithThreshold(m.ThresholdValue()),
		resolver.WithMatcher(fuzzy.New(fopts...)),
		resolver.WithCache(max(m.CacheSize, 0)),
		resolver.WithMetrics(a.metrics),
	}
}
