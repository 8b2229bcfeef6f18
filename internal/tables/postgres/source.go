// Package postgres stores correction and phrase tables in PostgreSQL.
//
// Rows carry an explicit position column so that correction order, which is
// significant, and corpus order, which decides ties, survive a round trip.
// [Source.Load] returns a [tables.File] that is validated with
// [tables.File.Build] like any file-based table.
//
// Usage:
//
//	src, err := postgres.Open(ctx, dsn)
//	if err != nil { … }
//	defer src.Close()
//
//	f, err := src.Load(ctx)
//	table, c, err := f.Build()
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxintent/internal/correction"
	"github.com/MrWong99/voxintent/internal/tables"
)

// Source reads and writes tables through a [pgxpool.Pool]. It is safe for
// concurrent use.
type Source struct {
	pool *pgxpool.Pool
}

// Open connects to the database at dsn, verifies the connection and runs
// [Migrate].
func Open(ctx context.Context, dsn string) (*Source, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres tables: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres tables: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres tables: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Source{pool: pool}, nil
}

// Close releases all pooled connections.
func (s *Source) Close() {
	s.pool.Close()
}

// Ping verifies that the database is reachable. It matches the signature of
// a health checker.
func (s *Source) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Load reads both tables in position order from one snapshot.
func (s *Source) Load(ctx context.Context) (*tables.File, error) {
	var f tables.File
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT wrong, right_token FROM intent_corrections ORDER BY position`)
		if err != nil {
			return fmt.Errorf("query corrections: %w", err)
		}
		f.Corrections, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (correction.Rule, error) {
			var r correction.Rule
			err := row.Scan(&r.Wrong, &r.Right)
			return r, err
		})
		if err != nil {
			return fmt.Errorf("scan corrections: %w", err)
		}

		rows, err = tx.Query(ctx,
			`SELECT key, text, intent_type, item FROM intent_phrases ORDER BY position`)
		if err != nil {
			return fmt.Errorf("query phrases: %w", err)
		}
		f.Phrases, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (tables.Phrase, error) {
			var p tables.Phrase
			err := row.Scan(&p.Key, &p.Text, &p.Subject, &p.Item)
			return p, err
		})
		if err != nil {
			return fmt.Errorf("scan phrases: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres tables: load: %w", err)
	}
	return &f, nil
}

// Replace validates f and rewrites both tables with its content in a single
// transaction. Concurrent readers see either the old or the new tables.
func (s *Source) Replace(ctx context.Context, f *tables.File) error {
	table, c, err := f.Build()
	if err != nil {
		return fmt.Errorf("postgres tables: replace: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres tables: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM intent_corrections`); err != nil {
		return fmt.Errorf("postgres tables: clear corrections: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM intent_phrases`); err != nil {
		return fmt.Errorf("postgres tables: clear phrases: %w", err)
	}

	rules := table.Rules()
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"intent_corrections"},
		[]string{"position", "wrong", "right_token"},
		pgx.CopyFromSlice(len(rules), func(i int) ([]any, error) {
			return []any{i, rules[i].Wrong, rules[i].Right}, nil
		}),
	); err != nil {
		return fmt.Errorf("postgres tables: copy corrections: %w", err)
	}

	entries := c.Entries()
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"intent_phrases"},
		[]string{"position", "key", "text", "intent_type", "item"},
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			return []any{i, e.Key, e.Text, e.IntentType, e.Item}, nil
		}),
	); err != nil {
		return fmt.Errorf("postgres tables: copy phrases: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres tables: commit: %w", err)
	}
	return nil
}
