package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlPhrases = `
CREATE TABLE IF NOT EXISTS intent_phrases (
    position     INTEGER  NOT NULL,
    key          TEXT     NOT NULL UNIQUE,
    text         TEXT     NOT NULL,
    intent_type  TEXT     NOT NULL,
    item         TEXT     NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_intent_phrases_position
    ON intent_phrases (position);
`

const ddlCorrections = `
CREATE TABLE IF NOT EXISTS intent_corrections (
    position     INTEGER  NOT NULL,
    wrong        TEXT     NOT NULL,
    right_token  TEXT     NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_intent_corrections_position
    ON intent_corrections (position);
`

// Migrate creates the intent_phrases and intent_corrections tables if they do
// not exist. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlPhrases, ddlCorrections} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("postgres tables: migrate: %w", err)
		}
	}
	return nil
}
