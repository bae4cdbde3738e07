// Package db provides shared Postgres helpers for the stores.
package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// InsertConfig defines the parameters for an insert-if-absent statement.
type InsertConfig struct {
	Table        string   // target table (e.g., "hackathons")
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint; nil = any constraint
}

// InsertIgnoreSQL builds INSERT ... VALUES ... ON CONFLICT (keys) DO NOTHING.
func InsertIgnoreSQL(cfg InsertConfig) (string, error) {
	if cfg.Table == "" {
		return "", eris.New("db: insert: no table specified")
	}
	if len(cfg.Columns) == 0 {
		return "", eris.New("db: insert: no columns specified")
	}

	placeholders := make([]string, len(cfg.Columns))
	for i := range cfg.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	conflict := "ON CONFLICT DO NOTHING"
	if len(cfg.ConflictKeys) > 0 {
		conflict = fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", quoteAndJoin(cfg.ConflictKeys))
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) %s",
		sanitizeTable(cfg.Table),
		quoteAndJoin(cfg.Columns),
		strings.Join(placeholders, ", "),
		conflict,
	), nil
}

// InsertIgnore inserts one row unless it collides with a unique constraint.
// It reports whether the row was written.
func InsertIgnore(ctx context.Context, q Querier, cfg InsertConfig, values ...any) (bool, error) {
	if len(values) != len(cfg.Columns) {
		return false, eris.Errorf("db: insert: %d values for %d columns", len(values), len(cfg.Columns))
	}
	sql, err := InsertIgnoreSQL(cfg)
	if err != nil {
		return false, err
	}

	tag, err := q.Exec(ctx, sql, values...)
	if err != nil {
		return false, eris.Wrapf(err, "db: insert into %s", cfg.Table)
	}
	return tag.RowsAffected() > 0, nil
}

// WithTx runs fn inside a transaction on pool. The transaction commits when
// fn returns nil and rolls back otherwise.
func WithTx(ctx context.Context, pool Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "db: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "db: commit tx")
	}
	return nil
}

// sanitizeTable handles schema-qualified table names like "catalog.hackathons".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
