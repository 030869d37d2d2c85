// Package store maps component snapshots to SQLite tables.
package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Queries runs snapshot reads and writes against one database.
type Queries struct {
	db *sqlx.DB
}

// New creates Queries over db.
func New(db *sqlx.DB) *Queries {
	return &Queries{db: db}
}

// replaceAll swaps the full contents of table for rows in one transaction.
func replaceAll[T any](ctx context.Context, db *sqlx.DB, table, insert string, rows []T) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s snapshot: %w", table, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	for i := range rows {
		if _, err := tx.NamedExecContext(ctx, insert, rows[i]); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s snapshot: %w", table, err)
	}
	return nil
}

func selectAll[T any](ctx context.Context, db *sqlx.DB, query string) ([]T, error) {
	var rows []T
	if err := db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	return rows, nil
}
