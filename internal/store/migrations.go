package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations run in order. PRAGMA user_version holds the number applied, so
// a database is only ever moved forward.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS targets (
			id         TEXT PRIMARY KEY,
			occupied   INTEGER NOT NULL DEFAULT 0,
			holder     TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_targets_occupied ON targets(occupied)`,
	},
	{
		`ALTER TABLE targets ADD COLUMN created_at TEXT NOT NULL DEFAULT ''`,
	},
	{
		`CREATE INDEX IF NOT EXISTS idx_targets_holder ON targets(holder) WHERE occupied = 1`,
	},
}

func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current > len(migrations) {
		return fmt.Errorf("schema version %d is newer than this binary (%d)", current, len(migrations))
	}
	for v := current; v < len(migrations); v++ {
		if err := applyMigration(ctx, db, v+1, migrations[v]); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, version int, stmts []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %d: %w", version, err)
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", version, err)
		}
	}
	// PRAGMA does not take bind parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("migration %d: set version: %w", version, err)
	}
	return tx.Commit()
}
