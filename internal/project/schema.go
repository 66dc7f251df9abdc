package project

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// layoutVersion is stored in SQLite's user_version header. A database written
// by a different layout is refused rather than migrated.
const layoutVersion = 1

// ErrSchemaMismatch reports a database created with an incompatible layout.
var ErrSchemaMismatch = errors.New("schema version mismatch")

func (s *Store) initSchema(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	switch version {
	case layoutVersion:
		return nil
	case 0:
		return s.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
				return fmt.Errorf("create tables: %w", err)
			}
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", layoutVersion)); err != nil {
				return fmt.Errorf("stamp user_version: %w", err)
			}
			return nil
		})
	default:
		return fmt.Errorf("%w: %s has layout %d, this build expects %d; remove the file to start fresh",
			ErrSchemaMismatch, s.path, version, layoutVersion)
	}
}
