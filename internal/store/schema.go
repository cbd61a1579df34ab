package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// layoutVersion is stored in the database's user_version pragma. A data
// directory written by a different layout has to be cleared by hand.
const layoutVersion = 1

// ErrSchemaMismatch reports a database created with a different layout.
var ErrSchemaMismatch = errors.New("document database layout mismatch")

// migrate creates the tables of an empty database and refuses one stamped
// with another layout version.
func (s *Store) migrate(ctx context.Context) error {
	var stamped int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&stamped); err != nil {
		return fmt.Errorf("read layout version: %w", err)
	}
	switch stamped {
	case layoutVersion:
		return nil
	case 0:
	default:
		return fmt.Errorf("%w: %s has layout %d, this build writes %d",
			ErrSchemaMismatch, s.path, stamped, layoutVersion)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin layout tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create document tables: %w", err)
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", layoutVersion)); err != nil {
		return fmt.Errorf("stamp layout version: %w", err)
	}
	return tx.Commit()
}
