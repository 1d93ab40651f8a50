// Package sqlstore implements storage.Store on top of sqlx for PostgreSQL,
// MySQL and SQLite.
package sqlstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobcore/internal/storage"
	"github.com/jmoiron/sqlx"
)

// Store handles all database operations for jobs, schedules and records
type Store struct {
	db      *sqlx.DB
	dialect dialect
	logger  *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// New creates a Store for an open connection. The dialect is taken from the
// driver name the connection was opened with.
func New(db *sqlx.DB, logger *slog.Logger) (*Store, error) {
	d, err := dialectFor(db.DriverName())
	if err != nil {
		return nil, err
	}

	return &Store{
		db:      db,
		dialect: d,
		logger:  logger,
	}, nil
}

// Migrate creates the tables and indexes if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	s.logger.Info("Database schema is up to date",
		slog.String("driver", s.dialect.name),
		slog.Int("statements", len(s.dialect.schema)),
	)
	return nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

// deleteIDs removes rows of table whose id is in ids inside tx
func deleteIDs(ctx context.Context, tx *sqlx.Tx, table string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In("DELETE FROM "+table+" WHERE id IN (?)", ids)
	if err != nil {
		return 0, fmt.Errorf("failed to build delete: %w", err)
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", table, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// batchDelete selects up to limit ids with selectQuery and deletes them in one transaction
func (s *Store) batchDelete(ctx context.Context, table, selectQuery string, args ...any) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var ids []string
	if err := tx.SelectContext(ctx, &ids, tx.Rebind(selectQuery), args...); err != nil {
		return 0, fmt.Errorf("failed to select %s batch: %w", table, err)
	}

	n, err := deleteIDs(ctx, tx, table, ids)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return n, nil
}

// ts normalises a time for storage. PostgreSQL and MySQL keep microseconds.
func ts(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
