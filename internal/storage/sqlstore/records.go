package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/jobcore/internal/domain"
	"github.com/cuongbtq/jobcore/internal/storage"
)

func (s *Store) InsertFile(ctx context.Context, f *domain.FileRecord) error {
	query := `
		INSERT INTO file_records (id, path, checksum, size_bytes, status, created_at, expires_at)
		VALUES (:id, :path, :checksum, :size_bytes, :status, :created_at, :expires_at)
	`

	row := fileRow{
		ID:        f.ID,
		Path:      f.Path,
		Checksum:  f.Checksum,
		SizeBytes: f.SizeBytes,
		Status:    string(f.Status),
		CreatedAt: ts(f.CreatedAt),
		ExpiresAt: nullTime(f.ExpiresAt),
	}
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("file %s: %w", f.ID, domain.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert file record: %w", err)
	}
	return nil
}

func (s *Store) DeleteFiles(ctx context.Context, filter storage.FileFilter, limit int) (int, error) {
	var (
		where []string
		args  []any
	)

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.CreatedBefore.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, ts(filter.CreatedBefore))
	}
	if !filter.ExpiresBefore.IsZero() {
		where = append(where, "expires_at IS NOT NULL AND expires_at < ?")
		args = append(args, ts(filter.ExpiresBefore))
	}

	query := "SELECT id FROM file_records"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC LIMIT ?"
	args = append(args, limit)

	return s.batchDelete(ctx, "file_records", query, args...)
}

func (s *Store) DeleteDuplicateFiles(ctx context.Context, limit int) (int, error) {
	query := `
		SELECT f.id FROM file_records f
		WHERE f.checksum <> ''
		  AND EXISTS (
			SELECT 1 FROM file_records o
			WHERE o.checksum = f.checksum
			  AND (o.created_at < f.created_at OR (o.created_at = f.created_at AND o.id < f.id))
		  )
		ORDER BY f.created_at ASC, f.id ASC
		LIMIT ?
	`

	return s.batchDelete(ctx, "file_records", query, limit)
}

func (s *Store) CountFiles(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM file_records`); err != nil {
		return 0, fmt.Errorf("failed to count file records: %w", err)
	}
	return n, nil
}

func (s *Store) InsertSession(ctx context.Context, sess *domain.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, expires_at, created_at)
		VALUES (:id, :user_id, :expires_at, :created_at)
	`

	row := sessionRow{
		ID:        sess.ID,
		UserID:    sess.UserID,
		ExpiresAt: ts(sess.ExpiresAt),
		CreatedAt: ts(sess.CreatedAt),
	}
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("session %s: %w", sess.ID, domain.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time, limit int) (int, error) {
	query := `
		SELECT id FROM sessions
		WHERE expires_at < ?
		ORDER BY expires_at ASC, id ASC
		LIMIT ?
	`
	return s.batchDelete(ctx, "sessions", query, ts(now), limit)
}

func (s *Store) CountSessions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM sessions`); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}
