package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/jobcore/internal/domain"
	"github.com/cuongbtq/jobcore/internal/storage"
	"github.com/jmoiron/sqlx"
)

// InsertJob creates a new job row
func (s *Store) InsertJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (:id, :queue_name, :payload, :status, :priority, :attempts, :max_attempts,
			:created_at, :updated_at, :started_at, :completed_at, :failed_at,
			:error_message, :result, :processing_time_ms, :next_eligible_at)
	`

	if _, err := s.db.NamedExecContext(ctx, query, toJobRow(job)); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("job %s: %w", job.ID, domain.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// UpdateJob overwrites every mutable column of a job
func (s *Store) UpdateJob(ctx context.Context, job *domain.Job) error {
	query := `
		UPDATE jobs
		SET status = :status,
			priority = :priority,
			attempts = :attempts,
			max_attempts = :max_attempts,
			updated_at = :updated_at,
			started_at = :started_at,
			completed_at = :completed_at,
			failed_at = :failed_at,
			error_message = :error_message,
			result = :result,
			processing_time_ms = :processing_time_ms,
			next_eligible_at = :next_eligible_at
		WHERE id = :id
	`

	res, err := s.db.NamedExecContext(ctx, query, toJobRow(job))
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update job %s: %w", job.ID, domain.ErrJobNotFound)
	}
	return nil
}

// GetJob retrieves a job by its ID
func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`)

	var row jobRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get job %s: %w", id, domain.ErrJobNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toDomain(), nil
}

// DeleteJob removes a job by its ID
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM jobs WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delete job %s: %w", id, domain.ErrJobNotFound)
	}
	return nil
}

func (s *Store) FindReadyJobs(ctx context.Context, queue string, now time.Time, limit int) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE queue_name = ?
		  AND status IN (?, ?)
		  AND next_eligible_at <= ?
		ORDER BY next_eligible_at ASC, priority DESC, created_at ASC, id ASC
		LIMIT ?
	`

	return s.selectJobs(ctx, query, queue, string(domain.JobStatusPending), string(domain.JobStatusRetrying), ts(now), limit)
}

func (s *Store) FindStaleJobs(ctx context.Context, queue string, cutoff time.Time, limit int) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE queue_name = ?
		  AND status = ?
		  AND (started_at IS NULL OR started_at < ?)
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`

	return s.selectJobs(ctx, query, queue, string(domain.JobStatusProcessing), ts(cutoff), limit)
}

func (s *Store) ListJobs(ctx context.Context, filter storage.JobFilter) ([]*domain.Job, error) {
	var (
		where []string
		args  []any
	)

	if filter.Queue != "" {
		where = append(where, "queue_name = ?")
		args = append(args, filter.Queue)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		where = append(where, "status IN (?)")
		args = append(args, statuses)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			// every supported dialect needs LIMIT before OFFSET
			limit = 1<<31 - 1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, filter.Offset)
	}

	if len(filter.Statuses) > 0 {
		var err error
		query, args, err = sqlx.In(query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to build list query: %w", err)
		}
	}

	return s.selectJobs(ctx, query, args...)
}

func (s *Store) CountJobsByStatus(ctx context.Context, queue string) (map[domain.JobStatus]int, error) {
	query := s.db.Rebind(`
		SELECT status, COUNT(*) AS total
		FROM jobs
		WHERE queue_name = ?
		GROUP BY status
	`)

	var rows []struct {
		Status string `db:"status"`
		Total  int    `db:"total"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, queue); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	counts := make(map[domain.JobStatus]int, len(rows))
	for _, r := range rows {
		counts[domain.JobStatus(r.Status)] = r.Total
	}
	return counts, nil
}

func (s *Store) DeleteTerminalJobs(ctx context.Context, queue string, cutoff time.Time, limit int) (int, error) {
	query := `
		SELECT id FROM jobs
		WHERE status IN (?, ?)
		  AND updated_at < ?`
	args := []any{string(domain.JobStatusCompleted), string(domain.JobStatusFailed), ts(cutoff)}

	if queue != "" {
		query += " AND queue_name = ?"
		args = append(args, queue)
	}
	query += " ORDER BY created_at ASC, id ASC LIMIT ?"
	args = append(args, limit)

	return s.batchDelete(ctx, "jobs", query, args...)
}

func (s *Store) selectJobs(ctx context.Context, query string, args ...any) ([]*domain.Job, error) {
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to select jobs: %w", err)
	}

	jobs := make([]*domain.Job, len(rows))
	for i, r := range rows {
		jobs[i] = r.toDomain()
	}
	return jobs, nil
}
