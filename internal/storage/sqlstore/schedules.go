package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cuongbtq/jobcore/internal/domain"
)

func (s *Store) InsertSchedule(ctx context.Context, cfg *domain.ScheduledJobConfig) error {
	query := `
		INSERT INTO scheduled_jobs (` + scheduleColumns + `)
		VALUES (:id, :name, :description, :cron_expression, :status, :last_run_at,
			:next_run_at, :run_count, :last_error_message, :created_at, :updated_at)
	`

	if _, err := s.db.NamedExecContext(ctx, query, toScheduleRow(cfg)); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("scheduled job %q: %w", cfg.Name, domain.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert scheduled job: %w", err)
	}
	return nil
}

func (s *Store) UpdateSchedule(ctx context.Context, cfg *domain.ScheduledJobConfig) error {
	query := `
		UPDATE scheduled_jobs
		SET name = :name,
			description = :description,
			cron_expression = :cron_expression,
			status = :status,
			last_run_at = :last_run_at,
			next_run_at = :next_run_at,
			run_count = :run_count,
			last_error_message = :last_error_message,
			updated_at = :updated_at
		WHERE id = :id
	`

	res, err := s.db.NamedExecContext(ctx, query, toScheduleRow(cfg))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("scheduled job %q: %w", cfg.Name, domain.ErrDuplicate)
		}
		return fmt.Errorf("failed to update scheduled job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update scheduled job %s: %w", cfg.ID, domain.ErrScheduleNotFound)
	}
	return nil
}

func (s *Store) GetSchedule(ctx context.Context, id string) (*domain.ScheduledJobConfig, error) {
	return s.getSchedule(ctx, "id", id)
}

func (s *Store) GetScheduleByName(ctx context.Context, name string) (*domain.ScheduledJobConfig, error) {
	return s.getSchedule(ctx, "name", name)
}

func (s *Store) getSchedule(ctx context.Context, column, value string) (*domain.ScheduledJobConfig, error) {
	query := s.db.Rebind(`SELECT ` + scheduleColumns + ` FROM scheduled_jobs WHERE ` + column + ` = ?`)

	var row scheduleRow
	if err := s.db.GetContext(ctx, &row, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get scheduled job %q: %w", value, domain.ErrScheduleNotFound)
		}
		return nil, fmt.Errorf("failed to get scheduled job: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListSchedules(ctx context.Context) ([]*domain.ScheduledJobConfig, error) {
	var rows []scheduleRow
	query := `SELECT ` + scheduleColumns + ` FROM scheduled_jobs ORDER BY name ASC`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list scheduled jobs: %w", err)
	}

	out := make([]*domain.ScheduledJobConfig, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM scheduled_jobs WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete scheduled job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delete scheduled job %s: %w", id, domain.ErrScheduleNotFound)
	}
	return nil
}
