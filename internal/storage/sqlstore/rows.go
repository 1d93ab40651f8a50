package sqlstore

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cuongbtq/jobcore/internal/domain"
)

type jobRow struct {
	ID               string         `db:"id"`
	QueueName        string         `db:"queue_name"`
	Payload          string         `db:"payload"`
	Status           string         `db:"status"`
	Priority         int            `db:"priority"`
	Attempts         int            `db:"attempts"`
	MaxAttempts      int            `db:"max_attempts"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
	StartedAt        sql.NullTime   `db:"started_at"`
	CompletedAt      sql.NullTime   `db:"completed_at"`
	FailedAt         sql.NullTime   `db:"failed_at"`
	ErrorMessage     sql.NullString `db:"error_message"`
	Result           sql.NullString `db:"result"`
	ProcessingTimeMs sql.NullInt64  `db:"processing_time_ms"`
	NextEligibleAt   time.Time      `db:"next_eligible_at"`
}

const jobColumns = `id, queue_name, payload, status, priority, attempts, max_attempts,
	created_at, updated_at, started_at, completed_at, failed_at,
	error_message, result, processing_time_ms, next_eligible_at`

func toJobRow(j *domain.Job) jobRow {
	payload := string(j.Payload)
	if payload == "" {
		payload = "null"
	}

	row := jobRow{
		ID:             j.ID,
		QueueName:      j.QueueName,
		Payload:        payload,
		Status:         string(j.Status),
		Priority:       j.Priority,
		Attempts:       j.Attempts,
		MaxAttempts:    j.MaxAttempts,
		CreatedAt:      ts(j.CreatedAt),
		UpdatedAt:      ts(j.UpdatedAt),
		StartedAt:      nullTime(j.StartedAt),
		CompletedAt:    nullTime(j.CompletedAt),
		FailedAt:       nullTime(j.FailedAt),
		ErrorMessage:   nullString(j.Error),
		NextEligibleAt: ts(j.NextEligibleAt),
	}
	if len(j.Result) > 0 {
		row.Result = sql.NullString{String: string(j.Result), Valid: true}
	}
	if j.ProcessingTimeMs != nil {
		row.ProcessingTimeMs = sql.NullInt64{Int64: *j.ProcessingTimeMs, Valid: true}
	}
	return row
}

func (r jobRow) toDomain() *domain.Job {
	j := &domain.Job{
		ID:             r.ID,
		QueueName:      r.QueueName,
		Payload:        json.RawMessage(r.Payload),
		Status:         domain.JobStatus(r.Status),
		Priority:       r.Priority,
		Attempts:       r.Attempts,
		MaxAttempts:    r.MaxAttempts,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
		StartedAt:      timePtr(r.StartedAt),
		CompletedAt:    timePtr(r.CompletedAt),
		FailedAt:       timePtr(r.FailedAt),
		Error:          stringPtr(r.ErrorMessage),
		NextEligibleAt: r.NextEligibleAt.UTC(),
	}
	if r.Result.Valid {
		j.Result = json.RawMessage(r.Result.String)
	}
	if r.ProcessingTimeMs.Valid {
		ms := r.ProcessingTimeMs.Int64
		j.ProcessingTimeMs = &ms
	}
	return j
}

type scheduleRow struct {
	ID               string         `db:"id"`
	Name             string         `db:"name"`
	Description      string         `db:"description"`
	CronExpression   string         `db:"cron_expression"`
	Status           string         `db:"status"`
	LastRunAt        sql.NullTime   `db:"last_run_at"`
	NextRunAt        sql.NullTime   `db:"next_run_at"`
	RunCount         int            `db:"run_count"`
	LastErrorMessage sql.NullString `db:"last_error_message"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

const scheduleColumns = `id, name, description, cron_expression, status, last_run_at,
	next_run_at, run_count, last_error_message, created_at, updated_at`

func toScheduleRow(c *domain.ScheduledJobConfig) scheduleRow {
	return scheduleRow{
		ID:               c.ID,
		Name:             c.Name,
		Description:      c.Description,
		CronExpression:   c.CronExpression,
		Status:           string(c.Status),
		LastRunAt:        nullTime(c.LastRunAt),
		NextRunAt:        nullTime(c.NextRunAt),
		RunCount:         c.RunCount,
		LastErrorMessage: nullString(c.LastErrorMessage),
		CreatedAt:        ts(c.CreatedAt),
		UpdatedAt:        ts(c.UpdatedAt),
	}
}

func (r scheduleRow) toDomain() *domain.ScheduledJobConfig {
	return &domain.ScheduledJobConfig{
		ID:               r.ID,
		Name:             r.Name,
		Description:      r.Description,
		CronExpression:   r.CronExpression,
		Status:           domain.ScheduleStatus(r.Status),
		LastRunAt:        timePtr(r.LastRunAt),
		NextRunAt:        timePtr(r.NextRunAt),
		RunCount:         r.RunCount,
		LastErrorMessage: stringPtr(r.LastErrorMessage),
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
}

type fileRow struct {
	ID        string       `db:"id"`
	Path      string       `db:"path"`
	Checksum  string       `db:"checksum"`
	SizeBytes int64        `db:"size_bytes"`
	Status    string       `db:"status"`
	CreatedAt time.Time    `db:"created_at"`
	ExpiresAt sql.NullTime `db:"expires_at"`
}

type sessionRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: ts(*t), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
