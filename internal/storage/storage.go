// Package storage defines the durable record store used by the queue
// engine, the scheduler and the maintenance tasks.
package storage

import (
	"context"
	"time"

	"github.com/cuongbtq/jobcore/internal/domain"
)

// JobFilter selects jobs for admin listings
type JobFilter struct {
	Queue    string
	Statuses []domain.JobStatus
	Limit    int
	Offset   int
}

// JobStore persists queue jobs
type JobStore interface {
	InsertJob(ctx context.Context, job *domain.Job) error
	UpdateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	DeleteJob(ctx context.Context, id string) error

	// FindReadyJobs returns pending or retrying jobs of a queue whose
	// next_eligible_at is not after now, ordered by next_eligible_at asc,
	// priority desc, created_at asc.
	FindReadyJobs(ctx context.Context, queue string, now time.Time, limit int) ([]*domain.Job, error)

	// FindStaleJobs returns processing jobs of a queue started before cutoff
	FindStaleJobs(ctx context.Context, queue string, cutoff time.Time, limit int) ([]*domain.Job, error)

	ListJobs(ctx context.Context, filter JobFilter) ([]*domain.Job, error)
	CountJobsByStatus(ctx context.Context, queue string) (map[domain.JobStatus]int, error)

	// DeleteTerminalJobs removes at most limit completed or failed jobs
	// last updated before cutoff. An empty queue matches every queue.
	DeleteTerminalJobs(ctx context.Context, queue string, cutoff time.Time, limit int) (int, error)
}

// ScheduleStore persists scheduled job configurations
type ScheduleStore interface {
	InsertSchedule(ctx context.Context, cfg *domain.ScheduledJobConfig) error
	UpdateSchedule(ctx context.Context, cfg *domain.ScheduledJobConfig) error
	GetSchedule(ctx context.Context, id string) (*domain.ScheduledJobConfig, error)
	GetScheduleByName(ctx context.Context, name string) (*domain.ScheduledJobConfig, error)
	ListSchedules(ctx context.Context) ([]*domain.ScheduledJobConfig, error)
	DeleteSchedule(ctx context.Context, id string) error
}

// FileFilter selects file records for cleanup. Zero values are ignored.
type FileFilter struct {
	Status        domain.FileStatus
	CreatedBefore time.Time
	ExpiresBefore time.Time
}

// FileStore persists uploaded file metadata
type FileStore interface {
	InsertFile(ctx context.Context, f *domain.FileRecord) error
	// DeleteFiles removes at most limit matching records, oldest first
	DeleteFiles(ctx context.Context, filter FileFilter, limit int) (int, error)
	// DeleteDuplicateFiles removes at most limit records whose checksum is
	// shared with an older record
	DeleteDuplicateFiles(ctx context.Context, limit int) (int, error)
	CountFiles(ctx context.Context) (int, error)
}

// SessionStore persists login sessions
type SessionStore interface {
	InsertSession(ctx context.Context, s *domain.Session) error
	DeleteExpiredSessions(ctx context.Context, now time.Time, limit int) (int, error)
	CountSessions(ctx context.Context) (int, error)
}

// Store bundles every record kind behind one backend
type Store interface {
	JobStore
	ScheduleStore
	FileStore
	SessionStore
	Ping(ctx context.Context) error
	Close() error
}
