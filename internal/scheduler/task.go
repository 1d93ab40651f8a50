package scheduler

import (
	"context"
	"time"
)

// Outcome is what a scheduled task reports for one run
type Outcome struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Task is the in-process handler bound to a scheduled job name
type Task interface {
	Run(ctx context.Context) (Outcome, error)
}

// TaskFunc adapts a function to Task
type TaskFunc func(ctx context.Context) (Outcome, error)

func (f TaskFunc) Run(ctx context.Context) (Outcome, error) {
	return f(ctx)
}

// Definition pairs a task with the cadence it gets when no config is persisted
type Definition struct {
	Name           string
	Description    string
	CronExpression string
	Task           Task
}

// CreateRequest describes a new scheduled job for an already registered task
type CreateRequest struct {
	Name           string `json:"name"`
	CronExpression string `json:"cron_expression"`
	Description    string `json:"description"`
	Paused         bool   `json:"paused"`
}

// UpdateRequest changes a scheduled job; nil fields are left alone
type UpdateRequest struct {
	CronExpression *string `json:"cron_expression,omitempty"`
	Description    *string `json:"description,omitempty"`
}

// Status summarises the scheduler
type Status struct {
	Running bool          `json:"running"`
	Tasks   []TaskStatus  `json:"tasks"`
	Fixed   []FixedStatus `json:"fixed"`
}

// TaskStatus is one persisted scheduled job with its live entry
type TaskStatus struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	CronExpression string     `json:"cron_expression"`
	Status         string     `json:"status"`
	Scheduled      bool       `json:"scheduled"`
	RunCount       int        `json:"run_count"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastError      *string    `json:"last_error,omitempty"`
}

// FixedStatus is one non-persisted entry such as a maintenance task
type FixedStatus struct {
	Name           string    `json:"name"`
	CronExpression string    `json:"cron_expression"`
	NextRunAt      time.Time `json:"next_run_at"`
}
