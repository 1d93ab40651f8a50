package domain

import "time"

// ScheduleStatus is the state of a recurring task configuration
type ScheduleStatus string

const (
	ScheduleStatusActive ScheduleStatus = "active"
	ScheduleStatusPaused ScheduleStatus = "paused"
	ScheduleStatusError  ScheduleStatus = "error"
)

// ParseScheduleStatus validates a status string
func ParseScheduleStatus(s string) (ScheduleStatus, bool) {
	switch ScheduleStatus(s) {
	case ScheduleStatusActive, ScheduleStatusPaused, ScheduleStatusError:
		return ScheduleStatus(s), true
	}
	return "", false
}

// ScheduledJobConfig is the persisted configuration and run history of a named task
type ScheduledJobConfig struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Description      string         `json:"description,omitempty"`
	CronExpression   string         `json:"cron_expression"`
	Status           ScheduleStatus `json:"status"`
	LastRunAt        *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt        *time.Time     `json:"next_run_at,omitempty"`
	RunCount         int            `json:"run_count"`
	LastErrorMessage *string        `json:"last_error_message,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Clone returns a deep copy
func (c *ScheduledJobConfig) Clone() *ScheduledJobConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.LastRunAt = cloneTime(c.LastRunAt)
	out.NextRunAt = cloneTime(c.NextRunAt)
	if c.LastErrorMessage != nil {
		m := *c.LastErrorMessage
		out.LastErrorMessage = &m
	}
	return &out
}
