package domain

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a queued job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// AllJobStatuses lists every status in display order
var AllJobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusProcessing,
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusRetrying,
}

// ParseJobStatus validates a status string
func ParseJobStatus(s string) (JobStatus, bool) {
	for _, st := range AllJobStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further dispatch will happen for the status
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsReady reports whether a job in this status may be picked up by a poll
func (s JobStatus) IsReady() bool {
	return s == JobStatusPending || s == JobStatusRetrying
}

// Job is one unit of work persisted in the job store
type Job struct {
	ID               string          `json:"id"`
	QueueName        string          `json:"queue_name"`
	Payload          json.RawMessage `json:"payload"`
	Status           JobStatus       `json:"status"`
	Priority         int             `json:"priority"`
	Attempts         int             `json:"attempts"`
	MaxAttempts      int             `json:"max_attempts"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	FailedAt         *time.Time      `json:"failed_at,omitempty"`
	Error            *string         `json:"error,omitempty"`
	Result           json.RawMessage `json:"result,omitempty"`
	ProcessingTimeMs *int64          `json:"processing_time_ms,omitempty"`
	NextEligibleAt   time.Time       `json:"next_eligible_at"`
}

// Clone returns a deep copy so stores never share mutable state with callers
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Payload = cloneRaw(j.Payload)
	c.Result = cloneRaw(j.Result)
	c.StartedAt = cloneTime(j.StartedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	c.FailedAt = cloneTime(j.FailedAt)
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.ProcessingTimeMs != nil {
		p := *j.ProcessingTimeMs
		c.ProcessingTimeMs = &p
	}
	return &c
}

// QueueStats holds per-status job counts for one queue
type QueueStats struct {
	Queue      string `json:"queue"`
	Pending    int    `json:"pending"`
	Processing int    `json:"processing"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
	Retrying   int    `json:"retrying"`
	Total      int    `json:"total"`
}

// NewQueueStats folds raw status counts into a QueueStats
func NewQueueStats(queue string, counts map[JobStatus]int) QueueStats {
	stats := QueueStats{
		Queue:      queue,
		Pending:    counts[JobStatusPending],
		Processing: counts[JobStatusProcessing],
		Completed:  counts[JobStatusCompleted],
		Failed:     counts[JobStatusFailed],
		Retrying:   counts[JobStatusRetrying],
	}
	stats.Total = stats.Pending + stats.Processing + stats.Completed + stats.Failed + stats.Retrying
	return stats
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	out := make(json.RawMessage, len(r))
	copy(out, r)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
