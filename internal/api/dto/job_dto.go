package dto

import (
	"encoding/json"

	"github.com/cuongbtq/jobcore/internal/domain"
)

type EnqueueJobRequest struct {
	Payload      json.RawMessage `json:"payload"`
	Priority     int             `json:"priority"`
	MaxAttempts  int             `json:"max_attempts" binding:"gte=0,lte=100"`
	DelaySeconds int             `json:"delay_seconds" binding:"gte=0"`
}

type ListJobsRequest struct {
	Status string `form:"status"`
	Limit  int    `form:"limit" binding:"gte=0"`
	Offset int    `form:"offset" binding:"gte=0"`
}

type ListJobsResponse struct {
	Queue      string        `json:"queue"`
	Jobs       []*domain.Job `json:"jobs"`
	Limit      int           `json:"limit"`
	Offset     int           `json:"offset"`
	NextOffset *int          `json:"next_offset,omitempty"`
}

type RetryJobResponse struct {
	JobID   string `json:"job_id"`
	Retried bool   `json:"retried"`
}

type CleanupJobsRequest struct {
	OlderThanDays int    `json:"older_than_days" binding:"required,gt=0,lte=36500"`
	Queue         string `json:"queue"`
}

type CleanupJobsResponse struct {
	Deleted       int `json:"deleted"`
	OlderThanDays int `json:"older_than_days"`
}

type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}
