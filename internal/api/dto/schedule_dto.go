package dto

import (
	"github.com/cuongbtq/jobcore/internal/domain"
	"github.com/cuongbtq/jobcore/internal/maintenance"
	"github.com/cuongbtq/jobcore/internal/queue"
	"github.com/cuongbtq/jobcore/internal/scheduler"
)

type CreateScheduledJobRequest struct {
	Name           string `json:"name" binding:"required"`
	CronExpression string `json:"cron_expression" binding:"required"`
	Description    string `json:"description"`
	Paused         bool   `json:"paused"`
}

type UpdateScheduledJobRequest struct {
	CronExpression *string `json:"cron_expression"`
	Description    *string `json:"description"`
}

type ListScheduledJobsResponse struct {
	ScheduledJobs []*domain.ScheduledJobConfig `json:"scheduled_jobs"`
	Tasks         []string                     `json:"tasks"`
}

type TriggerResponse struct {
	Job     string            `json:"job"`
	Outcome scheduler.Outcome `json:"outcome"`
	Error   string            `json:"error,omitempty"`
}

type RunMaintenanceRequest struct {
	Task string `json:"task" binding:"required"`
}

type RunMaintenanceResponse struct {
	Task   string             `json:"task"`
	Result maintenance.Result `json:"result"`
}

type SystemStatusResponse struct {
	Scheduler scheduler.Status    `json:"scheduler"`
	Queues    []queue.QueueInfo   `json:"queues"`
	Stats     []domain.QueueStats `json:"stats"`
}
