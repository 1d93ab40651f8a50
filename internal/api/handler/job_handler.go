package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/jobcore/internal/api/dto"
	"github.com/cuongbtq/jobcore/internal/domain"
	"github.com/cuongbtq/jobcore/internal/queue"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// ListQueues handles GET /api/v1/queues
func (h *Handler) ListQueues(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"queues": h.queue.Queues()})
}

// EnqueueJob handles POST /api/v1/queues/:queue/jobs
func (h *Handler) EnqueueJob(c *gin.Context) {
	queueName := c.Param("queue")

	var req dto.EnqueueJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Invalid request body", err)
		return
	}

	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}

	job, err := h.queue.AddJob(c.Request.Context(), queueName, payload, queue.AddOptions{
		Priority:    req.Priority,
		MaxAttempts: req.MaxAttempts,
		Delay:       time.Duration(req.DelaySeconds) * time.Second,
	})
	if err != nil {
		h.respondError(c, "Failed to enqueue job", err)
		return
	}

	h.logger.Info("Job enqueued via admin API",
		slog.String("queue", queueName),
		slog.String("job_id", job.ID),
	)
	c.JSON(http.StatusCreated, job)
}

// ListJobs handles GET /api/v1/queues/:queue/jobs
// status is a comma separated list; no status lists every job
func (h *Handler) ListJobs(c *gin.Context) {
	queueName := c.Param("queue")

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, "Invalid query parameters", err)
		return
	}

	statuses, err := parseStatuses(req.Status)
	if err != nil {
		h.respondError(c, "Invalid query parameters", err)
		return
	}

	if req.Limit <= 0 {
		req.Limit = defaultPageSize
	}
	if req.Limit > maxPageSize {
		req.Limit = maxPageSize
	}

	// one extra row tells whether another page exists
	jobs, err := h.queue.GetJobsByStatus(c.Request.Context(), queueName, statuses, req.Limit+1, req.Offset)
	if err != nil {
		h.respondError(c, "Failed to list jobs", err)
		return
	}

	resp := dto.ListJobsResponse{
		Queue:  queueName,
		Jobs:   jobs,
		Limit:  req.Limit,
		Offset: req.Offset,
	}
	if len(jobs) > req.Limit {
		resp.Jobs = jobs[:req.Limit]
		next := req.Offset + req.Limit
		resp.NextOffset = &next
	}
	if resp.Jobs == nil {
		resp.Jobs = []*domain.Job{}
	}

	c.JSON(http.StatusOK, resp)
}

func parseStatuses(raw string) ([]domain.JobStatus, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	v := &domain.ValidationError{}
	var out []domain.JobStatus
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		st, ok := domain.ParseJobStatus(part)
		if !ok {
			v.Add("unknown status %q", part)
			continue
		}
		out = append(out, st)
	}
	return out, v.Err()
}

// GetJob handles GET /api/v1/queues/:queue/jobs/:id
func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.queue.GetJob(c.Request.Context(), c.Param("queue"), c.Param("id"))
	if err != nil {
		h.respondError(c, "Failed to get job", err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// RetryJob handles POST /api/v1/queues/:queue/jobs/:id/retry
// Only failed jobs are retried; other statuses answer 409 without change.
func (h *Handler) RetryJob(c *gin.Context) {
	id := c.Param("id")

	retried, err := h.queue.RetryJob(c.Request.Context(), c.Param("queue"), id)
	if err != nil {
		h.respondError(c, "Failed to retry job", err)
		return
	}

	status := http.StatusOK
	if !retried {
		status = http.StatusConflict
	}
	c.JSON(status, dto.RetryJobResponse{JobID: id, Retried: retried})
}

// DeleteJob handles DELETE /api/v1/queues/:queue/jobs/:id
func (h *Handler) DeleteJob(c *gin.Context) {
	if err := h.queue.DeleteJob(c.Request.Context(), c.Param("queue"), c.Param("id")); err != nil {
		h.respondError(c, "Failed to delete job", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// QueueStats handles GET /api/v1/queues/:queue/stats
func (h *Handler) QueueStats(c *gin.Context) {
	stats, err := h.queue.GetQueueStats(c.Request.Context(), c.Param("queue"))
	if err != nil {
		h.respondError(c, "Failed to get queue stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// CleanupJobs handles POST /api/v1/jobs/cleanup
func (h *Handler) CleanupJobs(c *gin.Context) {
	var req dto.CleanupJobsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Invalid request body", err)
		return
	}

	n, err := h.queue.CleanupOldJobs(c.Request.Context(), req.Queue, req.OlderThanDays)
	if err != nil {
		h.respondError(c, "Failed to clean up jobs", err)
		return
	}

	c.JSON(http.StatusOK, dto.CleanupJobsResponse{Deleted: n, OlderThanDays: req.OlderThanDays})
}
