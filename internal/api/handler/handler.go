package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/jobcore/internal/api/dto"
	"github.com/cuongbtq/jobcore/internal/domain"
	"github.com/cuongbtq/jobcore/internal/maintenance"
	"github.com/cuongbtq/jobcore/internal/queue"
	"github.com/cuongbtq/jobcore/internal/scheduler"
	"github.com/gin-gonic/gin"
)

// QueueService is the queue engine as seen by the admin API
type QueueService interface {
	AddJob(ctx context.Context, queue string, payload any, opts queue.AddOptions) (*domain.Job, error)
	GetJob(ctx context.Context, queue, id string) (*domain.Job, error)
	GetJobsByStatus(ctx context.Context, queue string, statuses []domain.JobStatus, limit, offset int) ([]*domain.Job, error)
	RetryJob(ctx context.Context, queue, id string) (bool, error)
	DeleteJob(ctx context.Context, queue, id string) error
	CleanupOldJobs(ctx context.Context, queue string, olderThanDays int) (int, error)
	GetQueueStats(ctx context.Context, queue string) (domain.QueueStats, error)
	Queues() []queue.QueueInfo
}

// SchedulerService is the scheduler engine as seen by the admin API
type SchedulerService interface {
	GetJob(ctx context.Context, ref string) (*domain.ScheduledJobConfig, error)
	ListJobs(ctx context.Context) ([]*domain.ScheduledJobConfig, error)
	CreateJob(ctx context.Context, req scheduler.CreateRequest) (*domain.ScheduledJobConfig, error)
	UpdateJob(ctx context.Context, ref string, req scheduler.UpdateRequest) (*domain.ScheduledJobConfig, error)
	DeleteJob(ctx context.Context, ref string) error
	PauseJob(ctx context.Context, ref string) (*domain.ScheduledJobConfig, error)
	ResumeJob(ctx context.Context, ref string) (*domain.ScheduledJobConfig, error)
	TriggerJob(ctx context.Context, ref string) (scheduler.Outcome, error)
	TaskNames() []string
	Status(ctx context.Context) (scheduler.Status, error)
}

// MaintenanceService runs maintenance tasks on demand
type MaintenanceService interface {
	Run(ctx context.Context, kind string) (maintenance.Result, error)
}

// HealthChecker reports whether the record store is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Queue       QueueService
	Scheduler   SchedulerService
	Maintenance MaintenanceService
	Health      HealthChecker
	KnownQueues []string
	ServiceName string
}

// Handler serves the admin API
type Handler struct {
	logger      *slog.Logger
	queue       QueueService
	scheduler   SchedulerService
	maintenance MaintenanceService
	health      HealthChecker
	knownQueues []string
	serviceName string
}

// New creates a Handler instance
func New(deps *Dependencies) *Handler {
	h := &Handler{
		logger:      deps.Logger,
		queue:       deps.Queue,
		scheduler:   deps.Scheduler,
		maintenance: deps.Maintenance,
		health:      deps.Health,
		knownQueues: deps.KnownQueues,
		serviceName: deps.ServiceName,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.serviceName == "" {
		h.serviceName = "jobcore"
	}
	return h
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondError(c *gin.Context, msg string, err error) {
	status := statusFor(err)

	resp := dto.ErrorResponse{Error: msg}
	var v *domain.ValidationError
	if errors.As(err, &v) {
		resp.Details = v.Problems
	}
	if status != http.StatusInternalServerError {
		resp.Error = msg + ": " + err.Error()
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error(msg,
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err),
		)
	} else {
		h.logger.Warn(msg,
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err),
		)
	}

	_ = c.Error(err)
	c.JSON(status, resp)
}

func (h *Handler) badRequest(c *gin.Context, msg string, err error) {
	h.logger.Error(msg, slog.String("error", err.Error()))
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: msg, Details: []string{err.Error()}})
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	if h.health != nil {
		if err := h.health.Ping(c.Request.Context()); err != nil {
			h.logger.Error("Health check failed", slog.Any("error", err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": h.serviceName,
				"error":   err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": h.serviceName,
	})
}
