package handler

import (
	"errors"
	"net/http"

	"github.com/cuongbtq/jobcore/internal/api/dto"
	"github.com/cuongbtq/jobcore/internal/domain"
	"github.com/cuongbtq/jobcore/internal/scheduler"
	"github.com/gin-gonic/gin"
)

// ListScheduledJobs handles GET /api/v1/scheduled-jobs
func (h *Handler) ListScheduledJobs(c *gin.Context) {
	cfgs, err := h.scheduler.ListJobs(c.Request.Context())
	if err != nil {
		h.respondError(c, "Failed to list scheduled jobs", err)
		return
	}
	if cfgs == nil {
		cfgs = []*domain.ScheduledJobConfig{}
	}
	c.JSON(http.StatusOK, dto.ListScheduledJobsResponse{
		ScheduledJobs: cfgs,
		Tasks:         h.scheduler.TaskNames(),
	})
}

// GetScheduledJob handles GET /api/v1/scheduled-jobs/:ref
func (h *Handler) GetScheduledJob(c *gin.Context) {
	cfg, err := h.scheduler.GetJob(c.Request.Context(), c.Param("ref"))
	if err != nil {
		h.respondError(c, "Failed to get scheduled job", err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// CreateScheduledJob handles POST /api/v1/scheduled-jobs
// The name must match a registered task.
func (h *Handler) CreateScheduledJob(c *gin.Context) {
	var req dto.CreateScheduledJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Invalid request body", err)
		return
	}

	cfg, err := h.scheduler.CreateJob(c.Request.Context(), scheduler.CreateRequest{
		Name:           req.Name,
		CronExpression: req.CronExpression,
		Description:    req.Description,
		Paused:         req.Paused,
	})
	if err != nil {
		h.respondError(c, "Failed to create scheduled job", err)
		return
	}
	c.JSON(http.StatusCreated, cfg)
}

// UpdateScheduledJob handles PUT /api/v1/scheduled-jobs/:ref
func (h *Handler) UpdateScheduledJob(c *gin.Context) {
	var req dto.UpdateScheduledJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Invalid request body", err)
		return
	}

	cfg, err := h.scheduler.UpdateJob(c.Request.Context(), c.Param("ref"), scheduler.UpdateRequest{
		CronExpression: req.CronExpression,
		Description:    req.Description,
	})
	if err != nil {
		h.respondError(c, "Failed to update scheduled job", err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// DeleteScheduledJob handles DELETE /api/v1/scheduled-jobs/:ref
func (h *Handler) DeleteScheduledJob(c *gin.Context) {
	if err := h.scheduler.DeleteJob(c.Request.Context(), c.Param("ref")); err != nil {
		h.respondError(c, "Failed to delete scheduled job", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PauseScheduledJob handles POST /api/v1/scheduled-jobs/:ref/pause
func (h *Handler) PauseScheduledJob(c *gin.Context) {
	cfg, err := h.scheduler.PauseJob(c.Request.Context(), c.Param("ref"))
	if err != nil {
		h.respondError(c, "Failed to pause scheduled job", err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// ResumeScheduledJob handles POST /api/v1/scheduled-jobs/:ref/resume
func (h *Handler) ResumeScheduledJob(c *gin.Context) {
	cfg, err := h.scheduler.ResumeJob(c.Request.Context(), c.Param("ref"))
	if err != nil {
		h.respondError(c, "Failed to resume scheduled job", err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// TriggerScheduledJob handles POST /api/v1/scheduled-jobs/:ref/trigger
// A task failure is recorded on the job and reported with 200; lookup and
// store failures map to their own status codes.
func (h *Handler) TriggerScheduledJob(c *gin.Context) {
	ref := c.Param("ref")

	outcome, err := h.scheduler.TriggerJob(c.Request.Context(), ref)
	if err != nil {
		var storeErr *domain.StoreError
		if domain.IsNotFound(err) || errors.As(err, &storeErr) {
			h.respondError(c, "Failed to trigger scheduled job", err)
			return
		}
		c.JSON(http.StatusOK, dto.TriggerResponse{Job: ref, Outcome: outcome, Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.TriggerResponse{Job: ref, Outcome: outcome})
}
