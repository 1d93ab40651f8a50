package handler

import (
	"net/http"

	"github.com/cuongbtq/jobcore/internal/api/dto"
	"github.com/cuongbtq/jobcore/internal/domain"
	"github.com/gin-gonic/gin"
)

// RunMaintenance handles POST /api/v1/maintenance/run
func (h *Handler) RunMaintenance(c *gin.Context) {
	var req dto.RunMaintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Invalid request body", err)
		return
	}

	res, err := h.maintenance.Run(c.Request.Context(), req.Task)
	if err != nil {
		h.respondError(c, "Failed to run maintenance", err)
		return
	}
	c.JSON(http.StatusOK, dto.RunMaintenanceResponse{Task: req.Task, Result: res})
}

// SystemStatus handles GET /api/v1/system/status
func (h *Handler) SystemStatus(c *gin.Context) {
	ctx := c.Request.Context()

	sched, err := h.scheduler.Status(ctx)
	if err != nil {
		h.respondError(c, "Failed to get scheduler status", err)
		return
	}

	stats := make([]domain.QueueStats, 0, len(h.knownQueues))
	for _, name := range h.knownQueues {
		s, err := h.queue.GetQueueStats(ctx, name)
		if err != nil {
			h.respondError(c, "Failed to get queue stats", err)
			return
		}
		stats = append(stats, s)
	}

	c.JSON(http.StatusOK, dto.SystemStatusResponse{
		Scheduler: sched,
		Queues:    h.queue.Queues(),
		Stats:     stats,
	})
}
