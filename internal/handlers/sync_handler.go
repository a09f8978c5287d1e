package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/repository"
	"catalog-sync-service/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SyncService is what the handler needs from the reconciliation service
type SyncService interface {
	Status() services.StatusView
	VerifyConnectivity(ctx context.Context) (services.ConnectivityStatus, error)
	ForceReverify()
	InvalidateCache()
	GetCycle(ctx context.Context, id uuid.UUID) (*models.SyncCycle, error)
	ListCycles(ctx context.Context, opts repository.CycleListOptions) ([]models.SyncCycle, int64, error)
	GetCycleLogs(ctx context.Context, id uuid.UUID, opts repository.LogListOptions) ([]models.SyncCycleLog, error)
	GetStats(ctx context.Context) (*models.SyncStats, error)
}

// Scheduler queues cycles
type Scheduler interface {
	Trigger(trigger models.TriggerType) error
	NextRun() time.Time
}

// SyncHandler handles reconciliation endpoints
type SyncHandler struct {
	service   SyncService
	scheduler Scheduler
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(service SyncService, scheduler Scheduler) *SyncHandler {
	return &SyncHandler{
		service:   service,
		scheduler: scheduler,
	}
}

// Trigger queues a manual cycle
func (h *SyncHandler) Trigger(c *gin.Context) {
	if err := h.scheduler.Trigger(models.TriggerManual); err != nil {
		if errors.Is(err, services.ErrCycleInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": "An update is already running!"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "update queued"})
}

// Verify forgets the cached connectivity result and probes every collaborator
func (h *SyncHandler) Verify(c *gin.Context) {
	h.service.ForceReverify()

	status, err := h.service.VerifyConnectivity(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"data":  status,
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": status})
}

// InvalidateCache forces the next cycle to refresh the remote mirror
func (h *SyncHandler) InvalidateCache(c *gin.Context) {
	h.service.InvalidateCache()
	c.JSON(http.StatusAccepted, gin.H{"message": "cache will be refreshed on the next update"})
}

// Status returns the running state, cache state and next scheduled run
func (h *SyncHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"data":    h.service.Status(),
		"nextRun": h.scheduler.NextRun(),
	})
}

// Stats returns aggregate counts over the cycle journal
func (h *SyncHandler) Stats(c *gin.Context) {
	stats, err := h.service.GetStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": stats})
}

// ListCycles returns journaled cycles, newest first
func (h *SyncHandler) ListCycles(c *gin.Context) {
	limit, offset := paging(c)
	opts := repository.CycleListOptions{
		Status:  c.Query("status"),
		Trigger: c.Query("trigger"),
		Limit:   limit,
		Offset:  offset,
	}

	cycles, total, err := h.service.ListCycles(c.Request.Context(), opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  cycles,
		"total": total,
	})
}

// GetCycle returns a single cycle
func (h *SyncHandler) GetCycle(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	cycle, err := h.service.GetCycle(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "cycle not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": cycle})
}

// GetCycleLogs returns the journal lines of a cycle
func (h *SyncHandler) GetCycleLogs(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	limit, offset := paging(c)
	opts := repository.LogListOptions{
		Level:  c.Query("level"),
		Kind:   c.Query("kind"),
		Limit:  limit,
		Offset: offset,
	}

	logs, err := h.service.GetCycleLogs(c.Request.Context(), id, opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": logs})
}

// paging reads limit and offset, defaulting to 50 and 0
func paging(c *gin.Context) (int, int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
