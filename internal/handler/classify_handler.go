package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/worktag-backend-go/internal/analysis/hybrid"
	"github.com/jengzang/worktag-backend-go/internal/models"
	"github.com/jengzang/worktag-backend-go/internal/service"
	"github.com/jengzang/worktag-backend-go/pkg/response"
)

// ClassifyHandler handles worker-day classification and timeline lookups
type ClassifyHandler struct {
	service *service.ClassificationService
}

// NewClassifyHandler creates a new classify handler
func NewClassifyHandler(service *service.ClassificationService) *ClassifyHandler {
	return &ClassifyHandler{service: service}
}

// ClassifyRequest is one worker-day of inline events
type ClassifyRequest struct {
	Worker   models.WorkerContext `json:"worker"`
	WorkDate string               `json:"work_date"` // YYYY-MM-DD, optional
	Events   []models.TagEvent    `json:"events"`
}

// Classify classifies inline events without storing them
// POST /api/v1/classify
func (h *ClassifyHandler) Classify(c *gin.Context) {
	var req ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	if req.Worker.WorkerID == "" {
		response.BadRequest(c, "worker.worker_id is required")
		return
	}
	if req.Worker.Role == "" {
		req.Worker.Role = models.RoleUnknown
	}

	var workDate time.Time
	if req.WorkDate != "" {
		loc := time.UTC
		for _, e := range req.Events {
			if !e.Timestamp.IsZero() {
				loc = e.Timestamp.Location()
				break
			}
		}
		d, err := time.ParseInLocation(models.DateLayout, req.WorkDate, loc)
		if err != nil {
			response.BadRequest(c, "Invalid work_date, expected YYYY-MM-DD")
			return
		}
		workDate = d
	}

	res, err := h.service.ClassifyEvents(c.Request.Context(), req.Worker, workDate, req.Events)
	if errors.Is(err, hybrid.ErrTimelineCorrupt) {
		response.Failed(c, http.StatusUnprocessableEntity, err.Error(), res)
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, res)
}

// GetTimeline returns a stored worker-day
// GET /api/v1/workers/:id/timelines/:date
func (h *ClassifyHandler) GetTimeline(c *gin.Context) {
	res, err := h.service.GetTimeline(c.Request.Context(), c.Param("id"), c.Param("date"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, res)
}

// ListTimelines lists stored day summaries of a worker
// GET /api/v1/workers/:id/timelines?from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *ClassifyHandler) ListTimelines(c *gin.Context) {
	from := c.Query("from")
	to := c.Query("to")
	if _, err := time.Parse(models.DateLayout, from); err != nil {
		response.BadRequest(c, "Invalid from date")
		return
	}
	if _, err := time.Parse(models.DateLayout, to); err != nil {
		response.BadRequest(c, "Invalid to date")
		return
	}
	list, err := h.service.ListTimelines(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	response.List(c, "days", list, gin.H{"worker_id": c.Param("id")})
}
