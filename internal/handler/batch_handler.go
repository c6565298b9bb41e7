package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/worktag-backend-go/internal/middleware"
	"github.com/jengzang/worktag-backend-go/internal/service"
	"github.com/jengzang/worktag-backend-go/pkg/response"
)

// BatchHandler handles HTTP requests for batch classification jobs
type BatchHandler struct {
	service *service.BatchService
	// runs outlive the request that started them
	baseCtx context.Context
}

// NewBatchHandler creates a new batch handler. Jobs it starts stop when baseCtx is done.
func NewBatchHandler(baseCtx context.Context, service *service.BatchService) *BatchHandler {
	return &BatchHandler{service: service, baseCtx: baseCtx}
}

// CreateBatchRequest represents the request body for creating a job
type CreateBatchRequest struct {
	StartDate string   `json:"start_date" binding:"required"`
	EndDate   string   `json:"end_date" binding:"required"`
	WorkerIDs []string `json:"worker_ids"`
}

// CreateBatch creates a job and starts it in the background
// POST /api/v1/admin/batches
func (h *BatchHandler) CreateBatch(c *gin.Context) {
	var req CreateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}

	job, err := h.service.CreateJob(c.Request.Context(), req.StartDate, req.EndDate, req.WorkerIDs, c.GetString(middleware.UserKey))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.service.Start(h.baseCtx, job.ID); err != nil {
		writeError(c, err)
		return
	}
	response.Accepted(c, job)
}

// ListBatches lists recent jobs
// GET /api/v1/admin/batches?status=&limit=
func (h *BatchHandler) ListBatches(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		response.BadRequest(c, "Invalid limit")
		return
	}
	jobs, err := h.service.ListJobs(c.Request.Context(), c.Query("status"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	response.List(c, "jobs", jobs, nil)
}

// GetBatch returns a job with its progress
// GET /api/v1/admin/batches/:id
func (h *BatchHandler) GetBatch(c *gin.Context) {
	job, err := h.service.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	progress, err := h.service.GetProgress(c.Request.Context(), job.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"job":      job,
		"progress": progress,
	})
}

// ResumeBatch resumes an interrupted or failed job
// POST /api/v1/admin/batches/:id/resume
func (h *BatchHandler) ResumeBatch(c *gin.Context) {
	job, err := h.service.Resume(h.baseCtx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Accepted(c, job)
}

// CancelBatch stops a job running in this process
// POST /api/v1/admin/batches/:id/cancel
func (h *BatchHandler) CancelBatch(c *gin.Context) {
	if !h.service.Cancel(c.Param("id")) {
		response.NotFound(c, "Job is not running")
		return
	}
	response.Success(c, gin.H{"id": c.Param("id"), "cancelled": true})
}
