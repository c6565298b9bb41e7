package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/worktag-backend-go/internal/models"
	"github.com/jengzang/worktag-backend-go/internal/service"
	"github.com/jengzang/worktag-backend-go/pkg/response"
)

// ModelHandler handles model training and inspection
type ModelHandler struct {
	service *service.TrainingService
}

// NewModelHandler creates a new model handler
func NewModelHandler(service *service.TrainingService) *ModelHandler {
	return &ModelHandler{service: service}
}

// TrainRequest selects the work dates to train on, both inclusive
type TrainRequest struct {
	StartDate string `json:"start_date" binding:"required"`
	EndDate   string `json:"end_date" binding:"required"`
}

// Train fits the model to stored events and publishes it
// POST /api/v1/admin/model/train
func (h *ModelHandler) Train(c *gin.Context) {
	var req TrainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	from, err := time.ParseInLocation(models.DateLayout, req.StartDate, time.Local)
	if err != nil {
		response.BadRequest(c, "Invalid start_date")
		return
	}
	to, err := time.ParseInLocation(models.DateLayout, req.EndDate, time.Local)
	if err != nil || to.Before(from) {
		response.BadRequest(c, "Invalid end_date")
		return
	}

	out, err := h.service.Train(c.Request.Context(), from, to.AddDate(0, 0, 1))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, out)
}

// GetModel returns the snapshot in use and the stored history
// GET /api/v1/admin/model
func (h *ModelHandler) GetModel(c *gin.Context) {
	history, err := h.service.History(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"current": h.service.Current(),
		"history": history,
	})
}
