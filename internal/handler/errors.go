package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/worktag-backend-go/internal/analysis/hybrid"
	"github.com/jengzang/worktag-backend-go/internal/repository"
	"github.com/jengzang/worktag-backend-go/internal/service"
	"github.com/jengzang/worktag-backend-go/pkg/response"
)

// writeError maps service errors onto HTTP statuses
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, repository.ErrInvalidInput):
		response.BadRequest(c, err.Error())
	case errors.Is(err, repository.ErrConflict),
		errors.Is(err, service.ErrJobRunning),
		errors.Is(err, service.ErrJobCompleted),
		errors.Is(err, service.ErrTrainingInProgress):
		response.Conflict(c, err.Error())
	case hybrid.IsSystemic(err):
		response.Error(c, http.StatusServiceUnavailable, err.Error())
	default:
		response.InternalError(c, err.Error())
	}
}
