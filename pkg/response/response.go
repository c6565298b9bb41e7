package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the envelope of every API reply. Code is 0 on success and the HTTP status
// otherwise. Data may accompany an error, e.g. the partial result of a worker-day that failed.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Success sends a 200 with data
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Message: "success", Data: data})
}

// Accepted sends a 202 for work that continues in the background
func Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, Response{Message: "accepted", Data: data})
}

// List sends a 200 whose data holds items under key plus their count. Extra fields are merged in.
func List[T any](c *gin.Context, key string, items []T, extra gin.H) {
	data := gin.H{key: items, "count": len(items)}
	for k, v := range extra {
		data[k] = v
	}
	Success(c, data)
}

// Error sends an error envelope with status
func Error(c *gin.Context, status int, message string) {
	c.JSON(status, Response{Code: status, Message: message})
}

// Failed sends an error envelope that still carries data
func Failed(c *gin.Context, status int, message string, data any) {
	c.JSON(status, Response{Code: status, Message: message, Data: data})
}

// Abort sends an error envelope and stops the handler chain; middleware uses it
func Abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Response{Code: status, Message: message})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, message)
}

func Conflict(c *gin.Context, message string) {
	Error(c, http.StatusConflict, message)
}

func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, message)
}
