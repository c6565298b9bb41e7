package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jengzang/worktag-backend-go/internal/config"
	"github.com/jengzang/worktag-backend-go/internal/handler"
	"github.com/jengzang/worktag-backend-go/internal/middleware"
	"github.com/jengzang/worktag-backend-go/internal/service"
)

// Services are the collaborators the routes are served from
type Services struct {
	Classification *service.ClassificationService
	Batch          *service.BatchService
	Training       *service.TrainingService
}

// SetupRouter 设置路由. ctx bounds background work started by requests and the rate limiter.
func SetupRouter(ctx context.Context, cfg *config.Config, svc Services, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger(logger))

	// CORS 中间件
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Worktag Backend API is running",
			"model":   svc.Training.Current().ID,
		})
	})

	if cfg.RateLimit > 0 {
		r.Use(middleware.RateLimit(middleware.NewRateLimiter(ctx, cfg.RateLimit, time.Minute)))
	}

	classify := handler.NewClassifyHandler(svc.Classification)
	batches := handler.NewBatchHandler(ctx, svc.Batch)
	model := handler.NewModelHandler(svc.Training)

	// API 路由组
	api := r.Group("/api/v1")
	{
		api.POST("/classify", classify.Classify)

		// 工人时间线
		workers := api.Group("/workers/:id")
		{
			workers.GET("/timelines", classify.ListTimelines)
			workers.GET("/timelines/:date", classify.GetTimeline)
		}

		// 管理接口 (JWT)
		admin := api.Group("/admin", middleware.JWTAuth(cfg.JWTSecret))
		{
			admin.POST("/batches", batches.CreateBatch)
			admin.GET("/batches", batches.ListBatches)
			admin.GET("/batches/:id", batches.GetBatch)
			admin.POST("/batches/:id/resume", batches.ResumeBatch)
			admin.POST("/batches/:id/cancel", batches.CancelBatch)

			admin.GET("/model", model.GetModel)
			admin.POST("/model/train", model.Train)
		}
	}

	return r
}
