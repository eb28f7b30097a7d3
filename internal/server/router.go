package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/psillyops/psillyops-backend/internal/handlers"
	"github.com/psillyops/psillyops-backend/internal/middleware"
)

type RouterConfig struct {
	CORSOrigins    []string
	AuthHandler    *handlers.AuthHandler
	AuthMiddleware *middleware.AuthMiddleware
	RunHandler     *handlers.ProductionRunHandler
	SSEHandler     *handlers.SSEHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// Public
	router.GET("/healthcheck", handlers.HealthCheck)
	router.POST("/api/register", cfg.AuthHandler.Register)
	router.POST("/api/login", cfg.AuthHandler.Login)
	router.GET("/api/track/:code", cfg.RunHandler.ResolveTrackingToken)

	// Protected
	protected := router.Group("/api")
	protected.Use(cfg.AuthMiddleware.RequireAuth())

	protected.POST("/runs", cfg.RunHandler.CreateRun)
	protected.GET("/runs", cfg.RunHandler.ListRuns)
	protected.GET("/runs/:id", cfg.RunHandler.GetRun)
	protected.GET("/runs/:id/activity", cfg.RunHandler.RunActivity)
	protected.POST("/runs/:id/steps", cfg.RunHandler.AddStep)
	protected.POST("/runs/:id/reorder", cfg.RunHandler.ReorderSteps)
	protected.POST("/runs/:id/edit/propose", cfg.RunHandler.ProposeEdit)
	protected.POST("/runs/:id/edit/confirm", cfg.RunHandler.ConfirmEdit)

	protected.POST("/steps/:id/start", cfg.RunHandler.StartStep)
	protected.POST("/steps/:id/stop", cfg.RunHandler.StopStep)
	protected.POST("/steps/:id/complete", cfg.RunHandler.CompleteStep)
	protected.POST("/steps/:id/skip", cfg.RunHandler.SkipStep)
	protected.PATCH("/steps/:id", cfg.RunHandler.UpdateStep)
	protected.DELETE("/steps/:id", cfg.RunHandler.DeleteStep)
	protected.POST("/steps/:id/claim", cfg.RunHandler.ClaimStep)
	protected.POST("/steps/:id/assign", cfg.RunHandler.AssignStep)

	protected.GET("/me/steps", cfg.RunHandler.MyAssignedSteps)
	protected.GET("/me/runs", cfg.RunHandler.MyActiveRuns)

	protected.GET("/sse/runs", cfg.SSEHandler.Stream)

	return router
}
