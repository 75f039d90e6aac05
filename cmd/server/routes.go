package main

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/offboarding/internal/handlers"
	"github.com/huangang/offboarding/internal/middleware"
	"github.com/huangang/offboarding/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	r.GET("/health", svc.healthHandler.CheckHealth)
	r.GET("/metrics", handlers.Metrics())

	apiLimiter := middleware.NewKeyedRateLimiter(20, 40, middleware.UserOrIPKey)

	api := r.Group("/api")
	api.Use(middleware.AuthRequired(), apiLimiter.Middleware(), middleware.AuditLog())
	{
		conv := svc.conversationHandler
		api.POST("/conversations", conv.Create)
		api.GET("/conversations/:id", conv.Get)
		api.GET("/conversations/:id/ratings", conv.ListRatings)

		agent := api.Group("", middleware.AgentRequired())
		{
			agent.PUT("/conversations/:id/status", conv.UpdateStatus)
			agent.GET("/conversations/:id/submissions", conv.ListSubmissions)
		}

		sess := svc.sessionHandler
		api.POST("/conversations/:id/sessions", sess.Open)
		api.DELETE("/sessions/:sid", sess.Close)
		api.GET("/sessions/:sid/prompt", sess.Prompt)
		api.GET("/sessions/:sid/state", sess.State)
		api.POST("/sessions/:sid/rating", sess.SelectRating)
		api.PUT("/sessions/:sid/rating", sess.ChangeRating)
		api.POST("/sessions/:sid/comment", sess.AddComment)
		api.POST("/sessions/:sid/replies", sess.Reply)
		api.GET("/sessions/:sid/events", sess.Stream)
	}
}
