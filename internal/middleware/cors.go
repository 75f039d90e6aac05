package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/huangang/offboarding/pkg/logger"
)

// CORS returns a CORS middleware
func CORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "Cache-Control", "Last-Event-ID", logger.SessionHeader},
		ExposeHeaders:    []string{"Content-Length", logger.SessionHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}
