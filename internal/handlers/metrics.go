package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/offboarding/internal/services"
)

// Metrics serves the Prometheus registry of the service.
func Metrics() gin.HandlerFunc {
	return gin.WrapH(services.MetricsHandler())
}
