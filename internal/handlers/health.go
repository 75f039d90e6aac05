package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/huangang/offboarding/internal/services"
	"gorm.io/gorm"
)

// HealthHandler reports the state of the subsystems behind the API.
type HealthHandler struct {
	db       *gorm.DB
	queue    services.TaskQueue
	sessions *services.SessionManager
	hub      *services.ViewEventHub
}

func NewHealthHandler(db *gorm.DB, queue services.TaskQueue, sessions *services.SessionManager, hub *services.ViewEventHub) *HealthHandler {
	return &HealthHandler{db: db, queue: queue, sessions: sessions, hub: hub}
}

// CheckHealth returns the health status of all subsystems.
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"
	code := http.StatusOK

	dbStatus := "ok"
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	queueMode := "sync"
	if h.queue != nil && h.queue.IsAsync() {
		queueMode = "async (Redis)"
	}

	c.JSON(code, gin.H{
		"status":  overall,
		"service": "offboarding",
		"components": gin.H{
			"database":        dbStatus,
			"queue_mode":      queueMode,
			"active_sessions": h.sessions.Count(),
			"view_clients":    h.hub.ClientCount(),
		},
	})
}
