package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/huangang/offboarding/internal/config"
	"github.com/huangang/offboarding/internal/middleware"
	"github.com/huangang/offboarding/internal/models"
	"github.com/huangang/offboarding/internal/services"
	"github.com/huangang/offboarding/internal/utils"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
	utils.SetJWTSecret("test-secret-for-handlers")
}

type testServer struct {
	router   *gin.Engine
	db       *gorm.DB
	sessions *services.SessionManager
	hub      *services.ViewEventHub
	queue    *services.SyncQueue
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, models.Migrate(db))

	conversations := services.NewConversationService(db)
	ratings := services.NewRatingService(db)
	hub := services.NewViewEventHub()
	queue := services.NewSyncQueue()
	sessions := services.NewSessionManager(conversations, ratings, queue, hub, config.SessionConfig{})
	processor := services.NewSubmissionProcessor(db, ratings, sessions)
	queue.SetProcessor(processor.Process)
	t.Cleanup(func() { queue.Close() })

	convHandler := NewConversationHandler(conversations, ratings, sessions, processor)
	sessionHandler := NewSessionHandler(conversations, sessions, hub)

	r := gin.New()
	r.GET("/health", NewHealthHandler(db, queue, sessions, hub).CheckHealth)
	r.GET("/metrics", Metrics())
	api := r.Group("/api", middleware.AuthRequired())
	api.POST("/conversations", convHandler.Create)
	api.GET("/conversations/:id", convHandler.Get)
	api.GET("/conversations/:id/ratings", convHandler.ListRatings)
	api.POST("/conversations/:id/sessions", sessionHandler.Open)
	api.PUT("/conversations/:id/status", middleware.AgentRequired(), convHandler.UpdateStatus)
	api.GET("/conversations/:id/submissions", middleware.AgentRequired(), convHandler.ListSubmissions)
	api.DELETE("/sessions/:sid", sessionHandler.Close)
	api.GET("/sessions/:sid/prompt", sessionHandler.Prompt)
	api.GET("/sessions/:sid/state", sessionHandler.State)
	api.POST("/sessions/:sid/rating", sessionHandler.SelectRating)
	api.PUT("/sessions/:sid/rating", sessionHandler.ChangeRating)
	api.POST("/sessions/:sid/comment", sessionHandler.AddComment)
	api.POST("/sessions/:sid/replies", sessionHandler.Reply)
	api.GET("/sessions/:sid/events", sessionHandler.Stream)

	return &testServer{router: r, db: db, sessions: sessions, hub: hub, queue: queue}
}

func token(t *testing.T, userID uint, role string) string {
	t.Helper()
	tok, err := utils.GenerateToken(userID, fmt.Sprintf("user%d", userID), role, 1)
	require.NoError(t, err)
	return tok
}

// envelope mirrors response.Response with a raw payload.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (ts *testServer) do(t *testing.T, method, path, tok string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func waitIdle(t *testing.T, s *services.Session) {
	t.Helper()
	require.Eventually(t, func() bool {
		queued, inFlight := s.Engine().Pending()
		return queued == 0 && !inFlight
	}, 2*time.Second, 5*time.Millisecond)
}
