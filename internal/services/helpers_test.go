package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/huangang/offboarding/internal/config"
	"github.com/huangang/offboarding/internal/models"
	"github.com/huangang/offboarding/internal/offboarding"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, models.Migrate(db))
	return db
}

func seedConversation(t *testing.T, db *gorm.DB, status offboarding.Status) *models.Conversation {
	t.Helper()
	conv := &models.Conversation{Subject: "Refund", CustomerID: 7, Status: status}
	require.NoError(t, db.Create(conv).Error)
	return conv
}

// testStack wires the services the way the server does, on an in-process queue.
type testStack struct {
	db            *gorm.DB
	conversations *ConversationService
	ratings       *RatingService
	hub           *ViewEventHub
	queue         *SyncQueue
	sessions      *SessionManager
	processor     *SubmissionProcessor
}

func newTestStack(t *testing.T, cfg config.SessionConfig) *testStack {
	return newTestStackWithQueue(t, cfg, nil)
}

// newTestStackWithQueue lets a test put its own TaskQueue in front of the
// in-process one.
func newTestStackWithQueue(t *testing.T, cfg config.SessionConfig, wrap func(TaskQueue) TaskQueue) *testStack {
	t.Helper()

	db := newTestDB(t)
	st := &testStack{
		db:            db,
		conversations: NewConversationService(db),
		ratings:       NewRatingService(db),
		hub:           NewViewEventHub(),
		queue:         NewSyncQueue(),
	}
	var q TaskQueue = st.queue
	if wrap != nil {
		q = wrap(q)
	}
	st.sessions = NewSessionManager(st.conversations, st.ratings, q, st.hub, cfg)
	st.processor = NewSubmissionProcessor(db, st.ratings, st.sessions)
	st.queue.SetProcessor(st.processor.Process)
	t.Cleanup(func() { st.queue.Close() })
	return st
}

func (st *testStack) ratingRows(t *testing.T, conversationID uint) []models.Rating {
	t.Helper()
	var rows []models.Rating
	require.NoError(t, st.db.WithContext(context.Background()).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Find(&rows).Error)
	return rows
}
