package services

import (
	"context"
	"fmt"

	"github.com/huangang/offboarding/internal/models"
	"github.com/huangang/offboarding/internal/offboarding"
	"github.com/huangang/offboarding/pkg/logger"
	"gorm.io/gorm"
)

// SubmissionProcessor runs rating commands against the rating store and
// reports each outcome to the session that sent it.
type SubmissionProcessor struct {
	db       *gorm.DB
	ratings  *RatingService
	sessions *SessionManager
}

func NewSubmissionProcessor(db *gorm.DB, ratings *RatingService, sessions *SessionManager) *SubmissionProcessor {
	return &SubmissionProcessor{db: db, ratings: ratings, sessions: sessions}
}

// Process runs one task. The returned error is for the queue's logs only;
// the session has already been told about the failure.
func (p *SubmissionProcessor) Process(ctx context.Context, task *SubmissionTask) error {
	rating, err := p.apply(ctx, task)
	p.record(ctx, task, rating, err)

	if err != nil {
		submissionResults.WithLabelValues(string(task.Kind), "failed").Inc()
		logger.Warn().Err(err).
			Str("session_id", task.SessionID).
			Str("kind", string(task.Kind)).
			Msg("[Submission] rating command failed")
		p.sessions.Fail(task.SessionID, task.Score, task.Comment)
		return err
	}

	submissionResults.WithLabelValues(string(task.Kind), "succeeded").Inc()
	p.sessions.Complete(task.SessionID, rating)
	return nil
}

func (p *SubmissionProcessor) apply(ctx context.Context, task *SubmissionTask) (offboarding.Rating, error) {
	switch task.Kind {
	case SubmissionCreate:
		return p.ratings.Create(ctx, task.ConversationID, task.Score, task.Comment)
	case SubmissionUpdateScore:
		return p.ratings.UpdateScore(ctx, task.RatingID, task.Score)
	case SubmissionUpdateFeedback:
		if task.Comment == nil {
			return offboarding.Rating{}, fmt.Errorf("update feedback of rating %d without a comment", task.RatingID)
		}
		return p.ratings.UpdateFeedback(ctx, task.RatingID, task.Score, *task.Comment)
	default:
		return offboarding.Rating{}, fmt.Errorf("unknown submission kind %q", task.Kind)
	}
}

// record writes the audit row; a failure to write it does not affect the
// submission.
func (p *SubmissionProcessor) record(ctx context.Context, task *SubmissionTask, rating offboarding.Rating, err error) {
	entry := models.SubmissionLog{
		SessionID:      task.SessionID,
		ConversationID: task.ConversationID,
		Kind:           string(task.Kind),
		Score:          string(task.Score),
		Comment:        task.Comment,
		Status:         "succeeded",
	}
	if task.RatingID != 0 {
		id := task.RatingID
		entry.RatingID = &id
	}
	if err != nil {
		entry.Status = "failed"
		entry.ErrorMessage = err.Error()
	} else if rating.ID != 0 {
		id := rating.ID
		entry.RatingID = &id
	}

	if dbErr := p.db.WithContext(ctx).Create(&entry).Error; dbErr != nil {
		logger.Error().Err(dbErr).Str("session_id", task.SessionID).Msg("[Submission] failed to write submission log")
	}
}

// ListSubmissionLogs returns the most recent submission logs of a conversation.
func (p *SubmissionProcessor) ListSubmissionLogs(ctx context.Context, conversationID uint, limit int) ([]models.SubmissionLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var logs []models.SubmissionLog
	err := p.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
