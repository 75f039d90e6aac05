package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/huangang/offboarding/internal/models"
	"github.com/huangang/offboarding/internal/offboarding"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

var ErrRatingNotFound = errors.New("rating not found")

const ratingsListTimeout = 10 * time.Second

// RatingService stores conversation ratings. It is the backend of both the
// ratings feed and the submission commands.
type RatingService struct {
	db    *gorm.DB
	loads singleflight.Group
}

func NewRatingService(db *gorm.DB) *RatingService {
	return &RatingService{db: db}
}

// ListByConversation returns every rating of a conversation, oldest first.
// Concurrent loads of the same conversation share one query, which outlives
// the cancellation of any single caller. The result is never nil.
func (s *RatingService) ListByConversation(ctx context.Context, conversationID uint) ([]offboarding.Rating, error) {
	key := strconv.FormatUint(uint64(conversationID), 10)
	ch := s.loads.DoChan(key, func() (interface{}, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ratingsListTimeout)
		defer cancel()

		var rows []models.Rating
		err := s.db.WithContext(qctx).
			Where("conversation_id = ?", conversationID).
			Order("created_at ASC, id ASC").
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("list ratings of conversation %d: %w", conversationID, err)
		}
		out := make([]offboarding.Rating, 0, len(rows))
		for i := range rows {
			out = append(out, rows[i].ToDomain())
		}
		return out, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	shared := res.Val.([]offboarding.Rating)
	out := make([]offboarding.Rating, len(shared))
	copy(out, shared)
	return out, nil
}

// Create adds a new rating to a conversation.
func (s *RatingService) Create(ctx context.Context, conversationID uint, score offboarding.Score, comment *string) (offboarding.Rating, error) {
	if !score.Valid() {
		return offboarding.Rating{}, fmt.Errorf("create rating: invalid score %q", score)
	}
	var conv models.Conversation
	if err := s.db.WithContext(ctx).Select("id").First(&conv, conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return offboarding.Rating{}, ErrConversationNotFound
		}
		return offboarding.Rating{}, fmt.Errorf("create rating: %w", err)
	}

	row := models.Rating{
		ConversationID: conversationID,
		Score:          score,
		Comment:        comment,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return offboarding.Rating{}, fmt.Errorf("create rating: %w", err)
	}
	return row.ToDomain(), nil
}

// UpdateScore changes the score of an existing rating, keeping its comment.
func (s *RatingService) UpdateScore(ctx context.Context, ratingID uint, score offboarding.Score) (offboarding.Rating, error) {
	if !score.Valid() {
		return offboarding.Rating{}, fmt.Errorf("update rating %d: invalid score %q", ratingID, score)
	}
	return s.update(ctx, ratingID, map[string]interface{}{"score": score})
}

// UpdateFeedback sets both the score and the comment of an existing rating.
func (s *RatingService) UpdateFeedback(ctx context.Context, ratingID uint, score offboarding.Score, comment string) (offboarding.Rating, error) {
	if !score.Valid() {
		return offboarding.Rating{}, fmt.Errorf("update rating %d: invalid score %q", ratingID, score)
	}
	return s.update(ctx, ratingID, map[string]interface{}{"score": score, "comment": comment})
}

func (s *RatingService) update(ctx context.Context, ratingID uint, updates map[string]interface{}) (offboarding.Rating, error) {
	var row models.Rating
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&row, ratingID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRatingNotFound
			}
			return err
		}
		if err := tx.Model(&row).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&row, ratingID).Error
	})
	if err != nil {
		if errors.Is(err, ErrRatingNotFound) {
			return offboarding.Rating{}, err
		}
		return offboarding.Rating{}, fmt.Errorf("update rating %d: %w", ratingID, err)
	}
	return row.ToDomain(), nil
}
