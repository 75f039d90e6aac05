package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/huangang/offboarding/internal/models"
	"github.com/huangang/offboarding/internal/offboarding"
	"gorm.io/gorm"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrEmptyReply           = errors.New("reply body is empty")
	ErrInvalidStatus        = errors.New("invalid conversation status")
)

type ConversationService struct {
	db *gorm.DB
}

func NewConversationService(db *gorm.DB) *ConversationService {
	return &ConversationService{db: db}
}

// Create opens a new conversation for a customer.
func (s *ConversationService) Create(ctx context.Context, customerID uint, subject string) (*models.Conversation, error) {
	conv := &models.Conversation{
		Subject:    subject,
		CustomerID: customerID,
		Status:     offboarding.StatusNew,
	}
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// Get loads a conversation by ID.
func (s *ConversationService) Get(ctx context.Context, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.WithContext(ctx).First(&conv, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("load conversation %d: %w", id, err)
	}
	return &conv, nil
}

// UpdateStatus moves a conversation to status, as an agent would.
func (s *ConversationService) UpdateStatus(ctx context.Context, id uint, status offboarding.Status) (*models.Conversation, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("update conversation %d to %q: %w", id, status, ErrInvalidStatus)
	}
	conv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.Status == status {
		return conv, nil
	}
	if err := s.db.WithContext(ctx).Model(conv).Update("status", status).Error; err != nil {
		return nil, fmt.Errorf("update conversation %d: %w", id, err)
	}
	conv.Status = status
	return conv, nil
}

// AddReply appends a customer reply. Replying to a completed conversation
// reopens it; closed conversations stay closed.
func (s *ConversationService) AddReply(ctx context.Context, id, authorID uint, body string) (*models.Conversation, *models.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, nil, ErrEmptyReply
	}

	var (
		conv models.Conversation
		msg  models.Message
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&conv, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrConversationNotFound
			}
			return err
		}

		msg = models.Message{ConversationID: conv.ID, AuthorID: authorID, Body: body}
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}

		if conv.Status == offboarding.StatusCompleted {
			if err := tx.Model(&conv).Update("status", offboarding.StatusOpen).Error; err != nil {
				return err
			}
			conv.Status = offboarding.StatusOpen
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("add reply to conversation %d: %w", id, err)
	}
	return &conv, &msg, nil
}
