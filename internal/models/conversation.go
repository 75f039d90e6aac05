package models

import (
	"time"

	"github.com/huangang/offboarding/internal/offboarding"
)

// Conversation is a support conversation between a customer and agents.
type Conversation struct {
	ID         uint               `gorm:"primaryKey" json:"id"`
	Subject    string             `gorm:"size:255" json:"subject"`
	CustomerID uint               `gorm:"index" json:"customer_id"`
	Status     offboarding.Status `gorm:"size:20;index;not null;default:new" json:"status"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Message is a reply posted to a conversation.
type Message struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID uint      `gorm:"index;not null" json:"conversation_id"`
	AuthorID       uint      `json:"author_id"`
	Body           string    `gorm:"type:text;not null" json:"body"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

func (Conversation) TableName() string { return "conversations" }
func (Message) TableName() string      { return "messages" }
