package models

import "time"

// SubmissionLog records the outcome of every rating command sent on behalf
// of a conversation view.
type SubmissionLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SessionID      string    `gorm:"size:64;index" json:"session_id"`
	ConversationID uint      `gorm:"index" json:"conversation_id"`
	Kind           string    `gorm:"size:30;not null" json:"kind"` // create, update_score, update_feedback
	RatingID       *uint     `json:"rating_id"`
	Score          string    `gorm:"size:10" json:"score"`
	Comment        *string   `gorm:"type:text" json:"comment"`
	Status         string    `gorm:"size:20;index" json:"status"` // succeeded, failed
	ErrorMessage   string    `gorm:"type:text" json:"error_message"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

func (SubmissionLog) TableName() string { return "submission_logs" }
