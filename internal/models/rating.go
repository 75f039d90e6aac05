package models

import (
	"time"

	"github.com/huangang/offboarding/internal/offboarding"
)

// Rating is a customer's rating of a conversation. A conversation may collect
// several over its life; the most recently created one is current.
type Rating struct {
	ID             uint              `gorm:"primaryKey" json:"id"`
	ConversationID uint              `gorm:"index;not null" json:"conversation_id"`
	Score          offboarding.Score `gorm:"size:10;not null" json:"score"`
	Comment        *string           `gorm:"type:text" json:"comment"`
	CreatedAt      time.Time         `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func (Rating) TableName() string { return "ratings" }

// ToDomain converts the row into the engine's rating.
func (r *Rating) ToDomain() offboarding.Rating {
	out := offboarding.Rating{
		ID:        r.ID,
		Score:     r.Score,
		CreatedAt: r.CreatedAt,
	}
	if r.Comment != nil {
		out.Comment = offboarding.StringPtr(*r.Comment)
	}
	return out
}
