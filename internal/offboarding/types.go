package offboarding

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a support conversation.
type Status string

const (
	StatusNew       Status = "new"
	StatusOpen      Status = "open"
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusClosed    Status = "closed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusOpen, StatusPending, StatusCompleted, StatusClosed:
		return true
	}
	return false
}

// IsTerminal reports whether s is COMPLETED or CLOSED, the only statuses
// under which rating prompts are shown.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusClosed
}

// IsActive reports whether s is one of the statuses a conversation passes
// through before being completed.
func (s Status) IsActive() bool {
	return s == StatusNew || s == StatusOpen || s == StatusPending
}

// ParseStatus converts a case-insensitive status name.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("invalid conversation status %q", v)
	}
	return s, nil
}

// Score is the two-valued rating a customer gives a conversation. The same
// type is used by the prompts, the queue and the persisted ratings.
type Score string

const (
	ScoreGood Score = "good"
	ScoreBad  Score = "bad"
)

func (s Score) Valid() bool {
	return s == ScoreGood || s == ScoreBad
}

// ParseScore converts a case-insensitive score name.
func ParseScore(v string) (Score, error) {
	s := Score(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("invalid rating score %q", v)
	}
	return s, nil
}

// Rating is a server-confirmed rating of a conversation.
type Rating struct {
	ID        uint      `json:"id"`
	Score     Score     `json:"score"`
	Comment   *string   `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LatestRating returns the rating with the greatest CreatedAt. On ties the
// first one seen wins. It returns nil for an empty list.
func LatestRating(ratings []Rating) *Rating {
	var latest *Rating
	for i := range ratings {
		if latest == nil || latest.CreatedAt.Before(ratings[i].CreatedAt) {
			latest = &ratings[i]
		}
	}
	if latest == nil {
		return nil
	}
	r := *latest
	return &r
}

// PendingRating is a submission the customer asked for that the server has
// not confirmed yet. Two pending ratings with the same score and comment are
// indistinguishable, even if they came from different user actions.
type PendingRating struct {
	Score   Score   `json:"score"`
	Comment *string `json:"comment,omitempty"`
}

// Equal compares by value; a nil comment only equals a nil comment.
func (p PendingRating) Equal(o PendingRating) bool {
	if p.Score != o.Score {
		return false
	}
	if p.Comment == nil || o.Comment == nil {
		return p.Comment == nil && o.Comment == nil
	}
	return *p.Comment == *o.Comment
}

func (p PendingRating) String() string {
	if p.Comment == nil {
		return string(p.Score)
	}
	return fmt.Sprintf("%s %q", p.Score, *p.Comment)
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string {
	return &s
}
