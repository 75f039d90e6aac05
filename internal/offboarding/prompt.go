package offboarding

// PromptKind identifies which feedback item the messenger list should render.
type PromptKind string

const (
	// PromptSelectRating asks the customer to pick GOOD or BAD.
	PromptSelectRating PromptKind = "select_rating"
	// PromptAddComment shows the chosen score and asks for a comment.
	PromptAddComment PromptKind = "add_comment"
	// PromptFeedbackCompleted is the read-only score and comment.
	PromptFeedbackCompleted PromptKind = "feedback_completed"
	// PromptRatingSubmitted is a read-only score with no comment.
	PromptRatingSubmitted PromptKind = "rating_submitted"
)

// Prompt is a single offboarding item appended to the end of the message list.
type Prompt struct {
	Kind    PromptKind `json:"kind"`
	Score   Score      `json:"score,omitempty"`
	Comment *string    `json:"comment,omitempty"`
}

func selectRatingPrompt() []Prompt {
	return []Prompt{{Kind: PromptSelectRating}}
}

func addCommentPrompt(score Score) []Prompt {
	return []Prompt{{Kind: PromptAddComment, Score: score}}
}

func feedbackCompletedPrompt(score Score, comment string) []Prompt {
	return []Prompt{{Kind: PromptFeedbackCompleted, Score: score, Comment: StringPtr(comment)}}
}

func ratingSubmittedPrompt(score Score) []Prompt {
	return []Prompt{{Kind: PromptRatingSubmitted, Score: score}}
}

// Callback is implemented by whoever hosts the engine. The engine never
// blocks on it: commands are expected to complete later through
// OnRatingUpdated or OnRatingUpdateFailed, and UI callbacks are expected to be
// marshalled onto the UI side by the implementation.
type Callback interface {
	RefreshListView(scrollToBottom bool)
	HideKeyboard()
	LoadRatings()
	AddRating(score Score, comment *string)
	UpdateRating(ratingID uint, score Score)
	UpdateFeedback(ratingID uint, score Score, comment string)
}
