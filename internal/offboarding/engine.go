// Package offboarding decides which rating prompt a conversation view shows
// once a support conversation is completed, and reconciles the customer's
// optimistic rating with the ratings confirmed by the server.
//
// A conversation may carry several ratings over its life; only the latest one
// is considered. The prompt wizard (select score, add comment, done) runs on
// the values the customer entered in this session, while submissions are
// queued and sent one at a time so that a rating created once is updated
// afterwards instead of duplicated.
package offboarding

import (
	"sync"

	"github.com/rs/zerolog"
)

// Engine holds the offboarding state of one conversation view. It is safe for
// concurrent use: feed callbacks and user actions may arrive on different
// goroutines. Callbacks are always invoked after the internal lock is
// released, so a Callback may call back into the Engine synchronously.
type Engine struct {
	cb  Callback
	log zerolog.Logger

	mu sync.Mutex

	// set on the first conversation load and never changed afterwards
	originalStatus Status
	seenStatuses   map[Status]struct{}

	ratingsLoaded    bool
	ratingsRequested bool
	latest           *Rating

	// confirmations counts OnRatingUpdated calls; requestedAt is its value
	// when the last ratings load was requested
	confirmations uint64
	requestedAt   uint64

	// what the customer entered in this session, independent of the server
	uiScore   Score
	uiComment *string

	queue    submissionQueue
	inFlight *PendingRating
}

// NewEngine creates the engine for one conversation view. cb must not be nil.
func NewEngine(cb Callback, log zerolog.Logger) *Engine {
	if cb == nil {
		panic("offboarding: nil Callback")
	}
	return &Engine{
		cb:           cb,
		log:          log,
		seenStatuses: make(map[Status]struct{}),
	}
}

// OnConversationLoaded records a status snapshot from the conversation feed.
// The first status seen decides which offboarding flow applies for the life
// of the view. Ratings are requested once, and only for conversations that
// were already completed or closed when the view opened.
func (e *Engine) OnConversationLoaded(status Status) {
	if !status.Valid() {
		e.log.Error().Str("status", string(status)).Msg("conversation loaded without a valid status")
		return
	}

	e.mu.Lock()
	e.seenStatuses[status] = struct{}{}
	if e.originalStatus == "" {
		e.originalStatus = status
	}
	load := e.originalStatus.IsTerminal() && !e.ratingsLoaded && !e.ratingsRequested
	if load {
		e.ratingsRequested = true
		e.requestedAt = e.confirmations
	}
	e.mu.Unlock()

	if load {
		e.cb.LoadRatings()
	}
}

// OnRatingsLoaded stores the latest of the conversation's ratings. An empty
// slice means the conversation has no ratings; a nil slice means the feed
// has no answer and is rejected.
//
// A list requested before a submission was confirmed may not contain the
// confirmed rating. Such a list only replaces the latest rating with a newer
// one.
func (e *Engine) OnRatingsLoaded(ratings []Rating) {
	if ratings == nil {
		e.log.Error().Msg("ratings loaded with a nil list")
		return
	}

	e.mu.Lock()
	loaded := LatestRating(ratings)
	if e.confirmations != e.requestedAt && !newerRating(loaded, e.latest) {
		e.log.Debug().
			Int("ratings", len(ratings)).
			Uint("latest_id", e.latest.ID).
			Msg("ratings list predates a confirmed submission, keeping the confirmed rating")
		loaded = e.latest
	}
	e.latest = loaded
	if e.latest != nil {
		e.adoptServerRatingLocked(*e.latest)
	}
	refresh := e.latest != nil && !e.ratingsLoaded
	e.ratingsLoaded = true
	e.ratingsRequested = false
	e.mu.Unlock()

	if refresh {
		e.cb.RefreshListView(true)
	}
}

// newerRating reports whether r should replace cur.
func newerRating(r, cur *Rating) bool {
	if cur == nil {
		return true
	}
	return r != nil && r.CreatedAt.After(cur.CreatedAt)
}

// OnRatingsLoadFailed lets the next conversation load request the ratings
// again.
func (e *Engine) OnRatingsLoadFailed(err error) {
	e.mu.Lock()
	e.ratingsRequested = false
	e.mu.Unlock()

	e.log.Warn().Err(err).Msg("ratings load failed")
}

// adoptServerRatingLocked fills in whatever the customer has not entered yet.
// A value entered in this session is never replaced by server data.
func (e *Engine) adoptServerRatingLocked(r Rating) {
	if e.uiScore == "" && r.Score.Valid() {
		e.uiScore = r.Score
	}
	if e.uiComment == nil && r.Comment != nil {
		e.uiComment = StringPtr(*r.Comment)
	}
}

// Prompt returns the offboarding items to append to the message list for a
// conversation currently in status. The result has zero or one element.
func (e *Engine) Prompt(status Status) []Prompt {
	if !status.Valid() {
		e.log.Error().Str("status", string(status)).Msg("prompt requested without a valid status")
		return nil
	}
	if !status.IsTerminal() {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if status == StatusCompleted && e.sawActiveStatusLocked() {
		return e.askForRatingLocked()
	}

	if e.originalStatus.IsTerminal() && e.ratingsLoaded && e.latest != nil {
		r := e.latest
		switch {
		case r.Score.Valid() && r.Comment != nil:
			return feedbackCompletedPrompt(r.Score, *r.Comment)
		case r.Score.Valid() && status == StatusCompleted:
			return ratingSubmittedPrompt(r.Score)
		}
	}
	return nil
}

func (e *Engine) sawActiveStatusLocked() bool {
	for s := range e.seenStatuses {
		if s.IsActive() {
			return true
		}
	}
	return false
}

// askForRatingLocked is driven only by what the customer entered so the list
// never waits on the network.
func (e *Engine) askForRatingLocked() []Prompt {
	switch {
	case e.uiScore == "":
		return selectRatingPrompt()
	case e.uiComment == nil:
		return addCommentPrompt(e.uiScore)
	default:
		return feedbackCompletedPrompt(e.uiScore, *e.uiComment)
	}
}

// SelectRating handles a score picked on the rating selector.
func (e *Engine) SelectRating(score Score) {
	if !score.Valid() {
		e.log.Error().Str("score", string(score)).Msg("rating selected with an invalid score")
		return
	}
	e.submit(score, nil)
	e.cb.RefreshListView(true)
}

// ChangeFeedbackRating handles a score changed on the comment item.
func (e *Engine) ChangeFeedbackRating(score Score) {
	if !score.Valid() {
		e.log.Error().Str("score", string(score)).Msg("feedback rating changed to an invalid score")
		return
	}
	e.submit(score, nil)
	e.cb.RefreshListView(false)
}

// AddFeedbackComment handles a submitted comment together with the score
// shown next to it. Any comment is accepted, including an empty one.
func (e *Engine) AddFeedbackComment(score Score, comment string) {
	if !score.Valid() {
		e.log.Error().Str("score", string(score)).Msg("feedback comment added with an invalid score")
		return
	}
	e.submit(score, StringPtr(comment))
	e.cb.RefreshListView(false)
	e.cb.HideKeyboard()
}

// OnReplySent restarts the wizard: a reply reopens the conversation, so the
// customer may rate it again once it completes. Server ratings and the
// status history are kept.
func (e *Engine) OnReplySent() {
	e.mu.Lock()
	e.uiScore = ""
	e.uiComment = nil
	e.mu.Unlock()

	e.cb.RefreshListView(true)
}

// State is a point-in-time copy of the engine state.
type State struct {
	OriginalStatus Status          `json:"original_status,omitempty"`
	SeenStatuses   []Status        `json:"seen_statuses"`
	RatingsLoaded  bool            `json:"ratings_loaded"`
	LatestRating   *Rating         `json:"latest_rating,omitempty"`
	UIScore        Score           `json:"ui_score,omitempty"`
	UIComment      *string         `json:"ui_comment,omitempty"`
	Queue          []PendingRating `json:"queue"`
	InFlight       *PendingRating  `json:"in_flight,omitempty"`
}

var statusOrder = []Status{StatusNew, StatusOpen, StatusPending, StatusCompleted, StatusClosed}

// Snapshot copies the current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := State{
		OriginalStatus: e.originalStatus,
		SeenStatuses:   make([]Status, 0, len(e.seenStatuses)),
		RatingsLoaded:  e.ratingsLoaded,
		UIScore:        e.uiScore,
		Queue:          e.queue.items(),
	}
	for _, s := range statusOrder {
		if _, ok := e.seenStatuses[s]; ok {
			st.SeenStatuses = append(st.SeenStatuses, s)
		}
	}
	if e.latest != nil {
		r := *e.latest
		st.LatestRating = &r
	}
	if e.uiComment != nil {
		st.UIComment = StringPtr(*e.uiComment)
	}
	if e.inFlight != nil {
		p := *e.inFlight
		st.InFlight = &p
	}
	return st
}
