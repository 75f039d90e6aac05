package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/huangang/offboarding/internal/config"
	"github.com/huangang/offboarding/internal/models"
	"github.com/huangang/offboarding/internal/offboarding"
	"github.com/huangang/offboarding/pkg/logger"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrActionNotOffered = errors.New("action not offered by the current prompt")
)

// Session is one customer's view of a conversation. Its engine lives as long
// as the view is open.
type Session struct {
	ID             string    `json:"id"`
	ConversationID uint      `json:"conversation_id"`
	CustomerID     uint      `json:"customer_id"`
	CreatedAt      time.Time `json:"created_at"`

	engine   *offboarding.Engine
	actions  sync.Mutex
	lastSeen atomic.Int64
	ctx      context.Context
	cancel   context.CancelFunc
}

// Engine returns the offboarding engine of the view.
func (s *Session) Engine() *offboarding.Engine {
	return s.engine
}

func (s *Session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

// LastSeen is the last time the customer used the session.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// SessionManager hosts the offboarding engines of open conversation views and
// plays the conversation feed, submission transport and UI roles for them.
type SessionManager struct {
	conversations *ConversationService
	ratings       *RatingService
	queue         TaskQueue
	hub           *ViewEventHub
	cfg           config.SessionConfig
	now           func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionManager(conversations *ConversationService, ratings *RatingService, queue TaskQueue, hub *ViewEventHub, cfg config.SessionConfig) *SessionManager {
	return &SessionManager{
		conversations: conversations,
		ratings:       ratings,
		queue:         queue,
		hub:           hub,
		cfg:           cfg,
		now:           time.Now,
		sessions:      make(map[string]*Session),
	}
}

// Open starts a session for a conversation and feeds it the current status.
func (m *SessionManager) Open(ctx context.Context, conversationID, customerID uint) (*Session, error) {
	conv, err := m.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		CustomerID:     customerID,
		CreatedAt:      now,
		ctx:            sctx,
		cancel:         cancel,
	}
	s.touch(now)

	log := logger.Component("offboarding").With().
		Str("session_id", s.ID).
		Uint("conversation_id", conv.ID).
		Logger()
	cb := &sessionCallback{
		m:       m,
		session: s,
		log:     log,
		limiter: newDispatchLimiter(m.cfg),
	}
	s.engine = offboarding.NewEngine(cb, log)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	log.Info().Str("status", string(conv.Status)).Msg("session opened")
	s.engine.OnConversationLoaded(conv.Status)
	return s, nil
}

func newDispatchLimiter(cfg config.SessionConfig) *rate.Limiter {
	if cfg.DispatchRPS <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := cfg.DispatchBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.DispatchRPS), burst)
}

// Get returns an open session and marks it as used.
func (m *SessionManager) Get(id string) (*Session, error) {
	s, ok := m.lookup(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.touch(m.now())
	return s, nil
}

func (m *SessionManager) lookup(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close ends a session. Submissions already queued for it are dropped when
// they complete.
func (m *SessionManager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.cancel()
	m.hub.CloseSession(id)
	logger.Info().Str("session_id", id).Msg("session closed")
	return nil
}

// CloseAll ends every session, disconnecting their view clients.
func (m *SessionManager) CloseAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		_ = m.Close(id)
	}
}

// Count returns the number of open sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *SessionManager) byConversation(conversationID uint) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Session
	for _, s := range m.sessions {
		if s.ConversationID == conversationID {
			out = append(out, s)
		}
	}
	return out
}

// Prompt reloads the conversation, hands the snapshot to the engine and
// returns the items to render at the end of the message list.
func (m *SessionManager) Prompt(ctx context.Context, id string) ([]offboarding.Prompt, *models.Conversation, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, nil, err
	}
	conv, err := m.conversations.Get(ctx, s.ConversationID)
	if err != nil {
		return nil, nil, err
	}
	s.engine.OnConversationLoaded(conv.Status)
	return s.engine.Prompt(conv.Status), conv, nil
}

// SelectRating picks a score on the rating selector.
func (m *SessionManager) SelectRating(ctx context.Context, id string, score offboarding.Score) error {
	return m.act(ctx, id, offboarding.PromptSelectRating, func(e *offboarding.Engine) {
		e.SelectRating(score)
	})
}

// ChangeFeedbackRating changes the score shown on the comment item.
func (m *SessionManager) ChangeFeedbackRating(ctx context.Context, id string, score offboarding.Score) error {
	return m.act(ctx, id, offboarding.PromptAddComment, func(e *offboarding.Engine) {
		e.ChangeFeedbackRating(score)
	})
}

// AddFeedbackComment submits the comment item.
func (m *SessionManager) AddFeedbackComment(ctx context.Context, id string, score offboarding.Score, comment string) error {
	return m.act(ctx, id, offboarding.PromptAddComment, func(e *offboarding.Engine) {
		e.AddFeedbackComment(score, comment)
	})
}

// act runs a customer action only while the prompt on screen is of kind,
// the item that carries the action.
func (m *SessionManager) act(ctx context.Context, id string, kind offboarding.PromptKind, action func(*offboarding.Engine)) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	conv, err := m.conversations.Get(ctx, s.ConversationID)
	if err != nil {
		return err
	}

	s.actions.Lock()
	defer s.actions.Unlock()

	s.engine.OnConversationLoaded(conv.Status)
	prompts := s.engine.Prompt(conv.Status)
	if len(prompts) == 0 || prompts[0].Kind != kind {
		shown := "none"
		if len(prompts) > 0 {
			shown = string(prompts[0].Kind)
		}
		return fmt.Errorf("%w: %s needs the %s prompt, showing %s", ErrActionNotOffered, id, kind, shown)
	}
	action(s.engine)
	return nil
}

// Reply posts a customer reply from a session. The session's wizard restarts
// and every view of the conversation sees the new status.
func (m *SessionManager) Reply(ctx context.Context, id, body string) (*models.Message, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	conv, msg, err := m.conversations.AddReply(ctx, s.ConversationID, s.CustomerID, body)
	if err != nil {
		return nil, err
	}
	s.engine.OnReplySent()
	m.ConversationChanged(conv.ID, conv.Status)
	return msg, nil
}

// ConversationChanged delivers a new status snapshot to every view of a
// conversation and asks them to rebuild their lists.
func (m *SessionManager) ConversationChanged(conversationID uint, status offboarding.Status) {
	for _, s := range m.byConversation(conversationID) {
		s.engine.OnConversationLoaded(status)
		m.hub.Publish(ViewEvent{SessionID: s.ID, Type: ViewEventRefresh, ScrollToBottom: true})
	}
}

// Complete routes a confirmed rating back to the session that sent it.
func (m *SessionManager) Complete(id string, rating offboarding.Rating) {
	s, ok := m.lookup(id)
	if !ok {
		logger.Warn().Str("session_id", id).Uint("rating_id", rating.ID).Msg("rating confirmed for a closed session")
		return
	}
	s.engine.OnRatingUpdated(rating)
}

// Fail routes a failed submission back to the session that sent it.
func (m *SessionManager) Fail(id string, score offboarding.Score, comment *string) {
	s, ok := m.lookup(id)
	if !ok {
		logger.Warn().Str("session_id", id).Msg("submission failed for a closed session")
		return
	}
	s.engine.OnRatingUpdateFailed(score, comment)
}

// Sweep closes sessions idle for longer than the configured TTL and resumes
// the submission queue of the others. It returns the number of closed sessions.
func (m *SessionManager) Sweep(now time.Time) int {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	expired := 0
	for _, s := range all {
		if m.cfg.IdleTTL > 0 && now.Sub(s.LastSeen()) > m.cfg.IdleTTL {
			if err := m.Close(s.ID); err == nil {
				expired++
				sessionsExpired.Inc()
			}
			continue
		}
		s.engine.Resume()
	}
	return expired
}

// sessionCallback implements offboarding.Callback for one session.
type sessionCallback struct {
	m       *SessionManager
	session *Session
	log     zerolog.Logger
	limiter *rate.Limiter
}

func (c *sessionCallback) RefreshListView(scrollToBottom bool) {
	c.m.hub.Publish(ViewEvent{SessionID: c.session.ID, Type: ViewEventRefresh, ScrollToBottom: scrollToBottom})
}

func (c *sessionCallback) HideKeyboard() {
	c.m.hub.Publish(ViewEvent{SessionID: c.session.ID, Type: ViewEventHideKeyboard})
}

func (c *sessionCallback) LoadRatings() {
	go func() {
		ratings, err := c.m.ratings.ListByConversation(c.session.ctx, c.session.ConversationID)
		if err != nil {
			ratingsLoads.WithLabelValues("failed").Inc()
			c.session.engine.OnRatingsLoadFailed(err)
			return
		}
		ratingsLoads.WithLabelValues("succeeded").Inc()
		c.session.engine.OnRatingsLoaded(ratings)
	}()
}

func (c *sessionCallback) AddRating(score offboarding.Score, comment *string) {
	c.dispatch(&SubmissionTask{Kind: SubmissionCreate, Score: score, Comment: comment})
}

func (c *sessionCallback) UpdateRating(ratingID uint, score offboarding.Score) {
	c.dispatch(&SubmissionTask{Kind: SubmissionUpdateScore, RatingID: ratingID, Score: score})
}

func (c *sessionCallback) UpdateFeedback(ratingID uint, score offboarding.Score, comment string) {
	c.dispatch(&SubmissionTask{Kind: SubmissionUpdateFeedback, RatingID: ratingID, Score: score, Comment: offboarding.StringPtr(comment)})
}

// dispatch paces the session's commands and hands them to the task queue off
// the caller's goroutine. A command that cannot be queued is reported as a
// failed submission.
func (c *sessionCallback) dispatch(task *SubmissionTask) {
	task.SessionID = c.session.ID
	task.ConversationID = c.session.ConversationID

	go func() {
		if err := c.limiter.Wait(c.session.ctx); err != nil {
			c.log.Debug().Err(err).Str("kind", string(task.Kind)).Msg("session gone, submission dropped")
			return
		}
		submissionsDispatched.WithLabelValues(string(task.Kind)).Inc()
		if err := c.m.queue.Enqueue(task); err != nil {
			c.log.Error().Err(err).Str("kind", string(task.Kind)).Msg("failed to enqueue submission")
			submissionResults.WithLabelValues(string(task.Kind), "enqueue_failed").Inc()
			c.session.engine.OnRatingUpdateFailed(task.Score, task.Comment)
		}
	}()
}
