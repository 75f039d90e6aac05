package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/huangang/offboarding/internal/middleware"
	"github.com/huangang/offboarding/internal/offboarding"
	"github.com/huangang/offboarding/internal/services"
	"github.com/huangang/offboarding/pkg/logger"
	"github.com/huangang/offboarding/pkg/response"
)

// SessionHandler exposes conversation-view sessions: the prompt shown under
// the message list, the customer's rating actions and the view event stream.
type SessionHandler struct {
	conversations *services.ConversationService
	sessions      *services.SessionManager
	hub           *services.ViewEventHub
}

func NewSessionHandler(conversations *services.ConversationService, sessions *services.SessionManager, hub *services.ViewEventHub) *SessionHandler {
	return &SessionHandler{
		conversations: conversations,
		sessions:      sessions,
		hub:           hub,
	}
}

// Open handles POST /api/conversations/:id/sessions
func (h *SessionHandler) Open(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	conv, err := h.conversations.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	if !canAccess(c, conv.CustomerID) {
		response.NotFound(c, "conversation not found")
		return
	}

	s, err := h.sessions.Open(c.Request.Context(), conv.ID, middleware.GetUserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.Header(logger.SessionHeader, s.ID)
	response.Created(c, s)
}

// session loads the session named in the path. Only the user who opened it
// may use it.
func (h *SessionHandler) session(c *gin.Context) (*services.Session, bool) {
	s, err := h.sessions.Get(c.Param("sid"))
	if err == nil && s.CustomerID != middleware.GetUserID(c) {
		err = services.ErrSessionNotFound
	}
	if err != nil {
		fail(c, err)
		return nil, false
	}
	return s, true
}

// Close handles DELETE /api/sessions/:sid
func (h *SessionHandler) Close(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := h.sessions.Close(s.ID); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, nil)
}

type PromptResponse struct {
	ConversationID uint                 `json:"conversation_id"`
	Status         offboarding.Status   `json:"status"`
	Prompts        []offboarding.Prompt `json:"prompts"`
}

// Prompt handles GET /api/sessions/:sid/prompt
func (h *SessionHandler) Prompt(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	prompts, conv, err := h.sessions.Prompt(c.Request.Context(), s.ID)
	if err != nil {
		fail(c, err)
		return
	}
	if prompts == nil {
		prompts = []offboarding.Prompt{}
	}
	response.Success(c, PromptResponse{
		ConversationID: conv.ID,
		Status:         conv.Status,
		Prompts:        prompts,
	})
}

// State handles GET /api/sessions/:sid/state
func (h *SessionHandler) State(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	response.Success(c, gin.H{
		"session": s,
		"state":   s.Engine().Snapshot(),
	})
}

type RatingRequest struct {
	Score string `json:"score" binding:"required"`
}

type CommentRequest struct {
	Score   string `json:"score" binding:"required"`
	Comment string `json:"comment" binding:"required,max=2000"`
}

func bindScore(c *gin.Context, raw string) (offboarding.Score, bool) {
	score, err := offboarding.ParseScore(raw)
	if err != nil {
		response.BadRequest(c, err.Error())
		return "", false
	}
	return score, true
}

// SelectRating handles POST /api/sessions/:sid/rating
func (h *SessionHandler) SelectRating(c *gin.Context) {
	h.rate(c, h.sessions.SelectRating)
}

// ChangeRating handles PUT /api/sessions/:sid/rating
func (h *SessionHandler) ChangeRating(c *gin.Context) {
	h.rate(c, h.sessions.ChangeFeedbackRating)
}

func (h *SessionHandler) rate(c *gin.Context, action func(context.Context, string, offboarding.Score) error) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req RatingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	score, ok := bindScore(c, req.Score)
	if !ok {
		return
	}
	if err := action(c.Request.Context(), s.ID, score); err != nil {
		fail(c, err)
		return
	}
	h.accepted(c, s)
}

// AddComment handles POST /api/sessions/:sid/comment
func (h *SessionHandler) AddComment(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	score, ok := bindScore(c, req.Score)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Comment) == "" {
		response.Error(c, response.NewUnprocessable("comment is empty"))
		return
	}
	if err := h.sessions.AddFeedbackComment(c.Request.Context(), s.ID, score, req.Comment); err != nil {
		fail(c, err)
		return
	}
	h.accepted(c, s)
}

// accepted reports the submission backlog; the rating itself is confirmed
// later through the view events.
func (h *SessionHandler) accepted(c *gin.Context, s *services.Session) {
	queued, inFlight := s.Engine().Pending()
	response.Accepted(c, gin.H{
		"queued":    queued,
		"in_flight": inFlight,
	})
}

type ReplyRequest struct {
	Body string `json:"body" binding:"required"`
}

// Reply handles POST /api/sessions/:sid/replies
func (h *SessionHandler) Reply(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req ReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	msg, err := h.sessions.Reply(c.Request.Context(), s.ID, req.Body)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, msg)
}

// Stream handles GET /api/sessions/:sid/events, pushing the view events of
// one session as Server-Sent Events.
func (h *SessionHandler) Stream(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	clientID := uuid.New().String()
	events := h.hub.Subscribe(s.ID, clientID)
	defer h.hub.Unsubscribe(s.ID, clientID)

	log := logger.Component("sse").With().Str("session_id", s.ID).Str("client_id", clientID).Logger()
	log.Info().Int("total", h.hub.ClientCount()).Msg("view client connected")

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				log.Info().Msg("session closed, view client dropped")
				return false
			}
			data, err := json.Marshal(event)
			if err != nil {
				log.Error().Err(err).Msg("view event marshal error")
				return true
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			return true
		case <-c.Request.Context().Done():
			log.Info().Msg("view client disconnected")
			return false
		}
	})
}
