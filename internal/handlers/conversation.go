package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/offboarding/internal/middleware"
	"github.com/huangang/offboarding/internal/models"
	"github.com/huangang/offboarding/internal/offboarding"
	"github.com/huangang/offboarding/internal/services"
	"github.com/huangang/offboarding/pkg/response"
)

type ConversationHandler struct {
	conversations *services.ConversationService
	ratings       *services.RatingService
	sessions      *services.SessionManager
	submissions   *services.SubmissionProcessor
}

func NewConversationHandler(conversations *services.ConversationService, ratings *services.RatingService, sessions *services.SessionManager, submissions *services.SubmissionProcessor) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		ratings:       ratings,
		sessions:      sessions,
		submissions:   submissions,
	}
}

// CreateConversationRequest opens a conversation. Agents open one on behalf
// of a customer; customers always open their own.
type CreateConversationRequest struct {
	Subject    string `json:"subject" binding:"required,max=255"`
	CustomerID uint   `json:"customer_id"`
}

// Create handles POST /api/conversations
func (h *ConversationHandler) Create(c *gin.Context) {
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	customerID := middleware.GetUserID(c)
	if middleware.GetRole(c) == middleware.RoleAgent {
		if req.CustomerID == 0 {
			response.BadRequest(c, "customer_id is required")
			return
		}
		customerID = req.CustomerID
	}

	conv, err := h.conversations.Create(c.Request.Context(), customerID, req.Subject)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, conv)
}

// load fetches the conversation named in the path and checks the caller may
// see it.
func (h *ConversationHandler) load(c *gin.Context) (*models.Conversation, bool) {
	id, ok := parseID(c, "id")
	if !ok {
		return nil, false
	}
	conv, err := h.conversations.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return nil, false
	}
	if !canAccess(c, conv.CustomerID) {
		response.NotFound(c, "conversation not found")
		return nil, false
	}
	return conv, true
}

func canAccess(c *gin.Context, customerID uint) bool {
	return middleware.GetRole(c) == middleware.RoleAgent || middleware.GetUserID(c) == customerID
}

// Get handles GET /api/conversations/:id
func (h *ConversationHandler) Get(c *gin.Context) {
	conv, ok := h.load(c)
	if !ok {
		return
	}
	response.Success(c, conv)
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatus handles PUT /api/conversations/:id/status. Every open view of
// the conversation receives the new status.
func (h *ConversationHandler) UpdateStatus(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	status, err := offboarding.ParseStatus(req.Status)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	conv, err := h.conversations.UpdateStatus(c.Request.Context(), id, status)
	if err != nil {
		fail(c, err)
		return
	}
	h.sessions.ConversationChanged(conv.ID, conv.Status)
	response.Success(c, conv)
}

// ListRatings handles GET /api/conversations/:id/ratings
func (h *ConversationHandler) ListRatings(c *gin.Context) {
	conv, ok := h.load(c)
	if !ok {
		return
	}
	ratings, err := h.ratings.ListByConversation(c.Request.Context(), conv.ID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"ratings": ratings,
		"latest":  offboarding.LatestRating(ratings),
	})
}

type ListSubmissionsQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
}

// ListSubmissions handles GET /api/conversations/:id/submissions
func (h *ConversationHandler) ListSubmissions(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var q ListSubmissionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	logs, err := h.submissions.ListSubmissionLogs(c.Request.Context(), id, q.Limit)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, logs)
}
