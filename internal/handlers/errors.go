package handlers

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/huangang/offboarding/internal/services"
	"github.com/huangang/offboarding/pkg/logger"
	"github.com/huangang/offboarding/pkg/response"
)

// toAppError maps service errors onto API errors.
func toAppError(err error) error {
	switch {
	case errors.Is(err, services.ErrConversationNotFound):
		return response.NewNotFound("conversation not found")
	case errors.Is(err, services.ErrSessionNotFound):
		return response.NewNotFound("session not found")
	case errors.Is(err, services.ErrRatingNotFound):
		return response.NewNotFound("rating not found")
	case errors.Is(err, services.ErrEmptyReply):
		return response.NewBadRequest("reply body is empty")
	case errors.Is(err, services.ErrInvalidStatus):
		return response.NewBadRequest("invalid conversation status")
	case errors.Is(err, services.ErrActionNotOffered):
		return response.NewConflict("the current prompt does not offer this action")
	}
	return err
}

func fail(c *gin.Context, err error) {
	appErr := toAppError(err)
	if appErr == err {
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	response.Error(c, appErr)
}

func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}
