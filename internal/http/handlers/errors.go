// Error codes are lowercase snake_case and stable; clients branch on them.
// The realtime gateway uses its own event codes (see package events) for the
// same service errors.

package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chatroom-delivery/internal/http/middleware"
	"github.com/tbourn/go-chatroom-delivery/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeNotParticipant   = "not_participant"
	ErrCodeStoreUnavailable = "store_unavailable"
)

// failService maps a service error onto a status and code. Unknown errors
// become a logged 500 carrying fallback as the message.
func failService(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrValidation):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrNotParticipant):
		fail(c, http.StatusForbidden, ErrCodeNotParticipant, err.Error())
	case errors.Is(err, services.ErrChatroomNotFound),
		errors.Is(err, services.ErrMessageNotFound),
		errors.Is(err, services.ErrParticipantNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrChatroomExists),
		errors.Is(err, services.ErrParticipantExists),
		errors.Is(err, services.ErrIdempotencyConflict):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, services.ErrTransientStore):
		retryLater(c, time.Second, ErrCodeStoreUnavailable, services.ErrTransientStore.Error())
	default:
		middleware.LoggerFrom(c).Error().Err(err).Msg(fallback)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, fallback)
	}
}
