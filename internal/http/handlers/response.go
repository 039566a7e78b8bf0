package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chatroom-delivery/internal/http/middleware"
)

// ErrorResponse is the error body of every REST endpoint. The websocket
// gateway reports the same failures as events.Error frames instead.
type ErrorResponse struct {
	// Echo of X-Request-ID, or the id generated for the request
	RequestID string `json:"request_id,omitempty" example:"6f1c0a43-3d1e-4b8e-9a55-0c2f3b7d9e10"`
	// Stable code from errors.go
	Code string `json:"code" example:"not_participant"`
	// Message safe to show to the caller
	Message string `json:"message" example:"identity is not a participant of the chatroom"`
}

// fail aborts with an ErrorResponse. 5xx answers are logged with the caller
// identity and chatroom.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Str("user_id", middleware.UserID(c)).
			Str("chatroom", c.Param("name")).
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: middleware.RequestIDFrom(c),
		Code:      code,
		Message:   msg,
	})
}

// Fail lets the router answer unmatched routes with the same envelope.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// retryLater answers 503 with a Retry-After of at least one second.
func retryLater(c *gin.Context, after time.Duration, code, msg string) {
	secs := int(after / time.Second)
	if secs < 1 {
		secs = 1
	}
	c.Header("Retry-After", strconv.Itoa(secs))
	fail(c, http.StatusServiceUnavailable, code, msg)
}

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
