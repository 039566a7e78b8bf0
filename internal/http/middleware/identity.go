package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// UserIDHeader carries the caller identity on REST requests. The service
	// sits behind an authenticating proxy that sets it.
	UserIDHeader = "X-User-ID"
	userIDKey    = "userID"
)

// Identity copies X-User-ID into the context so the access log and the rate
// limiter can key on the caller. Requests without it pass through untouched.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := strings.TrimSpace(c.GetHeader(UserIDHeader)); id != "" {
			c.Set(userIDKey, id)
		}
		c.Next()
	}
}

// UserID returns the identity stored by Identity, or "".
func UserID(c *gin.Context) string {
	v, _ := c.Get(userIDKey)
	return asString(v)
}
