package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nathanyu/bank-transfer/internal/auth"
)

// callerIDKey is the gin context key holding the authenticated user ID.
const callerIDKey = "caller_id"

// Auth verifies the Authorization bearer token and injects the caller's
// user ID into the request context. Requests without a valid token get 401.
func Auth(tokens *auth.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		userID, err := tokens.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(callerIDKey, userID)
		c.Next()
	}
}

// CallerID returns the authenticated user ID set by Auth.
func CallerID(c *gin.Context) (string, bool) {
	id, ok := c.Get(callerIDKey)
	if !ok {
		return "", false
	}
	userID, ok := id.(string)
	return userID, ok && userID != ""
}
