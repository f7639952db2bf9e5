package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/candorworks/exam-proctor/internal/response"
	"github.com/candorworks/exam-proctor/internal/service"
)

const (
	// ContextKeyAttemptClaims is the Gin context key for attempt token claims.
	ContextKeyAttemptClaims = "attempt_claims"
)

// RequireAttemptToken validates the attempt token from the Authorization
// header or the ?token= query (WebSocket upgrades cannot send headers) and
// checks it was issued for the :attempt_id in the path.
func RequireAttemptToken(tokens *service.AttemptTokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := extractToken(c)
		if tokenStr == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := tokens.Validate(tokenStr)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		if attemptID := c.Param("attempt_id"); attemptID != "" && !strings.EqualFold(attemptID, claims.AttemptID) {
			response.AbortFail(c, http.StatusForbidden, response.ErrAttemptMismatch)
			return
		}

		c.Set(ContextKeyAttemptClaims, claims)
		c.Next()
	}
}

// GetAttemptClaims retrieves the attempt claims from the Gin context.
func GetAttemptClaims(c *gin.Context) *service.AttemptClaims {
	val, exists := c.Get(ContextKeyAttemptClaims)
	if !exists {
		return nil
	}
	claims, ok := val.(*service.AttemptClaims)
	if !ok {
		return nil
	}
	return claims
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	return c.Query("token")
}
