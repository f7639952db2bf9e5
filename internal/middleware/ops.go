package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/candorworks/exam-proctor/internal/response"
)

// OpsTokenHeader carries the operator token.
const OpsTokenHeader = "X-Ops-Token"

// RequireOpsToken guards operator endpoints. An empty configured token
// disables them.
func RequireOpsToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(OpsTokenHeader)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrOpsTokenInvalid)
			return
		}
		c.Next()
	}
}
