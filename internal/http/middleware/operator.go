package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// RoleOperator is the token role allowed to run queue maintenance.
	RoleOperator = "operator"
	// HeaderOperatorToken carries the shared operator secret for cron callers.
	HeaderOperatorToken = "X-Operator-Token"
)

// OperatorOptions configures RequireOperator.
type OperatorOptions struct {
	// Token is the shared secret accepted in X-Operator-Token. Empty disables
	// the header path; only role tokens pass then.
	Token string
}

// RequireOperator admits callers holding a verified token with the operator
// role, or the configured operator secret. It must run after Auth.
func RequireOperator(opts OperatorOptions) gin.HandlerFunc {
	want := []byte(opts.Token)
	return func(c *gin.Context) {
		if Role(c) == RoleOperator {
			c.Next()
			return
		}
		if got := strings.TrimSpace(c.GetHeader(HeaderOperatorToken)); len(want) > 0 && got != "" &&
			subtle.ConstantTimeCompare([]byte(got), want) == 1 {
			c.Next()
			return
		}
		LoggerFrom(c).Warn().
			Str("path", c.FullPath()).
			Msg("operator route denied")
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"request_id": RequestIDFrom(c),
			"code":       "forbidden",
			"message":    "operator access required",
		})
	}
}
