package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const userEmailHeader = "X-User-Email"

const userEmailKey = "userEmail"

// TrustedUser reads the identity asserted by the fronting auth proxy. The
// service never sees credentials; requests without the header are
// rejected.
func TrustedUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		email := strings.ToLower(strings.TrimSpace(c.GetHeader(userEmailHeader)))
		if email == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing user identity",
			})
			return
		}
		c.Set(userEmailKey, email)
		c.Next()
	}
}

// UserEmailFromContext returns the authenticated user's email.
func UserEmailFromContext(c *gin.Context) string {
	return c.GetString(userEmailKey)
}
