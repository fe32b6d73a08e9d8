package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/tomochart/guestlist/internal/auth"
)

const roleKey = "guestlist.role"

// Verifier checks a session token. *auth.Authenticator satisfies it.
type Verifier interface {
	Verify(token string) (auth.Role, error)
}

// RequireSession rejects requests without a valid session for role need.
// The token is read from the session cookie or a bearer Authorization
// header.
func RequireSession(v Verifier, need auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessionToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "login required"})
			return
		}

		role, err := v.Verify(token)
		if err != nil {
			log.WithError(err).WithField("path", c.Request.URL.Path).Info("session rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "session expired, please log in again"})
			return
		}
		if !role.Allows(need) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "not allowed for this role"})
			return
		}

		c.Set(roleKey, role)
		c.Next()
	}
}

// RoleFrom returns the role RequireSession stored on c.
func RoleFrom(c *gin.Context) (auth.Role, bool) {
	v, ok := c.Get(roleKey)
	if !ok {
		return "", false
	}
	role, ok := v.(auth.Role)
	return role, ok
}

func sessionToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := c.Cookie(auth.CookieName); err == nil {
		return cookie
	}
	return ""
}
