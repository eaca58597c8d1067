package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"peerdesk-server/internal/auth"
)

const identityContextKey = "identity"

// Identity is the authenticated caller, resolved from the bearer token.
type Identity struct {
	UserID string
	Email  string
}

func IdentityFromContext(c *gin.Context) (Identity, bool) {
	value, ok := c.Get(identityContextKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := value.(Identity)
	return id, ok && id.UserID != ""
}

func RequireAuth(cfg auth.TokenConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		claims, err := auth.VerifyToken(parts[1], cfg)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		c.Set(identityContextKey, Identity{UserID: claims.UserID, Email: claims.Email})
		c.Next()
	}
}
