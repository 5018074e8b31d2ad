package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/LearnWiseAI/moodle-local-learnwise/internal/domain"
	"github.com/LearnWiseAI/moodle-local-learnwise/internal/service"
)

const principalKey = "principal"

// Auth resolves bearer tokens on protected API routes.
type Auth struct {
	Verifier *service.VerifierService
}

// RequireBearer validates the Authorization header and attaches the
// resolved principal to the request context.
func (m *Auth) RequireBearer(c *gin.Context) {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		c.Header("WWW-Authenticate", "Bearer")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_request", "error_description": "Bearer token required."})
		return
	}

	principal, err := m.Verifier.VerifyToken(c.Request.Context(), strings.TrimSpace(parts[1]))
	if err != nil {
		if oauthErr, ok := err.(*service.OAuthError); ok {
			if oauthErr.Status == http.StatusUnauthorized {
				c.Header("WWW-Authenticate", fmt.Sprintf("Bearer error=%q", oauthErr.Code))
			}
			c.AbortWithStatusJSON(oauthErr.Status, gin.H{"error": oauthErr.Code, "error_description": oauthErr.Description})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal server error."})
		return
	}

	c.Set(principalKey, principal)
	c.Next()
}

// GetPrincipal exposes the verified token principal to handlers.
func GetPrincipal(c *gin.Context) (domain.Principal, bool) {
	value, ok := c.Get(principalKey)
	if !ok {
		return domain.Principal{}, false
	}
	principal, ok := value.(domain.Principal)
	return principal, ok
}
