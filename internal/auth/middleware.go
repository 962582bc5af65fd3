package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "

	// MediaTokenParam carries a media-scoped token on routes a browser loads directly.
	MediaTokenParam = "access_token"
)

// RequireAccessToken verifies the bearer token and injects the identity into the request context.
// Role checks belong to internal/rbac. Media-scoped tokens are refused here.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if !strings.HasPrefix(raw, bearerPrefix) {
			unauthorized(c, "missing bearer token")
			return
		}

		claims, err := m.Verify(strings.TrimPrefix(raw, bearerPrefix), time.Now())
		if err != nil || claims.Scope != "" {
			unauthorized(c, "invalid token")
			return
		}
		setIdentity(c, claims)
	}
}

// RequireMediaToken accepts either a bearer access token or a media-scoped token in
// the access_token query parameter, so <audio src> can load a recording.
func RequireMediaToken(m *Manager) gin.HandlerFunc {
	bearer := RequireAccessToken(m)
	return func(c *gin.Context) {
		if c.GetHeader(authorizationHeader) != "" {
			bearer(c)
			return
		}
		raw := strings.TrimSpace(c.Query(MediaTokenParam))
		if raw == "" {
			unauthorized(c, "missing bearer token")
			return
		}
		claims, err := m.Verify(raw, time.Now())
		if err != nil || claims.Scope != ScopeMedia {
			unauthorized(c, "invalid token")
			return
		}
		setIdentity(c, claims)
	}
}

// IssueMediaToken hands the authenticated caller a media-scoped token for the
// recording URL. Mount it behind RequireAccessToken.
func IssueMediaToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := IdentityFrom(c.Request.Context())
		tok, exp, err := m.IssueMedia(time.Now(), id)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "could not issue token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": tok, "expiresAt": exp.UTC(), "param": MediaTokenParam})
	}
}

func setIdentity(c *gin.Context, claims Claims) {
	id := Identity{UserID: claims.UserID, OrgID: claims.OrgID, Role: claims.Role}
	c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
	c.Set("user_id", claims.UserID)
	c.Next()
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": msg})
}
