package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"msgvault-backend/internal/shared/auth"
	"msgvault-backend/internal/shared/server/respond"
)

const (
	usernameKey = "username"
	roleKey     = "role"
	isBotKey    = "isBot"
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

// AuthConfig configures the Auth middleware.
type AuthConfig struct {
	Env      string
	Verifier TokenVerifier
	// BotAPIKey, when set, lets the ingesting bot authenticate with X-Api-Key.
	BotAPIKey string
	// PublicPaths are path prefixes served without identity.
	PublicPaths []string
}

// Auth resolves the caller identity from a bearer JWT, the bot API key or, in
// dev, the X-User-Id header, and stores it in context.
func Auth(cfg AuthConfig) gin.HandlerFunc {
	devHeaders := false
	switch strings.ToLower(strings.TrimSpace(cfg.Env)) {
	case "dev", "local":
		devHeaders = true
	}

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}

		path := c.Request.URL.Path
		for _, prefix := range cfg.PublicPaths {
			if strings.HasPrefix(path, prefix) {
				c.Next()
				return
			}
		}

		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader != "" {
			if !strings.HasPrefix(authHeader, "Bearer ") || cfg.Verifier == nil {
				respond.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
			if token == "" {
				respond.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
				return
			}

			claims, err := cfg.Verifier.Verify(token)
			if err != nil {
				respond.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
				return
			}

			c.Set(usernameKey, claims.Identity())
			if claims.Role != "" {
				c.Set(roleKey, claims.Role)
			}
			c.Set(isBotKey, false)
			c.Next()
			return
		}

		if apiKey := strings.TrimSpace(c.GetHeader(HeaderAPIKey)); apiKey != "" {
			if cfg.BotAPIKey == "" || subtle.ConstantTimeCompare([]byte(apiKey), []byte(cfg.BotAPIKey)) != 1 {
				respond.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid api key", nil)
				return
			}
			c.Set(isBotKey, true)
			c.Next()
			return
		}

		if devHeaders {
			if userID := strings.TrimSpace(c.GetHeader(HeaderUserID)); userID != "" {
				c.Set(usernameKey, userID)
				c.Set(isBotKey, false)
				c.Next()
				return
			}
		}

		respond.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "Missing identity", nil)
	}
}

// UsernameFromContext fetches the dashboard username set by the auth middleware.
func UsernameFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(usernameKey)
	if name, ok := val.(string); ok {
		return name
	}
	return ""
}

// RoleFromContext fetches the token role claim, if any.
func RoleFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(roleKey)
	if role, ok := val.(string); ok {
		return role
	}
	return ""
}

// IsBot reports whether the caller authenticated with the bot API key.
func IsBot(c *gin.Context) bool {
	if c == nil {
		return false
	}
	val, _ := c.Get(isBotKey)
	b, _ := val.(bool)
	return b
}
