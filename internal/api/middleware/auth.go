// Package middleware provides the Gin middleware stack for the WABDesk API.
package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/wabdesk/wabdesk/internal/auth"
	"github.com/wabdesk/wabdesk/internal/models"
)

// ContextKey is the type for context keys used by this package.
type ContextKey string

const (
	// ActorContextKey is the context key for the authenticated caller.
	ActorContextKey ContextKey = "actor"
)

// Authenticator resolves a bearer token to the caller it belongs to.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (models.Actor, error)
}

// AuthMiddleware returns a Gin middleware that authenticates requests by bearer token.
func AuthMiddleware(authn Authenticator, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "auth_middleware").Logger()

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			log.Debug().Str("path", c.Request.URL.Path).Msg("missing authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}

		token := auth.ExtractBearerToken(authHeader)
		if token == "" {
			log.Debug().Str("path", c.Request.URL.Path).Msg("invalid authorization header format")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}

		actor, err := authn.Authenticate(c.Request.Context(), token)
		if err != nil {
			log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("invalid API token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API token"})
			return
		}

		c.Set(string(ActorContextKey), actor)

		log.Debug().
			Str("user_id", actor.UserID.String()).
			Str("org_id", actor.OrgID.String()).
			Str("role", string(actor.Role)).
			Str("path", c.Request.URL.Path).
			Msg("authenticated request")

		c.Next()
	}
}

// GetActor retrieves the authenticated caller from the Gin context.
func GetActor(c *gin.Context) (models.Actor, bool) {
	v, exists := c.Get(string(ActorContextKey))
	if !exists {
		return models.Actor{}, false
	}
	actor, ok := v.(models.Actor)
	return actor, ok
}

// RequireActor gets the authenticated caller or aborts with 401.
func RequireActor(c *gin.Context) (models.Actor, bool) {
	actor, ok := GetActor(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return models.Actor{}, false
	}
	return actor, true
}

// RequireRole aborts with 403 unless the caller holds at least the given role.
func RequireRole(min models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := RequireActor(c)
		if !ok {
			return
		}
		if !actor.Role.AtLeast(min) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":  "insufficient permissions",
				"reason": "forbidden",
			})
			return
		}
		c.Next()
	}
}
