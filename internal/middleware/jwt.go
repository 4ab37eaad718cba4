package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/livepoll/backend/internal/auth"
	"github.com/livepoll/backend/pkg/response"
)

const (
	// ContextHostID is the key for host ID in gin context.
	ContextHostID = "host_id"
	// ContextHostEmail is the key for host email in gin context.
	ContextHostEmail = "host_email"
)

// TokenValidator validates host access tokens.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// JWT returns a middleware that validates JWT and sets host claims in context.
func JWT(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := bearerClaims(c, validator)
		if !ok {
			return
		}
		c.Set(ContextHostID, claims.HostID)
		c.Set(ContextHostEmail, claims.Email)
		c.Next()
	}
}

// OptionalJWT sets host claims when a valid bearer token is present and never rejects the request.
func OptionalJWT(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			if claims, err := validator.Validate(parts[1]); err == nil {
				c.Set(ContextHostID, claims.HostID)
				c.Set(ContextHostEmail, claims.Email)
			}
		}
		c.Next()
	}
}

func bearerClaims(c *gin.Context, validator TokenValidator) (*auth.Claims, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		response.Unauthorized(c, "missing authorization header")
		c.Abort()
		return nil, false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		response.Unauthorized(c, "invalid authorization header")
		c.Abort()
		return nil, false
	}
	claims, err := validator.Validate(parts[1])
	if err != nil {
		response.Unauthorized(c, "invalid or expired token")
		c.Abort()
		return nil, false
	}
	return claims, true
}

// HostID returns the authenticated host, if any.
func HostID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextHostID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
