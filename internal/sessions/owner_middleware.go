package sessions

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/livepoll/backend/internal/middleware"
	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/pkg/response"
)

// ContextSession is the context key for the session loaded by RequireOwner.
const ContextSession = "session"

// Getter loads a session by id.
type Getter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// RequireOwner loads the session named by the :id param and allows only its host. Call after JWT.
func RequireOwner(store Getter) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			response.BadRequest(c, "invalid session id")
			c.Abort()
			return
		}
		s, err := store.GetByID(c.Request.Context(), sessionID)
		if err != nil {
			response.Error(c, err, "failed to load session")
			c.Abort()
			return
		}
		hostID, ok := middleware.HostID(c)
		if !ok || s.HostID != hostID {
			response.Forbidden(c, "not the session host")
			c.Abort()
			return
		}
		c.Set(ContextSession, s)
		c.Next()
	}
}

// IsOwner reports whether the request's authenticated host owns s.
func IsOwner(c *gin.Context, s *models.Session) bool {
	hostID, ok := middleware.HostID(c)
	return ok && s != nil && s.HostID == hostID
}

// FromContext returns the session set by RequireOwner.
func FromContext(c *gin.Context) *models.Session {
	v, ok := c.Get(ContextSession)
	if !ok {
		return nil
	}
	s, _ := v.(*models.Session)
	return s
}
