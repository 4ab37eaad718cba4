// Package feedback stores and lists free-text comments left on polls.
package feedback

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/internal/sessions"
	"github.com/livepoll/backend/pkg/response"
)

// Lister reads a session's feedback.
type Lister interface {
	ListBySession(ctx context.Context, sessionID uuid.UUID, publicOnly bool) ([]models.Feedback, error)
}

// Handler handles feedback HTTP endpoints.
type Handler struct {
	repo     Lister
	sessions sessions.Getter
}

// NewHandler creates a feedback handler.
func NewHandler(repo Lister, sessionStore sessions.Getter) *Handler {
	return &Handler{repo: repo, sessions: sessionStore}
}

// List handles GET /sessions/:id/feedback. Anyone sees public feedback; ?all=true also returns private
// rows and is reserved for the session host. Mount behind middleware.OptionalJWT.
func (h *Handler) List(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	s, err := h.sessions.GetByID(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err, "failed to load session")
		return
	}

	publicOnly := c.Query("all") != "true"
	if !publicOnly && !sessions.IsOwner(c, s) {
		response.Forbidden(c, "not the session host")
		return
	}
	list, err := h.repo.ListBySession(c.Request.Context(), sessionID, publicOnly)
	if err != nil {
		response.Error(c, err, "failed to list feedback")
		return
	}
	response.OK(c, gin.H{"feedback": list})
}
