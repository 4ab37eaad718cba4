// Package participants registers audience members and reports session attendance.
package participants

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/internal/sessions"
	"github.com/livepoll/backend/pkg/response"
)

const maxName = 100

// Store is the participant persistence used by the handler.
type Store interface {
	Create(ctx context.Context, sessionID uuid.UUID, name string) (*models.Participant, error)
	CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error)
}

// RespondentCounter counts participants who answered at least one poll of a session.
type RespondentCounter interface {
	CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error)
}

// AudienceCounter reports live connections per session.
type AudienceCounter interface {
	CountSubscribers(sessionID uuid.UUID) int
}

// JoinRequest is the body for POST /sessions/:id/participants.
type JoinRequest struct {
	Name string `json:"name"`
}

// CountResponse is the body of GET /sessions/:id/participants/count.
type CountResponse struct {
	Live        int `json:"live"`
	Total       int `json:"total"`
	Respondents int `json:"respondents"`
}

// Handler handles participant HTTP endpoints.
type Handler struct {
	store       Store
	sessions    sessions.Getter
	respondents RespondentCounter
	hub         AudienceCounter
	logger      *zap.Logger
}

// NewHandler creates a participants handler.
func NewHandler(store Store, sessionStore sessions.Getter, respondents RespondentCounter, hub AudienceCounter, logger *zap.Logger) *Handler {
	return &Handler{store: store, sessions: sessionStore, respondents: respondents, hub: hub, logger: logger}
}

// Join handles POST /sessions/:id/participants. Only live sessions accept new participants.
func (h *Handler) Join(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if utf8.RuneCountInString(name) > maxName {
		response.BadRequest(c, "name is too long")
		return
	}

	s, err := h.sessions.GetByID(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err, "failed to load session")
		return
	}
	if !s.IsActive {
		response.BadRequest(c, "session has ended")
		return
	}
	p, err := h.store.Create(c.Request.Context(), sessionID, name)
	if err != nil {
		h.logger.Error("create participant", zap.String("session_id", sessionID.String()), zap.Error(err))
		response.Error(c, err, "failed to join session")
		return
	}
	response.Created(c, p)
}

// Count handles GET /sessions/:id/participants/count. Live is the number of connections currently
// subscribed on this instance, Total counts every participant ever registered and Respondents those
// who answered at least once.
func (h *Handler) Count(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	total, err := h.store.CountBySession(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err, "failed to count participants")
		return
	}
	respondents, err := h.respondents.CountBySession(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err, "failed to count respondents")
		return
	}
	response.OK(c, CountResponse{
		Live:        h.hub.CountSubscribers(sessionID),
		Total:       total,
		Respondents: respondents,
	})
}
