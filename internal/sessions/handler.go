package sessions

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livepoll/backend/internal/events"
	"github.com/livepoll/backend/internal/middleware"
	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/pkg/response"
)

const maxTitle = 200

// Store is the session persistence used by the handler.
type Store interface {
	Getter
	Create(ctx context.Context, hostID uuid.UUID, title string) (*models.Session, error)
	GetActiveByCode(ctx context.Context, code string) (*models.Session, error)
	ListByHost(ctx context.Context, hostID uuid.UUID) ([]models.Session, error)
}

// TokenIssuer mints host capability tokens.
type TokenIssuer interface {
	GenerateHostToken(hostID, sessionID uuid.UUID) (string, error)
}

// CreatedPublisher announces new sessions downstream.
type CreatedPublisher interface {
	PublishSessionCreated(ctx context.Context, data events.SessionData) error
}

// CreateRequest is the body for POST /sessions.
type CreateRequest struct {
	Title string `json:"title" binding:"required"`
}

// CreateResponse carries the new session and the token that authorizes host-only realtime commands.
type CreateResponse struct {
	Session   *models.Session `json:"session"`
	HostToken string          `json:"hostToken"`
}

// Handler handles session HTTP endpoints.
type Handler struct {
	store  Store
	tokens TokenIssuer
	events CreatedPublisher
	logger *zap.Logger
}

// NewHandler creates a sessions handler. pub may be nil.
func NewHandler(store Store, tokens TokenIssuer, pub CreatedPublisher, logger *zap.Logger) *Handler {
	return &Handler{store: store, tokens: tokens, events: pub, logger: logger}
}

// Create handles POST /sessions (host).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" || utf8.RuneCountInString(title) > maxTitle {
		response.BadRequest(c, "title must be 1-200 characters")
		return
	}
	hostID, _ := middleware.HostID(c)

	s, err := h.store.Create(c.Request.Context(), hostID, title)
	if err != nil {
		h.logger.Error("create session", zap.String("host_id", hostID.String()), zap.Error(err))
		response.Error(c, err, "failed to create session")
		return
	}
	token, err := h.tokens.GenerateHostToken(hostID, s.ID)
	if err != nil {
		response.Internal(c, "failed to generate host token")
		return
	}
	h.logger.Info("session created", zap.String("session_id", s.ID.String()), zap.String("code", s.Code))
	if h.events != nil {
		data := events.SessionData{SessionID: s.ID, HostID: s.HostID, Code: s.Code}
		if err := h.events.PublishSessionCreated(c.Request.Context(), data); err != nil {
			h.logger.Warn("publish session created", zap.String("session_id", s.ID.String()), zap.Error(err))
		}
	}
	response.Created(c, CreateResponse{Session: s, HostToken: token})
}

// HostToken handles POST /sessions/:id/host-token (owner). It reissues the capability token.
func (h *Handler) HostToken(c *gin.Context) {
	s := FromContext(c)
	token, err := h.tokens.GenerateHostToken(s.HostID, s.ID)
	if err != nil {
		response.Internal(c, "failed to generate host token")
		return
	}
	response.OK(c, CreateResponse{Session: s, HostToken: token})
}

// List handles GET /sessions (host).
func (h *Handler) List(c *gin.Context) {
	hostID, _ := middleware.HostID(c)
	list, err := h.store.ListByHost(c.Request.Context(), hostID)
	if err != nil {
		response.Error(c, err, "failed to list sessions")
		return
	}
	response.OK(c, list)
}

// Get handles GET /sessions/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	s, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err, "failed to load session")
		return
	}
	response.OK(c, s)
}

// GetByCode handles GET /sessions/code/:code. Only live sessions resolve.
func (h *Handler) GetByCode(c *gin.Context) {
	code := strings.TrimSpace(c.Param("code"))
	if !ValidCode(code) {
		response.BadRequest(c, "code must be 6 digits")
		return
	}
	s, err := h.store.GetActiveByCode(c.Request.Context(), code)
	if err != nil {
		response.Error(c, err, "failed to load session")
		return
	}
	response.OK(c, s)
}

// ValidCode reports whether code has the 6-digit join code shape.
func ValidCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
