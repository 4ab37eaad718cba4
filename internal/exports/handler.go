// Package exports tracks results export jobs and serves their download links.
package exports

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/internal/sessions"
	"github.com/livepoll/backend/pkg/queue"
	"github.com/livepoll/backend/pkg/response"
)

// Store is the export persistence used by the handler.
type Store interface {
	Create(ctx context.Context, sessionID uuid.UUID) (*models.Export, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Export, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// Enqueuer schedules export jobs.
type Enqueuer interface {
	EnqueueExport(ctx context.Context, payload queue.ExportPayload) error
}

// Presigner issues download links for finished exports.
type Presigner interface {
	PresignedDownloadURL(ctx context.Context, key string) (string, error)
}

// Handler handles export HTTP endpoints.
type Handler struct {
	store     Store
	sessions  sessions.Getter
	queue     Enqueuer
	presigner Presigner
	logger    *zap.Logger
}

// NewHandler creates an exports handler. queue and presigner may be nil when Redis or S3 are not
// configured; requests then fail with 503.
func NewHandler(store Store, sessionStore sessions.Getter, q Enqueuer, presigner Presigner, logger *zap.Logger) *Handler {
	return &Handler{store: store, sessions: sessionStore, queue: q, presigner: presigner, logger: logger}
}

// Create handles POST /sessions/:id/exports (owner).
func (h *Handler) Create(c *gin.Context) {
	if h.queue == nil || h.presigner == nil {
		response.ServiceUnavailable(c, "exports are not configured")
		return
	}
	s := sessions.FromContext(c)
	ctx := c.Request.Context()

	e, err := h.store.Create(ctx, s.ID)
	if err != nil {
		response.Error(c, err, "failed to create export")
		return
	}
	if err := h.queue.EnqueueExport(ctx, queue.ExportPayload{ExportID: e.ID, SessionID: s.ID}); err != nil {
		h.logger.Error("enqueue export", zap.String("export_id", e.ID.String()), zap.Error(err))
		if mErr := h.store.MarkFailed(ctx, e.ID, "could not schedule export"); mErr != nil {
			h.logger.Warn("mark export failed", zap.String("export_id", e.ID.String()), zap.Error(mErr))
		}
		response.ServiceUnavailable(c, "failed to schedule export")
		return
	}
	h.logger.Info("export scheduled", zap.String("export_id", e.ID.String()), zap.String("session_id", s.ID.String()))
	response.Accepted(c, e)
}

// Get handles GET /exports/:id (host). A completed export carries a short-lived download URL.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid export id")
		return
	}
	ctx := c.Request.Context()
	e, err := h.store.GetByID(ctx, id)
	if err != nil {
		response.Error(c, err, "failed to load export")
		return
	}
	s, err := h.sessions.GetByID(ctx, e.SessionID)
	if err != nil {
		response.Error(c, err, "failed to load session")
		return
	}
	if !sessions.IsOwner(c, s) {
		response.Forbidden(c, "not the session host")
		return
	}

	if e.Status == models.ExportStatusCompleted && h.presigner != nil {
		url, err := h.presigner.PresignedDownloadURL(ctx, e.S3Key)
		if err != nil {
			h.logger.Error("presign export", zap.String("export_id", e.ID.String()), zap.Error(err))
			response.Internal(c, "failed to sign download url")
			return
		}
		e.DownloadURL = url
	}
	response.OK(c, e)
}
