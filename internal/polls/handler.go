package polls

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livepoll/backend/internal/aggregate"
	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/internal/sessions"
	"github.com/livepoll/backend/pkg/response"
)

const (
	maxQuestion   = 500
	maxOptionText = 200
	maxOptions    = 20
)

// Store is the poll persistence used by the handler.
type Store interface {
	Create(ctx context.Context, p *models.Poll) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Poll, error)
}

// ResponseLister reads the answers recorded for a poll.
type ResponseLister interface {
	ListByPoll(ctx context.Context, pollID uuid.UUID) ([]models.Response, error)
}

// OptionInput is one declared choice in a create request. ID is optional.
type OptionInput struct {
	ID   string `json:"id"`
	Text string `json:"text" binding:"required"`
}

// CreateRequest is the body for POST /sessions/:id/polls.
type CreateRequest struct {
	Type     models.PollType `json:"type" binding:"required"`
	Question string          `json:"question"`
	Options  []OptionInput   `json:"options"`
}

// ResultsResponse is the body of GET /polls/:id/results.
type ResultsResponse struct {
	PollID  uuid.UUID         `json:"pollId"`
	Results aggregate.Summary `json:"results"`
}

// Handler handles poll HTTP endpoints.
type Handler struct {
	store     Store
	responses ResponseLister
	logger    *zap.Logger
}

// NewHandler creates a polls handler.
func NewHandler(store Store, responses ResponseLister, logger *zap.Logger) *Handler {
	return &Handler{store: store, responses: responses, logger: logger}
}

// Create handles POST /sessions/:id/polls (owner). The slide is appended after the existing ones.
func (h *Handler) Create(c *gin.Context) {
	s := sessions.FromContext(c)

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	p, msg := buildPoll(s.ID, req)
	if msg != "" {
		response.BadRequest(c, msg)
		return
	}
	if err := h.store.Create(c.Request.Context(), p); err != nil {
		h.logger.Error("create poll", zap.String("session_id", s.ID.String()), zap.Error(err))
		response.Error(c, err, "failed to create poll")
		return
	}
	response.Created(c, p)
}

// List handles GET /sessions/:id/polls.
func (h *Handler) List(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	list, err := h.store.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err, "failed to list polls")
		return
	}
	response.OK(c, list)
}

// Results handles GET /polls/:id/results. The summary is recomputed from the response ledger.
func (h *Handler) Results(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	p, err := h.store.GetByID(c.Request.Context(), pollID)
	if err != nil {
		response.Error(c, err, "failed to load poll")
		return
	}
	responses, err := h.responses.ListByPoll(c.Request.Context(), pollID)
	if err != nil {
		response.Error(c, err, "failed to load responses")
		return
	}
	response.OK(c, ResultsResponse{PollID: p.ID, Results: aggregate.Summarize(p.Type, p.Options, responses)})
}

// buildPoll validates a create request. It returns a client message when the request is rejected.
func buildPoll(sessionID uuid.UUID, req CreateRequest) (*models.Poll, string) {
	if !req.Type.Valid() {
		return nil, fmt.Sprintf("unknown slide type %q", req.Type)
	}
	question := strings.TrimSpace(req.Question)
	if utf8.RuneCountInString(question) > maxQuestion {
		return nil, "question is too long"
	}
	if question == "" && !req.Type.IsStatic() {
		return nil, "question is required"
	}

	p := &models.Poll{SessionID: sessionID, Type: req.Type, Question: question, Options: []models.Option{}}
	if !req.Type.HasOptions() {
		if len(req.Options) > 0 {
			return nil, fmt.Sprintf("slide type %q does not take options", req.Type)
		}
		return p, ""
	}

	if len(req.Options) < 2 || len(req.Options) > maxOptions {
		return nil, fmt.Sprintf("between 2 and %d options are required", maxOptions)
	}
	taken := make(map[string]bool, len(req.Options))
	for _, in := range req.Options {
		id := strings.TrimSpace(in.ID)
		if id == "" {
			continue
		}
		if taken[id] {
			return nil, fmt.Sprintf("duplicate option id %q", id)
		}
		taken[id] = true
	}

	next := 1
	for i, in := range req.Options {
		text := strings.TrimSpace(in.Text)
		if text == "" || utf8.RuneCountInString(text) > maxOptionText {
			return nil, fmt.Sprintf("option %d text must be 1-%d characters", i+1, maxOptionText)
		}
		id := strings.TrimSpace(in.ID)
		if id == "" {
			id, next = defaultOptionID(taken, i+1, next)
		}
		p.Options = append(p.Options, models.Option{ID: id, Text: text})
	}
	return p, ""
}

// defaultOptionID returns opt<position> when free, otherwise the lowest free opt<n> from next on.
// The chosen id is marked taken.
func defaultOptionID(taken map[string]bool, position, next int) (string, int) {
	id := fmt.Sprintf("opt%d", position)
	for taken[id] {
		id = fmt.Sprintf("opt%d", next)
		next++
	}
	taken[id] = true
	return id, next
}
