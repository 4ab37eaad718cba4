// Package gateway turns inbound websocket frames into store mutations and session broadcasts.
package gateway

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livepoll/backend/internal/events"
	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/internal/realtime"
)

// Client -> server events.
const (
	EventJoinSession    = "join-session"
	EventSubmitAnswer   = "submit-answer"
	EventSubmitFeedback = "submit-feedback"
	EventNavigatePoll   = "navigate-poll"
	EventEndSession     = "end-session"
)

// Server -> client events.
const (
	EventSessionState      = "session-state"
	EventParticipantJoined = "participant-joined"
	EventPollUpdated       = "poll-updated"
	EventFeedbackNew       = "feedback-new"
	EventPollChanged       = "poll-changed"
	EventSessionEnded      = "session-ended"
	EventError             = "error"
)

// SessionStore is the part of the session registry the gateway needs.
type SessionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	GetActiveByCode(ctx context.Context, code string) (*models.Session, error)
	SetCurrentSlide(ctx context.Context, id uuid.UUID, index int) error
	End(ctx context.Context, id uuid.UUID) error
}

// PollStore reads slides and persists recomputed option counters.
type PollStore interface {
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Poll, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error)
	UpdateOptionVotes(ctx context.Context, id uuid.UUID, options []models.Option) error
}

// ResponseLedger keeps one answer per (poll, participant).
type ResponseLedger interface {
	Upsert(ctx context.Context, pollID, participantID uuid.UUID, answer models.Answer) (*models.Response, error)
	ListByPoll(ctx context.Context, pollID uuid.UUID) ([]models.Response, error)
}

// ParticipantStore manages participant rows and their live connection handle.
type ParticipantStore interface {
	Create(ctx context.Context, sessionID uuid.UUID, name string) (*models.Participant, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Participant, error)
	BindConnection(ctx context.Context, id uuid.UUID, connectionID string) error
	ClearConnection(ctx context.Context, id uuid.UUID, connectionID string) error
}

// FeedbackStore appends feedback rows.
type FeedbackStore interface {
	Create(ctx context.Context, f *models.Feedback) error
}

// HostVerifier checks a host capability token against a session.
type HostVerifier interface {
	VerifyHost(token string, sessionID uuid.UUID) error
}

// Limiter bounds how often a key may act.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Broadcaster is the session fan-out used by the gateway.
type Broadcaster interface {
	Subscribe(sessionID uuid.UUID, sub realtime.Subscriber)
	Unsubscribe(sub realtime.Subscriber)
	CountSubscribers(sessionID uuid.UUID) int
	Publish(ctx context.Context, sessionID uuid.UUID, event string, payload interface{}) error
	PublishExcept(ctx context.Context, sessionID uuid.UUID, exceptID, event string, payload interface{}) error
}

// SessionEvents forwards session lifecycle changes to downstream consumers.
type SessionEvents interface {
	PublishSessionEnded(ctx context.Context, data events.SessionData) error
}

// Deps groups the collaborators of a Gateway. Limiter and Events are optional.
type Deps struct {
	Sessions     SessionStore
	Polls        PollStore
	Responses    ResponseLedger
	Participants ParticipantStore
	Feedback     FeedbackStore
	Hosts        HostVerifier
	Limiter      Limiter
	Hub          Broadcaster
	Events       SessionEvents
}

// Gateway accepts websocket connections and dispatches their commands.
type Gateway struct {
	deps   Deps
	logger *zap.Logger
}

// New creates a gateway.
func New(deps Deps, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{deps: deps, logger: logger}
}

// Accept implements realtime.Acceptor.
func (g *Gateway) Accept(sub realtime.Subscriber) realtime.ConnHandler {
	return g.NewConn(sub)
}

// NewConn starts the state machine for one connection.
func (g *Gateway) NewConn(sub realtime.Subscriber) *Conn {
	return &Conn{
		gw:     g,
		sub:    sub,
		state:  StateConnected,
		logger: g.logger.With(zap.String("connection_id", sub.ID())),
	}
}
