package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livepoll/backend/internal/realtime"
	"github.com/livepoll/backend/pkg/apperr"
)

// State is the lifecycle position of a connection.
type State int

const (
	StateConnected State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Conn is the gateway side of one websocket connection.
type Conn struct {
	gw     *Gateway
	sub    realtime.Subscriber
	logger *zap.Logger

	mu            sync.Mutex
	state         State
	sessionID     uuid.UUID
	participantID uuid.UUID
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the joined session, or uuid.Nil.
func (c *Conn) SessionID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Handle dispatches one inbound frame. Any failure, including a panic, becomes an error event
// addressed to this connection only.
func (c *Conn) Handle(ctx context.Context, msg realtime.WSMessage) {
	if c.State() == StateClosed {
		return
	}

	start := time.Now()
	err := c.dispatch(ctx, msg)
	if err != nil {
		c.reportError(msg.Event, err)
	}
	c.logger.Debug("command handled",
		zap.String("event", msg.Event),
		zap.Duration("latency", time.Since(start)),
		zap.Bool("ok", err == nil),
	)
}

func (c *Conn) dispatch(ctx context.Context, msg realtime.WSMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("command panicked", zap.String("event", msg.Event), zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("panic in %s: %v", msg.Event, r)
		}
	}()

	switch msg.Event {
	case EventJoinSession:
		return c.join(ctx, msg.Data)
	case EventSubmitAnswer:
		return c.submitAnswer(ctx, msg.Data)
	case EventSubmitFeedback:
		return c.submitFeedback(ctx, msg.Data)
	case EventNavigatePoll:
		return c.navigatePoll(ctx, msg.Data)
	case EventEndSession:
		return c.endSession(ctx, msg.Data)
	default:
		return apperr.Validation("unknown event %q", msg.Event)
	}
}

func (c *Conn) reportError(event string, err error) {
	if apperr.KindOf(err) == apperr.KindStore {
		c.logger.Error("command failed", zap.String("event", event), zap.Error(err))
	} else {
		c.logger.Info("command rejected", zap.String("event", event), zap.Error(err))
	}
	payload := map[string]string{"message": apperr.PublicMessage(err)}
	if derr := realtime.SendTo(c.sub, EventError, payload); derr != nil {
		c.logger.Warn("error event not delivered", zap.Error(derr))
	}
}

// enter records sessionID as the joined session. It returns the session the connection was in before
// and a participant binding that no longer applies. ok is false once the connection is closed.
func (c *Conn) enter(sessionID, participantID uuid.UUID) (prevSession, released uuid.UUID, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return uuid.Nil, uuid.Nil, false
	}
	prevSession = c.sessionID
	prevParticipant := c.participantID
	if prevSession != sessionID || participantID != uuid.Nil {
		c.participantID = participantID
	}
	if prevParticipant != uuid.Nil && prevParticipant != c.participantID {
		released = prevParticipant
	}
	c.state = StateJoined
	c.sessionID = sessionID
	return prevSession, released, true
}

// Close releases the connection's subscriptions and participant binding. Safe to call more than once.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	participantID := c.participantID
	c.mu.Unlock()

	c.gw.deps.Hub.Unsubscribe(c.sub)
	if participantID != uuid.Nil {
		c.releaseParticipant(participantID)
	}
	c.logger.Debug("connection closed")
}

func (c *Conn) releaseParticipant(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.gw.deps.Participants.ClearConnection(ctx, id, c.sub.ID()); err != nil {
		c.logger.Warn("clear participant connection failed", zap.String("participant_id", id.String()), zap.Error(err))
	}
}
