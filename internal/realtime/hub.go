package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livepoll/backend/pkg/apperr"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// WSMessage is the WebSocket message envelope. Server frames carry the session revision at publish time.
type WSMessage struct {
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data,omitempty"`
	Revision uint64          `json:"revision,omitempty"`
}

// Subscriber is a live connection that can receive session events.
type Subscriber interface {
	ID() string
	Deliver(msg WSMessage) error
}

// RevisionSource hands out a monotonic revision per session.
type RevisionSource interface {
	Next(ctx context.Context, sessionID uuid.UUID) (uint64, error)
}

// Bridge mirrors session events to other instances.
type Bridge interface {
	PublishSessionEvent(ctx context.Context, sessionID uuid.UUID, env Envelope) error
	SubscribeSession(sessionID uuid.UUID, handler func(env Envelope)) (cancel func(), err error)
}

// Envelope is a message as it travels between instances.
type Envelope struct {
	Origin  string    `json:"origin"`
	Except  string    `json:"except,omitempty"`
	Message WSMessage `json:"message"`
}

// Hub maintains session_id -> set of subscribers and fans events out to them.
// With a Bridge configured, every publish is mirrored so subscribers held by other instances receive it too.
type Hub struct {
	// sessionID -> map[subscriberID]Subscriber
	sessions map[uuid.UUID]map[string]Subscriber
	// subscriberID -> sessions it belongs to, for Unsubscribe
	memberships map[string]map[uuid.UUID]struct{}
	bridgeSubs  map[uuid.UUID]*bridgeSub
	mu          sync.RWMutex

	instanceID string
	revisions  RevisionSource
	bridge     Bridge
	logger     *zap.Logger
}

// bridgeSub is a session's bridge subscription. cancel stays nil while the subscription is being opened.
type bridgeSub struct {
	cancel func()
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBridge mirrors publishes through b.
func WithBridge(b Bridge) HubOption {
	return func(h *Hub) { h.bridge = b }
}

// WithRevisions replaces the in-memory revision counter.
func WithRevisions(r RevisionSource) HubOption {
	return func(h *Hub) { h.revisions = r }
}

// NewHub creates a hub. Without options it is local-only with in-memory revisions.
func NewHub(logger *zap.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		sessions:    make(map[uuid.UUID]map[string]Subscriber),
		memberships: make(map[string]map[uuid.UUID]struct{}),
		bridgeSubs:  make(map[uuid.UUID]*bridgeSub),
		instanceID:  uuid.New().String(),
		revisions:   NewMemoryRevisions(),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// InstanceID identifies this hub in bridged envelopes.
func (h *Hub) InstanceID() string { return h.instanceID }

// Subscribe adds sub to the session's set. Subscribing twice to the same session is a no-op.
// The first local subscriber of a session opens the bridge subscription, outside the hub lock.
func (h *Hub) Subscribe(sessionID uuid.UUID, sub Subscriber) {
	var pending *bridgeSub
	h.mu.Lock()
	set := h.sessions[sessionID]
	if set == nil {
		set = make(map[string]Subscriber)
		h.sessions[sessionID] = set
		if h.bridge != nil {
			pending = &bridgeSub{}
			h.bridgeSubs[sessionID] = pending
		}
	}
	set[sub.ID()] = sub
	m := h.memberships[sub.ID()]
	if m == nil {
		m = make(map[uuid.UUID]struct{})
		h.memberships[sub.ID()] = m
	}
	m[sessionID] = struct{}{}
	count := len(set)
	h.mu.Unlock()

	if pending != nil {
		h.openBridge(sessionID, pending)
	}
	h.logger.Debug("subscriber joined session",
		zap.String("subscriber_id", sub.ID()),
		zap.String("session_id", sessionID.String()),
		zap.Int("subscribers", count),
	)
}

// openBridge subscribes to the session's bridge channel and records the cancel func in pending. When the
// session lost its last subscriber in the meantime the new subscription is closed again.
func (h *Hub) openBridge(sessionID uuid.UUID, pending *bridgeSub) {
	cancel, err := h.bridge.SubscribeSession(sessionID, func(env Envelope) {
		h.receiveRemote(sessionID, env)
	})

	h.mu.Lock()
	current := h.bridgeSubs[sessionID] == pending
	if err != nil && current {
		delete(h.bridgeSubs, sessionID)
	}
	if err == nil && current {
		pending.cancel = cancel
	}
	h.mu.Unlock()

	switch {
	case err != nil:
		h.logger.Warn("bridge subscribe failed", zap.String("session_id", sessionID.String()), zap.Error(err))
	case !current:
		cancel()
	}
}

// Unsubscribe removes sub from every session it belongs to.
func (h *Hub) Unsubscribe(sub Subscriber) {
	var cancels []func()
	h.mu.Lock()
	for sessionID := range h.memberships[sub.ID()] {
		set := h.sessions[sessionID]
		delete(set, sub.ID())
		if len(set) == 0 {
			delete(h.sessions, sessionID)
			if bs, ok := h.bridgeSubs[sessionID]; ok {
				if bs.cancel != nil {
					cancels = append(cancels, bs.cancel)
				}
				delete(h.bridgeSubs, sessionID)
			}
		}
	}
	delete(h.memberships, sub.ID())
	h.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	h.logger.Debug("subscriber left", zap.String("subscriber_id", sub.ID()))
}

// CountSubscribers returns the number of local connections subscribed to a session.
// It counts connections, not participants.
func (h *Hub) CountSubscribers(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Publish delivers an event to every subscriber of the session.
func (h *Hub) Publish(ctx context.Context, sessionID uuid.UUID, event string, payload interface{}) error {
	return h.publish(ctx, sessionID, "", event, payload)
}

// PublishExcept delivers an event to every subscriber of the session except exceptID.
func (h *Hub) PublishExcept(ctx context.Context, sessionID uuid.UUID, exceptID, event string, payload interface{}) error {
	return h.publish(ctx, sessionID, exceptID, event, payload)
}

// SendTo delivers an event to a single subscriber, outside any session fan-out.
func SendTo(sub Subscriber, event string, payload interface{}) error {
	data, err := encode(payload)
	if err != nil {
		return err
	}
	return sub.Deliver(WSMessage{Event: event, Data: data})
}

func (h *Hub) publish(ctx context.Context, sessionID uuid.UUID, exceptID, event string, payload interface{}) error {
	data, err := encode(payload)
	if err != nil {
		return err
	}
	rev, err := h.revisions.Next(ctx, sessionID)
	if err != nil {
		// Ordering hint only; still deliver.
		h.logger.Warn("revision unavailable", zap.String("session_id", sessionID.String()), zap.Error(err))
	}
	msg := WSMessage{Event: event, Data: data, Revision: rev}

	h.deliverLocal(sessionID, exceptID, msg)

	if h.bridge != nil {
		env := Envelope{Origin: h.instanceID, Except: exceptID, Message: msg}
		if err := h.bridge.PublishSessionEvent(ctx, sessionID, env); err != nil {
			h.logger.Warn("bridge publish failed",
				zap.String("session_id", sessionID.String()),
				zap.String("event", event),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (h *Hub) receiveRemote(sessionID uuid.UUID, env Envelope) {
	if env.Origin == h.instanceID {
		return
	}
	h.deliverLocal(sessionID, env.Except, env.Message)
}

// deliverLocal enumerates the current set and delivers to each member. One subscriber failing, by error
// or panic, never stops delivery to the rest.
func (h *Hub) deliverLocal(sessionID uuid.UUID, exceptID string, msg WSMessage) {
	h.mu.RLock()
	targets := make([]Subscriber, 0, len(h.sessions[sessionID]))
	for id, sub := range h.sessions[sessionID] {
		if id == exceptID {
			continue
		}
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		if err := safeDeliver(sub, msg); err != nil {
			h.logger.Warn("delivery failed",
				zap.String("session_id", sessionID.String()),
				zap.String("event", msg.Event),
				zap.Error(apperr.Delivery(sub.ID(), err)),
			)
		}
	}
}

func safeDeliver(sub Subscriber, msg WSMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return sub.Deliver(msg)
}

func encode(payload interface{}) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return data, nil
	}
}

// MemoryRevisions is a process-local RevisionSource.
type MemoryRevisions struct {
	mu   sync.Mutex
	revs map[uuid.UUID]uint64
}

// NewMemoryRevisions creates an empty counter set.
func NewMemoryRevisions() *MemoryRevisions {
	return &MemoryRevisions{revs: make(map[uuid.UUID]uint64)}
}

// Next increments and returns the session's revision.
func (m *MemoryRevisions) Next(_ context.Context, sessionID uuid.UUID) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revs[sessionID]++
	return m.revs[sessionID], nil
}
