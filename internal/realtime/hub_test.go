package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type recorder struct {
	id   string
	mu   sync.Mutex
	msgs []WSMessage
	err  error
	boom bool
}

func (r *recorder) ID() string { return r.id }

func (r *recorder) Deliver(msg WSMessage) error {
	if r.boom {
		panic("subscriber exploded")
	}
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) received() []WSMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]WSMessage(nil), r.msgs...)
}

func TestHubSubscribeIsIdempotent(t *testing.T) {
	h := NewHub(nil)
	session := uuid.New()
	sub := &recorder{id: "a"}

	h.Subscribe(session, sub)
	h.Subscribe(session, sub)

	if n := h.CountSubscribers(session); n != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", n)
	}
	if err := h.Publish(context.Background(), session, "poll-changed", map[string]int{"pollIndex": 1}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := len(sub.received()); got != 1 {
		t.Errorf("Expected exactly one delivery, got %d", got)
	}
}

func TestHubUnsubscribeLeavesAllSessions(t *testing.T) {
	h := NewHub(nil)
	s1, s2 := uuid.New(), uuid.New()
	sub := &recorder{id: "a"}
	other := &recorder{id: "b"}

	h.Subscribe(s1, sub)
	h.Subscribe(s2, sub)
	h.Subscribe(s2, other)
	h.Unsubscribe(sub)

	if n := h.CountSubscribers(s1); n != 0 {
		t.Errorf("Expected s1 empty, got %d", n)
	}
	if n := h.CountSubscribers(s2); n != 1 {
		t.Errorf("Expected s2 to keep other subscriber, got %d", n)
	}

	_ = h.Publish(context.Background(), s2, "feedback-new", nil)
	if len(sub.received()) != 0 {
		t.Error("Unsubscribed subscriber still received events")
	}
	// Unsubscribing twice is harmless.
	h.Unsubscribe(sub)
}

func TestHubDeliveryIsIsolated(t *testing.T) {
	h := NewHub(nil)
	session := uuid.New()
	failing := &recorder{id: "failing", err: errors.New("broken pipe")}
	panicking := &recorder{id: "panicking", boom: true}
	healthy := &recorder{id: "healthy"}

	h.Subscribe(session, failing)
	h.Subscribe(session, panicking)
	h.Subscribe(session, healthy)

	if err := h.Publish(context.Background(), session, "poll-updated", map[string]string{"pollId": "p"}); err != nil {
		t.Fatalf("Publish should not surface delivery failures: %v", err)
	}
	if got := len(healthy.received()); got != 1 {
		t.Errorf("Healthy subscriber expected 1 message, got %d", got)
	}
}

func TestHubPublishExcept(t *testing.T) {
	h := NewHub(nil)
	session := uuid.New()
	joiner := &recorder{id: "joiner"}
	others := []*recorder{{id: "x"}, {id: "y"}}

	h.Subscribe(session, joiner)
	for _, o := range others {
		h.Subscribe(session, o)
	}

	_ = h.PublishExcept(context.Background(), session, joiner.ID(), "participant-joined", map[string]int{"participantCount": 3})

	if len(joiner.received()) != 0 {
		t.Error("Excluded subscriber received the event")
	}
	for _, o := range others {
		msgs := o.received()
		if len(msgs) != 1 || msgs[0].Event != "participant-joined" {
			t.Errorf("Subscriber %s: expected participant-joined, got %+v", o.id, msgs)
		}
	}
}

func TestHubRevisionsAreMonotonic(t *testing.T) {
	h := NewHub(nil)
	session := uuid.New()
	sub := &recorder{id: "a"}
	h.Subscribe(session, sub)

	for i := 0; i < 5; i++ {
		_ = h.Publish(context.Background(), session, "poll-updated", i)
	}

	msgs := sub.received()
	if len(msgs) != 5 {
		t.Fatalf("Expected 5 messages, got %d", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Revision <= msgs[i-1].Revision {
			t.Errorf("Revision not increasing at %d: %d after %d", i, msgs[i].Revision, msgs[i-1].Revision)
		}
	}
}

func TestHubPublishToEmptySession(t *testing.T) {
	h := NewHub(nil)
	if err := h.Publish(context.Background(), uuid.New(), "session-ended", nil); err != nil {
		t.Errorf("Expected no error for empty session, got %v", err)
	}
}

func TestSendTo(t *testing.T) {
	sub := &recorder{id: "a"}
	if err := SendTo(sub, "error", map[string]string{"message": "nope"}); err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	msgs := sub.received()
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	var body map[string]string
	if err := json.Unmarshal(msgs[0].Data, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["message"] != "nope" {
		t.Errorf("Expected message nope, got %q", body["message"])
	}
}

// loopBridge connects hubs in-process the way a Redis channel would.
type loopBridge struct {
	mu       sync.Mutex
	handlers map[uuid.UUID][]func(Envelope)
}

func newLoopBridge() *loopBridge {
	return &loopBridge{handlers: make(map[uuid.UUID][]func(Envelope))}
}

func (b *loopBridge) PublishSessionEvent(_ context.Context, sessionID uuid.UUID, env Envelope) error {
	b.mu.Lock()
	hs := append([]func(Envelope){}, b.handlers[sessionID]...)
	b.mu.Unlock()
	for _, fn := range hs {
		fn(env)
	}
	return nil
}

func (b *loopBridge) SubscribeSession(sessionID uuid.UUID, handler func(Envelope)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[sessionID] = append(b.handlers[sessionID], handler)
	return func() {}, nil
}

func TestHubBridgeFansOutAcrossInstances(t *testing.T) {
	bridge := newLoopBridge()
	a := NewHub(nil, WithBridge(bridge))
	b := NewHub(nil, WithBridge(bridge))
	session := uuid.New()

	onA := &recorder{id: "on-a"}
	onB := &recorder{id: "on-b"}
	a.Subscribe(session, onA)
	b.Subscribe(session, onB)

	_ = a.Publish(context.Background(), session, "poll-changed", map[string]int{"pollIndex": 2})

	if got := len(onA.received()); got != 1 {
		t.Errorf("Origin instance must deliver exactly once, got %d", got)
	}
	if got := len(onB.received()); got != 1 {
		t.Errorf("Remote instance expected 1 message, got %d", got)
	}
}

func TestHubBridgeHonorsExcept(t *testing.T) {
	bridge := newLoopBridge()
	a := NewHub(nil, WithBridge(bridge))
	b := NewHub(nil, WithBridge(bridge))
	session := uuid.New()

	joiner := &recorder{id: "joiner"}
	onB := &recorder{id: "on-b"}
	a.Subscribe(session, joiner)
	b.Subscribe(session, onB)

	_ = a.PublishExcept(context.Background(), session, "joiner", "participant-joined", nil)

	if len(joiner.received()) != 0 {
		t.Error("Excluded subscriber received the event")
	}
	if len(onB.received()) != 1 {
		t.Error("Remote subscriber missed the event")
	}
}

// gatedBridge blocks SubscribeSession until release is closed and counts cancelled subscriptions.
type gatedBridge struct {
	entered   chan struct{}
	release   chan struct{}
	mu        sync.Mutex
	cancelled int
}

func (g *gatedBridge) PublishSessionEvent(context.Context, uuid.UUID, Envelope) error { return nil }

func (g *gatedBridge) SubscribeSession(uuid.UUID, func(Envelope)) (func(), error) {
	close(g.entered)
	<-g.release
	return func() {
		g.mu.Lock()
		g.cancelled++
		g.mu.Unlock()
	}, nil
}

func TestHubBridgeSubscribeDoesNotHoldLock(t *testing.T) {
	bridge := &gatedBridge{entered: make(chan struct{}), release: make(chan struct{})}
	h := NewHub(nil, WithBridge(bridge))
	session := uuid.New()
	sub := &recorder{id: "slow"}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Subscribe(session, sub)
	}()
	<-bridge.entered

	counted := make(chan int, 1)
	go func() { counted <- h.CountSubscribers(session) }()
	select {
	case n := <-counted:
		if n != 1 {
			t.Errorf("Expected the subscriber registered before the bridge opened, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("CountSubscribers blocked behind a bridge subscription")
	}

	h.Unsubscribe(sub)
	close(bridge.release)
	<-done

	bridge.mu.Lock()
	defer bridge.mu.Unlock()
	if bridge.cancelled != 1 {
		t.Errorf("Expected the late bridge subscription to be cancelled, got %d cancels", bridge.cancelled)
	}
}
