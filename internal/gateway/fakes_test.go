package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/livepoll/backend/internal/events"
	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/internal/realtime"
	"github.com/livepoll/backend/pkg/apperr"
)

type memStore struct {
	mu           sync.Mutex
	sessions     map[uuid.UUID]*models.Session
	polls        map[uuid.UUID]*models.Poll
	responses    map[[2]uuid.UUID]*models.Response
	participants map[uuid.UUID]*models.Participant
	feedback     []*models.Feedback
	clock        time.Time
}

func newMemStore() *memStore {
	return &memStore{
		sessions:     make(map[uuid.UUID]*models.Session),
		polls:        make(map[uuid.UUID]*models.Poll),
		responses:    make(map[[2]uuid.UUID]*models.Response),
		participants: make(map[uuid.UUID]*models.Participant),
		clock:        time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Millisecond)
	return m.clock
}

// sessions

type memSessions struct{ *memStore }

func (s memSessions) GetByID(_ context.Context, id uuid.UUID) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, apperr.NotFound("session")
	}
	cp := *sess
	return &cp, nil
}

func (s memSessions) GetActiveByCode(_ context.Context, code string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.Code == code && sess.IsActive {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("session")
}

func (s memSessions) SetCurrentSlide(_ context.Context, id uuid.UUID, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return apperr.NotFound("session")
	}
	sess.CurrentSlideIndex = index
	return nil
}

func (s memSessions) End(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return apperr.NotFound("session")
	}
	now := s.tick()
	sess.IsActive = false
	sess.EndedAt = &now
	return nil
}

// polls

type memPolls struct{ *memStore }

func (p memPolls) ListBySession(_ context.Context, sessionID uuid.UUID) ([]models.Poll, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.Poll
	for _, poll := range p.polls {
		if poll.SessionID == sessionID {
			out = append(out, *poll)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func (p memPolls) GetByID(_ context.Context, id uuid.UUID) (*models.Poll, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	poll, ok := p.polls[id]
	if !ok {
		return nil, apperr.NotFound("poll")
	}
	cp := *poll
	cp.Options = append([]models.Option(nil), poll.Options...)
	return &cp, nil
}

func (p memPolls) UpdateOptionVotes(_ context.Context, id uuid.UUID, options []models.Option) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	poll, ok := p.polls[id]
	if !ok {
		return apperr.NotFound("poll")
	}
	poll.Options = append([]models.Option(nil), options...)
	return nil
}

// responses

type memResponses struct{ *memStore }

func (r memResponses) Upsert(_ context.Context, pollID, participantID uuid.UUID, answer models.Answer) (*models.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := [2]uuid.UUID{pollID, participantID}
	resp, ok := r.responses[key]
	if !ok {
		resp = &models.Response{ID: uuid.New(), PollID: pollID, ParticipantID: participantID}
		r.responses[key] = resp
	}
	resp.Answer = answer
	resp.SubmittedAt = r.tick()
	cp := *resp
	return &cp, nil
}

func (r memResponses) ListByPoll(_ context.Context, pollID uuid.UUID) ([]models.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Response
	for _, resp := range r.responses {
		if resp.PollID == pollID {
			out = append(out, *resp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

// participants

type memParticipants struct{ *memStore }

func (p memParticipants) Create(_ context.Context, sessionID uuid.UUID, name string) (*models.Participant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	part := &models.Participant{ID: uuid.New(), SessionID: sessionID, Name: name, JoinedAt: p.tick()}
	p.participants[part.ID] = part
	cp := *part
	return &cp, nil
}

func (p memParticipants) GetByID(_ context.Context, id uuid.UUID) (*models.Participant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	part, ok := p.participants[id]
	if !ok {
		return nil, apperr.NotFound("participant")
	}
	cp := *part
	return &cp, nil
}

func (p memParticipants) BindConnection(_ context.Context, id uuid.UUID, connectionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	part, ok := p.participants[id]
	if !ok {
		return apperr.NotFound("participant")
	}
	part.ConnectionID = &connectionID
	return nil
}

func (p memParticipants) ClearConnection(_ context.Context, id uuid.UUID, connectionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if part, ok := p.participants[id]; ok && part.ConnectionID != nil && *part.ConnectionID == connectionID {
		part.ConnectionID = nil
	}
	return nil
}

// feedback

type memFeedback struct{ *memStore }

func (f memFeedback) Create(_ context.Context, fb *models.Feedback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fb.ID = uuid.New()
	fb.CreatedAt = f.tick()
	cp := *fb
	f.feedback = append(f.feedback, &cp)
	return nil
}

// hosts

const validHostToken = "host-token"

type fakeHosts struct{ sessionID uuid.UUID }

func (h fakeHosts) VerifyHost(token string, sessionID uuid.UUID) error {
	if token != validHostToken || sessionID != h.sessionID {
		return errors.New("token rejected")
	}
	return nil
}

type denyAfter struct {
	mu    sync.Mutex
	limit int
	seen  map[string]int
}

func (d *denyAfter) Allow(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = make(map[string]int)
	}
	d.seen[key]++
	return d.seen[key] <= d.limit, nil
}

type recordedEvents struct {
	mu    sync.Mutex
	ended []events.SessionData
}

func (r *recordedEvents) PublishSessionEnded(_ context.Context, data events.SessionData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, data)
	return nil
}

// subscriber

type inbox struct {
	id   string
	mu   sync.Mutex
	msgs []realtime.WSMessage
}

func newInbox() *inbox { return &inbox{id: uuid.New().String()} }

func (i *inbox) ID() string { return i.id }

func (i *inbox) Deliver(msg realtime.WSMessage) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.msgs = append(i.msgs, msg)
	return nil
}

func (i *inbox) received(name string) []realtime.WSMessage {
	i.mu.Lock()
	defer i.mu.Unlock()
	var out []realtime.WSMessage
	for _, m := range i.msgs {
		if m.Event == name {
			out = append(out, m)
		}
	}
	return out
}

func (i *inbox) last(t *testing.T, name string) realtime.WSMessage {
	t.Helper()
	msgs := i.received(name)
	if len(msgs) == 0 {
		t.Fatalf("Expected a %s event, got none", name)
	}
	return msgs[len(msgs)-1]
}

func (i *inbox) lastError(t *testing.T) string {
	t.Helper()
	msg := i.last(t, EventError)
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(msg.Data, &body); err != nil {
		t.Fatalf("unmarshal error event: %v", err)
	}
	return body.Message
}

// fixture

type fixture struct {
	store     *memStore
	hub       *realtime.Hub
	gw        *Gateway
	session   *models.Session
	choice    *models.Poll
	rating    *models.Poll
	heading   *models.Poll
	limiter   *denyAfter
	events    *recordedEvents
	hostToken string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	session := &models.Session{
		ID:        uuid.New(),
		HostID:    uuid.New(),
		Code:      "123456",
		Title:     "Friday all-hands",
		IsActive:  true,
		CreatedAt: store.tick(),
	}
	store.sessions[session.ID] = session

	// Inserted out of order so listing must sort.
	heading := &models.Poll{ID: uuid.New(), SessionID: session.ID, Type: models.PollHeading, Question: "Thanks", OrderIndex: 2}
	rating := &models.Poll{ID: uuid.New(), SessionID: session.ID, Type: models.PollRating, Question: "Rate the talk", OrderIndex: 1}
	choice := &models.Poll{
		ID:        uuid.New(),
		SessionID: session.ID,
		Type:      models.PollSingleChoice,
		Question:  "Tabs or spaces?",
		Options:   []models.Option{{ID: "opt1", Text: "A"}, {ID: "opt2", Text: "B"}},
	}
	for _, p := range []*models.Poll{heading, rating, choice} {
		store.polls[p.ID] = p
	}

	hub := realtime.NewHub(nil)
	limiter := &denyAfter{limit: 1000}
	recorded := &recordedEvents{}
	gw := New(Deps{
		Sessions:     memSessions{store},
		Polls:        memPolls{store},
		Responses:    memResponses{store},
		Participants: memParticipants{store},
		Feedback:     memFeedback{store},
		Hosts:        fakeHosts{sessionID: session.ID},
		Limiter:      limiter,
		Hub:          hub,
		Events:       recorded,
	}, nil)

	return &fixture{
		store:     store,
		hub:       hub,
		gw:        gw,
		session:   session,
		choice:    choice,
		rating:    rating,
		heading:   heading,
		limiter:   limiter,
		events:    recorded,
		hostToken: validHostToken,
	}
}

func (f *fixture) participant(t *testing.T, name string) *models.Participant {
	t.Helper()
	p, err := memParticipants{f.store}.Create(context.Background(), f.session.ID, name)
	if err != nil {
		t.Fatalf("create participant: %v", err)
	}
	return p
}

func (f *fixture) connect() (*Conn, *inbox) {
	box := newInbox()
	return f.gw.NewConn(box), box
}

func frame(t *testing.T, event string, data interface{}) realtime.WSMessage {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	return realtime.WSMessage{Event: event, Data: raw}
}

func (f *fixture) join(t *testing.T, c *Conn, participantID uuid.UUID) {
	t.Helper()
	data := map[string]string{"sessionId": f.session.ID.String()}
	if participantID != uuid.Nil {
		data["participantId"] = participantID.String()
	}
	c.Handle(context.Background(), frame(t, EventJoinSession, data))
}

func (f *fixture) answer(t *testing.T, c *Conn, poll *models.Poll, participantID uuid.UUID, answer interface{}) {
	t.Helper()
	c.Handle(context.Background(), frame(t, EventSubmitAnswer, map[string]interface{}{
		"sessionId":     f.session.ID.String(),
		"pollId":        poll.ID.String(),
		"participantId": participantID.String(),
		"answer":        answer,
	}))
}

func decodeUpdate(t *testing.T, msg realtime.WSMessage) PollUpdate {
	t.Helper()
	var u PollUpdate
	if err := json.Unmarshal(msg.Data, &u); err != nil {
		t.Fatalf("unmarshal poll-updated: %v", err)
	}
	return u
}
