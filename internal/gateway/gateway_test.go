package gateway

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/internal/realtime"
)

func TestJoinSendsOneOrderedSnapshot(t *testing.T) {
	f := newFixture(t)
	c, box := f.connect()

	f.join(t, c, uuid.Nil)

	states := box.received(EventSessionState)
	if len(states) != 1 {
		t.Fatalf("Expected exactly one session-state, got %d", len(states))
	}
	var state SessionState
	if err := json.Unmarshal(states[0].Data, &state); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if state.Session == nil || state.Session.ID != f.session.ID {
		t.Fatalf("Expected session %s in snapshot", f.session.ID)
	}
	if len(state.Polls) != 3 {
		t.Fatalf("Expected 3 polls, got %d", len(state.Polls))
	}
	for i := 1; i < len(state.Polls); i++ {
		if state.Polls[i].OrderIndex <= state.Polls[i-1].OrderIndex {
			t.Errorf("Polls not ascending at %d: %d then %d", i, state.Polls[i-1].OrderIndex, state.Polls[i].OrderIndex)
		}
	}
	if state.ParticipantCount != 1 {
		t.Errorf("Expected participantCount 1, got %d", state.ParticipantCount)
	}
	if c.State() != StateJoined {
		t.Errorf("Expected joined state, got %s", c.State())
	}
}

func TestJoinBroadcastsCountToOthers(t *testing.T) {
	f := newFixture(t)
	first, firstBox := f.connect()
	second, secondBox := f.connect()

	f.join(t, first, uuid.Nil)
	f.join(t, second, uuid.Nil)

	joined := firstBox.last(t, EventParticipantJoined)
	var body map[string]int
	if err := json.Unmarshal(joined.Data, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["participantCount"] != 2 {
		t.Errorf("Expected participantCount 2, got %d", body["participantCount"])
	}
	if len(secondBox.received(EventParticipantJoined)) != 0 {
		t.Error("Joining connection must not receive its own participant-joined")
	}
}

func TestJoinByCodeCreatesParticipant(t *testing.T) {
	f := newFixture(t)
	c, box := f.connect()

	c.Handle(context.Background(), frame(t, EventJoinSession, map[string]string{"code": "123456", "name": "Ada"}))

	var state SessionState
	if err := json.Unmarshal(box.last(t, EventSessionState).Data, &state); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if state.Participant == nil || state.Participant.Name != "Ada" {
		t.Fatalf("Expected participant Ada in snapshot, got %+v", state.Participant)
	}
	stored := f.store.participants[state.Participant.ID]
	if stored.ConnectionID == nil || *stored.ConnectionID != box.ID() {
		t.Error("Expected participant bound to the connection")
	}
}

func TestJoinValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		data interface{}
		want string
	}{
		{"missing session", map[string]string{}, "sessionId is required"},
		{"bad session id", map[string]string{"sessionId": "nope"}, "invalid sessionId"},
		{"unknown session", map[string]string{"sessionId": uuid.NewString()}, "session not found"},
		{"unknown code", map[string]string{"code": "000000"}, "session not found"},
		{"unknown participant", map[string]string{"sessionId": f.session.ID.String(), "participantId": uuid.NewString()}, "participant not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, box := f.connect()
			c.Handle(context.Background(), frame(t, EventJoinSession, tt.data))
			if got := box.lastError(t); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
			if c.State() != StateConnected {
				t.Errorf("Failed join must leave the connection unjoined, got %s", c.State())
			}
			if len(box.received(EventSessionState)) != 0 {
				t.Error("No snapshot expected on failure")
			}
		})
	}
}

func TestRejoinMovesConnection(t *testing.T) {
	f := newFixture(t)
	second := *f.session
	second.ID = uuid.New()
	second.Code = "654321"
	f.store.sessions[second.ID] = &second

	c, _ := f.connect()
	f.join(t, c, uuid.Nil)
	c.Handle(context.Background(), frame(t, EventJoinSession, map[string]string{"sessionId": second.ID.String()}))

	if n := f.hub.CountSubscribers(f.session.ID); n != 0 {
		t.Errorf("Expected connection to leave first session, still %d subscribers", n)
	}
	if n := f.hub.CountSubscribers(second.ID); n != 1 {
		t.Errorf("Expected 1 subscriber in second session, got %d", n)
	}
	if c.SessionID() != second.ID {
		t.Errorf("Expected joined session %s, got %s", second.ID, c.SessionID())
	}
}

func TestThreeVoteScenario(t *testing.T) {
	f := newFixture(t)
	viewer, viewerBox := f.connect()
	f.join(t, viewer, uuid.Nil)

	votes := []string{"opt1", "opt2", "opt1"}
	for i, opt := range votes {
		p := f.participant(t, "p")
		c, _ := f.connect()
		f.join(t, c, p.ID)
		f.answer(t, c, f.choice, p.ID, opt)
		if len(viewerBox.received(EventPollUpdated)) != i+1 {
			t.Fatalf("Expected %d poll-updated events", i+1)
		}
	}

	u := decodeUpdate(t, viewerBox.last(t, EventPollUpdated))
	if u.PollID != f.choice.ID {
		t.Errorf("Expected pollId %s, got %s", f.choice.ID, u.PollID)
	}
	if u.Results.TotalResponses != 3 {
		t.Fatalf("Expected totalResponses 3, got %d", u.Results.TotalResponses)
	}
	got := u.Results.Counts()
	if got["opt1"] != 2 || got["opt2"] != 1 {
		t.Errorf("Expected opt1=2 opt2=1, got %v", got)
	}

	stored := f.store.polls[f.choice.ID].Options
	if stored[0].Votes != 2 || stored[1].Votes != 1 {
		t.Errorf("Expected option counters persisted, got %+v", stored)
	}
}

func TestResubmitReplacesAnswer(t *testing.T) {
	f := newFixture(t)
	p := f.participant(t, "p1")
	c, box := f.connect()
	f.join(t, c, p.ID)

	f.answer(t, c, f.choice, p.ID, "opt1")
	f.answer(t, c, f.choice, p.ID, "opt2")

	u := decodeUpdate(t, box.last(t, EventPollUpdated))
	if u.Results.TotalResponses != 1 {
		t.Fatalf("Expected totalResponses 1, got %d", u.Results.TotalResponses)
	}
	got := u.Results.Counts()
	if got["opt1"] != 0 || got["opt2"] != 1 {
		t.Errorf("Expected opt1=0 opt2=1, got %v", got)
	}
}

func TestRatingAverage(t *testing.T) {
	f := newFixture(t)
	viewer, box := f.connect()
	f.join(t, viewer, uuid.Nil)

	for _, v := range []float64{3, 4, 5} {
		p := f.participant(t, "p")
		f.answer(t, viewer, f.rating, p.ID, v)
	}

	u := decodeUpdate(t, box.last(t, EventPollUpdated))
	if u.Results.Average == nil || math.Abs(*u.Results.Average-4) > 1e-9 {
		t.Errorf("Expected average 4.00, got %v", u.Results.Average)
	}
}

func TestDistinctParticipantsCount(t *testing.T) {
	f := newFixture(t)
	viewer, box := f.connect()
	f.join(t, viewer, uuid.Nil)

	var ids []uuid.UUID
	for i := 0; i < 7; i++ {
		ids = append(ids, f.participant(t, "p").ID)
	}
	// Some participants answer more than once.
	for i, id := range append(ids, ids[0], ids[3], ids[3]) {
		opt := "opt1"
		if i%2 == 0 {
			opt = "opt2"
		}
		f.answer(t, viewer, f.choice, id, opt)
	}

	u := decodeUpdate(t, box.last(t, EventPollUpdated))
	if u.Results.TotalResponses != len(ids) {
		t.Errorf("Expected %d distinct responses, got %d", len(ids), u.Results.TotalResponses)
	}
}

func TestConcurrentSubmissions(t *testing.T) {
	f := newFixture(t)
	viewer, box := f.connect()
	f.join(t, viewer, uuid.Nil)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		p := f.participant(t, "p")
		c, _ := f.connect()
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			opt := "opt1"
			if i%2 == 1 {
				opt = "opt2"
			}
			c.Handle(context.Background(), frame(t, EventSubmitAnswer, map[string]interface{}{
				"sessionId":     f.session.ID.String(),
				"pollId":        f.choice.ID.String(),
				"participantId": p.ID.String(),
				"answer":        opt,
			}))
		}(i)
	}
	wg.Wait()

	updates := box.received(EventPollUpdated)
	if len(updates) != n {
		t.Fatalf("Expected %d broadcasts, got %d", n, len(updates))
	}
	highest := 0
	for _, m := range updates {
		if tr := decodeUpdate(t, m).Results.TotalResponses; tr > highest {
			highest = tr
		}
	}
	if highest != n {
		t.Errorf("Expected some broadcast to see all %d responses, max was %d", n, highest)
	}
}

func TestSubmitAnswerValidation(t *testing.T) {
	f := newFixture(t)
	p := f.participant(t, "p")
	otherSessionPoll := *f.choice
	otherSessionPoll.ID = uuid.New()
	otherSessionPoll.SessionID = uuid.New()
	f.store.polls[otherSessionPoll.ID] = &otherSessionPoll

	tests := []struct {
		name string
		data map[string]interface{}
		want string
	}{
		{
			name: "missing poll",
			data: map[string]interface{}{"sessionId": f.session.ID.String(), "participantId": p.ID.String(), "answer": "opt1"},
			want: "pollId is required",
		},
		{
			name: "missing answer",
			data: map[string]interface{}{"sessionId": f.session.ID.String(), "pollId": f.choice.ID.String(), "participantId": p.ID.String()},
			want: "answer is required",
		},
		{
			name: "wrong shape",
			data: map[string]interface{}{"sessionId": f.session.ID.String(), "pollId": f.rating.ID.String(), "participantId": p.ID.String(), "answer": "great"},
			want: "answer must be a number",
		},
		{
			name: "unknown option",
			data: map[string]interface{}{"sessionId": f.session.ID.String(), "pollId": f.choice.ID.String(), "participantId": p.ID.String(), "answer": "opt9"},
			want: `unknown option "opt9"`,
		},
		{
			name: "static slide",
			data: map[string]interface{}{"sessionId": f.session.ID.String(), "pollId": f.heading.ID.String(), "participantId": p.ID.String(), "answer": "x"},
			want: `slide type "heading" does not accept answers`,
		},
		{
			name: "poll from another session",
			data: map[string]interface{}{"sessionId": f.session.ID.String(), "pollId": otherSessionPoll.ID.String(), "participantId": p.ID.String(), "answer": "opt1"},
			want: "poll does not belong to session",
		},
		{
			name: "unknown participant",
			data: map[string]interface{}{"sessionId": f.session.ID.String(), "pollId": f.choice.ID.String(), "participantId": uuid.NewString(), "answer": "opt1"},
			want: "participant not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, box := f.connect()
			c.Handle(context.Background(), frame(t, EventSubmitAnswer, tt.data))
			if got := box.lastError(t); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
	if len(f.store.responses) != 0 {
		t.Errorf("Rejected answers must not be stored, found %d", len(f.store.responses))
	}
}

func TestSubmitAnswerToEndedSession(t *testing.T) {
	f := newFixture(t)
	p := f.participant(t, "p")
	f.store.sessions[f.session.ID].IsActive = false
	c, box := f.connect()

	f.answer(t, c, f.choice, p.ID, "opt1")

	if got := box.lastError(t); got != "session has ended" {
		t.Errorf("Expected session has ended, got %q", got)
	}
}

func TestSubmitAnswerRateLimited(t *testing.T) {
	f := newFixture(t)
	f.limiter.limit = 2
	p := f.participant(t, "p")
	c, box := f.connect()

	for i := 0; i < 3; i++ {
		f.answer(t, c, f.choice, p.ID, "opt1")
	}

	if got := len(f.store.responses); got != 1 {
		t.Errorf("Expected 1 stored response, got %d", got)
	}
	if got := box.lastError(t); got != "too many answers, slow down" {
		t.Errorf("Expected rate limit error, got %q", got)
	}
}

func TestSubmitFeedback(t *testing.T) {
	f := newFixture(t)
	p := f.participant(t, "p")
	c, box := f.connect()
	f.join(t, c, p.ID)

	c.Handle(context.Background(), frame(t, EventSubmitFeedback, map[string]interface{}{
		"sessionId":     f.session.ID.String(),
		"pollId":        f.choice.ID.String(),
		"participantId": p.ID.String(),
		"content":       "  more time please ",
	}))

	msg := box.last(t, EventFeedbackNew)
	var body struct {
		Feedback struct {
			Content  string `json:"content"`
			IsPublic bool   `json:"isPublic"`
		} `json:"feedback"`
	}
	if err := json.Unmarshal(msg.Data, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Feedback.Content != "more time please" || !body.Feedback.IsPublic {
		t.Errorf("Unexpected feedback %+v", body.Feedback)
	}

	c.Handle(context.Background(), frame(t, EventSubmitFeedback, map[string]interface{}{
		"sessionId":     f.session.ID.String(),
		"pollId":        f.choice.ID.String(),
		"participantId": p.ID.String(),
		"content":       "   ",
	}))
	if got := box.lastError(t); got != "content is required" {
		t.Errorf("Expected content is required, got %q", got)
	}
	if len(f.store.feedback) != 1 {
		t.Errorf("Expected 1 stored feedback, got %d", len(f.store.feedback))
	}
}

func TestNavigatePoll(t *testing.T) {
	f := newFixture(t)
	c, box := f.connect()
	f.join(t, c, uuid.Nil)

	tests := []struct {
		name    string
		index   int
		token   string
		wantErr string
	}{
		{"no token", 1, "", "host token required"},
		{"wrong token", 1, "forged", "not the session host"},
		{"negative", -1, validHostToken, "pollIndex out of range"},
		{"past end", 3, validHostToken, "pollIndex out of range"},
		{"valid", 2, validHostToken, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(box.received(EventError))
			c.Handle(context.Background(), frame(t, EventNavigatePoll, map[string]interface{}{
				"sessionId": f.session.ID.String(),
				"pollIndex": tt.index,
				"hostToken": tt.token,
			}))
			if tt.wantErr != "" {
				if got := box.lastError(t); got != tt.wantErr {
					t.Errorf("Expected %q, got %q", tt.wantErr, got)
				}
				if f.store.sessions[f.session.ID].CurrentSlideIndex != 0 {
					t.Error("Rejected navigation must not move the pointer")
				}
				return
			}
			if len(box.received(EventError)) != before {
				t.Fatalf("Unexpected error: %s", box.lastError(t))
			}
			var body map[string]int
			if err := json.Unmarshal(box.last(t, EventPollChanged).Data, &body); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if body["pollIndex"] != tt.index {
				t.Errorf("Expected pollIndex %d, got %d", tt.index, body["pollIndex"])
			}
			if f.store.sessions[f.session.ID].CurrentSlideIndex != tt.index {
				t.Error("Pointer not persisted")
			}
		})
	}
}

func TestEndSession(t *testing.T) {
	f := newFixture(t)
	viewer, viewerBox := f.connect()
	f.join(t, viewer, uuid.Nil)
	host, hostBox := f.connect()

	host.Handle(context.Background(), frame(t, EventEndSession, map[string]string{"sessionId": f.session.ID.String()}))
	if got := hostBox.lastError(t); got != "host token required" {
		t.Errorf("Expected host token required, got %q", got)
	}
	if !f.store.sessions[f.session.ID].IsActive {
		t.Fatal("Session ended without a host token")
	}

	host.Handle(context.Background(), frame(t, EventEndSession, map[string]string{
		"sessionId": f.session.ID.String(),
		"hostToken": f.hostToken,
	}))

	if f.store.sessions[f.session.ID].IsActive {
		t.Error("Expected session inactive")
	}
	var body map[string]string
	if err := json.Unmarshal(viewerBox.last(t, EventSessionEnded).Data, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["message"] == "" {
		t.Error("Expected an end message")
	}
	if len(f.events.ended) != 1 || f.events.ended[0].SessionID != f.session.ID || f.events.ended[0].Code != "123456" {
		t.Errorf("Expected one session.ended event, got %+v", f.events.ended)
	}
}

func TestUnknownEvent(t *testing.T) {
	f := newFixture(t)
	c, box := f.connect()
	c.Handle(context.Background(), realtime.WSMessage{Event: "launch-rockets"})
	if got := box.lastError(t); got != `unknown event "launch-rockets"` {
		t.Errorf("Unexpected error %q", got)
	}
}

func TestCloseReleasesConnection(t *testing.T) {
	f := newFixture(t)
	p := f.participant(t, "p")
	c, box := f.connect()
	f.join(t, c, p.ID)
	if f.store.participants[p.ID].ConnectionID == nil {
		t.Fatal("Expected participant bound after join")
	}

	c.Close()
	c.Close()

	if c.State() != StateClosed {
		t.Errorf("Expected closed, got %s", c.State())
	}
	if n := f.hub.CountSubscribers(f.session.ID); n != 0 {
		t.Errorf("Expected no subscribers after close, got %d", n)
	}
	if f.store.participants[p.ID].ConnectionID != nil {
		t.Error("Expected participant connection cleared")
	}
	if _, ok := f.store.participants[p.ID]; !ok {
		t.Error("Participant row must survive disconnect")
	}

	before := len(box.msgs)
	f.join(t, c, uuid.Nil)
	if len(box.msgs) != before {
		t.Error("Closed connection must ignore commands")
	}
}

func TestStaleCloseKeepsReconnectedHandle(t *testing.T) {
	f := newFixture(t)
	p := f.participant(t, "p")
	oldConn, _ := f.connect()
	f.join(t, oldConn, p.ID)
	newConn, _ := f.connect()
	f.join(t, newConn, p.ID)

	oldConn.Close()

	handle := f.store.participants[p.ID].ConnectionID
	if handle == nil || *handle != newConn.sub.ID() {
		t.Fatalf("Expected handle %s to survive the old connection closing, got %v", newConn.sub.ID(), handle)
	}

	newConn.Close()
	if f.store.participants[p.ID].ConnectionID != nil {
		t.Error("Expected handle cleared once the live connection closed")
	}
}

type panickyPolls struct{ memPolls }

func (panickyPolls) ListBySession(context.Context, uuid.UUID) ([]models.Poll, error) {
	panic("index corrupted")
}

func TestPanicBecomesInternalError(t *testing.T) {
	f := newFixture(t)
	f.gw.deps.Polls = panickyPolls{memPolls{f.store}}
	c, box := f.connect()

	f.join(t, c, uuid.Nil)

	if got := box.lastError(t); got != "internal error" {
		t.Errorf("Expected internal error, got %q", got)
	}
}
