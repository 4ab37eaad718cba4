package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livepoll/backend/internal/aggregate"
	"github.com/livepoll/backend/internal/events"
	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/internal/realtime"
	"github.com/livepoll/backend/pkg/apperr"
)

const (
	maxFeedback        = 1000
	maxParticipantName = 100
	sessionEndedText   = "Session has ended"
)

type joinRequest struct {
	SessionID     string `json:"sessionId"`
	Code          string `json:"code"`
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
}

type answerRequest struct {
	SessionID     string          `json:"sessionId"`
	PollID        string          `json:"pollId"`
	ParticipantID string          `json:"participantId"`
	Answer        json.RawMessage `json:"answer"`
}

type feedbackRequest struct {
	SessionID     string `json:"sessionId"`
	PollID        string `json:"pollId"`
	ParticipantID string `json:"participantId"`
	Content       string `json:"content"`
	IsPublic      *bool  `json:"isPublic"`
}

type navigateRequest struct {
	SessionID string `json:"sessionId"`
	PollIndex *int   `json:"pollIndex"`
	HostToken string `json:"hostToken"`
}

type endRequest struct {
	SessionID string `json:"sessionId"`
	HostToken string `json:"hostToken"`
}

// SessionState is the snapshot sent to a connection right after it joins.
type SessionState struct {
	Session          *models.Session     `json:"session"`
	Polls            []models.Poll       `json:"polls"`
	ParticipantCount int                 `json:"participantCount"`
	Participant      *models.Participant `json:"participant,omitempty"`
}

// PollUpdate is broadcast after every accepted answer.
type PollUpdate struct {
	PollID  uuid.UUID         `json:"pollId"`
	Results aggregate.Summary `json:"results"`
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return apperr.Validation("payload is required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Validation("malformed payload")
	}
	return nil
}

func parseID(field, value string) (uuid.UUID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return uuid.Nil, apperr.Validation("%s is required", field)
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid %s", field)
	}
	return id, nil
}

func (c *Conn) join(ctx context.Context, data json.RawMessage) error {
	var req joinRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	deps := c.gw.deps

	var session *models.Session
	switch {
	case strings.TrimSpace(req.SessionID) != "":
		id, err := parseID("sessionId", req.SessionID)
		if err != nil {
			return err
		}
		if session, err = deps.Sessions.GetByID(ctx, id); err != nil {
			return err
		}
	case strings.TrimSpace(req.Code) != "":
		var err error
		if session, err = deps.Sessions.GetActiveByCode(ctx, strings.TrimSpace(req.Code)); err != nil {
			return err
		}
	default:
		return apperr.Validation("sessionId is required")
	}

	var participant *models.Participant
	if strings.TrimSpace(req.ParticipantID) != "" {
		id, err := parseID("participantId", req.ParticipantID)
		if err != nil {
			return err
		}
		if participant, err = deps.Participants.GetByID(ctx, id); err != nil {
			return err
		}
		if participant.SessionID != session.ID {
			return apperr.Validation("participant does not belong to session")
		}
	}

	polls, err := deps.Polls.ListBySession(ctx, session.ID)
	if err != nil {
		return err
	}

	if participant == nil && strings.TrimSpace(req.Name) != "" {
		name := strings.TrimSpace(req.Name)
		if utf8.RuneCountInString(name) > maxParticipantName {
			return apperr.Validation("name exceeds %d characters", maxParticipantName)
		}
		if participant, err = deps.Participants.Create(ctx, session.ID, name); err != nil {
			return err
		}
	}

	participantID := uuid.Nil
	if participant != nil {
		participantID = participant.ID
	}
	prev, released, ok := c.enter(session.ID, participantID)
	if !ok {
		return nil
	}
	if prev != uuid.Nil && prev != session.ID {
		deps.Hub.Unsubscribe(c.sub)
	}
	deps.Hub.Subscribe(session.ID, c.sub)
	if released != uuid.Nil {
		c.releaseParticipant(released)
	}
	if participant != nil {
		if err := deps.Participants.BindConnection(ctx, participant.ID, c.sub.ID()); err != nil {
			c.logger.Warn("bind participant connection failed", zap.String("participant_id", participant.ID.String()), zap.Error(err))
		}
	}

	count := deps.Hub.CountSubscribers(session.ID)
	state := SessionState{Session: session, Polls: polls, ParticipantCount: count, Participant: participant}
	if state.Polls == nil {
		state.Polls = []models.Poll{}
	}
	if err := realtime.SendTo(c.sub, EventSessionState, state); err != nil {
		c.logger.Warn("session state not delivered", zap.Error(err))
	}
	c.logger.Info("joined session",
		zap.String("session_id", session.ID.String()),
		zap.Int("participant_count", count),
	)
	return deps.Hub.PublishExcept(ctx, session.ID, c.sub.ID(), EventParticipantJoined,
		map[string]int{"participantCount": count})
}

func (c *Conn) submitAnswer(ctx context.Context, data json.RawMessage) error {
	var req answerRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	pollID, err := parseID("pollId", req.PollID)
	if err != nil {
		return err
	}
	participantID, err := parseID("participantId", req.ParticipantID)
	if err != nil {
		return err
	}
	sessionID, err := parseID("sessionId", req.SessionID)
	if err != nil {
		return err
	}
	if len(req.Answer) == 0 || string(req.Answer) == "null" {
		return apperr.Validation("answer is required")
	}
	deps := c.gw.deps

	if deps.Limiter != nil {
		allowed, err := deps.Limiter.Allow(ctx, "answer:"+participantID.String())
		if err != nil {
			c.logger.Warn("rate limiter unavailable", zap.Error(err))
		} else if !allowed {
			return apperr.RateLimited("too many answers, slow down")
		}
	}

	session, err := deps.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.IsActive {
		return apperr.Validation("session has ended")
	}
	poll, err := deps.Polls.GetByID(ctx, pollID)
	if err != nil {
		return err
	}
	if poll.SessionID != sessionID {
		return apperr.Validation("poll does not belong to session")
	}
	answer, err := models.DecodeAnswer(poll.Type, req.Answer)
	if err != nil {
		return apperr.Validation("%s", err.Error())
	}
	if err := checkOptions(poll, answer); err != nil {
		return err
	}
	participant, err := deps.Participants.GetByID(ctx, participantID)
	if err != nil {
		return err
	}
	if participant.SessionID != sessionID {
		return apperr.Validation("participant does not belong to session")
	}

	if _, err := deps.Responses.Upsert(ctx, pollID, participantID, answer); err != nil {
		return err
	}
	responses, err := deps.Responses.ListByPoll(ctx, pollID)
	if err != nil {
		return err
	}
	summary := aggregate.Summarize(poll.Type, poll.Options, responses)

	if poll.Type.HasOptions() && len(summary.Options) > 0 {
		if err := deps.Polls.UpdateOptionVotes(ctx, pollID, withVotes(poll.Options, summary)); err != nil {
			c.logger.Warn("persist option votes failed", zap.String("poll_id", pollID.String()), zap.Error(err))
		}
	}

	return deps.Hub.Publish(ctx, sessionID, EventPollUpdated, PollUpdate{PollID: pollID, Results: summary})
}

// checkOptions rejects option ids the slide never declared.
func checkOptions(poll *models.Poll, answer models.Answer) error {
	var ids []string
	switch answer.Kind {
	case models.AnswerOption:
		ids = []string{answer.OptionID}
	case models.AnswerOptions:
		ids = answer.OptionIDs
	case models.AnswerRanking:
		ids = answer.Ranking
	default:
		return nil
	}
	declared := make(map[string]bool, len(poll.Options))
	for _, o := range poll.Options {
		declared[o.ID] = true
	}
	for _, id := range ids {
		if !declared[id] {
			return apperr.Validation("unknown option %q", id)
		}
	}
	return nil
}

func withVotes(options []models.Option, summary aggregate.Summary) []models.Option {
	counts := summary.Counts()
	out := make([]models.Option, len(options))
	for i, o := range options {
		o.Votes = counts[o.ID]
		out[i] = o
	}
	return out
}

func (c *Conn) submitFeedback(ctx context.Context, data json.RawMessage) error {
	var req feedbackRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	pollID, err := parseID("pollId", req.PollID)
	if err != nil {
		return err
	}
	sessionID, err := parseID("sessionId", req.SessionID)
	if err != nil {
		return err
	}
	participantID, err := parseID("participantId", req.ParticipantID)
	if err != nil {
		return err
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return apperr.Validation("content is required")
	}
	if utf8.RuneCountInString(content) > maxFeedback {
		return apperr.Validation("content exceeds %d characters", maxFeedback)
	}
	deps := c.gw.deps

	poll, err := deps.Polls.GetByID(ctx, pollID)
	if err != nil {
		return err
	}
	if poll.SessionID != sessionID {
		return apperr.Validation("poll does not belong to session")
	}
	participant, err := deps.Participants.GetByID(ctx, participantID)
	if err != nil {
		return err
	}
	if participant.SessionID != sessionID {
		return apperr.Validation("participant does not belong to session")
	}

	fb := &models.Feedback{
		PollID:        pollID,
		SessionID:     sessionID,
		ParticipantID: participantID,
		Content:       content,
		IsPublic:      req.IsPublic == nil || *req.IsPublic,
	}
	if err := deps.Feedback.Create(ctx, fb); err != nil {
		return err
	}
	return deps.Hub.Publish(ctx, sessionID, EventFeedbackNew, map[string]*models.Feedback{"feedback": fb})
}

func (c *Conn) navigatePoll(ctx context.Context, data json.RawMessage) error {
	var req navigateRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	sessionID, err := parseID("sessionId", req.SessionID)
	if err != nil {
		return err
	}
	if req.PollIndex == nil {
		return apperr.Validation("pollIndex is required")
	}
	deps := c.gw.deps
	if err := c.authorizeHost(req.HostToken, sessionID); err != nil {
		return err
	}

	if _, err := deps.Sessions.GetByID(ctx, sessionID); err != nil {
		return err
	}
	polls, err := deps.Polls.ListBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	index := *req.PollIndex
	if index < 0 || index >= len(polls) {
		return apperr.Validation("pollIndex out of range")
	}
	if err := deps.Sessions.SetCurrentSlide(ctx, sessionID, index); err != nil {
		return err
	}
	return deps.Hub.Publish(ctx, sessionID, EventPollChanged, map[string]int{"pollIndex": index})
}

func (c *Conn) endSession(ctx context.Context, data json.RawMessage) error {
	var req endRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	sessionID, err := parseID("sessionId", req.SessionID)
	if err != nil {
		return err
	}
	deps := c.gw.deps
	if err := c.authorizeHost(req.HostToken, sessionID); err != nil {
		return err
	}

	s, err := deps.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := deps.Sessions.End(ctx, sessionID); err != nil {
		return err
	}
	c.logger.Info("session ended", zap.String("session_id", sessionID.String()))
	if deps.Events != nil {
		data := events.SessionData{SessionID: s.ID, HostID: s.HostID, Code: s.Code}
		if err := deps.Events.PublishSessionEnded(ctx, data); err != nil {
			c.logger.Warn("publish session ended", zap.String("session_id", sessionID.String()), zap.Error(err))
		}
	}
	return deps.Hub.Publish(ctx, sessionID, EventSessionEnded, map[string]string{"message": sessionEndedText})
}

func (c *Conn) authorizeHost(token string, sessionID uuid.UUID) error {
	if strings.TrimSpace(token) == "" {
		return apperr.Forbidden("host token required")
	}
	if err := c.gw.deps.Hosts.VerifyHost(token, sessionID); err != nil {
		c.logger.Info("host token rejected", zap.String("session_id", sessionID.String()), zap.Error(err))
		return apperr.Forbidden("not the session host")
	}
	return nil
}
