package models

import (
	"time"

	"github.com/google/uuid"
)

// Feedback is a free-text comment attached to a poll. Immutable once stored.
type Feedback struct {
	ID            uuid.UUID `json:"id"`
	PollID        uuid.UUID `json:"pollId"`
	SessionID     uuid.UUID `json:"sessionId"`
	ParticipantID uuid.UUID `json:"participantId"`
	Content       string    `json:"content"`
	IsPublic      bool      `json:"isPublic"`
	CreatedAt     time.Time `json:"createdAt"`
}
