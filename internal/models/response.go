package models

import (
	"time"

	"github.com/google/uuid"
)

// Response is one participant's recorded answer to one poll. At most one row exists per
// (PollID, ParticipantID); resubmission overwrites Answer and SubmittedAt in place.
type Response struct {
	ID            uuid.UUID `json:"id"`
	PollID        uuid.UUID `json:"pollId"`
	ParticipantID uuid.UUID `json:"participantId"`
	Answer        Answer    `json:"answer"`
	SubmittedAt   time.Time `json:"submittedAt"`
}
