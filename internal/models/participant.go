package models

import (
	"time"

	"github.com/google/uuid"
)

// Participant is one join action in a session. The row outlives the connection; only ConnectionID
// is cleared on disconnect.
type Participant struct {
	ID           uuid.UUID `json:"id"`
	SessionID    uuid.UUID `json:"sessionId"`
	Name         string    `json:"name"`
	ConnectionID *string   `json:"connectionId,omitempty"`
	JoinedAt     time.Time `json:"joinedAt"`
}
