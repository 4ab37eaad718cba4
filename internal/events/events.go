// Package events publishes domain events to a RabbitMQ topic exchange for downstream consumers.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type is the routing key of a domain event.
type Type string

const (
	TypeSessionCreated  Type = "session.created"
	TypeSessionEnded    Type = "session.ended"
	TypeExportCompleted Type = "export.completed"
	TypeExportFailed    Type = "export.failed"
)

// Event is the envelope written to the exchange.
type Event struct {
	ID        string      `json:"id"`
	Type      Type        `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// SessionData describes a session lifecycle change.
type SessionData struct {
	SessionID uuid.UUID `json:"sessionId"`
	HostID    uuid.UUID `json:"hostId"`
	Code      string    `json:"code,omitempty"`
}

// ExportData describes a finished export job.
type ExportData struct {
	ExportID  uuid.UUID `json:"exportId"`
	SessionID uuid.UUID `json:"sessionId"`
	S3Key     string    `json:"s3Key,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func newEvent(t Type, data interface{}) Event {
	return Event{ID: uuid.NewString(), Type: t, Timestamp: time.Now().UTC(), Data: data}
}
