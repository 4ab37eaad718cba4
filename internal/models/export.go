package models

import (
	"time"

	"github.com/google/uuid"
)

// Export status lifecycle.
const (
	ExportStatusPending   = "pending"
	ExportStatusRunning   = "running"
	ExportStatusCompleted = "completed"
	ExportStatusFailed    = "failed"
)

// Export is a results export of one session rendered to S3 by the worker.
type Export struct {
	ID          uuid.UUID `json:"id"`
	SessionID   uuid.UUID `json:"sessionId"`
	Status      string    `json:"status"`
	S3Key       string    `json:"s3Key,omitempty"`
	Error       string    `json:"error,omitempty"`
	DownloadURL string    `json:"downloadUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
