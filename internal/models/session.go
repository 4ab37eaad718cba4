package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is one live polling event identified by a short join code.
type Session struct {
	ID                uuid.UUID  `json:"id"`
	HostID            uuid.UUID  `json:"hostId"`
	Code              string     `json:"code"`
	Title             string     `json:"title"`
	IsActive          bool       `json:"isActive"`
	CurrentSlideIndex int        `json:"currentSlideIndex"`
	CreatedAt         time.Time  `json:"createdAt"`
	EndedAt           *time.Time `json:"endedAt,omitempty"`
}
