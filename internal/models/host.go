package models

import (
	"time"

	"github.com/google/uuid"
)

// Host is an account that owns polling sessions.
type Host struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}
