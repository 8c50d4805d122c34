package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTitle is used when a session is created without a title.
const DefaultSessionTitle = "Untitled Session"

// Session is a named collection of timers shared by a group of clients.
// TimerIDs preserves creation order; a timer id appears at most once.
type Session struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	CreatedAt   time.Time   `json:"createdAt"`
	TimerIDs    []uuid.UUID `json:"timers"`
}
