package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/kparsons/timehub/internal/models"
)

// Repository is the durable store shared by all sessions.
//
// No cross-session transaction is ever required; implementations only need
// row-level consistency. There is deliberately no delete operation: neither
// timers nor sessions are ever removed in this design.
type Repository interface {
	CreateSession(ctx context.Context, session *models.Session) error

	GetSession(ctx context.Context, id string) (*models.Session, error)

	// GetSessionWithTimers fetches a session and its timers in creation order.
	GetSessionWithTimers(ctx context.Context, id string) (*models.Session, []models.Timer, error)

	// CreateTimer persists a new timer and appends it to the owning
	// session's ordered timer list. Returns ErrNotFound if the session
	// doesn't exist.
	CreateTimer(ctx context.Context, timer *models.Timer) error

	GetTimer(ctx context.Context, id uuid.UUID) (*models.Timer, error)

	UpdateTimer(ctx context.Context, timer *models.Timer) error

	Close() error
}
