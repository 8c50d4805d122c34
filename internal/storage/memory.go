package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/kparsons/timehub/internal/models"
)

// MemoryRepository is an in-process store used by the "memory" driver and by
// tests. All values are copied on the way in and out so callers never share
// mutable state with the store.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	timers   map[uuid.UUID]*models.Timer
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions: make(map[string]*models.Session),
		timers:   make(map[uuid.UUID]*models.Timer),
	}
}

func (r *MemoryRepository) CreateSession(ctx context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := *session
	s.TimerIDs = append([]uuid.UUID(nil), session.TimerIDs...)
	r.sessions[s.ID] = &s
	return nil
}

func (r *MemoryRepository) GetSession(ctx context.Context, id string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.copySession(id)
}

func (r *MemoryRepository) GetSessionWithTimers(ctx context.Context, id string) (*models.Session, []models.Timer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, err := r.copySession(id)
	if err != nil {
		return nil, nil, err
	}

	timers := make([]models.Timer, 0, len(session.TimerIDs))
	for _, timerID := range session.TimerIDs {
		if t, ok := r.timers[timerID]; ok {
			timers = append(timers, *t)
		}
	}
	return session, timers, nil
}

func (r *MemoryRepository) CreateTimer(ctx context.Context, timer *models.Timer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[timer.SessionID]
	if !ok {
		return ErrNotFound
	}

	t := *timer
	if timer.StartTime != nil {
		st := *timer.StartTime
		t.StartTime = &st
	}
	r.timers[t.ID] = &t
	session.TimerIDs = append(session.TimerIDs, t.ID)
	return nil
}

func (r *MemoryRepository) GetTimer(ctx context.Context, id uuid.UUID) (*models.Timer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	timer, ok := r.timers[id]
	if !ok {
		return nil, ErrNotFound
	}
	t := *timer
	if timer.StartTime != nil {
		st := *timer.StartTime
		t.StartTime = &st
	}
	return &t, nil
}

func (r *MemoryRepository) UpdateTimer(ctx context.Context, timer *models.Timer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.timers[timer.ID]; !ok {
		return ErrNotFound
	}
	t := *timer
	if timer.StartTime != nil {
		st := *timer.StartTime
		t.StartTime = &st
	}
	r.timers[t.ID] = &t
	return nil
}

func (r *MemoryRepository) Close() error {
	return nil
}

// copySession must be called with at least a read lock held.
func (r *MemoryRepository) copySession(id string) (*models.Session, error) {
	session, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	s := *session
	s.TimerIDs = append([]uuid.UUID(nil), session.TimerIDs...)
	return &s, nil
}
