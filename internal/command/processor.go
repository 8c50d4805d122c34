// Package command validates and applies client commands against the timer
// state machine, with per-timer mutation ordering and room broadcasts.
package command

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/kparsons/timehub/internal/event"
	"github.com/kparsons/timehub/internal/models"
	"github.com/kparsons/timehub/internal/storage"
	"github.com/kparsons/timehub/internal/timer"
)

const (
	// DefaultStoreTimeout bounds every store call so a stalled backend cannot
	// hold a per-timer lock forever.
	DefaultStoreTimeout = 5 * time.Second

	sessionIDLength = 8
	sessionIDChars  = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// Broadcaster delivers an event to every connection in a session's room.
// Implementations must not block the caller; delivery is best-effort.
type Broadcaster interface {
	Broadcast(sessionID string, env event.Envelope)
}

// NopBroadcaster discards events. Used before the gateway is wired and in
// tests that only exercise persistence.
type NopBroadcaster struct{}

func (NopBroadcaster) Broadcast(string, event.Envelope) {}

// Processor applies session and timer commands. Commands on the same timer
// are serialized by a keyed lock; commands on different timers run
// concurrently.
type Processor struct {
	store        storage.Repository
	clock        clockwork.Clock
	broadcaster  Broadcaster
	storeTimeout time.Duration
	locks        *lockTable
}

func NewProcessor(store storage.Repository, clock clockwork.Clock, broadcaster Broadcaster) *Processor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	return &Processor{
		store:        store,
		clock:        clock,
		broadcaster:  broadcaster,
		storeTimeout: DefaultStoreTimeout,
		locks:        newLockTable(),
	}
}

// SetBroadcaster replaces the broadcaster. Called once during wiring, after
// the gateway exists; not safe for use while commands are in flight.
func (p *Processor) SetBroadcaster(b Broadcaster) {
	p.broadcaster = b
}

// SetStoreTimeout overrides the per-operation store timeout.
func (p *Processor) SetStoreTimeout(d time.Duration) {
	p.storeTimeout = d
}

// CreateSession persists a new empty session. No broadcast: the room doesn't
// exist until someone joins it.
func (p *Processor) CreateSession(ctx context.Context, title, description string) (*models.Session, error) {
	if title == "" {
		title = models.DefaultSessionTitle
	}

	session := &models.Session{
		ID:          newSessionID(),
		Title:       title,
		Description: description,
		CreatedAt:   p.clock.Now().UTC(),
		TimerIDs:    []uuid.UUID{},
	}

	sctx, cancel := p.storeCtx(ctx)
	defer cancel()

	if err := p.store.CreateSession(sctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	log.Info().Str("session_id", session.ID).Msg("session created")
	return session, nil
}

// JoinSession fetches a session with its timers in creation order.
func (p *Processor) JoinSession(ctx context.Context, id string) (*models.Session, []models.Timer, error) {
	sctx, cancel := p.storeCtx(ctx)
	defer cancel()

	session, timers, err := p.store.GetSessionWithTimers(sctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, ErrSessionNotFound
		}
		return nil, nil, fmt.Errorf("failed to load session: %w", err)
	}
	return session, timers, nil
}

// CreateTimer creates an idle timer under the session and broadcasts
// timerCreated to the session's room.
func (p *Processor) CreateTimer(ctx context.Context, sessionID, title, description string) (*models.Timer, error) {
	t := &models.Timer{
		ID:          uuid.New(),
		SessionID:   sessionID,
		Title:       title,
		Description: description,
	}

	sctx, cancel := p.storeCtx(ctx)
	defer cancel()

	if err := p.store.CreateTimer(sctx, t); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to create timer: %w", err)
	}

	log.Info().
		Str("session_id", sessionID).
		Str("timer_id", t.ID.String()).
		Msg("timer created")

	p.broadcaster.Broadcast(sessionID, event.MustNew(event.TypeTimerCreated, t))
	return t, nil
}

// Apply runs a start/pause/reset transition on a timer. The per-timer lock is
// held across load, transition and persist so concurrent commands on the same
// timer cannot lose updates; the broadcast is enqueued before release so
// delivery order matches commit order, but delivery itself is asynchronous.
//
// The second return value is false when the transition was a guarded no-op,
// in which case nothing was persisted and nothing is broadcast.
func (p *Processor) Apply(ctx context.Context, sessionID string, timerID uuid.UUID, kind timer.Kind) (*models.Timer, bool, error) {
	unlock := p.locks.lock(timerID)
	defer unlock()

	sctx, cancel := p.storeCtx(ctx)
	defer cancel()

	current, err := p.store.GetTimer(sctx, timerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, ErrTimerNotFound
		}
		return nil, false, fmt.Errorf("failed to load timer: %w", err)
	}
	if current.SessionID != sessionID {
		return nil, false, ErrTimerNotFound
	}

	next, changed := timer.Apply(*current, kind, p.clock.Now().UTC())
	if !changed {
		log.Debug().
			Str("timer_id", timerID.String()).
			Str("kind", string(kind)).
			Msg("command is a no-op")
		return current, false, nil
	}

	if err := p.store.UpdateTimer(sctx, &next); err != nil {
		return nil, false, fmt.Errorf("failed to persist timer: %w", err)
	}

	log.Info().
		Str("session_id", sessionID).
		Str("timer_id", timerID.String()).
		Str("kind", string(kind)).
		Int64("elapsed", next.Elapsed).
		Bool("is_running", next.IsRunning).
		Msg("timer updated")

	p.broadcaster.Broadcast(sessionID, event.MustNew(event.TypeTimerUpdated, &next))
	return &next, true, nil
}

func (p *Processor) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.storeTimeout)
}

// newSessionID returns an 8-character base36 share code.
func newSessionID() string {
	buf := make([]byte, sessionIDLength)
	max := big.NewInt(int64(len(sessionIDChars)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails if the platform entropy source is broken.
			panic(err)
		}
		buf[i] = sessionIDChars[n.Int64()]
	}
	return string(buf)
}
