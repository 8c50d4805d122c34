package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kparsons/timehub/internal/command"
	"github.com/kparsons/timehub/internal/event"
	"github.com/kparsons/timehub/internal/models"
	"github.com/kparsons/timehub/internal/timer"
)

// CommandProcessor is what the gateway needs from the command layer.
type CommandProcessor interface {
	CreateSession(ctx context.Context, title, description string) (*models.Session, error)
	JoinSession(ctx context.Context, id string) (*models.Session, []models.Timer, error)
	CreateTimer(ctx context.Context, sessionID, title, description string) (*models.Timer, error)
	Apply(ctx context.Context, sessionID string, timerID uuid.UUID, kind timer.Kind) (*models.Timer, bool, error)
}

// handleClientMessage parses one inbound frame and runs the command. A bad
// frame earns the sender an error event and nothing else; other clients and
// sessions are never affected. Commands run on the reader goroutine, so each
// connection's commands are accepted in the order it sent them.
func (c *Connection) handleClientMessage(message []byte) {
	var env event.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		log.Debug().Err(err).Str("connection_id", c.ID).Msg("malformed frame")
		c.sendError("malformed message")
		return
	}

	// Once accepted, a command runs to completion even if the sender
	// disconnects mid-flight.
	ctx := context.Background()

	switch env.Type {
	case event.TypeCreateSession:
		c.handleCreateSession(ctx, env.Data)
	case event.TypeJoinSession:
		c.handleJoinSession(ctx, env.Data)
	case event.TypeCreateTimer:
		c.handleCreateTimer(ctx, env.Data)
	case event.TypeStartTimer:
		c.handleTimerCommand(ctx, env.Data, timer.KindStart)
	case event.TypePauseTimer:
		c.handleTimerCommand(ctx, env.Data, timer.KindPause)
	case event.TypeResetTimer:
		c.handleTimerCommand(ctx, env.Data, timer.KindReset)
	default:
		log.Debug().
			Str("connection_id", c.ID).
			Str("event_type", string(env.Type)).
			Msg("unknown event type")
		c.sendError("unknown event type")
	}
}

func (c *Connection) handleCreateSession(ctx context.Context, data json.RawMessage) {
	var payload event.CreateSessionPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			c.sendError("malformed createSession payload")
			return
		}
	}

	session, err := c.manager.processor.CreateSession(ctx, payload.Title, payload.Description)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("createSession failed")
		c.sendError("could not create session")
		return
	}

	// The creator joins the new room immediately so it sees every
	// subsequent event for the session.
	c.manager.rooms.Join(c, session.ID)
	c.sendEvent(event.MustNew(event.TypeSessionData, event.SessionDataPayload{
		Session: session,
		Timers:  []models.Timer{},
	}))
}

func (c *Connection) handleJoinSession(ctx context.Context, data json.RawMessage) {
	payload, ok := c.decodeJoinPayload(data)
	if !ok {
		return
	}

	session, timers, err := c.manager.processor.JoinSession(ctx, payload.SessionID)
	if err != nil {
		if errors.Is(err, command.ErrSessionNotFound) {
			// No sessionData reply for an unknown id; the connection
			// stays usable.
			log.Debug().
				Str("connection_id", c.ID).
				Str("session_id", payload.SessionID).
				Msg("joinSession for unknown session")
			c.sendError("session not found")
			return
		}
		log.Error().Err(err).Str("connection_id", c.ID).Msg("joinSession failed")
		c.sendError("could not join session")
		return
	}

	// Join before replying so everything broadcast from here on reaches
	// the new member. A timer created between the store read above and
	// this join is visible in neither the snapshot nor a broadcast;
	// rejoining refetches.
	c.manager.rooms.Join(c, session.ID)
	c.sendEvent(event.MustNew(event.TypeSessionData, event.SessionDataPayload{
		Session: session,
		Timers:  timers,
	}))
}

func (c *Connection) handleCreateTimer(ctx context.Context, data json.RawMessage) {
	var payload event.CreateTimerPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.SessionID == "" {
		c.sendError("malformed createTimer payload")
		return
	}

	if _, err := c.manager.processor.CreateTimer(ctx, payload.SessionID, payload.Title, payload.Description); err != nil {
		if errors.Is(err, command.ErrSessionNotFound) {
			c.sendError("session not found")
			return
		}
		log.Error().Err(err).Str("connection_id", c.ID).Msg("createTimer failed")
		c.sendError("could not create timer")
	}
	// Success is observed through the timerCreated broadcast, the same way
	// every other room member sees it.
}

func (c *Connection) handleTimerCommand(ctx context.Context, data json.RawMessage, kind timer.Kind) {
	var payload event.TimerCommandPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.SessionID == "" || payload.TimerID == "" {
		c.sendError("malformed timer command payload")
		return
	}

	timerID, err := uuid.Parse(payload.TimerID)
	if err != nil {
		c.sendError("malformed timer id")
		return
	}

	if _, _, err := c.manager.processor.Apply(ctx, payload.SessionID, timerID, kind); err != nil {
		if errors.Is(err, command.ErrTimerNotFound) {
			c.sendError("timer not found")
			return
		}
		log.Error().
			Err(err).
			Str("connection_id", c.ID).
			Str("kind", string(kind)).
			Msg("timer command failed")
		c.sendError("could not apply timer command")
	}
}

func (c *Connection) decodeJoinPayload(data json.RawMessage) (event.JoinSessionPayload, bool) {
	var payload event.JoinSessionPayload

	// Accept both {"sessionId": "..."} and a bare string id; older clients
	// send the latter.
	if err := json.Unmarshal(data, &payload); err != nil || payload.SessionID == "" {
		var id string
		if err := json.Unmarshal(data, &id); err != nil || id == "" {
			c.sendError("malformed joinSession payload")
			return event.JoinSessionPayload{}, false
		}
		payload.SessionID = id
	}
	return payload, true
}

func (c *Connection) sendError(message string) {
	c.sendEvent(event.MustNew(event.TypeError, event.ErrorPayload{Message: message}))
}
