// Package event defines the wire envelope and payloads shared by the
// websocket gateway and the command processor. It lives outside the gateway
// package so the processor can emit events without importing transport code.
package event

import (
	"encoding/json"
	"fmt"

	"github.com/kparsons/timehub/internal/models"
)

// Type identifies a protocol message.
type Type string

const (
	// Client to server.
	TypeCreateSession Type = "createSession"
	TypeJoinSession   Type = "joinSession"
	TypeCreateTimer   Type = "createTimer"
	TypeStartTimer    Type = "startTimer"
	TypePauseTimer    Type = "pauseTimer"
	TypeResetTimer    Type = "resetTimer"

	// Server to client.
	TypeSessionData  Type = "sessionData"
	TypeTimerCreated Type = "timerCreated"
	TypeTimerUpdated Type = "timerUpdated"
	TypeError        Type = "error"
)

// Envelope is the framing for every message in both directions.
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// JoinSessionPayload carries the target session for joinSession.
type JoinSessionPayload struct {
	SessionID string `json:"sessionId"`
}

// CreateSessionPayload carries optional display metadata for createSession.
type CreateSessionPayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// CreateTimerPayload carries the createTimer command fields.
type CreateTimerPayload struct {
	SessionID   string `json:"sessionId"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// TimerCommandPayload addresses a start/pause/reset command.
type TimerCommandPayload struct {
	SessionID string `json:"sessionId"`
	TimerID   string `json:"timerId"`
}

// SessionDataPayload is the initial state snapshot sent to a joiner.
type SessionDataPayload struct {
	Session *models.Session `json:"session"`
	Timers  []models.Timer  `json:"timers"`
}

// ErrorPayload is sent to the originating connection only.
type ErrorPayload struct {
	Message string `json:"message"`
}

// New builds an envelope with the payload marshalled into Data.
func New(t Type, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return Envelope{Type: t, Data: data}, nil
}

// MustNew is New for payloads the server constructs itself, where a marshal
// failure is a programming error.
func MustNew(t Type, payload any) Envelope {
	env, err := New(t, payload)
	if err != nil {
		panic(err)
	}
	return env
}
