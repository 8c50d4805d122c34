package models

import (
	"time"

	"github.com/google/uuid"
)

// Timer is a shared stopwatch belonging to exactly one session.
//
// Elapsed counts whole seconds accumulated over completed running intervals
// only; the in-flight interval is never stored. Invariant after every
// operation: IsRunning == true iff StartTime != nil.
type Timer struct {
	ID          uuid.UUID  `json:"id"`
	SessionID   string     `json:"sessionId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Elapsed     int64      `json:"elapsed"`
	IsRunning   bool       `json:"isRunning"`
	StartTime   *time.Time `json:"startTime"`
}

// DisplayElapsed returns the value shown to users: the persisted elapsed
// seconds plus, while running, the floored seconds of the current interval.
// Every client must reproduce this derivation identically; it is a pure
// function of the timer fields and the supplied clock reading.
func (t Timer) DisplayElapsed(now time.Time) int64 {
	if !t.IsRunning || t.StartTime == nil {
		return t.Elapsed
	}
	running := int64(now.Sub(*t.StartTime) / time.Second)
	if running < 0 {
		running = 0
	}
	return t.Elapsed + running
}
