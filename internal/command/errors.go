package command

import "errors"

var (
	// ErrSessionNotFound indicates the session id doesn't resolve.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTimerNotFound indicates the timer id doesn't resolve, or the timer
	// doesn't belong to the addressed session.
	ErrTimerNotFound = errors.New("timer not found")
)
