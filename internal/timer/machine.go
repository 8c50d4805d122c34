// Package timer holds the pure state machine for a single shared stopwatch.
//
// Transitions are pure functions of (timer, now) so the command layer and
// tests can drive them with any clock. Accounting is whole-second: fractional
// seconds of a running interval are truncated, not rounded.
package timer

import (
	"time"

	"github.com/kparsons/timehub/internal/models"
)

// Kind identifies a timer transition requested by a client.
type Kind string

const (
	KindStart Kind = "start"
	KindPause Kind = "pause"
	KindReset Kind = "reset"
)

// Start begins a running interval. Starting an already-running timer is a
// guarded no-op so duplicate clicks cannot restart the interval.
func Start(t models.Timer, now time.Time) (models.Timer, bool) {
	if t.IsRunning {
		return t, false
	}
	t.IsRunning = true
	t.StartTime = &now
	return t, true
}

// Pause credits the floored seconds of the current interval into Elapsed and
// stops the timer. Pausing an idle timer is a guarded no-op, which makes two
// racing pause commands credit the interval exactly once.
func Pause(t models.Timer, now time.Time) (models.Timer, bool) {
	if !t.IsRunning || t.StartTime == nil {
		return t, false
	}
	ran := int64(now.Sub(*t.StartTime) / time.Second)
	if ran > 0 {
		t.Elapsed += ran
	}
	t.IsRunning = false
	t.StartTime = nil
	return t, true
}

// Reset returns the timer to its initial state from any state. A reset
// mid-run discards the in-flight interval rather than crediting it.
func Reset(t models.Timer) (models.Timer, bool) {
	if t.Elapsed == 0 && !t.IsRunning && t.StartTime == nil {
		return t, false
	}
	t.Elapsed = 0
	t.IsRunning = false
	t.StartTime = nil
	return t, true
}

// Apply dispatches a transition by kind. Unknown kinds are a no-op.
func Apply(t models.Timer, kind Kind, now time.Time) (models.Timer, bool) {
	switch kind {
	case KindStart:
		return Start(t, now)
	case KindPause:
		return Pause(t, now)
	case KindReset:
		return Reset(t)
	default:
		return t, false
	}
}
