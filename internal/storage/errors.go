package storage

import "errors"

var (
	// ErrNotFound is returned when a session or timer id doesn't resolve.
	ErrNotFound = errors.New("not found")
)
