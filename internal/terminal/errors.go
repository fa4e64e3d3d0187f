package terminal

import "errors"

// Sentinel errors for the terminal package.
var (
	// ErrSessionNotFound is returned when a session id is unknown or the
	// session has already been destroyed or died.
	ErrSessionNotFound = errors.New("session not found")

	// ErrMaxSessions is returned by Create when the session cap is reached.
	ErrMaxSessions = errors.New("maximum session count reached")

	// ErrInvalidDimensions is returned when rows or cols are not positive.
	ErrInvalidDimensions = errors.New("invalid terminal dimensions")

	// ErrRegistryClosed is returned when operations are attempted on a
	// registry that has been shut down.
	ErrRegistryClosed = errors.New("session registry is closed")

	// ErrNoData is returned by Handle.Read when no output is buffered.
	// It is absorbed by the pump and never surfaced to callers.
	ErrNoData = errors.New("no data available")
)
