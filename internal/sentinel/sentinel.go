package sentinel

import "errors"

// Sentinel dependency errors. Stores should return these (optionally wrapped)
// so services can translate them into domain errors exactly once.
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrStaleState    = errors.New("stale state")
	ErrInvalidState  = errors.New("invalid state")
	ErrConflict      = errors.New("conflict")
	ErrNotApproved   = errors.New("not approved")
	ErrCycleComplete = errors.New("cycle complete")
	ErrUnavailable   = errors.New("unavailable")
)
