package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, limiters and settings sources
// return these (optionally wrapped) so callers can tell a missing record from an
// unreachable backend.
//
// - ErrNotFound: entity does not exist in store
// - ErrUnavailable: backend (redis, database, settings file) could not be reached
// - ErrInvalidState: stored data could not be interpreted
var (
	ErrNotFound     = errors.New("not found")
	ErrUnavailable  = errors.New("unavailable")
	ErrInvalidState = errors.New("invalid state")
)
