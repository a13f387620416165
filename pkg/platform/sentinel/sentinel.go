package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and services translate them into coded domain errors:
//   - ErrNotFound: row does not exist
//   - ErrConflict: a uniqueness or single-active constraint rejected the write
//   - ErrAlreadyUsed: a conditional update lost its race (office already claimed)
//   - ErrInvalidState: row is in the wrong state for the requested transition
//   - ErrExpired: a time-bound artifact (one-time code) is past its expiry
//   - ErrUnavailable: a backing service is temporarily unreachable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
