package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and clients return these
// (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrExpired: challenge/session has passed its deadline
// - ErrAlreadyConsumed: single-use resource (challenge) already spent
// - ErrDuplicate: a second submission for a once-only operation
// - ErrTerminalState: entity already in a terminal state
// - ErrUnavailable: external service or resource temporarily unavailable
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrExpired         = errors.New("expired")
	ErrAlreadyConsumed = errors.New("already consumed")
	ErrDuplicate       = errors.New("duplicate submission")
	ErrTerminalState   = errors.New("terminal state")
	ErrUnavailable     = errors.New("unavailable")
)
