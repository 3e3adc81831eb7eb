package core

import "errors"

// Sentinel errors shared across the engine. Stores return these (optionally
// wrapped) so services and the HTTP layer can translate them without string
// matching.
var (
	// ErrNotFound means the entity never existed in the store.
	ErrNotFound = errors.New("not found")

	// ErrSessionNotActive means the session exists but is expired or
	// completed. Kept distinct from ErrNotFound: the remediation for the
	// caller is "ask for a new session", not "check your code".
	ErrSessionNotActive = errors.New("session not active")

	// ErrInvalidDuration rejects non-positive session durations.
	ErrInvalidDuration = errors.New("invalid session duration")

	// ErrCodeConflict signals a session code collision with an active
	// session; Open retries on it.
	ErrCodeConflict = errors.New("session code conflict")

	// ErrChallengeExpired means the challenge existed but its TTL passed.
	ErrChallengeExpired = errors.New("challenge expired")

	// ErrChallengeMismatch means the supplied code does not match the
	// stored one.
	ErrChallengeMismatch = errors.New("challenge code mismatch")

	// ErrUnauthorized means the caller is not the designated approver for
	// the request, or lacks the required role.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrValidation covers malformed input rejected synchronously.
	ErrValidation = errors.New("validation failed")
)
