package custody

import "errors"

// Shared error causes returned by the custody leaves. Variant engines layer
// their own state-mismatch errors on top of these; every failure is a typed
// sentinel so callers can branch with errors.Is.
var (
	ErrAlreadyInitialized = errors.New("custody: already initialized")
	ErrNotInitialized     = errors.New("custody: not initialized")
	ErrInvalidAmount      = errors.New("custody: amount must be positive")
	ErrUnauthorized       = errors.New("custody: unauthorized")
	ErrInsufficientFunds  = errors.New("custody: insufficient released funds")

	ErrMilestoneNotFound         = errors.New("custody: milestone not found")
	ErrMilestoneAlreadyCompleted = errors.New("custody: milestone already completed")
	ErrNoReleasesDue             = errors.New("custody: no releases due")
	ErrTimeNotReached            = errors.New("custody: release time not reached")

	ErrNoContribution = errors.New("custody: no contribution recorded")
)
