package escrow

import "errors"

// Escrow-specific error causes. Shared causes (unauthorized, invalid amount,
// initialization guards, condition lookups) come from the custody package so
// callers get one sentinel per failure regardless of variant.
var (
	ErrContractNotActive = errors.New("escrow: contract not active")
	ErrDisputeActive     = errors.New("escrow: dispute active")
	ErrNoDisputeActive   = errors.New("escrow: no dispute active")
	ErrInvalidResolution = errors.New("escrow: invalid dispute resolution")
	ErrWrongReleaseMode  = errors.New("escrow: operation unavailable in configured release mode")

	errNilState = errors.New("escrow engine: state not configured")
)
