package escrow

import (
	"fmt"
	"math/big"

	"custodia/native/custody"
)

// Status represents the lifecycle states of an escrow contract.
type Status uint8

const (
	StatusActive Status = iota
	StatusCompleted
	StatusDisputed
	StatusCancelled
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusDisputed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusDisputed:
		return "disputed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ReleaseMode selects the contract's release policy. The two time-based
// flavors behave differently: sweep releases every elapsed slot in one call,
// indexed targets a single slot by position.
type ReleaseMode uint8

const (
	// ReleaseModeUnspecified prevents zero-value contracts from being
	// persisted unintentionally.
	ReleaseModeUnspecified ReleaseMode = iota
	ReleaseMilestone
	ReleaseTimeSweep
	ReleaseTimeIndexed
)

// Valid reports whether the mode is one of the configurable policies.
func (m ReleaseMode) Valid() bool {
	switch m {
	case ReleaseMilestone, ReleaseTimeSweep, ReleaseTimeIndexed:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer.
func (m ReleaseMode) String() string {
	switch m {
	case ReleaseMilestone:
		return "milestone"
	case ReleaseTimeSweep:
		return "time_sweep"
	case ReleaseTimeIndexed:
		return "time_indexed"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Resolution is the arbiter-determined outcome of a dispute.
type Resolution uint8

const (
	ResolutionUnspecified Resolution = iota
	// ResolutionResume unfreezes the contract and returns it to Active.
	ResolutionResume
	// ResolutionRelease terminates in favour of the provider.
	ResolutionRelease
	// ResolutionRefund terminates in favour of the client.
	ResolutionRefund
)

// Contract aggregates the roles, policy and running state of one escrow
// instance. The instance exclusively owns its ledger and balance; nothing is
// shared across contracts.
type Contract struct {
	ID          [32]byte
	Client      custody.Party
	Provider    custody.Party
	Arbiter     custody.Party
	TotalAmount *big.Int
	Mode        ReleaseMode
	Status      Status
	CreatedAt   int64
	Ledger      *custody.Ledger
	Balance     *custody.Accumulator
}

// Clone returns a deep copy so callers can mutate freely without affecting
// the stored instance.
func (c *Contract) Clone() *Contract {
	if c == nil {
		return nil
	}
	clone := *c
	clone.TotalAmount = custody.CloneAmount(c.TotalAmount)
	clone.Ledger = c.Ledger.Clone()
	clone.Balance = c.Balance.Clone()
	return &clone
}

// Sanitize validates a contract before persistence and returns a normalised
// deep copy with non-nil amount, ledger and balance fields.
func (c *Contract) Sanitize() (*Contract, error) {
	if c == nil {
		return nil, fmt.Errorf("escrow: nil contract")
	}
	clone := c.Clone()
	if clone.TotalAmount.Sign() <= 0 {
		return nil, custody.ErrInvalidAmount
	}
	if !clone.Mode.Valid() {
		return nil, fmt.Errorf("escrow: invalid release mode %d", clone.Mode)
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("escrow: invalid status %d", clone.Status)
	}
	if clone.Client.IsZero() || clone.Provider.IsZero() {
		return nil, fmt.Errorf("escrow: client and provider required")
	}
	if clone.Ledger == nil {
		clone.Ledger = custody.NewLedger()
	}
	if clone.Balance == nil {
		clone.Balance = custody.NewAccumulator()
	}
	return clone, nil
}
