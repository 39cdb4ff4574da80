package crowdfund

import (
	"fmt"
	"math/big"

	"custodia/native/custody"
)

// Status represents the lifecycle states of a funding pool.
type Status uint8

const (
	StatusFunding Status = iota
	StatusFunded
	StatusFailed
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusFunding, StatusFunded, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the pool outcome is settled.
func (s Status) Terminal() bool { return s == StatusFunded || s == StatusFailed }

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusFunding:
		return "funding"
	case StatusFunded:
		return "funded"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Pool aggregates the owner, goal, deadline and running contribution state
// of one crowdfunding instance.
type Pool struct {
	ID        [32]byte
	Owner     custody.Party
	Goal      *big.Int
	Deadline  int64
	Status    Status
	CreatedAt int64
	Balance   *custody.Accumulator
}

// Clone returns a deep copy so callers can mutate freely without affecting
// the stored instance.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Goal = custody.CloneAmount(p.Goal)
	clone.Balance = p.Balance.Clone()
	return &clone
}

// Sanitize validates a pool before persistence and returns a normalised deep
// copy with non-nil goal and balance fields.
func (p *Pool) Sanitize() (*Pool, error) {
	if p == nil {
		return nil, fmt.Errorf("crowdfund: nil pool")
	}
	clone := p.Clone()
	if clone.Goal.Sign() <= 0 {
		return nil, custody.ErrInvalidAmount
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("crowdfund: invalid status %d", clone.Status)
	}
	if clone.Owner.IsZero() {
		return nil, fmt.Errorf("crowdfund: owner required")
	}
	if clone.Balance == nil {
		clone.Balance = custody.NewAccumulator()
	}
	return clone, nil
}
