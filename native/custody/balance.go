package custody

import "math/big"

// Accumulator maintains the claimable-but-unwithdrawn balance of a contract
// instance plus, for pooled variants, the aggregate raised total and the
// per-contributor breakdown. All mutations are performed by the owning engine
// inside a single externally serialized call, so the accumulator itself holds
// no locks.
type Accumulator struct {
	Released      *big.Int
	Raised        *big.Int
	Contributions map[Party]*big.Int
}

// NewAccumulator returns a zeroed accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		Released:      big.NewInt(0),
		Raised:        big.NewInt(0),
		Contributions: make(map[Party]*big.Int),
	}
}

// Clone returns a deep copy of the accumulator.
func (a *Accumulator) Clone() *Accumulator {
	if a == nil {
		return nil
	}
	clone := &Accumulator{
		Released:      CloneAmount(a.Released),
		Raised:        CloneAmount(a.Raised),
		Contributions: make(map[Party]*big.Int, len(a.Contributions)),
	}
	for p, amt := range a.Contributions {
		clone.Contributions[p] = CloneAmount(amt)
	}
	return clone
}

// Credit adds a newly released amount to the claimable balance. The caller
// performs it in the same step as the ledger mutation that produced the
// amount, after all checks have passed.
func (a *Accumulator) Credit(amount *big.Int) error {
	if err := CheckAmount(amount); err != nil {
		return err
	}
	if a.Released == nil {
		a.Released = big.NewInt(0)
	}
	a.Released = new(big.Int).Add(a.Released, amount)
	return nil
}

// Debit removes a partial amount from the claimable balance, failing with
// ErrInsufficientFunds when the request exceeds it.
func (a *Accumulator) Debit(amount *big.Int) error {
	if err := CheckAmount(amount); err != nil {
		return err
	}
	if a.Released == nil || a.Released.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	a.Released = new(big.Int).Sub(a.Released, amount)
	return nil
}

// Sweep withdraws the full claimable balance, resetting it to zero. An empty
// balance fails with ErrInsufficientFunds rather than returning zero.
func (a *Accumulator) Sweep() (*big.Int, error) {
	if a.Released == nil || a.Released.Sign() <= 0 {
		return nil, ErrInsufficientFunds
	}
	out := a.Released
	a.Released = big.NewInt(0)
	return out, nil
}

// RecordContribution adds the amount to the party's running total and to the
// aggregate raised total in one step.
func (a *Accumulator) RecordContribution(p Party, amount *big.Int) error {
	if err := CheckAmount(amount); err != nil {
		return err
	}
	if a.Contributions == nil {
		a.Contributions = make(map[Party]*big.Int)
	}
	current := a.Contributions[p]
	if current == nil {
		current = big.NewInt(0)
	}
	a.Contributions[p] = new(big.Int).Add(current, amount)
	if a.Raised == nil {
		a.Raised = big.NewInt(0)
	}
	a.Raised = new(big.Int).Add(a.Raised, amount)
	return nil
}

// ContributionOf returns the party's accumulated contribution, zero when the
// party never contributed.
func (a *Accumulator) ContributionOf(p Party) *big.Int {
	if a == nil || a.Contributions == nil {
		return big.NewInt(0)
	}
	return CloneAmount(a.Contributions[p])
}

// TakeContribution zeroes out the party's record and returns the refundable
// amount. The entry is kept at zero so a repeat call fails ErrNoContribution
// instead of recreating a balance.
func (a *Accumulator) TakeContribution(p Party) (*big.Int, error) {
	if a == nil || a.Contributions == nil {
		return nil, ErrNoContribution
	}
	amount, ok := a.Contributions[p]
	if !ok || amount == nil || amount.Sign() <= 0 {
		return nil, ErrNoContribution
	}
	out := CloneAmount(amount)
	a.Contributions[p] = big.NewInt(0)
	return out, nil
}
