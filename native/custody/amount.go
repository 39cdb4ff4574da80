package custody

import "math/big"

// CheckAmount rejects nil, zero and negative amounts. Every operation that
// accepts an amount runs it through this check before touching any state, so
// non-positive values are never stored.
func CheckAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// CloneAmount returns an owned copy of the supplied amount, treating nil as
// zero.
func CloneAmount(amount *big.Int) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(amount)
}
