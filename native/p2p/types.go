package p2p

import (
	"fmt"
	"math/big"

	"custodia/native/custody"
)

// Status represents the lifecycle states of an escrowed transfer.
type Status uint8

const (
	StatusPending Status = iota
	StatusCompleted
	StatusCancelled
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the transfer admits no further transitions.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Transfer is a single-use escrowed value movement between two parties. The
// receiver confirms to release, the sender cancels to void; both close the
// record permanently.
type Transfer struct {
	ID        [32]byte
	Sender    custody.Party
	Receiver  custody.Party
	Amount    *big.Int
	UseEscrow bool
	Status    Status
	CreatedAt int64
}

// Clone returns a deep copy of the transfer.
func (t *Transfer) Clone() *Transfer {
	if t == nil {
		return nil
	}
	clone := *t
	clone.Amount = custody.CloneAmount(t.Amount)
	return &clone
}

// Sanitize validates a transfer before persistence and returns a normalised
// deep copy.
func (t *Transfer) Sanitize() (*Transfer, error) {
	if t == nil {
		return nil, fmt.Errorf("p2p: nil transfer")
	}
	clone := t.Clone()
	if clone.Amount.Sign() <= 0 {
		return nil, custody.ErrInvalidAmount
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("p2p: invalid status %d", clone.Status)
	}
	if clone.Sender.IsZero() || clone.Receiver.IsZero() {
		return nil, fmt.Errorf("p2p: sender and receiver required")
	}
	return clone, nil
}
