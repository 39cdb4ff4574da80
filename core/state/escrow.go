package state

import (
	"math/big"

	"custodia/native/custody"
	"custodia/native/escrow"
)

type storedContract struct {
	Client      [20]byte
	Provider    [20]byte
	Arbiter     [20]byte
	TotalAmount *big.Int
	Mode        uint8
	Status      uint8
	CreatedAt   uint64
	Ledger      storedLedger
	Balance     storedAccumulator
}

// EscrowPut persists an escrow contract under its identifier.
func (m *Manager) EscrowPut(c *escrow.Contract) error {
	sanitized, err := c.Sanitize()
	if err != nil {
		return err
	}
	stored := storedContract{
		Client:      sanitized.Client,
		Provider:    sanitized.Provider,
		Arbiter:     sanitized.Arbiter,
		TotalAmount: nonNil(sanitized.TotalAmount),
		Mode:        uint8(sanitized.Mode),
		Status:      uint8(sanitized.Status),
		CreatedAt:   uint64(sanitized.CreatedAt),
		Ledger:      ledgerToStored(sanitized.Ledger),
		Balance:     accumulatorToStored(sanitized.Balance),
	}
	return m.KVPut(prefixedKey(escrowPrefix, sanitized.ID), &stored)
}

// EscrowGet loads the escrow contract stored under the identifier. Missing and
// undecodable records both report absent.
func (m *Manager) EscrowGet(id [32]byte) (*escrow.Contract, bool) {
	var stored storedContract
	ok, err := m.KVGet(prefixedKey(escrowPrefix, id), &stored)
	if err != nil || !ok {
		return nil, false
	}
	return &escrow.Contract{
		ID:          id,
		Client:      custody.Party(stored.Client),
		Provider:    custody.Party(stored.Provider),
		Arbiter:     custody.Party(stored.Arbiter),
		TotalAmount: nonNil(stored.TotalAmount),
		Mode:        escrow.ReleaseMode(stored.Mode),
		Status:      escrow.Status(stored.Status),
		CreatedAt:   int64(stored.CreatedAt),
		Ledger:      ledgerFromStored(stored.Ledger),
		Balance:     accumulatorFromStored(stored.Balance),
	}, true
}
