package state

import (
	"math/big"

	"custodia/native/custody"
	"custodia/native/p2p"
)

type storedTransfer struct {
	Sender    [20]byte
	Receiver  [20]byte
	Amount    *big.Int
	UseEscrow bool
	Status    uint8
	CreatedAt uint64
}

// TransferPut persists an escrowed transfer under its identifier.
func (m *Manager) TransferPut(t *p2p.Transfer) error {
	sanitized, err := t.Sanitize()
	if err != nil {
		return err
	}
	stored := storedTransfer{
		Sender:    sanitized.Sender,
		Receiver:  sanitized.Receiver,
		Amount:    nonNil(sanitized.Amount),
		UseEscrow: sanitized.UseEscrow,
		Status:    uint8(sanitized.Status),
		CreatedAt: uint64(sanitized.CreatedAt),
	}
	return m.KVPut(prefixedKey(transferPrefix, sanitized.ID), &stored)
}

// TransferGet loads the transfer stored under the identifier.
func (m *Manager) TransferGet(id [32]byte) (*p2p.Transfer, bool) {
	var stored storedTransfer
	ok, err := m.KVGet(prefixedKey(transferPrefix, id), &stored)
	if err != nil || !ok {
		return nil, false
	}
	return &p2p.Transfer{
		ID:        id,
		Sender:    custody.Party(stored.Sender),
		Receiver:  custody.Party(stored.Receiver),
		Amount:    nonNil(stored.Amount),
		UseEscrow: stored.UseEscrow,
		Status:    p2p.Status(stored.Status),
		CreatedAt: int64(stored.CreatedAt),
	}, true
}
