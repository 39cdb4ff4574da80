package state

import (
	"math/big"

	"custodia/native/crowdfund"
	"custodia/native/custody"
)

type storedPool struct {
	Owner     [20]byte
	Goal      *big.Int
	Deadline  uint64
	Status    uint8
	CreatedAt uint64
	Balance   storedAccumulator
}

// PoolPut persists a funding pool under its identifier.
func (m *Manager) PoolPut(p *crowdfund.Pool) error {
	sanitized, err := p.Sanitize()
	if err != nil {
		return err
	}
	stored := storedPool{
		Owner:     sanitized.Owner,
		Goal:      nonNil(sanitized.Goal),
		Deadline:  uint64(sanitized.Deadline),
		Status:    uint8(sanitized.Status),
		CreatedAt: uint64(sanitized.CreatedAt),
		Balance:   accumulatorToStored(sanitized.Balance),
	}
	return m.KVPut(prefixedKey(poolPrefix, sanitized.ID), &stored)
}

// PoolGet loads the funding pool stored under the identifier.
func (m *Manager) PoolGet(id [32]byte) (*crowdfund.Pool, bool) {
	var stored storedPool
	ok, err := m.KVGet(prefixedKey(poolPrefix, id), &stored)
	if err != nil || !ok {
		return nil, false
	}
	return &crowdfund.Pool{
		ID:        id,
		Owner:     custody.Party(stored.Owner),
		Goal:      nonNil(stored.Goal),
		Deadline:  int64(stored.Deadline),
		Status:    crowdfund.Status(stored.Status),
		CreatedAt: int64(stored.CreatedAt),
		Balance:   accumulatorFromStored(stored.Balance),
	}, true
}
