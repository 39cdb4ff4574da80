package state

import (
	"math/big"
	"sort"

	"custodia/native/custody"
)

// Stored forms mirror the in-memory types with RLP-safe shapes: unix times
// widen to uint64 and the contribution map flattens to a slice sorted by
// party so the encoding stays deterministic.

type storedMilestone struct {
	ID          uint64
	Description string
	Amount      *big.Int
	Completed   bool
	CompletedAt uint64
}

type storedTimeSlot struct {
	ReleaseTime uint64
	Amount      *big.Int
	Released    bool
}

type storedLedger struct {
	Milestones []storedMilestone
	Schedule   []storedTimeSlot
}

type storedContribution struct {
	Party  [20]byte
	Amount *big.Int
}

type storedAccumulator struct {
	Released      *big.Int
	Raised        *big.Int
	Contributions []storedContribution
}

func nonNil(amount *big.Int) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(amount)
}

func ledgerToStored(l *custody.Ledger) storedLedger {
	stored := storedLedger{
		Milestones: make([]storedMilestone, 0),
		Schedule:   make([]storedTimeSlot, 0),
	}
	if l == nil {
		return stored
	}
	for _, m := range l.Milestones {
		if m == nil {
			continue
		}
		stored.Milestones = append(stored.Milestones, storedMilestone{
			ID:          m.ID,
			Description: m.Description,
			Amount:      nonNil(m.Amount),
			Completed:   m.Completed,
			CompletedAt: uint64(m.CompletedAt),
		})
	}
	for _, s := range l.Schedule {
		if s == nil {
			continue
		}
		stored.Schedule = append(stored.Schedule, storedTimeSlot{
			ReleaseTime: uint64(s.ReleaseTime),
			Amount:      nonNil(s.Amount),
			Released:    s.Released,
		})
	}
	return stored
}

func ledgerFromStored(stored storedLedger) *custody.Ledger {
	ledger := custody.NewLedger()
	for _, m := range stored.Milestones {
		ledger.Milestones = append(ledger.Milestones, &custody.Milestone{
			ID:          m.ID,
			Description: m.Description,
			Amount:      nonNil(m.Amount),
			Completed:   m.Completed,
			CompletedAt: int64(m.CompletedAt),
		})
	}
	for _, s := range stored.Schedule {
		ledger.Schedule = append(ledger.Schedule, &custody.TimeSlot{
			ReleaseTime: int64(s.ReleaseTime),
			Amount:      nonNil(s.Amount),
			Released:    s.Released,
		})
	}
	return ledger
}

func accumulatorToStored(a *custody.Accumulator) storedAccumulator {
	stored := storedAccumulator{
		Released:      big.NewInt(0),
		Raised:        big.NewInt(0),
		Contributions: make([]storedContribution, 0),
	}
	if a == nil {
		return stored
	}
	stored.Released = nonNil(a.Released)
	stored.Raised = nonNil(a.Raised)
	for party, amount := range a.Contributions {
		stored.Contributions = append(stored.Contributions, storedContribution{
			Party:  party,
			Amount: nonNil(amount),
		})
	}
	sort.Slice(stored.Contributions, func(i, j int) bool {
		a, b := stored.Contributions[i].Party, stored.Contributions[j].Party
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
	return stored
}

func accumulatorFromStored(stored storedAccumulator) *custody.Accumulator {
	acc := custody.NewAccumulator()
	acc.Released = nonNil(stored.Released)
	acc.Raised = nonNil(stored.Raised)
	for _, entry := range stored.Contributions {
		acc.Contributions[entry.Party] = nonNil(entry.Amount)
	}
	return acc
}
