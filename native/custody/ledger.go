package custody

import "math/big"

// Milestone is a releasable unit keyed by a caller-supplied identifier. It is
// created pending and transitions to completed exactly once.
type Milestone struct {
	ID          uint64
	Description string
	Amount      *big.Int
	Completed   bool
	CompletedAt int64
}

// Clone returns a deep copy of the milestone.
func (m *Milestone) Clone() *Milestone {
	if m == nil {
		return nil
	}
	clone := *m
	clone.Amount = CloneAmount(m.Amount)
	return &clone
}

// TimeSlot is a releasable unit gated on ledger time rather than an explicit
// completion call.
type TimeSlot struct {
	ReleaseTime int64
	Amount      *big.Int
	Released    bool
}

// Clone returns a deep copy of the slot.
func (s *TimeSlot) Clone() *TimeSlot {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Amount = CloneAmount(s.Amount)
	return &clone
}

// Ledger tracks the releasable units of one contract instance. Both lists are
// append-only; units are never removed, only flagged released. The ledger
// reports newly eligible amounts and never moves balances itself.
type Ledger struct {
	Milestones []*Milestone
	Schedule   []*TimeSlot
}

// NewLedger returns an empty condition ledger.
func NewLedger() *Ledger { return &Ledger{} }

// Clone returns a deep copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	if l == nil {
		return nil
	}
	clone := &Ledger{}
	if len(l.Milestones) > 0 {
		clone.Milestones = make([]*Milestone, len(l.Milestones))
		for i, m := range l.Milestones {
			clone.Milestones[i] = m.Clone()
		}
	}
	if len(l.Schedule) > 0 {
		clone.Schedule = make([]*TimeSlot, len(l.Schedule))
		for i, s := range l.Schedule {
			clone.Schedule[i] = s.Clone()
		}
	}
	return clone
}

// AddMilestone appends a pending milestone. Identifiers are caller-supplied
// and not checked for uniqueness; completion targets the first match.
func (l *Ledger) AddMilestone(id uint64, description string, amount *big.Int) error {
	if err := CheckAmount(amount); err != nil {
		return err
	}
	l.Milestones = append(l.Milestones, &Milestone{
		ID:          id,
		Description: description,
		Amount:      CloneAmount(amount),
	})
	return nil
}

// AddTimeSlot appends a pending time-gated slot.
func (l *Ledger) AddTimeSlot(releaseTime int64, amount *big.Int) error {
	if err := CheckAmount(amount); err != nil {
		return err
	}
	l.Schedule = append(l.Schedule, &TimeSlot{
		ReleaseTime: releaseTime,
		Amount:      CloneAmount(amount),
	})
	return nil
}

// FindMilestone returns the first milestone carrying the identifier, or nil.
func (l *Ledger) FindMilestone(id uint64) *Milestone {
	if l == nil {
		return nil
	}
	for _, m := range l.Milestones {
		if m != nil && m.ID == id {
			return m
		}
	}
	return nil
}

// CompleteMilestone marks the milestone completed, stamps the completion time
// and returns the amount newly eligible for release.
func (l *Ledger) CompleteMilestone(id uint64, now int64) (*big.Int, error) {
	m := l.FindMilestone(id)
	if m == nil {
		return nil, ErrMilestoneNotFound
	}
	if m.Completed {
		return nil, ErrMilestoneAlreadyCompleted
	}
	m.Completed = true
	m.CompletedAt = now
	return CloneAmount(m.Amount), nil
}

// ReleaseDue evaluates every unreleased slot against the supplied ledger time
// in one pass, flags the elapsed ones and returns their accumulated amount.
// It fails with ErrNoReleasesDue when no slot qualifies.
func (l *Ledger) ReleaseDue(now int64) (*big.Int, error) {
	total := big.NewInt(0)
	released := false
	for _, s := range l.Schedule {
		if s == nil || s.Released || s.ReleaseTime > now {
			continue
		}
		s.Released = true
		total.Add(total, s.Amount)
		released = true
	}
	if !released {
		return nil, ErrNoReleasesDue
	}
	return total, nil
}

// ReleaseAt targets a single slot by positional index and releases it if its
// trigger time has elapsed. Missing indexes and repeat releases fail with the
// milestone lookup errors, matching the shared error vocabulary of the two
// release flavors.
func (l *Ledger) ReleaseAt(index int, now int64) (*big.Int, error) {
	if index < 0 || index >= len(l.Schedule) || l.Schedule[index] == nil {
		return nil, ErrMilestoneNotFound
	}
	slot := l.Schedule[index]
	if slot.Released {
		return nil, ErrMilestoneAlreadyCompleted
	}
	if now < slot.ReleaseTime {
		return nil, ErrTimeNotReached
	}
	slot.Released = true
	return CloneAmount(slot.Amount), nil
}

// ReleasedTotal sums the amounts of all completed milestones and released
// slots. The released balance of a healthy instance always reconciles with
// this figure plus any withdrawals.
func (l *Ledger) ReleasedTotal() *big.Int {
	total := big.NewInt(0)
	if l == nil {
		return total
	}
	for _, m := range l.Milestones {
		if m != nil && m.Completed {
			total.Add(total, m.Amount)
		}
	}
	for _, s := range l.Schedule {
		if s != nil && s.Released {
			total.Add(total, s.Amount)
		}
	}
	return total
}
