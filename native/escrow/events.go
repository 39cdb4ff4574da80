package escrow

import (
	"encoding/hex"
	"strconv"

	"custodia/core/events"
	"custodia/native/custody"
)

const (
	EventTypeInitialized    = "escrow.init"
	EventTypeMilestoneAdded = "escrow.milestone"
	EventTypeSlotAdded      = "escrow.schedule"
	EventTypeCompleted      = "escrow.complete"
	EventTypeReleased       = "escrow.release"
	EventTypeWithdrawn      = "escrow.withdraw"
	EventTypeDisputed       = "escrow.dispute"
	EventTypeResolved       = "escrow.resolved"
)

func baseAttributes(c *Contract) map[string]string {
	attrs := make(map[string]string)
	if c == nil {
		return attrs
	}
	attrs["id"] = hex.EncodeToString(c.ID[:])
	attrs["client"] = c.Client.Hex()
	attrs["provider"] = c.Provider.Hex()
	attrs["total"] = custody.CloneAmount(c.TotalAmount).String()
	attrs["mode"] = c.Mode.String()
	attrs["status"] = c.Status.String()
	return attrs
}

// NewInitializedEvent returns the canonical payload for a newly initialized
// escrow contract.
func NewInitializedEvent(c *Contract) *events.Event {
	return &events.Event{Type: EventTypeInitialized, Attributes: baseAttributes(c)}
}

// NewMilestoneAddedEvent returns the payload emitted when the client stages a
// milestone.
func NewMilestoneAddedEvent(c *Contract, m *custody.Milestone) *events.Event {
	attrs := baseAttributes(c)
	if m != nil {
		attrs["milestoneId"] = strconv.FormatUint(m.ID, 10)
		attrs["amount"] = custody.CloneAmount(m.Amount).String()
	}
	return &events.Event{Type: EventTypeMilestoneAdded, Attributes: attrs}
}

// NewSlotAddedEvent returns the payload emitted when the client stages a
// time-gated slot.
func NewSlotAddedEvent(c *Contract, s *custody.TimeSlot) *events.Event {
	attrs := baseAttributes(c)
	if s != nil {
		attrs["releaseTime"] = strconv.FormatInt(s.ReleaseTime, 10)
		attrs["amount"] = custody.CloneAmount(s.Amount).String()
	}
	return &events.Event{Type: EventTypeSlotAdded, Attributes: attrs}
}

// NewCompletedEvent returns the payload for a milestone completion and the
// amount it released.
func NewCompletedEvent(c *Contract, milestoneID uint64, released string) *events.Event {
	attrs := baseAttributes(c)
	attrs["milestoneId"] = strconv.FormatUint(milestoneID, 10)
	attrs["released"] = released
	return &events.Event{Type: EventTypeCompleted, Attributes: attrs}
}

// NewReleasedEvent returns the payload for a time-based release.
func NewReleasedEvent(c *Contract, released string) *events.Event {
	attrs := baseAttributes(c)
	attrs["released"] = released
	return &events.Event{Type: EventTypeReleased, Attributes: attrs}
}

// NewWithdrawnEvent returns the payload for a provider withdrawal.
func NewWithdrawnEvent(c *Contract, amount string) *events.Event {
	attrs := baseAttributes(c)
	attrs["amount"] = amount
	return &events.Event{Type: EventTypeWithdrawn, Attributes: attrs}
}

// NewDisputedEvent returns the payload emitted when a party freezes the
// contract.
func NewDisputedEvent(c *Contract, by custody.Party) *events.Event {
	attrs := baseAttributes(c)
	attrs["by"] = by.Hex()
	return &events.Event{Type: EventTypeDisputed, Attributes: attrs}
}

// NewResolvedEvent returns the payload emitted when an arbiter settles a
// dispute.
func NewResolvedEvent(c *Contract, outcome string) *events.Event {
	attrs := baseAttributes(c)
	attrs["outcome"] = outcome
	return &events.Event{Type: EventTypeResolved, Attributes: attrs}
}
