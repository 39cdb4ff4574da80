package crowdfund

import (
	"encoding/hex"
	"strconv"

	"custodia/core/events"
	"custodia/native/custody"
)

const (
	EventTypeInitialized = "pool.init"
	EventTypeContributed = "pool.contrib"
	EventTypeFinalized   = "pool.finalize"
	EventTypeRefunded    = "pool.refund"
)

func baseAttributes(p *Pool) map[string]string {
	attrs := make(map[string]string)
	if p == nil {
		return attrs
	}
	attrs["id"] = hex.EncodeToString(p.ID[:])
	attrs["owner"] = p.Owner.Hex()
	attrs["goal"] = custody.CloneAmount(p.Goal).String()
	attrs["deadline"] = strconv.FormatInt(p.Deadline, 10)
	attrs["status"] = p.Status.String()
	return attrs
}

// NewInitializedEvent returns the canonical payload for a freshly opened
// pool.
func NewInitializedEvent(p *Pool) *events.Event {
	return &events.Event{Type: EventTypeInitialized, Attributes: baseAttributes(p)}
}

// NewContributedEvent returns the payload for a recorded contribution,
// including the raised total after the call.
func NewContributedEvent(p *Pool, contributor custody.Party, amount string) *events.Event {
	attrs := baseAttributes(p)
	attrs["contributor"] = contributor.Hex()
	attrs["amount"] = amount
	attrs["raised"] = custody.CloneAmount(p.Balance.Raised).String()
	return &events.Event{Type: EventTypeContributed, Attributes: attrs}
}

// NewFinalizedEvent returns the payload for the funding outcome decision.
func NewFinalizedEvent(p *Pool) *events.Event {
	attrs := baseAttributes(p)
	attrs["raised"] = custody.CloneAmount(p.Balance.Raised).String()
	return &events.Event{Type: EventTypeFinalized, Attributes: attrs}
}

// NewRefundedEvent returns the payload for a contributor refund.
func NewRefundedEvent(p *Pool, contributor custody.Party, amount string) *events.Event {
	attrs := baseAttributes(p)
	attrs["contributor"] = contributor.Hex()
	attrs["amount"] = amount
	return &events.Event{Type: EventTypeRefunded, Attributes: attrs}
}
