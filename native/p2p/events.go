package p2p

import (
	"encoding/hex"

	"custodia/core/events"
	"custodia/native/custody"
)

const (
	EventTypeDirect    = "p2p.direct"
	EventTypeEscrowed  = "p2p.escrow"
	EventTypeConfirmed = "p2p.confirm"
	EventTypeCancelled = "p2p.cancel"
)

func baseAttributes(t *Transfer) map[string]string {
	attrs := make(map[string]string)
	if t == nil {
		return attrs
	}
	attrs["id"] = hex.EncodeToString(t.ID[:])
	attrs["sender"] = t.Sender.Hex()
	attrs["receiver"] = t.Receiver.Hex()
	attrs["amount"] = custody.CloneAmount(t.Amount).String()
	attrs["status"] = t.Status.String()
	return attrs
}

// NewDirectEvent returns the payload for an unconditional transfer. Direct
// sends carry no stored state; the event is the only observable effect.
func NewDirectEvent(sender, receiver custody.Party, amount string) *events.Event {
	return &events.Event{Type: EventTypeDirect, Attributes: map[string]string{
		"sender":   sender.Hex(),
		"receiver": receiver.Hex(),
		"amount":   amount,
	}}
}

// NewEscrowedEvent returns the payload emitted when an escrowed transfer is
// opened.
func NewEscrowedEvent(t *Transfer) *events.Event {
	return &events.Event{Type: EventTypeEscrowed, Attributes: baseAttributes(t)}
}

// NewConfirmedEvent returns the payload emitted when the receiver confirms
// receipt.
func NewConfirmedEvent(t *Transfer) *events.Event {
	return &events.Event{Type: EventTypeConfirmed, Attributes: baseAttributes(t)}
}

// NewCancelledEvent returns the payload emitted when the sender voids the
// transfer.
func NewCancelledEvent(t *Transfer) *events.Event {
	return &events.Event{Type: EventTypeCancelled, Attributes: baseAttributes(t)}
}
