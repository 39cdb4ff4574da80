package custody

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Party identifies a participant in a custody contract (client, provider,
// contributor, sender, receiver). Parties are opaque 20-byte values compared
// only for equality; identity proofs are handled by the Guard at the call
// boundary.
type Party [20]byte

// IsZero reports whether the party is the unset zero value.
func (p Party) IsZero() bool { return p == Party{} }

// Hex returns the lowercase hex encoding of the party without a 0x prefix.
func (p Party) Hex() string { return hex.EncodeToString(p[:]) }

// String implements fmt.Stringer.
func (p Party) String() string { return p.Hex() }

// PartyFromHex decodes a 40-character hex string, with or without a 0x
// prefix, into a Party.
func PartyFromHex(s string) (Party, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return Party{}, fmt.Errorf("custody: invalid party encoding: %w", err)
	}
	return PartyFromBytes(raw)
}

// PartyFromBytes converts a raw 20-byte slice into a Party.
func PartyFromBytes(b []byte) (Party, error) {
	if len(b) != len(Party{}) {
		return Party{}, fmt.Errorf("custody: party must be %d bytes, got %d", len(Party{}), len(b))
	}
	var p Party
	copy(p[:], b)
	return p, nil
}
