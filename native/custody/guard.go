package custody

import (
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Guard asserts that the current call genuinely originates from the claimed
// party. Engines invoke the guard before inspecting any contract state so an
// unauthorized caller learns nothing about the instance.
type Guard interface {
	RequireAuth(caller Party) error
}

// AllowAllGuard accepts every non-zero caller. It models the deployment where
// transactions reach the engine through an external sequencer that has
// already verified the sender's signature.
type AllowAllGuard struct{}

// RequireAuth implements the Guard interface.
func (AllowAllGuard) RequireAuth(caller Party) error {
	if caller.IsZero() {
		return ErrUnauthorized
	}
	return nil
}

// StaticGuard accepts a fixed set of pre-verified parties. Used by tests and
// by local tooling that injects identities out of band.
type StaticGuard struct {
	allowed map[Party]struct{}
}

// NewStaticGuard builds a guard that authorizes exactly the supplied parties.
func NewStaticGuard(parties ...Party) *StaticGuard {
	allowed := make(map[Party]struct{}, len(parties))
	for _, p := range parties {
		allowed[p] = struct{}{}
	}
	return &StaticGuard{allowed: allowed}
}

// Allow adds a party to the verified set.
func (g *StaticGuard) Allow(p Party) {
	if g.allowed == nil {
		g.allowed = make(map[Party]struct{})
	}
	g.allowed[p] = struct{}{}
}

// RequireAuth implements the Guard interface.
func (g *StaticGuard) RequireAuth(caller Party) error {
	if g == nil {
		return ErrUnauthorized
	}
	if _, ok := g.allowed[caller]; !ok {
		return ErrUnauthorized
	}
	return nil
}

// RequireMember checks an authenticated caller against the set of parties
// permitted to invoke the operation. It covers the dual-authorization case
// where either of two roles may act.
func RequireMember(caller Party, allowed ...Party) error {
	for _, p := range allowed {
		if !p.IsZero() && caller == p {
			return nil
		}
	}
	return ErrUnauthorized
}

// RecoverSigner resolves the party that produced a 65-byte [R || S || V]
// secp256k1 signature over the supplied digest. Boundary adapters use it to
// turn a signed request into a verified caller before handing the party to a
// guard.
func RecoverSigner(digest [32]byte, sig []byte) (Party, error) {
	pub, err := ethcrypto.SigToPub(digest[:], sig)
	if err != nil {
		return Party{}, fmt.Errorf("custody: recover signer: %w", err)
	}
	addr := ethcrypto.PubkeyToAddress(*pub)
	var p Party
	copy(p[:], addr[:])
	return p, nil
}
