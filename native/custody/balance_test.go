package custody

import (
	"errors"
	"math/big"
	"testing"
)

func testParty(fill byte) Party {
	var p Party
	for i := range p {
		p[i] = fill
	}
	return p
}

func TestCreditDebitSweep(t *testing.T) {
	acc := NewAccumulator()
	if err := acc.Credit(big.NewInt(400)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := acc.Credit(big.NewInt(600)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	if err := acc.Debit(big.NewInt(2000)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds on overdraw, got %v", err)
	}
	if acc.Released.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("failed debit must leave balance untouched, got %s", acc.Released)
	}

	if err := acc.Debit(big.NewInt(250)); err != nil {
		t.Fatalf("partial debit: %v", err)
	}
	if acc.Released.Cmp(big.NewInt(750)) != 0 {
		t.Fatalf("expected 750 after partial debit, got %s", acc.Released)
	}

	swept, err := acc.Sweep()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept.Cmp(big.NewInt(750)) != 0 {
		t.Fatalf("expected sweep of 750, got %s", swept)
	}
	if acc.Released.Sign() != 0 {
		t.Fatalf("sweep must reset balance to zero, got %s", acc.Released)
	}
	if _, err := acc.Sweep(); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds on empty sweep, got %v", err)
	}
}

func TestCreditRejectsNonPositive(t *testing.T) {
	acc := NewAccumulator()
	for _, amount := range []*big.Int{nil, big.NewInt(0), big.NewInt(-1)} {
		if err := acc.Credit(amount); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("expected ErrInvalidAmount for %v, got %v", amount, err)
		}
	}
	if acc.Released.Sign() != 0 {
		t.Fatalf("rejected credits must not change the balance")
	}
}

func TestRecordContributionUpdatesBothTotals(t *testing.T) {
	acc := NewAccumulator()
	alice := testParty(0x01)
	bob := testParty(0x02)

	if err := acc.RecordContribution(alice, big.NewInt(400)); err != nil {
		t.Fatalf("contribute: %v", err)
	}
	if err := acc.RecordContribution(bob, big.NewInt(700)); err != nil {
		t.Fatalf("contribute: %v", err)
	}
	if err := acc.RecordContribution(alice, big.NewInt(100)); err != nil {
		t.Fatalf("repeat contribute: %v", err)
	}

	if got := acc.ContributionOf(alice); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected alice total 500, got %s", got)
	}
	if got := acc.ContributionOf(bob); got.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("expected bob total 700, got %s", got)
	}
	if acc.Raised.Cmp(big.NewInt(1200)) != 0 {
		t.Fatalf("expected raised 1200, got %s", acc.Raised)
	}
}

func TestTakeContributionExactlyOnce(t *testing.T) {
	acc := NewAccumulator()
	alice := testParty(0x01)
	if err := acc.RecordContribution(alice, big.NewInt(400)); err != nil {
		t.Fatalf("contribute: %v", err)
	}

	amount, err := acc.TakeContribution(alice)
	if err != nil {
		t.Fatalf("take contribution: %v", err)
	}
	if amount.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("expected refund of 400, got %s", amount)
	}

	if _, err := acc.TakeContribution(alice); !errors.Is(err, ErrNoContribution) {
		t.Fatalf("expected ErrNoContribution on repeat, got %v", err)
	}
	if _, err := acc.TakeContribution(testParty(0x09)); !errors.Is(err, ErrNoContribution) {
		t.Fatalf("expected ErrNoContribution for stranger, got %v", err)
	}
}

func TestAccumulatorCloneIsDeep(t *testing.T) {
	acc := NewAccumulator()
	alice := testParty(0x01)
	if err := acc.RecordContribution(alice, big.NewInt(10)); err != nil {
		t.Fatalf("contribute: %v", err)
	}
	clone := acc.Clone()
	if _, err := clone.TakeContribution(alice); err != nil {
		t.Fatalf("take on clone: %v", err)
	}
	if got := acc.ContributionOf(alice); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("clone mutation leaked into original, got %s", got)
	}
}
