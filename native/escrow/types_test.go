package escrow

import (
	"errors"
	"math/big"
	"testing"

	"custodia/native/custody"
)

func TestStatusTerminal(t *testing.T) {
	cases := []struct {
		status   Status
		terminal bool
	}{
		{StatusActive, false},
		{StatusDisputed, false},
		{StatusCompleted, true},
		{StatusCancelled, true},
	}
	for _, tc := range cases {
		if got := tc.status.Terminal(); got != tc.terminal {
			t.Fatalf("%s: terminal=%v, want %v", tc.status, got, tc.terminal)
		}
	}
}

func TestSanitizeRejectsMalformedContracts(t *testing.T) {
	base := func() *Contract {
		return &Contract{
			ID:          testID(0x01),
			Client:      testParty(0x01),
			Provider:    testParty(0x02),
			TotalAmount: big.NewInt(100),
			Mode:        ReleaseMilestone,
			Status:      StatusActive,
		}
	}

	c := base()
	c.TotalAmount = big.NewInt(0)
	if _, err := c.Sanitize(); !errors.Is(err, custody.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	c = base()
	c.Mode = ReleaseModeUnspecified
	if _, err := c.Sanitize(); err == nil {
		t.Fatalf("expected mode rejection")
	}

	c = base()
	c.Client = custody.Party{}
	if _, err := c.Sanitize(); err == nil {
		t.Fatalf("expected missing-client rejection")
	}

	c = base()
	sanitized, err := c.Sanitize()
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if sanitized.Ledger == nil || sanitized.Balance == nil {
		t.Fatalf("sanitize must backfill ledger and balance")
	}
}

func TestContractCloneIsDeep(t *testing.T) {
	c := &Contract{
		ID:          testID(0x02),
		Client:      testParty(0x01),
		Provider:    testParty(0x02),
		TotalAmount: big.NewInt(100),
		Mode:        ReleaseMilestone,
		Status:      StatusActive,
		Ledger:      custody.NewLedger(),
		Balance:     custody.NewAccumulator(),
	}
	if err := c.Ledger.AddMilestone(1, "", big.NewInt(40)); err != nil {
		t.Fatalf("add: %v", err)
	}

	clone := c.Clone()
	if _, err := clone.Ledger.CompleteMilestone(1, 5); err != nil {
		t.Fatalf("complete on clone: %v", err)
	}
	clone.TotalAmount.SetInt64(7)

	if c.Ledger.Milestones[0].Completed {
		t.Fatalf("clone mutation leaked into original ledger")
	}
	if c.TotalAmount.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("clone mutation leaked into original amount")
	}
}
