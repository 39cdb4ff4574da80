package crowdfund

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"custodia/core/events"
	"custodia/native/custody"
)

type mockState struct {
	pools    map[[32]byte]*Pool
	failPuts bool
}

func newMockState() *mockState {
	return &mockState{pools: make(map[[32]byte]*Pool)}
}

func (m *mockState) PoolPut(p *Pool) error {
	if m.failPuts {
		return fmt.Errorf("mock: put rejected")
	}
	if p == nil {
		return fmt.Errorf("nil pool")
	}
	m.pools[p.ID] = p.Clone()
	return nil
}

func (m *mockState) PoolGet(id [32]byte) (*Pool, bool) {
	p, ok := m.pools[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

func testParty(fill byte) custody.Party {
	var p custody.Party
	for i := range p {
		p[i] = fill
	}
	return p
}

func testID(fill byte) [32]byte {
	var id [32]byte
	for i := range id {
		id[i] = fill
	}
	return id
}

const (
	testNow      = int64(1_700_000_000)
	testDeadline = int64(1_700_000_600)
)

var (
	owner = testParty(0x01)
	alice = testParty(0x0A)
	bob   = testParty(0x0B)
)

func newTestEngine(state *mockState) (*Engine, *events.CaptureEmitter) {
	emitter := &events.CaptureEmitter{}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetEmitter(emitter)
	engine.SetNowFunc(func() int64 { return testNow })
	return engine, emitter
}

func mustOpenPool(t *testing.T, engine *Engine, id [32]byte, goal int64) {
	t.Helper()
	if _, err := engine.Initialize(id, owner, big.NewInt(goal), testDeadline); err != nil {
		t.Fatalf("initialize pool: %v", err)
	}
}

func TestInitializeValidations(t *testing.T) {
	cases := []struct {
		name     string
		goal     *big.Int
		deadline int64
		wantErr  error
	}{
		{"zero goal", big.NewInt(0), testDeadline, custody.ErrInvalidAmount},
		{"negative goal", big.NewInt(-10), testDeadline, custody.ErrInvalidAmount},
		{"deadline in past", big.NewInt(100), testNow - 1, ErrInvalidDeadline},
		{"deadline equals now", big.NewInt(100), testNow, ErrInvalidDeadline},
		{"ok", big.NewInt(100), testDeadline, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine, _ := newTestEngine(newMockState())
			_, err := engine.Initialize(testID(0xA0), owner, tc.goal, tc.deadline)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestInitializeOnce(t *testing.T) {
	state := newMockState()
	engine, _ := newTestEngine(state)
	id := testID(0x01)
	mustOpenPool(t, engine, id, 1000)

	// Existence is checked before goal and deadline validation, so invalid
	// re-init arguments still report the initialize-once violation.
	reinits := []struct {
		name     string
		goal     *big.Int
		deadline int64
	}{
		{"valid args", big.NewInt(5), testDeadline},
		{"nil goal", nil, testDeadline},
		{"zero goal", big.NewInt(0), testDeadline},
		{"negative goal", big.NewInt(-1), testDeadline},
		{"past deadline", big.NewInt(5), 0},
	}
	for _, tc := range reinits {
		if _, err := engine.Initialize(id, alice, tc.goal, tc.deadline); !errors.Is(err, custody.ErrAlreadyInitialized) {
			t.Fatalf("%s: expected ErrAlreadyInitialized, got %v", tc.name, err)
		}
	}
	stored, _ := state.PoolGet(id)
	if stored.Owner != owner || stored.Goal.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("failed re-init must leave prior state untouched: %+v", stored)
	}
}

func TestContributeAccumulates(t *testing.T) {
	state := newMockState()
	engine, emitter := newTestEngine(state)
	id := testID(0x02)
	mustOpenPool(t, engine, id, 1000)

	if err := engine.Contribute(id, alice, big.NewInt(400)); err != nil {
		t.Fatalf("contribute: %v", err)
	}
	if err := engine.Contribute(id, bob, big.NewInt(700)); err != nil {
		t.Fatalf("contribute: %v", err)
	}

	raised, err := engine.TotalRaised(id)
	if err != nil {
		t.Fatalf("total raised: %v", err)
	}
	if raised.Cmp(big.NewInt(1100)) != 0 {
		t.Fatalf("expected raised 1100, got %s", raised)
	}
	if got, _ := engine.ContributionOf(id, alice); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("expected alice contribution 400, got %s", got)
	}
	if got, _ := engine.ContributionOf(id, testParty(0x33)); got.Sign() != 0 {
		t.Fatalf("expected zero for stranger, got %s", got)
	}

	last := emitter.Events[len(emitter.Events)-1]
	if last.Type != EventTypeContributed || last.Attributes["raised"] != "1100" {
		t.Fatalf("contribution event malformed: %+v", last)
	}

	// Contributions stop at the deadline even while status is Funding.
	engine.SetNowFunc(func() int64 { return testDeadline })
	if err := engine.Contribute(id, alice, big.NewInt(1)); !errors.Is(err, ErrFundingClosed) {
		t.Fatalf("expected ErrFundingClosed at deadline, got %v", err)
	}
}

func TestContributeRejectsNonPositive(t *testing.T) {
	engine, _ := newTestEngine(newMockState())
	id := testID(0x03)
	mustOpenPool(t, engine, id, 1000)

	for _, amount := range []*big.Int{nil, big.NewInt(0), big.NewInt(-1)} {
		if err := engine.Contribute(id, alice, amount); !errors.Is(err, custody.ErrInvalidAmount) {
			t.Fatalf("expected ErrInvalidAmount for %v, got %v", amount, err)
		}
	}
	if raised, _ := engine.TotalRaised(id); raised.Sign() != 0 {
		t.Fatalf("rejected contributions must not change totals")
	}
}

func TestFinalizeGatesOnDeadline(t *testing.T) {
	cases := []struct {
		name   string
		raised int64
		want   Status
	}{
		{"one short of goal", 999, StatusFailed},
		{"exactly goal", 1000, StatusFunded},
		{"over goal", 1100, StatusFunded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine, _ := newTestEngine(newMockState())
			id := testID(0x04)
			mustOpenPool(t, engine, id, 1000)
			if err := engine.Contribute(id, alice, big.NewInt(tc.raised)); err != nil {
				t.Fatalf("contribute: %v", err)
			}

			if _, err := engine.Finalize(id); !errors.Is(err, ErrDeadlineNotReached) {
				t.Fatalf("expected ErrDeadlineNotReached before deadline, got %v", err)
			}

			engine.SetNowFunc(func() int64 { return testDeadline })
			status, err := engine.Finalize(id)
			if err != nil {
				t.Fatalf("finalize: %v", err)
			}
			if status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, status)
			}

			if _, err := engine.Finalize(id); !errors.Is(err, ErrPoolNotFunding) {
				t.Fatalf("expected ErrPoolNotFunding on repeat finalize, got %v", err)
			}
			if err := engine.Contribute(id, bob, big.NewInt(1)); !errors.Is(err, ErrPoolNotFunding) {
				t.Fatalf("expected ErrPoolNotFunding after settlement, got %v", err)
			}
		})
	}
}

func TestRefundExactlyOnce(t *testing.T) {
	state := newMockState()
	engine, emitter := newTestEngine(state)
	id := testID(0x05)
	mustOpenPool(t, engine, id, 1000)
	if err := engine.Contribute(id, alice, big.NewInt(400)); err != nil {
		t.Fatalf("contribute: %v", err)
	}

	if _, err := engine.Refund(id, alice); !errors.Is(err, ErrPoolNotFailed) {
		t.Fatalf("expected ErrPoolNotFailed while funding, got %v", err)
	}

	engine.SetNowFunc(func() int64 { return testDeadline })
	if _, err := engine.Finalize(id); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if status, _ := engine.Status(id); status != StatusFailed {
		t.Fatalf("expected Failed, got %s", status)
	}

	amount, err := engine.Refund(id, alice)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if amount.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("expected refund of exactly 400, got %s", amount)
	}

	if _, err := engine.Refund(id, alice); !errors.Is(err, custody.ErrNoContribution) {
		t.Fatalf("expected ErrNoContribution on repeat refund, got %v", err)
	}
	if _, err := engine.Refund(id, bob); !errors.Is(err, custody.ErrNoContribution) {
		t.Fatalf("expected ErrNoContribution for non-contributor, got %v", err)
	}

	last := emitter.Events[len(emitter.Events)-1]
	if last.Type != EventTypeRefunded || last.Attributes["amount"] != "400" {
		t.Fatalf("refund event malformed: %+v", last)
	}
}

func TestFailedStoreLeavesNothingEmitted(t *testing.T) {
	state := newMockState()
	engine, emitter := newTestEngine(state)
	id := testID(0x06)
	mustOpenPool(t, engine, id, 1000)
	emitted := len(emitter.Events)

	state.failPuts = true
	if err := engine.Contribute(id, alice, big.NewInt(100)); err == nil {
		t.Fatalf("expected store failure to propagate")
	}
	state.failPuts = false

	if len(emitter.Events) != emitted {
		t.Fatalf("no event may be emitted when the write fails")
	}
	if raised, _ := engine.TotalRaised(id); raised.Sign() != 0 {
		t.Fatalf("failed write must leave stored state unchanged, raised=%s", raised)
	}
}

func TestQueriesRequireInitialization(t *testing.T) {
	engine, _ := newTestEngine(newMockState())
	id := testID(0x07)

	if _, err := engine.Status(id); !errors.Is(err, custody.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized from Status, got %v", err)
	}
	if _, err := engine.TotalRaised(id); !errors.Is(err, custody.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized from TotalRaised, got %v", err)
	}
	if _, err := engine.Goal(id); !errors.Is(err, custody.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized from Goal, got %v", err)
	}
	if _, err := engine.Deadline(id); !errors.Is(err, custody.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized from Deadline, got %v", err)
	}
	if _, err := engine.ContributionOf(id, alice); !errors.Is(err, custody.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized from ContributionOf, got %v", err)
	}
	if _, err := engine.Owner(id); !errors.Is(err, custody.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized from Owner, got %v", err)
	}
}
