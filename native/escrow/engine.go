package escrow

import (
	"math/big"
	"time"

	"custodia/core/events"
	"custodia/native/custody"
)

// EngineState is the persistence surface required by the escrow engine. Gets
// must return an owned copy; the engine mutates the copy and writes it back
// only after every check has passed, so a failed call leaves stored state
// untouched.
type EngineState interface {
	EscrowPut(*Contract) error
	EscrowGet(id [32]byte) (*Contract, bool)
}

// Engine decides, for one escrow instance and a supplied ledger time,
// whether an amount may move and what state results. Calls are externally
// serialized per instance; the engine performs no internal locking.
type Engine struct {
	state   EngineState
	emitter events.Emitter
	guard   custody.Guard
	nowFn   func() int64
}

// NewEngine creates an escrow engine with a no-op emitter and an allow-all
// guard. Callers override both via the setters.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		guard:   custody.AllowAllGuard{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state EngineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetGuard configures the authorization guard. Passing nil resets it to the
// allow-all guard.
func (e *Engine) SetGuard(guard custody.Guard) {
	if guard == nil {
		e.guard = custody.AllowAllGuard{}
		return
	}
	e.guard = guard
}

// SetNowFunc overrides the ledger time source. Primarily intended for tests
// to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt *events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) load(id [32]byte) (*Contract, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	contract, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, custody.ErrNotInitialized
	}
	return contract, nil
}

func (e *Engine) store(c *Contract) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	sanitized, err := c.Sanitize()
	if err != nil {
		return err
	}
	return e.state.EscrowPut(sanitized)
}

// requireWritable rejects contracts whose status forbids the mutation, with
// one distinct cause per mismatch.
func requireWritable(c *Contract) error {
	switch {
	case c.Status == StatusDisputed:
		return ErrDisputeActive
	case c.Status.Terminal():
		return ErrContractNotActive
	default:
		return nil
	}
}

// Initialize creates the contract record. A second call against the same
// identifier fails ErrAlreadyInitialized regardless of arguments.
func (e *Engine) Initialize(id [32]byte, client, provider custody.Party, total *big.Int, mode ReleaseMode, arbiter custody.Party) (*Contract, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.guard.RequireAuth(client); err != nil {
		return nil, err
	}
	if _, ok := e.state.EscrowGet(id); ok {
		return nil, custody.ErrAlreadyInitialized
	}
	if err := custody.CheckAmount(total); err != nil {
		return nil, err
	}
	if !mode.Valid() {
		return nil, ErrWrongReleaseMode
	}
	contract := &Contract{
		ID:          id,
		Client:      client,
		Provider:    provider,
		Arbiter:     arbiter,
		TotalAmount: custody.CloneAmount(total),
		Mode:        mode,
		Status:      StatusActive,
		CreatedAt:   e.now(),
		Ledger:      custody.NewLedger(),
		Balance:     custody.NewAccumulator(),
	}
	if err := e.store(contract); err != nil {
		return nil, err
	}
	e.emit(NewInitializedEvent(contract))
	return contract.Clone(), nil
}

// AddMilestone stages a new milestone. Only the client may stage conditions,
// and only while the contract is active. Duplicate milestone identifiers are
// accepted; completion targets the first match.
func (e *Engine) AddMilestone(id [32]byte, caller custody.Party, milestoneID uint64, description string, amount *big.Int) error {
	if err := e.guard.RequireAuth(caller); err != nil {
		return err
	}
	contract, err := e.load(id)
	if err != nil {
		return err
	}
	if err := custody.RequireMember(caller, contract.Client); err != nil {
		return err
	}
	if err := requireWritable(contract); err != nil {
		return err
	}
	if contract.Mode != ReleaseMilestone {
		return ErrWrongReleaseMode
	}
	if err := contract.Ledger.AddMilestone(milestoneID, description, amount); err != nil {
		return err
	}
	if err := e.store(contract); err != nil {
		return err
	}
	staged := contract.Ledger.Milestones[len(contract.Ledger.Milestones)-1]
	e.emit(NewMilestoneAddedEvent(contract, staged))
	return nil
}

// AddTimeSlot stages a new time-gated release slot under either time mode.
func (e *Engine) AddTimeSlot(id [32]byte, caller custody.Party, releaseTime int64, amount *big.Int) error {
	if err := e.guard.RequireAuth(caller); err != nil {
		return err
	}
	contract, err := e.load(id)
	if err != nil {
		return err
	}
	if err := custody.RequireMember(caller, contract.Client); err != nil {
		return err
	}
	if err := requireWritable(contract); err != nil {
		return err
	}
	if contract.Mode != ReleaseTimeSweep && contract.Mode != ReleaseTimeIndexed {
		return ErrWrongReleaseMode
	}
	if err := contract.Ledger.AddTimeSlot(releaseTime, amount); err != nil {
		return err
	}
	if err := e.store(contract); err != nil {
		return err
	}
	staged := contract.Ledger.Schedule[len(contract.Ledger.Schedule)-1]
	e.emit(NewSlotAddedEvent(contract, staged))
	return nil
}

// CompleteMilestone marks the milestone completed and credits its amount to
// the released balance in the same atomic step. It returns the newly
// released amount.
func (e *Engine) CompleteMilestone(id [32]byte, caller custody.Party, milestoneID uint64) (*big.Int, error) {
	if err := e.guard.RequireAuth(caller); err != nil {
		return nil, err
	}
	contract, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if err := custody.RequireMember(caller, contract.Client); err != nil {
		return nil, err
	}
	if err := requireWritable(contract); err != nil {
		return nil, err
	}
	if contract.Mode != ReleaseMilestone {
		return nil, ErrWrongReleaseMode
	}
	released, err := contract.Ledger.CompleteMilestone(milestoneID, e.now())
	if err != nil {
		return nil, err
	}
	if err := contract.Balance.Credit(released); err != nil {
		return nil, err
	}
	if err := e.store(contract); err != nil {
		return nil, err
	}
	e.emit(NewCompletedEvent(contract, milestoneID, released.String()))
	return released, nil
}

// ReleaseDue evaluates the whole schedule against the current ledger time
// and releases every elapsed slot in one pass (sweep mode). It fails
// custody.ErrNoReleasesDue when nothing qualifies.
func (e *Engine) ReleaseDue(id [32]byte) (*big.Int, error) {
	contract, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if err := requireWritable(contract); err != nil {
		return nil, err
	}
	if contract.Mode != ReleaseTimeSweep {
		return nil, ErrWrongReleaseMode
	}
	released, err := contract.Ledger.ReleaseDue(e.now())
	if err != nil {
		return nil, err
	}
	if err := contract.Balance.Credit(released); err != nil {
		return nil, err
	}
	if err := e.store(contract); err != nil {
		return nil, err
	}
	e.emit(NewReleasedEvent(contract, released.String()))
	return released, nil
}

// ReleaseScheduled targets a single slot by index (indexed mode), failing
// custody.ErrTimeNotReached while its trigger has not elapsed.
func (e *Engine) ReleaseScheduled(id [32]byte, index int) (*big.Int, error) {
	contract, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if err := requireWritable(contract); err != nil {
		return nil, err
	}
	if contract.Mode != ReleaseTimeIndexed {
		return nil, ErrWrongReleaseMode
	}
	released, err := contract.Ledger.ReleaseAt(index, e.now())
	if err != nil {
		return nil, err
	}
	if err := contract.Balance.Credit(released); err != nil {
		return nil, err
	}
	if err := e.store(contract); err != nil {
		return nil, err
	}
	e.emit(NewReleasedEvent(contract, released.String()))
	return released, nil
}

// Withdraw sweeps the full released balance to the provider and resets it to
// zero, returning the amount the external transfer collaborator should move.
// Withdrawal is deliberately not status-gated: funds already released belong
// to the provider even while a later dispute is pending.
func (e *Engine) Withdraw(id [32]byte, caller custody.Party) (*big.Int, error) {
	if err := e.guard.RequireAuth(caller); err != nil {
		return nil, err
	}
	contract, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if err := custody.RequireMember(caller, contract.Provider); err != nil {
		return nil, err
	}
	amount, err := contract.Balance.Sweep()
	if err != nil {
		return nil, err
	}
	if err := e.store(contract); err != nil {
		return nil, err
	}
	e.emit(NewWithdrawnEvent(contract, amount.String()))
	return amount, nil
}

// Dispute freezes releases. Either the client or the provider may invoke it
// while the contract is active.
func (e *Engine) Dispute(id [32]byte, caller custody.Party) error {
	if err := e.guard.RequireAuth(caller); err != nil {
		return err
	}
	contract, err := e.load(id)
	if err != nil {
		return err
	}
	if err := custody.RequireMember(caller, contract.Client, contract.Provider); err != nil {
		return err
	}
	if err := requireWritable(contract); err != nil {
		return err
	}
	contract.Status = StatusDisputed
	if err := e.store(contract); err != nil {
		return err
	}
	e.emit(NewDisputedEvent(contract, caller))
	return nil
}

// ResolveDispute settles a disputed contract. When an arbiter was configured
// at initialization only the arbiter may resolve; otherwise resolution is
// left to the external governance layer and any authenticated caller is
// accepted. ResolutionResume unfreezes, ResolutionRelease terminates
// Completed, ResolutionRefund terminates Cancelled.
func (e *Engine) ResolveDispute(id [32]byte, caller custody.Party, resolution Resolution) error {
	if err := e.guard.RequireAuth(caller); err != nil {
		return err
	}
	contract, err := e.load(id)
	if err != nil {
		return err
	}
	if !contract.Arbiter.IsZero() {
		if err := custody.RequireMember(caller, contract.Arbiter); err != nil {
			return err
		}
	}
	if contract.Status != StatusDisputed {
		return ErrNoDisputeActive
	}
	var outcome string
	switch resolution {
	case ResolutionResume:
		contract.Status = StatusActive
		outcome = "resume"
	case ResolutionRelease:
		contract.Status = StatusCompleted
		outcome = "release"
	case ResolutionRefund:
		contract.Status = StatusCancelled
		outcome = "refund"
	default:
		return ErrInvalidResolution
	}
	if err := e.store(contract); err != nil {
		return err
	}
	e.emit(NewResolvedEvent(contract, outcome))
	return nil
}

// Contract returns a deep copy of the stored record.
func (e *Engine) Contract(id [32]byte) (*Contract, error) {
	contract, err := e.load(id)
	if err != nil {
		return nil, err
	}
	return contract.Clone(), nil
}

// Status reports the contract's lifecycle state.
func (e *Engine) Status(id [32]byte) (Status, error) {
	contract, err := e.load(id)
	if err != nil {
		return 0, err
	}
	return contract.Status, nil
}

// TotalAmount reports the declared total.
func (e *Engine) TotalAmount(id [32]byte) (*big.Int, error) {
	contract, err := e.load(id)
	if err != nil {
		return nil, err
	}
	return custody.CloneAmount(contract.TotalAmount), nil
}

// ReleasedAmount reports the claimable-but-unwithdrawn balance.
func (e *Engine) ReleasedAmount(id [32]byte) (*big.Int, error) {
	contract, err := e.load(id)
	if err != nil {
		return nil, err
	}
	return custody.CloneAmount(contract.Balance.Released), nil
}

// Milestones returns copies of the staged milestones.
func (e *Engine) Milestones(id [32]byte) ([]*custody.Milestone, error) {
	contract, err := e.load(id)
	if err != nil {
		return nil, err
	}
	return contract.Ledger.Clone().Milestones, nil
}

// Client reports the contract's client party.
func (e *Engine) Client(id [32]byte) (custody.Party, error) {
	contract, err := e.load(id)
	if err != nil {
		return custody.Party{}, err
	}
	return contract.Client, nil
}

// Provider reports the contract's provider party.
func (e *Engine) Provider(id [32]byte) (custody.Party, error) {
	contract, err := e.load(id)
	if err != nil {
		return custody.Party{}, err
	}
	return contract.Provider, nil
}

// Schedule returns copies of the staged time slots.
func (e *Engine) Schedule(id [32]byte) ([]*custody.TimeSlot, error) {
	contract, err := e.load(id)
	if err != nil {
		return nil, err
	}
	return contract.Ledger.Clone().Schedule, nil
}
