package crowdfund

import (
	"math/big"
	"time"

	"custodia/core/events"
	"custodia/native/custody"
)

// EngineState is the persistence surface required by the pool engine. Gets
// must return an owned copy; the engine writes back only after every check
// has passed.
type EngineState interface {
	PoolPut(*Pool) error
	PoolGet(id [32]byte) (*Pool, bool)
}

// Engine governs the Funding → Funded/Failed lifecycle of crowdfunding
// pools. Calls are externally serialized per instance.
type Engine struct {
	state   EngineState
	emitter events.Emitter
	guard   custody.Guard
	nowFn   func() int64
}

// NewEngine creates a pool engine with a no-op emitter and an allow-all
// guard.
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

// SetNowFunc overrides the ledger time source, primarily for tests.
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

func (e *Engine) load(id [32]byte) (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool, ok := e.state.PoolGet(id)
	if !ok {
		return nil, custody.ErrNotInitialized
	}
	return pool, nil
}

func (e *Engine) store(p *Pool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	sanitized, err := p.Sanitize()
	if err != nil {
		return err
	}
	return e.state.PoolPut(sanitized)
}

// Initialize opens a new pool. The deadline must lie strictly after the
// current ledger time; a second call against the same identifier fails
// ErrAlreadyInitialized.
func (e *Engine) Initialize(id [32]byte, owner custody.Party, goal *big.Int, deadline int64) (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.guard.RequireAuth(owner); err != nil {
		return nil, err
	}
	if _, ok := e.state.PoolGet(id); ok {
		return nil, custody.ErrAlreadyInitialized
	}
	if err := custody.CheckAmount(goal); err != nil {
		return nil, err
	}
	now := e.now()
	if deadline <= now {
		return nil, ErrInvalidDeadline
	}
	pool := &Pool{
		ID:        id,
		Owner:     owner,
		Goal:      custody.CloneAmount(goal),
		Deadline:  deadline,
		Status:    StatusFunding,
		CreatedAt: now,
		Balance:   custody.NewAccumulator(),
	}
	if err := e.store(pool); err != nil {
		return nil, err
	}
	e.emit(NewInitializedEvent(pool))
	return pool.Clone(), nil
}

// Contribute records a contribution, updating the contributor's running
// total and the aggregate raised total in one atomic step.
func (e *Engine) Contribute(id [32]byte, contributor custody.Party, amount *big.Int) error {
	if err := e.guard.RequireAuth(contributor); err != nil {
		return err
	}
	if err := custody.CheckAmount(amount); err != nil {
		return err
	}
	pool, err := e.load(id)
	if err != nil {
		return err
	}
	if pool.Status != StatusFunding {
		return ErrPoolNotFunding
	}
	if e.now() >= pool.Deadline {
		return ErrFundingClosed
	}
	if err := pool.Balance.RecordContribution(contributor, amount); err != nil {
		return err
	}
	if err := e.store(pool); err != nil {
		return err
	}
	e.emit(NewContributedEvent(pool, contributor, amount.String()))
	return nil
}

// Finalize settles the funding outcome once the deadline has passed: Funded
// when the raised total meets the goal, Failed otherwise. Anyone may invoke
// it; the decision depends only on ledger time and recorded state.
func (e *Engine) Finalize(id [32]byte) (Status, error) {
	pool, err := e.load(id)
	if err != nil {
		return 0, err
	}
	if pool.Status != StatusFunding {
		return 0, ErrPoolNotFunding
	}
	if e.now() < pool.Deadline {
		return 0, ErrDeadlineNotReached
	}
	if pool.Balance.Raised.Cmp(pool.Goal) >= 0 {
		pool.Status = StatusFunded
	} else {
		pool.Status = StatusFailed
	}
	if err := e.store(pool); err != nil {
		return 0, err
	}
	e.emit(NewFinalizedEvent(pool))
	return pool.Status, nil
}

// Refund zeroes out the caller's contribution on a failed pool and returns
// the amount the external transfer collaborator should send back. A repeat
// call fails custody.ErrNoContribution.
func (e *Engine) Refund(id [32]byte, contributor custody.Party) (*big.Int, error) {
	if err := e.guard.RequireAuth(contributor); err != nil {
		return nil, err
	}
	pool, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if pool.Status != StatusFailed {
		return nil, ErrPoolNotFailed
	}
	amount, err := pool.Balance.TakeContribution(contributor)
	if err != nil {
		return nil, err
	}
	if err := e.store(pool); err != nil {
		return nil, err
	}
	e.emit(NewRefundedEvent(pool, contributor, amount.String()))
	return amount, nil
}

// Pool returns a deep copy of the stored record.
func (e *Engine) Pool(id [32]byte) (*Pool, error) {
	pool, err := e.load(id)
	if err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}

// Status reports the pool's lifecycle state.
func (e *Engine) Status(id [32]byte) (Status, error) {
	pool, err := e.load(id)
	if err != nil {
		return 0, err
	}
	return pool.Status, nil
}

// TotalRaised reports the aggregate contributed amount.
func (e *Engine) TotalRaised(id [32]byte) (*big.Int, error) {
	pool, err := e.load(id)
	if err != nil {
		return nil, err
	}
	return custody.CloneAmount(pool.Balance.Raised), nil
}

// Goal reports the declared funding goal.
func (e *Engine) Goal(id [32]byte) (*big.Int, error) {
	pool, err := e.load(id)
	if err != nil {
		return nil, err
	}
	return custody.CloneAmount(pool.Goal), nil
}

// Deadline reports the funding deadline.
func (e *Engine) Deadline(id [32]byte) (int64, error) {
	pool, err := e.load(id)
	if err != nil {
		return 0, err
	}
	return pool.Deadline, nil
}

// ContributionOf reports a contributor's accumulated amount, zero for
// parties that never contributed.
func (e *Engine) ContributionOf(id [32]byte, contributor custody.Party) (*big.Int, error) {
	pool, err := e.load(id)
	if err != nil {
		return nil, err
	}
	return pool.Balance.ContributionOf(contributor), nil
}

// Owner reports the pool owner.
func (e *Engine) Owner(id [32]byte) (custody.Party, error) {
	pool, err := e.load(id)
	if err != nil {
		return custody.Party{}, err
	}
	return pool.Owner, nil
}
