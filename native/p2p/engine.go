package p2p

import (
	"math/big"
	"time"

	"custodia/core/events"
	"custodia/native/custody"
)

// EngineState is the persistence surface required by the transfer engine.
type EngineState interface {
	TransferPut(*Transfer) error
	TransferGet(id [32]byte) (*Transfer, bool)
}

// Engine executes direct and escrowed peer-to-peer transfers. Escrowed
// transfers are single-use: one record per identifier, Pending until the
// receiver confirms or the sender cancels.
type Engine struct {
	state   EngineState
	emitter events.Emitter
	guard   custody.Guard
	nowFn   func() int64
}

// NewEngine creates a transfer engine with a no-op emitter and an allow-all
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

func (e *Engine) load(id [32]byte) (*Transfer, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	transfer, ok := e.state.TransferGet(id)
	if !ok {
		return nil, custody.ErrNotInitialized
	}
	return transfer, nil
}

func (e *Engine) store(t *Transfer) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	sanitized, err := t.Sanitize()
	if err != nil {
		return err
	}
	return e.state.TransferPut(sanitized)
}

// SendDirect performs an unconditional transfer. The engine stores nothing;
// it validates, authorizes and emits the notification the external transfer
// collaborator acts on.
func (e *Engine) SendDirect(sender, receiver custody.Party, amount *big.Int) error {
	if err := e.guard.RequireAuth(sender); err != nil {
		return err
	}
	if err := custody.CheckAmount(amount); err != nil {
		return err
	}
	e.emit(NewDirectEvent(sender, receiver, amount.String()))
	return nil
}

// OpenEscrow stages a single-use escrowed transfer in the Pending state. A
// second call against the same identifier fails ErrAlreadyInitialized.
func (e *Engine) OpenEscrow(id [32]byte, sender, receiver custody.Party, amount *big.Int) (*Transfer, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.guard.RequireAuth(sender); err != nil {
		return nil, err
	}
	if _, ok := e.state.TransferGet(id); ok {
		return nil, custody.ErrAlreadyInitialized
	}
	if err := custody.CheckAmount(amount); err != nil {
		return nil, err
	}
	transfer := &Transfer{
		ID:        id,
		Sender:    sender,
		Receiver:  receiver,
		Amount:    custody.CloneAmount(amount),
		UseEscrow: true,
		Status:    StatusPending,
		CreatedAt: e.now(),
	}
	if err := e.store(transfer); err != nil {
		return nil, err
	}
	e.emit(NewEscrowedEvent(transfer))
	return transfer.Clone(), nil
}

// ConfirmReceipt releases a pending transfer. Only the receiver may confirm;
// the returned amount is what the external collaborator moves to them.
func (e *Engine) ConfirmReceipt(id [32]byte, caller custody.Party) (*big.Int, error) {
	if err := e.guard.RequireAuth(caller); err != nil {
		return nil, err
	}
	transfer, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if err := custody.RequireMember(caller, transfer.Receiver); err != nil {
		return nil, err
	}
	if transfer.Status != StatusPending {
		return nil, ErrTransferNotPending
	}
	transfer.Status = StatusCompleted
	if err := e.store(transfer); err != nil {
		return nil, err
	}
	e.emit(NewConfirmedEvent(transfer))
	return custody.CloneAmount(transfer.Amount), nil
}

// Cancel voids a pending transfer. Only the sender may cancel; the returned
// amount is what the external collaborator returns to them.
func (e *Engine) Cancel(id [32]byte, caller custody.Party) (*big.Int, error) {
	if err := e.guard.RequireAuth(caller); err != nil {
		return nil, err
	}
	transfer, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if err := custody.RequireMember(caller, transfer.Sender); err != nil {
		return nil, err
	}
	if transfer.Status != StatusPending {
		return nil, ErrTransferNotPending
	}
	transfer.Status = StatusCancelled
	if err := e.store(transfer); err != nil {
		return nil, err
	}
	e.emit(NewCancelledEvent(transfer))
	return custody.CloneAmount(transfer.Amount), nil
}

// Transfer returns a deep copy of the stored record.
func (e *Engine) Transfer(id [32]byte) (*Transfer, error) {
	transfer, err := e.load(id)
	if err != nil {
		return nil, err
	}
	return transfer.Clone(), nil
}

// Status reports the transfer's lifecycle state.
func (e *Engine) Status(id [32]byte) (Status, error) {
	transfer, err := e.load(id)
	if err != nil {
		return 0, err
	}
	return transfer.Status, nil
}

// Amount reports the escrowed amount.
func (e *Engine) Amount(id [32]byte) (*big.Int, error) {
	transfer, err := e.load(id)
	if err != nil {
		return nil, err
	}
	return custody.CloneAmount(transfer.Amount), nil
}

// Sender reports the transfer's sender.
func (e *Engine) Sender(id [32]byte) (custody.Party, error) {
	transfer, err := e.load(id)
	if err != nil {
		return custody.Party{}, err
	}
	return transfer.Sender, nil
}

// Receiver reports the transfer's receiver.
func (e *Engine) Receiver(id [32]byte) (custody.Party, error) {
	transfer, err := e.load(id)
	if err != nil {
		return custody.Party{}, err
	}
	return transfer.Receiver, nil
}

// UsesEscrow reports whether the stored transfer was escrowed.
func (e *Engine) UsesEscrow(id [32]byte) (bool, error) {
	transfer, err := e.load(id)
	if err != nil {
		return false, err
	}
	return transfer.UseEscrow, nil
}
