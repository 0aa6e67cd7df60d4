package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"bookhold/core/events"
	"bookhold/core/types"
)

var errNilState = errors.New("escrow engine: state not configured")

// engineState is the narrow surface the engine needs from whichever state
// backend hosts it. Account mutations are plain debit/credit pairs; the
// escrow credit/debit calls keep the per-instance held-value bookkeeping in
// step with the vault account.
type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id [32]byte) (*Escrow, bool)
	EscrowCredit(id [32]byte, amt *big.Int) error
	EscrowDebit(id [32]byte, amt *big.Int) error
	EscrowVaultAddress() [20]byte
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// Engine owns all mutation logic for escrow instances. Operations against the
// same instance are serialised through a per-identifier lock, so two callers
// racing on one id resolve with exactly one winner observing the precondition
// state. Every terminal transition commits the zeroed amount and final status
// to the state backend strictly before attempting the outbound transfer.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64

	evidenceDeadline uint32
	disputeWindow    uint32

	locksMu sync.Mutex
	locks   map[[32]byte]*sync.Mutex
}

// NewEngine creates an escrow engine with a no-op emitter and the default
// deadline and dispute window durations. Callers can override both via the
// setters before serving traffic.
func NewEngine() *Engine {
	return &Engine{
		emitter:          events.NoopEmitter{},
		nowFn:            func() int64 { return time.Now().Unix() },
		evidenceDeadline: DefaultEvidenceDeadline,
		disputeWindow:    DefaultDisputeWindow,
		locks:            make(map[[32]byte]*sync.Mutex),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetDurations overrides the deployment-wide evidence deadline and dispute
// window applied to newly funded instances. Zero values keep the defaults.
func (e *Engine) SetDurations(evidenceDeadline, disputeWindow uint32) {
	if evidenceDeadline != 0 {
		e.evidenceDeadline = evidenceDeadline
	}
	if disputeWindow != 0 {
		if disputeWindow > maxDisputeWindow {
			disputeWindow = maxDisputeWindow
		}
		e.disputeWindow = disputeWindow
	}
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *events.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(event)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// instanceLock returns the mutex guarding a single escrow id. Locks are
// retained for the lifetime of the process; terminal records persist anyway
// and the per-id footprint is a bare mutex.
func (e *Engine) instanceLock(id [32]byte) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	lock, ok := e.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[id] = lock
	}
	return lock
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) loadEscrow(id [32]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return esc, nil
}

func (e *Engine) storeEscrow(esc *Escrow) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.EscrowPut(esc)
}

func (e *Engine) transferValue(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("escrow: negative transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = fromAcc.EnsureDefaults()
	toAcc = toAcc.EnsureDefaults()
	if fromAcc.Balance.Cmp(amt) < 0 {
		return fmt.Errorf("escrow: insufficient balance")
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	// The recipient write goes first: a rejected recipient aborts the
	// transfer before any balance has changed.
	if err := e.state.PutAccount(to[:], toAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return nil
}

// CreateAndFund creates a new instance in the funded state, moving the value
// from the caller's account into the vault atomically with creation. The
// caller becomes the payer. The identifier must be unused; collisions fail
// with ErrAlreadyExists regardless of the existing instance's state.
func (e *Engine) CreateAndFund(caller [20]byte, id [32]byte, beneficiary, agent [20]byte, metaHash [32]byte, amount *big.Int) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	lock := e.instanceLock(id)
	lock.Lock()
	defer lock.Unlock()

	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return nil, ErrZeroValue
	}
	if amt.BitLen() > maxAmountBits {
		return nil, fmt.Errorf("%w: amount exceeds %d bits", ErrZeroValue, maxAmountBits)
	}
	if caller == ([20]byte{}) {
		return nil, fmt.Errorf("%w: payer address required", ErrUnauthorized)
	}
	if beneficiary == ([20]byte{}) {
		return nil, fmt.Errorf("%w: beneficiary address required", ErrUnauthorized)
	}
	if agent == ([20]byte{}) {
		return nil, fmt.Errorf("%w: agent address required", ErrUnauthorized)
	}
	if _, ok := e.state.EscrowGet(id); ok {
		return nil, ErrAlreadyExists
	}
	vault := e.state.EscrowVaultAddress()
	if err := e.transferValue(caller, vault, amt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.state.EscrowCredit(id, amt); err != nil {
		if undoErr := e.transferValue(vault, caller, amt); undoErr != nil {
			return nil, fmt.Errorf("escrow: fund bookkeeping failed: %v (refund failed: %v)", err, undoErr)
		}
		return nil, err
	}
	esc := &Escrow{
		ID:               id,
		Payer:            caller,
		Beneficiary:      beneficiary,
		Agent:            agent,
		Amount:           amt,
		FundedAt:         e.now(),
		EvidenceDeadline: e.evidenceDeadline,
		DisputeWindow:    e.disputeWindow,
		MetaHash:         metaHash,
		Status:           StatusFunded,
	}
	if err := e.storeEscrow(esc); err != nil {
		if undoErr := e.state.EscrowDebit(id, amt); undoErr != nil {
			return nil, fmt.Errorf("escrow: fund store failed: %v (debit unwind failed: %v)", err, undoErr)
		}
		if undoErr := e.transferValue(vault, caller, amt); undoErr != nil {
			return nil, fmt.Errorf("escrow: fund store failed: %v (refund failed: %v)", err, undoErr)
		}
		return nil, err
	}
	e.emit(NewFundedEvent(esc))
	return esc.Clone(), nil
}

// SubmitEvidence records the evidence bundle hash and moves the instance to
// the evidence-submitted state. Only the agent may submit, and only while the
// deadline has not elapsed; the boundary instant itself is accepted.
func (e *Engine) SubmitEvidence(caller [20]byte, id [32]byte, evidenceHash [32]byte) error {
	lock := e.instanceLock(id)
	lock.Lock()
	defer lock.Unlock()

	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusFunded {
		return ErrInvalidState
	}
	if caller != esc.Agent {
		return ErrUnauthorized
	}
	now := e.now()
	if now > esc.EvidenceDeadlineAt() {
		return ErrProofDeadlineMissed
	}
	esc.EvidenceHash = evidenceHash
	esc.EvidenceSubmittedAt = now
	esc.Status = StatusEvidenceSubmitted
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewEvidenceSubmittedEvent(esc))
	return nil
}

// Approve settles the instance in favour of the beneficiary. Only the payer
// may approve, and only after evidence has been submitted.
func (e *Engine) Approve(caller [20]byte, id [32]byte) error {
	lock := e.instanceLock(id)
	lock.Lock()
	defer lock.Unlock()

	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusEvidenceSubmitted {
		return ErrInvalidState
	}
	if caller != esc.Payer {
		return ErrUnauthorized
	}
	return e.release(esc, esc.Clone(), esc.Beneficiary, StatusApproved)
}

// Reject refunds the payer within the dispute window. The rejection reason
// hash overwrites the evidence hash slot; the record carries one 32-byte
// anchor whose meaning follows the final state.
func (e *Engine) Reject(caller [20]byte, id [32]byte, reasonHash [32]byte) error {
	lock := e.instanceLock(id)
	lock.Lock()
	defer lock.Unlock()

	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusEvidenceSubmitted {
		return ErrInvalidState
	}
	if caller != esc.Payer {
		return ErrUnauthorized
	}
	if e.now() > esc.DisputeWindowEndsAt() {
		return ErrDisputeWindowClosed
	}
	// Snapshot before the reason hash lands so a failed refund restores the
	// original evidence anchor.
	prior := esc.Clone()
	esc.EvidenceHash = reasonHash
	return e.release(esc, prior, esc.Payer, StatusRejected)
}

// ClaimAfterTimeout settles in favour of the beneficiary once the dispute
// window has elapsed without a rejection. Anyone may invoke it; the time gate
// alone authorises the transition.
func (e *Engine) ClaimAfterTimeout(id [32]byte) error {
	lock := e.instanceLock(id)
	lock.Lock()
	defer lock.Unlock()

	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusEvidenceSubmitted {
		return ErrInvalidState
	}
	if e.now() <= esc.DisputeWindowEndsAt() {
		return ErrDisputeWindowOpen
	}
	return e.release(esc, esc.Clone(), esc.Beneficiary, StatusApproved)
}

// ReclaimExpired refunds the payer once the evidence deadline has elapsed
// with no submission. Only the payer may reclaim.
func (e *Engine) ReclaimExpired(caller [20]byte, id [32]byte) error {
	lock := e.instanceLock(id)
	lock.Lock()
	defer lock.Unlock()

	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusFunded {
		return ErrInvalidState
	}
	if caller != esc.Payer {
		return ErrUnauthorized
	}
	if e.now() <= esc.EvidenceDeadlineAt() {
		return ErrProofDeadlineNotReached
	}
	return e.release(esc, esc.Clone(), esc.Payer, StatusExpired)
}

// release performs the single outbound transfer of an instance's lifecycle.
// The zeroed amount and terminal status are committed before the transfer is
// attempted; with the instance lock held, a transfer failure restores the
// prior snapshot so the whole operation aborts atomically. Callers capture
// the snapshot before mutating any field of the record.
func (e *Engine) release(esc, prior *Escrow, recipient [20]byte, final Status) error {
	amount := cloneBigInt(esc.Amount)
	if amount.Sign() <= 0 {
		return ErrInvalidState
	}
	esc.Amount = big.NewInt(0)
	esc.Status = final
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	vault := e.state.EscrowVaultAddress()
	if err := e.transferValue(vault, recipient, amount); err != nil {
		if restoreErr := e.storeEscrow(prior); restoreErr != nil {
			return fmt.Errorf("%w: %v (restore failed: %v)", ErrTransferFailed, err, restoreErr)
		}
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.state.EscrowDebit(esc.ID, amount); err != nil {
		return err
	}
	e.emit(NewReleasedEvent(esc, recipient, amount))
	return nil
}

// Get returns a copy of the stored instance record.
func (e *Engine) Get(id [32]byte) (*Escrow, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}

// DisputeWindowEndsAt returns the unix time at which the dispute window for
// the instance closes, or zero when no evidence has been submitted.
func (e *Engine) DisputeWindowEndsAt(id [32]byte) (int64, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return 0, err
	}
	return esc.DisputeWindowEndsAt(), nil
}

// EvidenceDeadlineAt returns the unix time by which evidence must be
// submitted for the instance.
func (e *Engine) EvidenceDeadlineAt(id [32]byte) (int64, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return 0, err
	}
	return esc.EvidenceDeadlineAt(), nil
}

// CanClaimTimeout reports whether a timeout claim would currently pass the
// state and time gates. The answer must never be used to authorise a
// mutation; ClaimAfterTimeout re-checks everything under the instance lock.
func (e *Engine) CanClaimTimeout(id [32]byte) (bool, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return false, err
	}
	if esc.Status != StatusEvidenceSubmitted {
		return false, nil
	}
	return e.now() > esc.DisputeWindowEndsAt(), nil
}
