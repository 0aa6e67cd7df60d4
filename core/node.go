package core

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"math/big"

	"bookhold/core/events"
	"bookhold/core/state"
	"bookhold/escrow"
	"bookhold/observability"
	"bookhold/storage"
)

// Node wires the escrow engine to its state backend, event journal and
// metrics. It is the single entry surface the RPC layer talks to.
type Node struct {
	db      storage.Database
	state   *state.Manager
	engine  *escrow.Engine
	journal *events.Journal
	logger  *slog.Logger
}

// Option customises node construction.
type Option func(*Node)

// WithLogger attaches a structured logger to the node.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithDurations overrides the deployment-wide evidence deadline and dispute
// window, in seconds. Zero values keep the defaults.
func WithDurations(evidenceDeadline, disputeWindow uint32) Option {
	return func(n *Node) {
		n.engine.SetDurations(evidenceDeadline, disputeWindow)
	}
}

// WithNowFunc overrides the engine time source, primarily for tests.
func WithNowFunc(now func() int64) Option {
	return func(n *Node) {
		n.engine.SetNowFunc(now)
	}
}

// NewNode constructs a node over the given database. The journal may be nil,
// in which case transitions are not persisted for replay (tests mostly run
// this way).
func NewNode(db storage.Database, journal *events.Journal, opts ...Option) *Node {
	manager := state.NewManager(db)
	engine := escrow.NewEngine()
	engine.SetState(manager)
	if journal != nil {
		engine.SetEmitter(journal)
	}
	node := &Node{
		db:      db,
		state:   manager,
		engine:  engine,
		journal: journal,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(node)
	}
	return node
}

// ApplyGenesis seeds account balances exactly once per database.
func (n *Node) ApplyGenesis(allocs map[[20]byte]*big.Int) error {
	return n.state.ApplyGenesis(allocs)
}

// EscrowCreate funds a new instance on behalf of the authenticated caller.
func (n *Node) EscrowCreate(caller [20]byte, id [32]byte, beneficiary, agent [20]byte, metaHash [32]byte, amount *big.Int) (*escrow.Escrow, error) {
	esc, err := n.engine.CreateAndFund(caller, id, beneficiary, agent, metaHash, amount)
	n.finishTransition("create", id, err)
	return esc, err
}

// EscrowSubmitEvidence anchors the agent's evidence bundle hash.
func (n *Node) EscrowSubmitEvidence(caller [20]byte, id [32]byte, evidenceHash [32]byte) error {
	err := n.engine.SubmitEvidence(caller, id, evidenceHash)
	n.finishTransition("submit_evidence", id, err)
	return err
}

// EscrowApprove settles the instance in favour of the beneficiary.
func (n *Node) EscrowApprove(caller [20]byte, id [32]byte) error {
	err := n.engine.Approve(caller, id)
	n.finishTransition("approve", id, err)
	return err
}

// EscrowReject refunds the payer within the dispute window.
func (n *Node) EscrowReject(caller [20]byte, id [32]byte, reasonHash [32]byte) error {
	err := n.engine.Reject(caller, id, reasonHash)
	n.finishTransition("reject", id, err)
	return err
}

// EscrowClaimTimeout settles for the beneficiary after the dispute window.
func (n *Node) EscrowClaimTimeout(id [32]byte) error {
	err := n.engine.ClaimAfterTimeout(id)
	n.finishTransition("claim_timeout", id, err)
	return err
}

// EscrowReclaimExpired refunds the payer after a missed evidence deadline.
func (n *Node) EscrowReclaimExpired(caller [20]byte, id [32]byte) error {
	err := n.engine.ReclaimExpired(caller, id)
	n.finishTransition("reclaim_expired", id, err)
	return err
}

// EscrowGet returns a copy of the stored instance record.
func (n *Node) EscrowGet(id [32]byte) (*escrow.Escrow, error) {
	return n.engine.Get(id)
}

// EscrowDisputeWindowEndsAt returns when the dispute window closes, zero if
// no evidence has been submitted.
func (n *Node) EscrowDisputeWindowEndsAt(id [32]byte) (int64, error) {
	return n.engine.DisputeWindowEndsAt(id)
}

// EscrowEvidenceDeadlineAt returns the instance's evidence deadline.
func (n *Node) EscrowEvidenceDeadlineAt(id [32]byte) (int64, error) {
	return n.engine.EvidenceDeadlineAt(id)
}

// EscrowCanClaimTimeout reports whether a timeout claim would currently pass.
func (n *Node) EscrowCanClaimTimeout(id [32]byte) (bool, error) {
	return n.engine.CanClaimTimeout(id)
}

// Balance returns the spendable balance of an account.
func (n *Node) Balance(addr [20]byte) (*big.Int, error) {
	account, err := n.state.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	return account.Balance, nil
}

// TotalHeld returns the aggregate value in custody.
func (n *Node) TotalHeld() (*big.Int, error) {
	return n.state.TotalHeld()
}

// EventsSubscribe replays journal events past the cursor and streams live
// transitions until the context is cancelled. Returns an error when the node
// runs without a journal.
func (n *Node) EventsSubscribe(ctx context.Context, after uint64) (<-chan *events.Event, func(), []*events.Event, error) {
	if n.journal == nil {
		return nil, nil, nil, errors.New("core: event journal not configured")
	}
	return n.journal.Subscribe(ctx, after)
}

func (n *Node) finishTransition(operation string, id [32]byte, err error) {
	metrics := observability.Ledger()
	if err != nil {
		metrics.ObserveTransition(operation, outcomeLabel(err))
		n.logger.Warn("escrow transition rejected",
			slog.String("operation", operation),
			slog.String("id", escrowIDString(id)),
			slog.Any("error", err))
		return
	}
	metrics.ObserveTransition(operation, "ok")
	if total, err := n.state.TotalHeld(); err == nil {
		metrics.SetHeldValue(total)
	} else {
		n.logger.Warn("held value read failed", slog.Any("error", err))
	}
	n.logger.Info("escrow transition applied",
		slog.String("operation", operation),
		slog.String("id", escrowIDString(id)))
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		return "not_found"
	case errors.Is(err, escrow.ErrZeroValue):
		return "zero_value"
	case errors.Is(err, escrow.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, escrow.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, escrow.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, escrow.ErrProofDeadlineMissed):
		return "proof_deadline_missed"
	case errors.Is(err, escrow.ErrProofDeadlineNotReached):
		return "proof_deadline_not_reached"
	case errors.Is(err, escrow.ErrDisputeWindowOpen):
		return "dispute_window_open"
	case errors.Is(err, escrow.ErrDisputeWindowClosed):
		return "dispute_window_closed"
	case errors.Is(err, escrow.ErrTransferFailed):
		return "transfer_failed"
	default:
		return "error"
	}
}

func escrowIDString(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}
