package escrow

import "errors"

// Sentinel errors surfaced by the ledger. Every error is terminal for the
// call that produced it; nothing is retried internally and callers receive
// the failure verbatim.
var (
	// ErrNotFound is returned when no instance exists for the identifier.
	ErrNotFound = errors.New("escrow: not found")
	// ErrZeroValue is returned when funding carries no value or a value
	// outside the representable range.
	ErrZeroValue = errors.New("escrow: zero value")
	// ErrAlreadyExists is returned on identifier collision at creation,
	// regardless of the existing instance's state.
	ErrAlreadyExists = errors.New("escrow: already exists")
	// ErrUnauthorized is returned when the caller is not the role the
	// operation requires, or a required address argument is unset.
	ErrUnauthorized = errors.New("escrow: unauthorized")
	// ErrInvalidState is returned when the instance's current state does not
	// permit the operation, including any attempt after a terminal
	// transition.
	ErrInvalidState = errors.New("escrow: invalid state")
	// ErrProofDeadlineMissed is returned when evidence arrives after the
	// deadline.
	ErrProofDeadlineMissed = errors.New("escrow: proof deadline missed")
	// ErrProofDeadlineNotReached is returned when the payer reclaims before
	// the deadline has elapsed.
	ErrProofDeadlineNotReached = errors.New("escrow: proof deadline not reached")
	// ErrDisputeWindowOpen is returned when a timeout claim arrives while the
	// payer may still dispute.
	ErrDisputeWindowOpen = errors.New("escrow: dispute window open")
	// ErrDisputeWindowClosed is returned when the payer disputes after the
	// window has elapsed.
	ErrDisputeWindowClosed = errors.New("escrow: dispute window closed")
	// ErrTransferFailed is returned when the outbound value transfer could
	// not complete; the instance is rolled back to its prior record.
	ErrTransferFailed = errors.New("escrow: transfer failed")
)
