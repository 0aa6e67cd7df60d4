package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"bookhold/core/events"
)

const (
	EventTypeFunded            = "escrow.funded"
	EventTypeEvidenceSubmitted = "escrow.evidence_submitted"
	EventTypeReleased          = "escrow.released"
)

// NewFundedEvent returns the canonical event payload emitted when an instance
// is created and funded in one step.
func NewFundedEvent(e *Escrow) *events.Event {
	attrs := baseAttributes(e)
	if e != nil {
		attrs["payer"] = hex.EncodeToString(e.Payer[:])
		attrs["beneficiary"] = hex.EncodeToString(e.Beneficiary[:])
		attrs["agent"] = hex.EncodeToString(e.Agent[:])
		attrs["amount"] = amountString(e.Amount)
		attrs["metaHash"] = hex.EncodeToString(e.MetaHash[:])
		attrs["fundedAt"] = strconv.FormatInt(e.FundedAt, 10)
	}
	return &events.Event{Type: EventTypeFunded, Attributes: attrs}
}

// NewEvidenceSubmittedEvent returns the canonical event payload emitted when
// the agent anchors its evidence bundle hash.
func NewEvidenceSubmittedEvent(e *Escrow) *events.Event {
	attrs := baseAttributes(e)
	if e != nil {
		attrs["evidenceHash"] = hex.EncodeToString(e.EvidenceHash[:])
		attrs["submittedAt"] = strconv.FormatInt(e.EvidenceSubmittedAt, 10)
	}
	return &events.Event{Type: EventTypeEvidenceSubmitted, Attributes: attrs}
}

// NewReleasedEvent returns the canonical event payload covering every terminal
// transition. The final state attribute distinguishes approvals, rejections
// and expiries; the amount is the value transferred to the recipient.
func NewReleasedEvent(e *Escrow, recipient [20]byte, amount *big.Int) *events.Event {
	attrs := baseAttributes(e)
	attrs["recipient"] = hex.EncodeToString(recipient[:])
	attrs["amount"] = amountString(amount)
	if e != nil {
		attrs["finalState"] = e.Status.String()
	}
	return &events.Event{Type: EventTypeReleased, Attributes: attrs}
}

func baseAttributes(e *Escrow) map[string]string {
	attrs := make(map[string]string)
	if e != nil {
		attrs["id"] = hex.EncodeToString(e.ID[:])
	}
	return attrs
}

func amountString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
