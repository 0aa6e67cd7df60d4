package escrow

import (
	"encoding/hex"
	"math/big"
	"testing"
)

func TestFundedEventAttributes(t *testing.T) {
	esc := &Escrow{
		ID:          newTestHash(0xAA),
		Payer:       newTestAddress(0x01),
		Beneficiary: newTestAddress(0x02),
		Agent:       newTestAddress(0x03),
		Amount:      big.NewInt(12345),
		FundedAt:    1_700_000_000,
		MetaHash:    newTestHash(0x11),
		Status:      StatusFunded,
	}
	evt := NewFundedEvent(esc)
	if evt.Type != EventTypeFunded {
		t.Fatalf("type = %s, want %s", evt.Type, EventTypeFunded)
	}
	attrs := evt.Attributes
	if attrs["id"] != hex.EncodeToString(esc.ID[:]) {
		t.Fatalf("id attribute mismatch")
	}
	if attrs["payer"] != hex.EncodeToString(esc.Payer[:]) {
		t.Fatalf("payer attribute mismatch")
	}
	if attrs["amount"] != "12345" {
		t.Fatalf("amount = %s, want 12345", attrs["amount"])
	}
	if attrs["fundedAt"] != "1700000000" {
		t.Fatalf("fundedAt = %s", attrs["fundedAt"])
	}
}

func TestEvidenceSubmittedEventAttributes(t *testing.T) {
	esc := &Escrow{
		ID:                  newTestHash(0xAA),
		EvidenceHash:        newTestHash(0x22),
		EvidenceSubmittedAt: 1_700_000_100,
		Status:              StatusEvidenceSubmitted,
	}
	evt := NewEvidenceSubmittedEvent(esc)
	if evt.Type != EventTypeEvidenceSubmitted {
		t.Fatalf("type = %s", evt.Type)
	}
	if evt.Attributes["evidenceHash"] != hex.EncodeToString(esc.EvidenceHash[:]) {
		t.Fatalf("evidenceHash attribute mismatch")
	}
	if evt.Attributes["submittedAt"] != "1700000100" {
		t.Fatalf("submittedAt = %s", evt.Attributes["submittedAt"])
	}
}

func TestReleasedEventCoversAllTerminalStates(t *testing.T) {
	recipient := newTestAddress(0x02)
	for _, status := range []Status{StatusApproved, StatusRejected, StatusExpired} {
		esc := &Escrow{ID: newTestHash(0xAA), Amount: big.NewInt(0), Status: status}
		evt := NewReleasedEvent(esc, recipient, big.NewInt(777))
		if evt.Type != EventTypeReleased {
			t.Fatalf("type = %s", evt.Type)
		}
		if evt.Attributes["finalState"] != status.String() {
			t.Fatalf("finalState = %s, want %s", evt.Attributes["finalState"], status)
		}
		if evt.Attributes["amount"] != "777" {
			t.Fatalf("amount = %s, want 777", evt.Attributes["amount"])
		}
		if evt.Attributes["recipient"] != hex.EncodeToString(recipient[:]) {
			t.Fatalf("recipient attribute mismatch")
		}
	}
}
