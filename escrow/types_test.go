package escrow

import (
	"math/big"
	"testing"
)

func TestStatusNames(t *testing.T) {
	cases := map[Status]string{
		StatusFunded:            "funded",
		StatusEvidenceSubmitted: "evidence_submitted",
		StatusApproved:          "approved",
		StatusRejected:          "rejected",
		StatusExpired:           "expired",
		Status(0):               "unknown",
		Status(99):              "unknown",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", status, got, want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, status := range []Status{StatusApproved, StatusRejected, StatusExpired} {
		if !status.Terminal() {
			t.Errorf("%v should be terminal", status)
		}
	}
	for _, status := range []Status{StatusFunded, StatusEvidenceSubmitted} {
		if status.Terminal() {
			t.Errorf("%v should not be terminal", status)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	original := &Escrow{
		ID:     newTestHash(0xAA),
		Amount: big.NewInt(100),
		Status: StatusFunded,
	}
	clone := original.Clone()
	clone.Amount.SetInt64(999)
	clone.Status = StatusApproved
	if original.Amount.Int64() != 100 {
		t.Fatalf("clone shares amount with original")
	}
	if original.Status != StatusFunded {
		t.Fatalf("clone shares status with original")
	}
	if (&Escrow{}).Clone().Amount == nil {
		t.Fatalf("clone of nil-amount escrow should default the amount")
	}
}

func TestSanitizeRejectsBadRecords(t *testing.T) {
	if _, err := Sanitize(nil); err == nil {
		t.Fatalf("nil escrow should fail")
	}
	if _, err := Sanitize(&Escrow{Amount: big.NewInt(-1), Status: StatusFunded}); err == nil {
		t.Fatalf("negative amount should fail")
	}
	over := new(big.Int).Lsh(big.NewInt(1), maxAmountBits)
	if _, err := Sanitize(&Escrow{Amount: over, Status: StatusFunded}); err == nil {
		t.Fatalf("oversized amount should fail")
	}
	if _, err := Sanitize(&Escrow{Amount: big.NewInt(1), DisputeWindow: maxDisputeWindow + 1, Status: StatusFunded}); err == nil {
		t.Fatalf("oversized dispute window should fail")
	}
	if _, err := Sanitize(&Escrow{Amount: big.NewInt(1), Status: Status(42)}); err == nil {
		t.Fatalf("invalid status should fail")
	}
	sanitized, err := Sanitize(&Escrow{Status: StatusFunded})
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	if sanitized.Amount == nil || sanitized.Amount.Sign() != 0 {
		t.Fatalf("sanitized amount should default to zero")
	}
}

func TestWindowAccessors(t *testing.T) {
	esc := &Escrow{FundedAt: 1000, EvidenceDeadline: 500, DisputeWindow: 300}
	if got := esc.EvidenceDeadlineAt(); got != 1500 {
		t.Fatalf("EvidenceDeadlineAt = %d, want 1500", got)
	}
	if got := esc.DisputeWindowEndsAt(); got != 0 {
		t.Fatalf("DisputeWindowEndsAt before evidence = %d, want 0", got)
	}
	esc.EvidenceSubmittedAt = 1200
	if got := esc.DisputeWindowEndsAt(); got != 1500 {
		t.Fatalf("DisputeWindowEndsAt = %d, want 1500", got)
	}
}

func TestDeriveIDDeterministic(t *testing.T) {
	payer := newTestAddress(0x01)
	other := newTestAddress(0x02)
	reference := []byte("booking-2209")

	first := DeriveID(payer, reference, 7)
	second := DeriveID(payer, reference, 7)
	if first != second {
		t.Fatalf("identical inputs must derive identical identifiers")
	}
	if DeriveID(payer, reference, 8) == first {
		t.Fatalf("nonce change must alter the identifier")
	}
	if DeriveID(other, reference, 7) == first {
		t.Fatalf("payer change must alter the identifier")
	}
	if DeriveID(payer, []byte("booking-2210"), 7) == first {
		t.Fatalf("reference change must alter the identifier")
	}
}
