package escrow

import (
	"encoding/binary"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Status represents the lifecycle states supported by the escrow ledger.
type Status uint8

const (
	StatusFunded Status = iota + 1
	StatusEvidenceSubmitted
	StatusApproved
	StatusRejected
	StatusExpired
)

const (
	// maxAmountBits bounds the escrowed value to 96 bits, matching the
	// representable range of the original ledger layout.
	maxAmountBits = 96
	// maxDisputeWindow bounds the dispute window to 24 bits of seconds.
	maxDisputeWindow = 1<<24 - 1
)

// Default durations applied at funding time. Deployments may override them via
// configuration; they are never configurable per instance.
const (
	DefaultEvidenceDeadline uint32 = 14 * 24 * 60 * 60
	DefaultDisputeWindow    uint32 = 7 * 24 * 60 * 60
)

// Escrow captures the immutable parties and runtime status of a single funded
// instance. The identifier is caller-supplied and expected to be derived
// deterministically off the ledger from the payer address, an external
// reference and a nonce (see DeriveID).
type Escrow struct {
	ID                  [32]byte
	Payer               [20]byte
	Beneficiary         [20]byte
	Agent               [20]byte
	Amount              *big.Int
	FundedAt            int64
	EvidenceDeadline    uint32 // seconds after FundedAt
	EvidenceSubmittedAt int64  // zero until evidence lands
	DisputeWindow       uint32 // seconds after evidence submission
	EvidenceHash        [32]byte
	MetaHash            [32]byte
	Status              Status
}

// Clone returns a deep copy of the escrow object so callers can safely mutate
// the copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// EvidenceDeadlineAt returns the unix time by which the agent must submit
// evidence. The boundary is inclusive: submission at exactly this instant is
// still accepted.
func (e *Escrow) EvidenceDeadlineAt() int64 {
	return e.FundedAt + int64(e.EvidenceDeadline)
}

// DisputeWindowEndsAt returns the unix time at which the payer's dispute
// window closes, or zero when no evidence has been submitted yet.
func (e *Escrow) DisputeWindowEndsAt() int64 {
	if e.EvidenceSubmittedAt == 0 {
		return 0
	}
	return e.EvidenceSubmittedAt + int64(e.DisputeWindow)
}

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusFunded, StatusEvidenceSubmitted, StatusApproved, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// String returns the canonical lowercase name used in events and RPC payloads.
func (s Status) String() string {
	switch s {
	case StatusFunded:
		return "funded"
	case StatusEvidenceSubmitted:
		return "evidence_submitted"
	case StatusApproved:
		return "approved"
	case StatusRejected:
		return "rejected"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Sanitize validates and normalises the supplied escrow definition, returning
// a cloned instance with a non-nil amount field. The function does not mutate
// the original value.
func Sanitize(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("nil escrow")
	}
	clone := e.Clone()
	if clone.Amount.Sign() < 0 {
		return nil, fmt.Errorf("escrow amount must be non-negative")
	}
	if clone.Amount.BitLen() > maxAmountBits {
		return nil, fmt.Errorf("escrow amount exceeds %d bits", maxAmountBits)
	}
	if clone.DisputeWindow > maxDisputeWindow {
		return nil, fmt.Errorf("escrow dispute window out of range: %d", clone.DisputeWindow)
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid escrow status: %d", clone.Status)
	}
	return clone, nil
}

// DeriveID computes the deterministic instance identifier as the keccak256
// hash of the payer address, an external booking reference and a
// caller-chosen nonce. Identifiers remain unique without the nonce ever being
// stored on the ledger.
func DeriveID(payer [20]byte, reference []byte, nonce uint64) [32]byte {
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	return ethcrypto.Keccak256Hash(payer[:], reference, nonceBytes[:])
}
