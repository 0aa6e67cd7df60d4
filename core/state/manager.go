package state

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"bookhold/core/types"
	"bookhold/escrow"
	"bookhold/storage"
)

const (
	escrowPrefix  = "escrow:"
	accountPrefix = "account:"
	heldPrefix    = "held:"
	totalHeldKey  = "vault:held"
	genesisKey    = "genesis:applied"
)

// vaultAddress is the module account that custodies every funded instance's
// value between creation and release. Derived from a fixed label so it can
// never collide with a key-derived participant address.
var vaultAddress = func() [20]byte {
	var addr [20]byte
	hash := ethcrypto.Keccak256([]byte("bookhold/escrow-vault"))
	copy(addr[:], hash[12:])
	return addr
}()

// Manager persists accounts, escrow records and the vault's held-value
// bookkeeping in a key-value store. It implements the state surface the
// escrow engine operates against. Read-modify-write sequences on the held
// counters are serialised with an internal mutex; per-instance ordering is
// the engine's responsibility.
type Manager struct {
	db storage.Database

	heldMu sync.Mutex
}

func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// escrowRecord is the stored JSON form of an escrow instance. Fixed-size
// fields are hex-encoded so records stay readable in debugging tools.
type escrowRecord struct {
	ID                  string `json:"id"`
	Payer               string `json:"payer"`
	Beneficiary         string `json:"beneficiary"`
	Agent               string `json:"agent"`
	Amount              string `json:"amount"`
	FundedAt            int64  `json:"fundedAt"`
	EvidenceDeadline    uint32 `json:"evidenceDeadlineSec"`
	EvidenceSubmittedAt int64  `json:"evidenceSubmittedAt"`
	DisputeWindow       uint32 `json:"disputeWindowSec"`
	EvidenceHash        string `json:"evidenceHash"`
	MetaHash            string `json:"metaHash"`
	Status              uint8  `json:"status"`
}

func escrowKey(id [32]byte) []byte {
	return []byte(escrowPrefix + hex.EncodeToString(id[:]))
}

func accountKey(addr []byte) []byte {
	return []byte(accountPrefix + hex.EncodeToString(addr))
}

func heldKey(id [32]byte) []byte {
	return []byte(heldPrefix + hex.EncodeToString(id[:]))
}

// EscrowPut sanitises and persists the escrow record.
func (m *Manager) EscrowPut(esc *escrow.Escrow) error {
	sanitized, err := escrow.Sanitize(esc)
	if err != nil {
		return err
	}
	record := escrowRecord{
		ID:                  hex.EncodeToString(sanitized.ID[:]),
		Payer:               hex.EncodeToString(sanitized.Payer[:]),
		Beneficiary:         hex.EncodeToString(sanitized.Beneficiary[:]),
		Agent:               hex.EncodeToString(sanitized.Agent[:]),
		Amount:              sanitized.Amount.String(),
		FundedAt:            sanitized.FundedAt,
		EvidenceDeadline:    sanitized.EvidenceDeadline,
		EvidenceSubmittedAt: sanitized.EvidenceSubmittedAt,
		DisputeWindow:       sanitized.DisputeWindow,
		EvidenceHash:        hex.EncodeToString(sanitized.EvidenceHash[:]),
		MetaHash:            hex.EncodeToString(sanitized.MetaHash[:]),
		Status:              uint8(sanitized.Status),
	}
	payload, err := json.Marshal(&record)
	if err != nil {
		return err
	}
	return m.db.Put(escrowKey(sanitized.ID), payload)
}

// EscrowGet loads the escrow record for the identifier, reporting false when
// no record exists.
func (m *Manager) EscrowGet(id [32]byte) (*escrow.Escrow, bool) {
	payload, err := m.db.Get(escrowKey(id))
	if err != nil {
		return nil, false
	}
	record := escrowRecord{}
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, false
	}
	esc := &escrow.Escrow{
		FundedAt:            record.FundedAt,
		EvidenceDeadline:    record.EvidenceDeadline,
		EvidenceSubmittedAt: record.EvidenceSubmittedAt,
		DisputeWindow:       record.DisputeWindow,
		Status:              escrow.Status(record.Status),
	}
	if err := decodeHex32(record.ID, &esc.ID); err != nil {
		return nil, false
	}
	if err := decodeHex20(record.Payer, &esc.Payer); err != nil {
		return nil, false
	}
	if err := decodeHex20(record.Beneficiary, &esc.Beneficiary); err != nil {
		return nil, false
	}
	if err := decodeHex20(record.Agent, &esc.Agent); err != nil {
		return nil, false
	}
	if err := decodeHex32(record.EvidenceHash, &esc.EvidenceHash); err != nil {
		return nil, false
	}
	if err := decodeHex32(record.MetaHash, &esc.MetaHash); err != nil {
		return nil, false
	}
	amount, ok := new(big.Int).SetString(record.Amount, 10)
	if !ok {
		return nil, false
	}
	esc.Amount = amount
	return esc, true
}

// EscrowVaultAddress returns the module account that holds escrowed value.
func (m *Manager) EscrowVaultAddress() [20]byte {
	return vaultAddress
}

// EscrowCredit records value entering custody for an instance.
func (m *Manager) EscrowCredit(id [32]byte, amt *big.Int) error {
	if amt == nil || amt.Sign() <= 0 {
		return fmt.Errorf("state: credit amount must be positive")
	}
	m.heldMu.Lock()
	defer m.heldMu.Unlock()
	held, err := m.readBig(heldKey(id))
	if err != nil {
		return err
	}
	if err := m.writeBig(heldKey(id), new(big.Int).Add(held, amt)); err != nil {
		return err
	}
	total, err := m.readBig([]byte(totalHeldKey))
	if err != nil {
		return err
	}
	return m.writeBig([]byte(totalHeldKey), new(big.Int).Add(total, amt))
}

// EscrowDebit records value leaving custody for an instance.
func (m *Manager) EscrowDebit(id [32]byte, amt *big.Int) error {
	if amt == nil || amt.Sign() <= 0 {
		return fmt.Errorf("state: debit amount must be positive")
	}
	m.heldMu.Lock()
	defer m.heldMu.Unlock()
	held, err := m.readBig(heldKey(id))
	if err != nil {
		return err
	}
	if held.Cmp(amt) < 0 {
		return fmt.Errorf("state: held balance underflow for %x", id[:4])
	}
	if err := m.writeBig(heldKey(id), new(big.Int).Sub(held, amt)); err != nil {
		return err
	}
	total, err := m.readBig([]byte(totalHeldKey))
	if err != nil {
		return err
	}
	if total.Cmp(amt) < 0 {
		return fmt.Errorf("state: total held underflow")
	}
	return m.writeBig([]byte(totalHeldKey), new(big.Int).Sub(total, amt))
}

// TotalHeld returns the aggregate value currently in custody across all
// non-terminal instances.
func (m *Manager) TotalHeld() (*big.Int, error) {
	m.heldMu.Lock()
	defer m.heldMu.Unlock()
	return m.readBig([]byte(totalHeldKey))
}

// HeldFor returns the value currently in custody for one instance.
func (m *Manager) HeldFor(id [32]byte) (*big.Int, error) {
	m.heldMu.Lock()
	defer m.heldMu.Unlock()
	return m.readBig(heldKey(id))
}

// GetAccount loads the account for the address, returning a zero-balance
// account when none has been stored yet. Only a genuinely absent record
// defaults; read failures surface to the caller so a transfer never computes
// against a phantom balance.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	payload, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return (&types.Account{}).EnsureDefaults(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: load account %x: %w", addr, err)
	}
	account := &types.Account{}
	if err := json.Unmarshal(payload, account); err != nil {
		return nil, fmt.Errorf("state: decode account %x: %w", addr, err)
	}
	return account.EnsureDefaults(), nil
}

// PutAccount persists the account for the address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	payload, err := json.Marshal(account.EnsureDefaults())
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), payload)
}

// ApplyGenesis seeds account balances exactly once per database. Subsequent
// calls are no-ops so a restarting daemon never re-mints allocations.
func (m *Manager) ApplyGenesis(allocs map[[20]byte]*big.Int) error {
	applied, err := m.db.Has([]byte(genesisKey))
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	for addr, amount := range allocs {
		if amount == nil || amount.Sign() <= 0 {
			continue
		}
		account, err := m.GetAccount(addr[:])
		if err != nil {
			return err
		}
		account.Balance = new(big.Int).Add(account.Balance, amount)
		if err := m.PutAccount(addr[:], account); err != nil {
			return err
		}
	}
	return m.db.Put([]byte(genesisKey), []byte{1})
}

func (m *Manager) readBig(key []byte) (*big.Int, error) {
	payload, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: load counter %s: %w", key, err)
	}
	value, ok := new(big.Int).SetString(string(payload), 10)
	if !ok {
		return nil, fmt.Errorf("state: corrupt counter %s", key)
	}
	return value, nil
}

func (m *Manager) writeBig(key []byte, value *big.Int) error {
	return m.db.Put(key, []byte(value.String()))
}

func decodeHex20(value string, out *[20]byte) error {
	decoded, err := hex.DecodeString(value)
	if err != nil {
		return err
	}
	if len(decoded) != len(out) {
		return fmt.Errorf("state: expected %d bytes, got %d", len(out), len(decoded))
	}
	copy(out[:], decoded)
	return nil
}

func decodeHex32(value string, out *[32]byte) error {
	decoded, err := hex.DecodeString(value)
	if err != nil {
		return err
	}
	if len(decoded) != len(out) {
		return fmt.Errorf("state: expected %d bytes, got %d", len(out), len(decoded))
	}
	copy(out[:], decoded)
	return nil
}
