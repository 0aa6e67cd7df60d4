package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"bookhold/core/types"
	"bookhold/escrow"
	"bookhold/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(storage.NewMemDB())
}

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func testHash(fill byte) [32]byte {
	var hash [32]byte
	for i := range hash {
		hash[i] = fill
	}
	return hash
}

func requireHeldTotal(t *testing.T, manager *Manager, want int64) {
	t.Helper()
	total, err := manager.TotalHeld()
	require.NoError(t, err)
	require.Zero(t, total.Cmp(big.NewInt(want)))
}

func requireHeldFor(t *testing.T, manager *Manager, id [32]byte, want int64) {
	t.Helper()
	held, err := manager.HeldFor(id)
	require.NoError(t, err)
	require.Zero(t, held.Cmp(big.NewInt(want)))
}

func TestEscrowRoundTrip(t *testing.T) {
	manager := newTestManager(t)
	original := &escrow.Escrow{
		ID:                  testHash(0xAA),
		Payer:               testAddr(0x01),
		Beneficiary:         testAddr(0x02),
		Agent:               testAddr(0x03),
		Amount:              big.NewInt(123456789),
		FundedAt:            1_700_000_000,
		EvidenceDeadline:    3600,
		EvidenceSubmittedAt: 1_700_001_000,
		DisputeWindow:       600,
		EvidenceHash:        testHash(0x22),
		MetaHash:            testHash(0x11),
		Status:              escrow.StatusEvidenceSubmitted,
	}
	require.NoError(t, manager.EscrowPut(original))

	loaded, ok := manager.EscrowGet(original.ID)
	require.True(t, ok)
	require.Equal(t, original.ID, loaded.ID)
	require.Equal(t, original.Payer, loaded.Payer)
	require.Equal(t, original.Beneficiary, loaded.Beneficiary)
	require.Equal(t, original.Agent, loaded.Agent)
	require.Zero(t, original.Amount.Cmp(loaded.Amount))
	require.Equal(t, original.FundedAt, loaded.FundedAt)
	require.Equal(t, original.EvidenceDeadline, loaded.EvidenceDeadline)
	require.Equal(t, original.EvidenceSubmittedAt, loaded.EvidenceSubmittedAt)
	require.Equal(t, original.DisputeWindow, loaded.DisputeWindow)
	require.Equal(t, original.EvidenceHash, loaded.EvidenceHash)
	require.Equal(t, original.MetaHash, loaded.MetaHash)
	require.Equal(t, original.Status, loaded.Status)
}

func TestEscrowGetMissing(t *testing.T) {
	manager := newTestManager(t)
	_, ok := manager.EscrowGet(testHash(0xFF))
	require.False(t, ok)
}

func TestEscrowPutRejectsInvalid(t *testing.T) {
	manager := newTestManager(t)
	require.Error(t, manager.EscrowPut(nil))
	require.Error(t, manager.EscrowPut(&escrow.Escrow{
		ID:     testHash(0xAA),
		Amount: big.NewInt(-5),
		Status: escrow.StatusFunded,
	}))
}

func TestHeldBookkeeping(t *testing.T) {
	manager := newTestManager(t)
	first := testHash(0xA1)
	second := testHash(0xA2)

	require.NoError(t, manager.EscrowCredit(first, big.NewInt(100)))
	require.NoError(t, manager.EscrowCredit(second, big.NewInt(50)))
	requireHeldTotal(t, manager, 150)
	requireHeldFor(t, manager, first, 100)

	require.NoError(t, manager.EscrowDebit(first, big.NewInt(100)))
	requireHeldFor(t, manager, first, 0)
	requireHeldTotal(t, manager, 50)

	// Debiting past the per-instance balance fails and leaves totals alone.
	require.Error(t, manager.EscrowDebit(first, big.NewInt(1)))
	require.Error(t, manager.EscrowDebit(second, big.NewInt(51)))
	requireHeldTotal(t, manager, 50)

	require.Error(t, manager.EscrowCredit(first, nil))
	require.Error(t, manager.EscrowCredit(first, big.NewInt(0)))
	require.Error(t, manager.EscrowDebit(second, big.NewInt(-1)))
}

func TestAccountDefaults(t *testing.T) {
	manager := newTestManager(t)
	addr := testAddr(0x05)

	account, err := manager.GetAccount(addr[:])
	require.NoError(t, err)
	require.NotNil(t, account.Balance)
	require.Zero(t, account.Balance.Sign())

	account.Balance = big.NewInt(777)
	account.Nonce = 3
	require.NoError(t, manager.PutAccount(addr[:], account))

	reloaded, err := manager.GetAccount(addr[:])
	require.NoError(t, err)
	require.Zero(t, reloaded.Balance.Cmp(big.NewInt(777)))
	require.Equal(t, uint64(3), reloaded.Nonce)
}

func TestApplyGenesisOnce(t *testing.T) {
	manager := newTestManager(t)
	addr := testAddr(0x07)
	allocs := map[[20]byte]*big.Int{
		addr:           big.NewInt(1000),
		testAddr(0x08): nil,
		testAddr(0x09): big.NewInt(0),
	}
	require.NoError(t, manager.ApplyGenesis(allocs))

	account, err := manager.GetAccount(addr[:])
	require.NoError(t, err)
	require.Zero(t, account.Balance.Cmp(big.NewInt(1000)))

	// A second application is a no-op; restart must not re-mint.
	require.NoError(t, manager.ApplyGenesis(allocs))
	account, err = manager.GetAccount(addr[:])
	require.NoError(t, err)
	require.Zero(t, account.Balance.Cmp(big.NewInt(1000)))

	skipped, err := manager.GetAccount(func() []byte { a := testAddr(0x09); return a[:] }())
	require.NoError(t, err)
	require.Zero(t, skipped.Balance.Sign())
}

// faultyDB wraps a working database and fails reads for selected keys,
// standing in for a backend hitting transient I/O errors.
type faultyDB struct {
	storage.Database
	failGet map[string]error
}

func (f *faultyDB) Get(key []byte) ([]byte, error) {
	if err, ok := f.failGet[string(key)]; ok {
		return nil, err
	}
	return f.Database.Get(key)
}

func TestReadFailuresAreNotMissingRecords(t *testing.T) {
	backing := storage.NewMemDB()
	faulty := &faultyDB{Database: backing, failGet: map[string]error{}}
	manager := NewManager(faulty)

	addr := testAddr(0x05)
	require.NoError(t, manager.PutAccount(addr[:], &types.Account{Balance: big.NewInt(777)}))
	id := testHash(0xA1)
	require.NoError(t, manager.EscrowCredit(id, big.NewInt(100)))

	readErr := errors.New("read i/o error")
	faulty.failGet[string(accountKey(addr[:]))] = readErr
	faulty.failGet["vault:held"] = readErr
	faulty.failGet[string(heldKey(id))] = readErr

	// A failed account read must surface, never default to a zero balance
	// that a later write would persist over the real one.
	_, err := manager.GetAccount(addr[:])
	require.ErrorIs(t, err, readErr)

	_, err = manager.TotalHeld()
	require.ErrorIs(t, err, readErr)
	_, err = manager.HeldFor(id)
	require.ErrorIs(t, err, readErr)
	require.ErrorIs(t, manager.EscrowCredit(id, big.NewInt(1)), readErr)
	require.ErrorIs(t, manager.EscrowDebit(id, big.NewInt(1)), readErr)

	// Clearing the fault restores the stored values untouched.
	faulty.failGet = map[string]error{}
	account, err := manager.GetAccount(addr[:])
	require.NoError(t, err)
	require.Zero(t, account.Balance.Cmp(big.NewInt(777)))
	requireHeldFor(t, manager, id, 100)

	// An absent record still defaults instead of erroring.
	missing, err := manager.GetAccount(func() []byte { a := testAddr(0x06); return a[:] }())
	require.NoError(t, err)
	require.Zero(t, missing.Balance.Sign())
}

func TestVaultAddressStable(t *testing.T) {
	first := newTestManager(t)
	second := newTestManager(t)
	require.Equal(t, first.EscrowVaultAddress(), second.EscrowVaultAddress())
	require.NotEqual(t, [20]byte{}, first.EscrowVaultAddress())
}

func TestManagerSatisfiesEngineState(t *testing.T) {
	manager := newTestManager(t)
	engine := escrow.NewEngine()
	engine.SetState(manager)

	payer := testAddr(0x01)
	require.NoError(t, manager.PutAccount(payer[:], &types.Account{Balance: big.NewInt(500)}))

	id := testHash(0xAB)
	_, err := engine.CreateAndFund(payer, id, testAddr(0x02), testAddr(0x03), [32]byte{}, big.NewInt(200))
	require.NoError(t, err)

	requireHeldTotal(t, manager, 200)
	vault, err := manager.GetAccount(func() []byte { a := manager.EscrowVaultAddress(); return a[:] }())
	require.NoError(t, err)
	require.Zero(t, vault.Balance.Cmp(big.NewInt(200)))
}
