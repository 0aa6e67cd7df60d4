package types

import "math/big"

// Account holds the spendable balance tracked for a ledger participant. The
// escrow vault is itself an account, so every value movement is a plain
// debit/credit pair between two accounts.
type Account struct {
	Nonce   uint64   `json:"nonce"`
	Balance *big.Int `json:"balance"`
}

// EnsureDefaults returns the account with a non-nil balance so callers can
// operate on it without nil checks.
func (a *Account) EnsureDefaults() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	if a.Balance == nil {
		a.Balance = big.NewInt(0)
	}
	return a
}
