// Package ledger provides the in-memory collaborators consumed by settlement:
// a bank of currency accounts and an inventory of goods and properties.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/uwol/computational-economy-sub002/internal/invariant"
	"github.com/uwol/computational-economy-sub002/internal/model"
	"github.com/uwol/computational-economy-sub002/internal/settlement"
)

var (
	ErrAccountNotFound  = errors.New("ledger: account not found")
	ErrCurrencyMismatch = errors.New("ledger: accounts hold different currencies")
	ErrInvalidAmount    = errors.New("ledger: amount must be a finite non-negative number")
	ErrNotAccountOwner  = errors.New("ledger: account belongs to another owner")
)

// Account is a settlement account holding one currency.
type Account struct {
	ID       model.AccountID `json:"id"`
	Owner    model.AgentID   `json:"owner"`
	Currency model.Currency  `json:"currency"`
	Balance  float64         `json:"balance"`
}

// Bank keeps currency accounts in memory. Transfers are atomic: either both
// balances change or neither does.
type Bank struct {
	mu       sync.RWMutex
	accounts map[model.AccountID]*Account
}

var _ settlement.Accounts = (*Bank)(nil)

// NewBank creates an empty bank.
func NewBank() *Bank {
	return &Bank{accounts: make(map[model.AccountID]*Account)}
}

func validAmount(amount float64) bool {
	return amount >= 0 && !math.IsInf(amount, 0)
}

// Open creates an account for owner with an initial balance.
func (b *Bank) Open(owner model.AgentID, currency model.Currency, balance float64) (Account, error) {
	if !validAmount(balance) {
		return Account{}, fmt.Errorf("%w: %v", ErrInvalidAmount, balance)
	}
	a := &Account{
		ID:       model.AccountID(uuid.New().String()),
		Owner:    owner,
		Currency: currency,
		Balance:  balance,
	}

	b.mu.Lock()
	b.accounts[a.ID] = a
	b.mu.Unlock()

	slog.Debug("account opened", "account", a.ID, "owner", owner, "currency", currency)
	return *a, nil
}

// Account returns a copy of the account.
func (b *Bank) Account(id model.AccountID) (Account, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	a, ok := b.accounts[id]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return *a, nil
}

// Balance returns the current balance of the account.
func (b *Bank) Balance(id model.AccountID) (float64, error) {
	a, err := b.Account(id)
	return a.Balance, err
}

// AccountsOf returns the accounts of owner ordered by currency.
func (b *Bank) AccountsOf(owner model.AgentID) []Account {
	b.mu.RLock()
	var out []Account
	for _, a := range b.accounts {
		if a.Owner == owner {
			out = append(out, *a)
		}
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out
}

// Currency returns the currency the account holds.
func (b *Bank) Currency(id model.AccountID) (model.Currency, error) {
	a, err := b.Account(id)
	return a.Currency, err
}

// Deposit credits amount to the account, e.g. wages or central bank money.
func (b *Bank) Deposit(id model.AccountID, amount float64) error {
	if !validAmount(amount) {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	a.Balance += amount
	return nil
}

// Authenticate fails unless owner holds the account.
func (b *Bank) Authenticate(id model.AccountID, owner model.AgentID) error {
	a, err := b.Account(id)
	if err != nil {
		return err
	}
	if a.Owner != owner {
		return fmt.Errorf("%w: %s", ErrNotAccountOwner, id)
	}
	return nil
}

// Transfer moves amount between two accounts of the same currency. It fails
// with settlement.ErrInsufficientFunds when from cannot cover amount.
func (b *Bank) Transfer(ctx context.Context, from, to model.AccountID, amount float64, memo string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validAmount(amount) {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	src, ok := b.accounts[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, from)
	}
	dst, ok := b.accounts[to]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, to)
	}
	if src.Currency != dst.Currency {
		return fmt.Errorf("%w: %s and %s", ErrCurrencyMismatch, src.Currency, dst.Currency)
	}
	if !invariant.LessOrEqual(amount, src.Balance) {
		return fmt.Errorf("%w: %s holds %v, needs %v", settlement.ErrInsufficientFunds, from, src.Balance, amount)
	}

	// Rounding may leave amount a hair above the balance; move only what is
	// there so no money is created.
	moved := math.Min(amount, src.Balance)
	src.Balance -= moved
	dst.Balance += moved

	slog.Debug("transfer", "from", from, "to", to, "amount", amount, "memo", memo)
	return nil
}
