package behaviour

import (
	"errors"
	"fmt"
	"math"

	"github.com/uwol/computational-economy-sub002/internal/model"
)

var (
	ErrInvalidPropensity   = errors.New("behaviour: propensity must lie in ]0,1]")
	ErrInvalidInterestRate = errors.New("behaviour: interest rate must be greater than -1")
)

// BalanceFunc reads the current balance of the owner's settlement account.
type BalanceFunc func() (float64, error)

// Budgeting sizes the spending of one period from the owner's balance: the
// higher the interest rate, the more is saved.
type Budgeting struct {
	currency   model.Currency
	balance    BalanceFunc
	propensity float64
}

// NewBudgeting creates a budgeting behaviour spending up to propensity of
// the balance at zero interest.
func NewBudgeting(currency model.Currency, balance BalanceFunc, propensity float64) (*Budgeting, error) {
	if !(propensity > 0 && propensity <= 1) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPropensity, propensity)
	}
	return &Budgeting{currency: currency, balance: balance, propensity: propensity}, nil
}

// Currency returns the currency budgets are denominated in.
func (b *Budgeting) Currency() model.Currency { return b.currency }

// Budget returns max(0, balance) · propensity / (1 + interestRate).
func (b *Budgeting) Budget(interestRate float64) (float64, error) {
	if !(interestRate > -1) || math.IsInf(interestRate, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidInterestRate, interestRate)
	}
	balance, err := b.balance()
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	if math.IsNaN(balance) {
		return 0, errors.New("behaviour: balance is NaN")
	}
	return math.Max(0, balance) * b.propensity / (1 + interestRate), nil
}
