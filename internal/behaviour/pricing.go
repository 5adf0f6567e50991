// Package behaviour holds the decision rules agents apply around the market
// core: how a seller adjusts its offer price and how a buyer sizes its
// budget. Behaviours own no agent; they are handed explicit accessors to the
// state they read.
package behaviour

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"

	"github.com/uwol/computational-economy-sub002/internal/invariant"
	"github.com/uwol/computational-economy-sub002/internal/model"
	"github.com/uwol/computational-economy-sub002/internal/settlement"
)

var (
	ErrInvalidPrice     = errors.New("behaviour: initial price must be positive and finite")
	ErrInvalidIncrement = errors.New("behaviour: price increment must lie in ]0,1[")
	ErrInvalidPeriods   = errors.New("behaviour: at least one period of history is required")
)

// minPrice keeps repeated decreases from reaching zero.
const minPrice = 1e-6

// Period is one pricing period of a seller in one market.
type Period struct {
	Price   float64 `json:"price"`
	Offered float64 `json:"offered"`
	Sold    float64 `json:"sold"`
}

// SoldOut reports whether everything offered in the period was sold.
func (p Period) SoldOut() bool {
	return p.Offered > 0 && invariant.LessOrEqual(p.Offered, p.Sold)
}

// Pricing adjusts a seller's offer price from period to period: up after a
// sold-out period, down after a period without sales.
type Pricing struct {
	seller    model.AgentID
	market    model.MarketKey
	increment float64

	mu      sync.Mutex
	history *Ring[Period]
}

var _ settlement.Listener = (*Pricing)(nil)

// NewPricing starts a pricing behaviour at initialPrice, remembering the
// last periods periods.
func NewPricing(seller model.AgentID, market model.MarketKey, initialPrice, increment float64, periods int) (*Pricing, error) {
	if !(initialPrice > 0) || math.IsInf(initialPrice, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrice, initialPrice)
	}
	if !(increment > 0 && increment < 1) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIncrement, increment)
	}
	if periods < 1 {
		return nil, ErrInvalidPeriods
	}
	p := &Pricing{
		seller:    seller,
		market:    market,
		increment: increment,
		history:   NewRing[Period](periods),
	}
	p.history.Push(Period{Price: initialPrice})
	return p, nil
}

// Market returns the market the behaviour prices for.
func (p *Pricing) Market() model.MarketKey { return p.market }

// Price returns the offer price of the current period.
func (p *Pricing) Price() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.history.Back(0).Price
}

// RecordOffered adds amount to what was offered in the current period.
func (p *Pricing) RecordOffered(amount float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history.Back(0).Offered += amount
}

// OnSettlement adds the settled amount to the current period.
func (p *Pricing) OnSettlement(ev settlement.Event) {
	if ev.Seller != p.seller || ev.Market != p.market {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history.Back(0).Sold += ev.Amount
}

// NextPeriod closes the current period and opens the next one with an
// adjusted price, which it returns.
func (p *Pricing) NextPeriod() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	last := *p.history.Back(0)
	price := last.Price
	switch {
	case last.SoldOut():
		price *= 1 + p.increment
	case last.Offered > 0 && last.Sold == 0:
		price = math.Max(minPrice, price*(1-p.increment))
	}
	p.history.Push(Period{Price: price})

	slog.Debug("price adjusted",
		"seller", p.seller,
		"market", p.market.String(),
		"offered", last.Offered,
		"sold", last.Sold,
		"from", last.Price,
		"to", price,
	)
	return price
}

// History returns the remembered periods, oldest first. The last entry is
// the open period.
func (p *Pricing) History() []Period {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Collect(p.history.All())
}
