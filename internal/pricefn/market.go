package pricefn

import (
	"math"

	"github.com/uwol/computational-economy-sub002/internal/model"
)

// depthTolerance is the relative slack allowed when an amount equals the
// book depth up to rounding.
const depthTolerance = 1e-12

type step struct {
	price  float64
	amount float64
}

// Market is the step price function of an order book snapshot. It is
// immutable and does not observe later changes to the book.
type Market struct {
	steps     []step
	depth     float64
	totalCost float64
}

// NewMarket builds a market price function from orders sorted ascending by
// price. Orders without a positive amount are ignored.
func NewMarket(orders []model.Order) *Market {
	m := &Market{steps: make([]step, 0, len(orders))}
	for _, o := range orders {
		if !(o.Amount > 0) {
			continue
		}
		m.steps = append(m.steps, step{price: o.PricePerUnit, amount: o.Amount})
		m.depth += o.Amount
		m.totalCost += o.Amount * o.PricePerUnit
	}
	return m
}

// Depth returns the total amount on offer.
func (m *Market) Depth() float64 { return m.depth }

// Price returns the average price of buying amount units from the cheapest
// orders upward. At amount 0 it is the price of the cheapest order.
func (m *Market) Price(amount float64) float64 {
	if len(m.steps) == 0 || math.IsNaN(amount) {
		return math.NaN()
	}
	if amount <= 0 {
		return m.steps[0].price
	}
	if amount > m.depth*(1+depthTolerance) {
		return math.NaN()
	}

	remaining := amount
	cost := 0.0
	for _, s := range m.steps {
		take := math.Min(remaining, s.amount)
		cost += take * s.price
		remaining -= take
		if remaining <= 0 {
			break
		}
	}
	return cost / amount
}

// MarginalPrice returns the price of the order that serves the unit after
// amount, NaN once amount reaches the depth.
func (m *Market) MarginalPrice(amount float64) float64 {
	if math.IsNaN(amount) {
		return math.NaN()
	}
	cumulative := 0.0
	for _, s := range m.steps {
		cumulative += s.amount
		if amount < cumulative {
			return s.price
		}
	}
	return math.NaN()
}

// AnalyticalPriceFunctionParameters decomposes the average price into one
// interval per order. For the order at cumulative amount A and cumulative
// cost C before it, price(x) = (C + p·(x − A))/x = p + (C − p·A)/x.
func (m *Market) AnalyticalPriceFunctionParameters(maxBudget float64) []Interval {
	var intervals []Interval
	amount, cost := 0.0, 0.0
	for _, s := range m.steps {
		if len(intervals) > 0 && cost >= maxBudget {
			break
		}
		intervals = append(intervals, Interval{
			LeftBoundary:            amount,
			RightBoundary:           amount + s.amount,
			CoefficientXPower0:      s.price,
			CoefficientXPowerMinus1: cost - s.price*amount,
		})
		amount += s.amount
		cost += s.amount * s.price
	}
	return intervals
}
