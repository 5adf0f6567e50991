// Package pricefn turns supply into price functions. A price function maps a
// cumulative purchased amount to the average price of buying it, the
// marginal price of the next unit, and a piecewise decomposition
//
//	price(x) = c0 + c1/x   for x in [left, right]
//
// that the demand optimizer solves in closed form.
//
// Supply beyond the total depth of an order book is sold out: Price and
// MarginalPrice return NaN there, and the decomposition of a market price
// function ends at the depth.
package pricefn

import (
	"math"

	"github.com/uwol/computational-economy-sub002/internal/convex"
	"github.com/uwol/computational-economy-sub002/internal/invariant"
)

// PriceFunction describes the price of buying from one market.
type PriceFunction interface {
	// Price returns the average price per unit of buying amount units,
	// NaN if that much is not available.
	Price(amount float64) float64

	// MarginalPrice returns the price of the next infinitesimal unit after
	// amount units have been bought, NaN if the market is sold out there.
	MarginalPrice(amount float64) float64

	// AnalyticalPriceFunctionParameters returns the ascending interval
	// decomposition of Price, up to the interval in which the cumulative
	// cost reaches maxBudget.
	AnalyticalPriceFunctionParameters(maxBudget float64) []Interval
}

// Interval is one piece of a price function decomposition:
// price(x) = CoefficientXPower0 + CoefficientXPowerMinus1/x on
// [LeftBoundary, RightBoundary]. RightBoundary may be +Inf.
type Interval struct {
	LeftBoundary            float64 `json:"interval_left_boundary"`
	RightBoundary           float64 `json:"interval_right_boundary"`
	CoefficientXPower0      float64 `json:"coefficient_x_power_0"`
	CoefficientXPowerMinus1 float64 `json:"coefficient_x_power_minus_1"`
}

// Price evaluates the interval's average price formula at x.
func (iv Interval) Price(x float64) float64 {
	if iv.CoefficientXPowerMinus1 == 0 {
		return iv.CoefficientXPower0
	}
	return iv.CoefficientXPower0 + iv.CoefficientXPowerMinus1/x
}

// Contains reports whether x lies in the interval, with a small tolerance
// at the boundaries.
func (iv Interval) Contains(x float64) bool {
	return invariant.LessOrEqual(iv.LeftBoundary, x) && invariant.LessOrEqual(x, iv.RightBoundary)
}

// LinearCost returns the total cost x·price(x) = c0·x + c1 of the interval.
func (iv Interval) LinearCost() convex.LinearCost {
	return convex.LinearCost{
		PerUnit: iv.CoefficientXPower0,
		Fixed:   iv.CoefficientXPowerMinus1,
	}
}

// CheckContinuity verifies that adjacent intervals share their boundary and
// agree on the price there. A gap or jump means the decomposition is wrong.
func CheckContinuity(intervals []Interval) error {
	for i := 0; i+1 < len(intervals); i++ {
		left, right := intervals[i], intervals[i+1]
		if err := invariant.Check(
			invariant.Close(left.RightBoundary, right.LeftBoundary),
			"price_function_boundaries",
			"interval %d ends at %v, interval %d starts at %v",
			i, left.RightBoundary, i+1, right.LeftBoundary,
		); err != nil {
			return err
		}

		x := right.LeftBoundary
		if err := invariant.Check(
			invariant.Close(left.Price(x), right.Price(x)),
			"price_function_continuity",
			"price jumps at %v from %v to %v", x, left.Price(x), right.Price(x),
		); err != nil {
			return err
		}
	}
	return nil
}

// Fixed is a constant price regardless of amount.
type Fixed struct {
	price float64
}

// NewFixed returns a constant price function. A NaN price models an input
// that is not available at all.
func NewFixed(price float64) Fixed {
	return Fixed{price: price}
}

func (f Fixed) Price(float64) float64 { return f.price }

func (f Fixed) MarginalPrice(float64) float64 { return f.price }

func (f Fixed) AnalyticalPriceFunctionParameters(float64) []Interval {
	if math.IsNaN(f.price) {
		return nil
	}
	return []Interval{{
		LeftBoundary:       0,
		RightBoundary:      math.Inf(1),
		CoefficientXPower0: f.price,
	}}
}
