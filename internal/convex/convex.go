// Package convex implements the production and utility functions agents
// optimize: Cobb-Douglas, CES, root and generic functions.
//
// Every function is immutable after construction and validates its
// parameters in its constructor. Partial derivatives guard the 0 × ∞ case
// (a zero input raised to a negative exponent next to a zero factor) so that
// it evaluates to 0 instead of NaN.
package convex

import (
	"errors"
	"math"
	"sort"

	"github.com/uwol/computational-economy-sub002/internal/model"
)

var (
	ErrNoInputs           = errors.New("convex: function needs at least one input")
	ErrInvalidCoefficient = errors.New("convex: coefficient must be positive and finite")
	ErrExponentRange      = errors.New("convex: exponent must lie in ]0,1[")
	ErrExponentSum        = errors.New("convex: exponents must sum to one")
	ErrSubstitution       = errors.New("convex: substitution factor must be negative")
	ErrHomogenity         = errors.New("convex: homogenity factor must be positive")
)

// exponentSumTolerance bounds |Σ exponents − 1| for Cobb-Douglas functions.
const exponentSumTolerance = 1e-6

// Function maps a bundle of inputs to an output.
type Function interface {
	// InputTypes returns the inputs in a stable order.
	InputTypes() []model.GoodType

	// F evaluates the output of the bundle. Missing inputs count as zero.
	F(bundle model.Bundle) float64

	// PartialDerivative evaluates ∂F/∂input at bundle.
	PartialDerivative(bundle model.Bundle, input model.GoodType) float64

	// NeedsAllInputsNonZero reports whether F is only differentiable, and
	// only yields output, when every input is strictly positive.
	NeedsAllInputsNonZero() bool
}

// LinearCost describes the cost of buying x units of one input inside one
// price interval: total(x) = PerUnit·x + Fixed.
type LinearCost struct {
	PerUnit float64
	Fixed   float64
}

// Total returns the cost of x units.
func (c LinearCost) Total(x float64) float64 {
	return c.PerUnit*x + c.Fixed
}

// ConvexFunction is a Function with a closed-form optimum under linear costs.
type ConvexFunction interface {
	Function

	// OptimalBundle returns the output-maximizing bundle whose total cost
	// Σ costs[i].Total(x_i) equals budget. Inputs with a zero per-unit cost
	// are returned as 0: more of them always helps, so how much to take is
	// up to the caller. ok is false when no closed form applies to the
	// given costs.
	OptimalBundle(costs map[model.GoodType]LinearCost, budget float64) (bundle model.Bundle, ok bool)
}

// guardedMul multiplies a and b, treating 0 × ±∞ as 0.
func guardedMul(a, b float64) float64 {
	if a == 0 || b == 0 {
		return 0
	}
	return a * b
}

func validPositive(f float64) bool {
	return f > 0 && !math.IsInf(f, 0) && !math.IsNaN(f)
}

func sortedInputs[V any](m map[model.GoodType]V) []model.GoodType {
	inputs := make([]model.GoodType, 0, len(m))
	for g := range m {
		inputs = append(inputs, g)
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i] < inputs[j] })
	return inputs
}

// remainingBudget subtracts the fixed cost parts from budget and returns the
// inputs that have a price. Inputs with a zero per-unit cost are free and
// take no share of the budget.
func remainingBudget(inputs []model.GoodType, costs map[model.GoodType]LinearCost, budget float64) (float64, []model.GoodType, bool) {
	remaining := budget
	var priced []model.GoodType
	for _, in := range inputs {
		c, ok := costs[in]
		if !ok || !(c.PerUnit >= 0) || math.IsInf(c.PerUnit, 0) || math.IsNaN(c.Fixed) || math.IsInf(c.Fixed, 0) {
			return 0, nil, false
		}
		if c.PerUnit > 0 {
			priced = append(priced, in)
		}
		remaining -= c.Fixed
	}
	if len(priced) == 0 {
		return remaining, nil, true
	}
	if remaining <= 0 || math.IsNaN(remaining) {
		return 0, nil, false
	}
	return remaining, priced, true
}
