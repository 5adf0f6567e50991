package convex

import (
	"fmt"
	"math"

	"github.com/uwol/computational-economy-sub002/internal/model"
)

// CobbDouglas is F(x) = coefficient · Π x_i^e_i with Σ e_i = 1.
type CobbDouglas struct {
	coefficient float64
	exponents   map[model.GoodType]float64
	inputs      []model.GoodType
}

var _ ConvexFunction = (*CobbDouglas)(nil)

// NewCobbDouglas validates the parameters and builds the function.
func NewCobbDouglas(coefficient float64, exponents map[model.GoodType]float64) (*CobbDouglas, error) {
	if len(exponents) == 0 {
		return nil, ErrNoInputs
	}
	if !validPositive(coefficient) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCoefficient, coefficient)
	}

	sum := 0.0
	copied := make(map[model.GoodType]float64, len(exponents))
	for g, e := range exponents {
		if !(e > 0 && e < 1) {
			return nil, fmt.Errorf("%w: %s=%v", ErrExponentRange, g, e)
		}
		sum += e
		copied[g] = e
	}
	if math.Abs(sum-1) > exponentSumTolerance {
		return nil, fmt.Errorf("%w: got %v", ErrExponentSum, sum)
	}

	return &CobbDouglas{
		coefficient: coefficient,
		exponents:   copied,
		inputs:      sortedInputs(copied),
	}, nil
}

// Coefficient returns the leading coefficient.
func (f *CobbDouglas) Coefficient() float64 { return f.coefficient }

// Exponent returns the exponent of input, zero if it is not an input.
func (f *CobbDouglas) Exponent(input model.GoodType) float64 { return f.exponents[input] }

func (f *CobbDouglas) InputTypes() []model.GoodType {
	return append([]model.GoodType(nil), f.inputs...)
}

func (f *CobbDouglas) NeedsAllInputsNonZero() bool { return true }

func (f *CobbDouglas) F(bundle model.Bundle) float64 {
	out := f.coefficient
	for _, in := range f.inputs {
		out *= math.Pow(bundle[in], f.exponents[in])
	}
	return out
}

func (f *CobbDouglas) PartialDerivative(bundle model.Bundle, input model.GoodType) float64 {
	e, ok := f.exponents[input]
	if !ok {
		return 0
	}
	result := f.coefficient * e
	for _, in := range f.inputs {
		exp := f.exponents[in]
		if in == input {
			exp--
		}
		result = guardedMul(result, math.Pow(bundle[in], exp))
	}
	return result
}

// OptimalBundle solves the Lagrangian of the budget-constrained maximization:
// every priced input receives its share of the budget left after fixed costs,
// x_i = e_i / Σ_priced e_j · (budget − Σ Fixed_j) / PerUnit_i.
func (f *CobbDouglas) OptimalBundle(costs map[model.GoodType]LinearCost, budget float64) (model.Bundle, bool) {
	remaining, priced, ok := remainingBudget(f.inputs, costs, budget)
	if !ok {
		return nil, false
	}
	shares := 0.0
	for _, in := range priced {
		shares += f.exponents[in]
	}
	bundle := make(model.Bundle, len(f.inputs))
	for _, in := range f.inputs {
		bundle[in] = 0
	}
	for _, in := range priced {
		bundle[in] = f.exponents[in] / shares * remaining / costs[in].PerUnit
	}
	return bundle, true
}
