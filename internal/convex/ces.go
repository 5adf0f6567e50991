package convex

import (
	"fmt"
	"math"

	"github.com/uwol/computational-economy-sub002/internal/model"
)

// CES is the constant elasticity of substitution function
//
//	F(x) = m · (Σ c_i · x_i^r)^(h/r),  r = −substitutionFactor
//
// with substitutionFactor < 0 and homogenityFactor h > 0.
type CES struct {
	mainCoefficient float64
	coefficients    map[model.GoodType]float64
	substitution    float64
	homogenity      float64
	inputs          []model.GoodType
}

var _ ConvexFunction = (*CES)(nil)

// NewCES validates the parameters and builds the function.
func NewCES(mainCoefficient float64, coefficients map[model.GoodType]float64,
	substitutionFactor, homogenityFactor float64) (*CES, error) {
	if len(coefficients) == 0 {
		return nil, ErrNoInputs
	}
	if !validPositive(mainCoefficient) {
		return nil, fmt.Errorf("%w: main coefficient %v", ErrInvalidCoefficient, mainCoefficient)
	}
	if !(substitutionFactor < 0) || math.IsInf(substitutionFactor, 0) {
		return nil, fmt.Errorf("%w: %v", ErrSubstitution, substitutionFactor)
	}
	if !validPositive(homogenityFactor) {
		return nil, fmt.Errorf("%w: %v", ErrHomogenity, homogenityFactor)
	}

	copied := make(map[model.GoodType]float64, len(coefficients))
	for g, c := range coefficients {
		if !validPositive(c) {
			return nil, fmt.Errorf("%w: %s=%v", ErrInvalidCoefficient, g, c)
		}
		copied[g] = c
	}

	return &CES{
		mainCoefficient: mainCoefficient,
		coefficients:    copied,
		substitution:    substitutionFactor,
		homogenity:      homogenityFactor,
		inputs:          sortedInputs(copied),
	}, nil
}

func (f *CES) r() float64 { return -f.substitution }

func (f *CES) InputTypes() []model.GoodType {
	return append([]model.GoodType(nil), f.inputs...)
}

func (f *CES) NeedsAllInputsNonZero() bool { return false }

func (f *CES) sum(bundle model.Bundle) float64 {
	r := f.r()
	s := 0.0
	for _, in := range f.inputs {
		s += f.coefficients[in] * math.Pow(bundle[in], r)
	}
	return s
}

func (f *CES) F(bundle model.Bundle) float64 {
	return f.mainCoefficient * math.Pow(f.sum(bundle), f.homogenity/f.r())
}

// PartialDerivative evaluates m · h · S^(h/r − 1) · c_i · x_i^(r − 1).
func (f *CES) PartialDerivative(bundle model.Bundle, input model.GoodType) float64 {
	c, ok := f.coefficients[input]
	if !ok {
		return 0
	}
	r := f.r()
	result := f.mainCoefficient * f.homogenity * c
	result = guardedMul(result, math.Pow(f.sum(bundle), f.homogenity/r-1))
	result = guardedMul(result, math.Pow(bundle[input], r-1))
	return result
}

// OptimalBundle returns the closed-form optimum. For r < 1 the first order
// conditions give x_i ∝ (c_i / a_i)^(1/(1−r)). For r ≥ 1 the inner sum is
// convex and the optimum is the corner spending everything on the input with
// the highest c_i / a_i^r.
func (f *CES) OptimalBundle(costs map[model.GoodType]LinearCost, budget float64) (model.Bundle, bool) {
	remaining, priced, ok := remainingBudget(f.inputs, costs, budget)
	if !ok {
		return nil, false
	}

	r := f.r()
	bundle := make(model.Bundle, len(f.inputs))
	for _, in := range f.inputs {
		bundle[in] = 0
	}
	if len(priced) == 0 {
		return bundle, true
	}

	if r >= 1 {
		var best model.GoodType
		bestScore := math.Inf(-1)
		for _, in := range priced {
			score := f.coefficients[in] / math.Pow(costs[in].PerUnit, r)
			if score > bestScore {
				best, bestScore = in, score
			}
		}
		bundle[best] = remaining / costs[best].PerUnit
		return bundle, true
	}

	elasticity := 1 / (1 - r)
	weights := make(map[model.GoodType]float64, len(priced))
	denominator := 0.0
	for _, in := range priced {
		a := costs[in].PerUnit
		w := math.Pow(f.coefficients[in]/a, elasticity)
		weights[in] = w
		denominator += a * w
	}
	if !validPositive(denominator) {
		return nil, false
	}
	for _, in := range priced {
		bundle[in] = remaining * weights[in] / denominator
	}
	return bundle, true
}
