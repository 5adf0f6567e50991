package convex

import (
	"math"

	"github.com/uwol/computational-economy-sub002/internal/model"
)

// derivativeStep is the relative step of the numeric central difference.
const derivativeStep = 1e-6

// Generic adapts arbitrary output and derivative closures to Function. It has
// no closed-form optimum and is always optimized iteratively. When Partial is
// nil, derivatives are approximated by central differences.
type Generic struct {
	Inputs  []model.GoodType
	Output  func(model.Bundle) float64
	Partial func(model.Bundle, model.GoodType) float64
	NonZero bool
}

func (f *Generic) InputTypes() []model.GoodType {
	return append([]model.GoodType(nil), f.Inputs...)
}

func (f *Generic) NeedsAllInputsNonZero() bool { return f.NonZero }

func (f *Generic) F(bundle model.Bundle) float64 {
	return f.Output(bundle)
}

func (f *Generic) PartialDerivative(bundle model.Bundle, input model.GoodType) float64 {
	if f.Partial != nil {
		return f.Partial(bundle, input)
	}

	x := bundle[input]
	h := math.Max(math.Abs(x)*derivativeStep, derivativeStep)
	lo := x - h
	if lo < 0 {
		lo = 0
	}
	hi := x + h

	shifted := bundle.Clone()
	shifted[input] = hi
	upper := f.Output(shifted)
	shifted[input] = lo
	lower := f.Output(shifted)
	return (upper - lower) / (hi - lo)
}
