package convex

import (
	"fmt"
	"math"

	"github.com/uwol/computational-economy-sub002/internal/model"
)

// Root is F(x) = coefficient · √x of a single input.
type Root struct {
	input       model.GoodType
	coefficient float64
}

// NewRoot builds a root function of input.
func NewRoot(input model.GoodType, coefficient float64) (*Root, error) {
	if input == "" {
		return nil, ErrNoInputs
	}
	if !validPositive(coefficient) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCoefficient, coefficient)
	}
	return &Root{input: input, coefficient: coefficient}, nil
}

func (f *Root) InputTypes() []model.GoodType { return []model.GoodType{f.input} }

func (f *Root) NeedsAllInputsNonZero() bool { return false }

func (f *Root) F(bundle model.Bundle) float64 {
	return f.coefficient * math.Sqrt(bundle[f.input])
}

func (f *Root) PartialDerivative(bundle model.Bundle, input model.GoodType) float64 {
	if input != f.input {
		return 0
	}
	return guardedMul(f.coefficient*0.5, math.Pow(bundle[f.input], -0.5))
}
