package convex

import (
	"errors"
	"math"
	"testing"

	"github.com/uwol/computational-economy-sub002/internal/model"
)

const (
	kw    = model.GoodKilowatt
	wheat = model.GoodWheat
	coal  = model.GoodCoal
)

func near(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

// --- Constructor validation ---

func TestNewCobbDouglas_Validation(t *testing.T) {
	tests := []struct {
		name        string
		coefficient float64
		exponents   map[model.GoodType]float64
		want        error
	}{
		{"no inputs", 1, nil, ErrNoInputs},
		{"zero coefficient", 0, map[model.GoodType]float64{kw: 0.5, wheat: 0.5}, ErrInvalidCoefficient},
		{"NaN coefficient", math.NaN(), map[model.GoodType]float64{kw: 0.5, wheat: 0.5}, ErrInvalidCoefficient},
		{"exponent one", 1, map[model.GoodType]float64{kw: 1}, ErrExponentRange},
		{"negative exponent", 1, map[model.GoodType]float64{kw: -0.5, wheat: 1.5}, ErrExponentRange},
		{"sum below one", 1, map[model.GoodType]float64{kw: 0.3, wheat: 0.3}, ErrExponentSum},
		{"sum above one", 1, map[model.GoodType]float64{kw: 0.6, wheat: 0.6}, ErrExponentSum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCobbDouglas(tt.coefficient, tt.exponents)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestNewCobbDouglas_CopiesExponents(t *testing.T) {
	exps := map[model.GoodType]float64{kw: 0.4, wheat: 0.6}
	f, err := NewCobbDouglas(1, exps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	exps[kw] = 0.9
	if f.Exponent(kw) != 0.4 {
		t.Errorf("function must not observe caller mutation, got exponent %v", f.Exponent(kw))
	}
}

func TestNewCES_Validation(t *testing.T) {
	coeffs := map[model.GoodType]float64{kw: 1, wheat: 2}
	tests := []struct {
		name         string
		main         float64
		coefficients map[model.GoodType]float64
		substitution float64
		homogenity   float64
		want         error
	}{
		{"no inputs", 1, nil, -0.5, 1, ErrNoInputs},
		{"zero main coefficient", 0, coeffs, -0.5, 1, ErrInvalidCoefficient},
		{"zero substitution", 1, coeffs, 0, 1, ErrSubstitution},
		{"positive substitution", 1, coeffs, 0.5, 1, ErrSubstitution},
		{"zero homogenity", 1, coeffs, -0.5, 0, ErrHomogenity},
		{"negative input coefficient", 1, map[model.GoodType]float64{kw: -1}, -0.5, 1, ErrInvalidCoefficient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCES(tt.main, tt.coefficients, tt.substitution, tt.homogenity)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestNewRoot_Validation(t *testing.T) {
	if _, err := NewRoot("", 1); !errors.Is(err, ErrNoInputs) {
		t.Errorf("expected ErrNoInputs, got %v", err)
	}
	if _, err := NewRoot(kw, -1); !errors.Is(err, ErrInvalidCoefficient) {
		t.Errorf("expected ErrInvalidCoefficient, got %v", err)
	}
}

// --- Evaluation ---

func TestCobbDouglas_F(t *testing.T) {
	f, _ := NewCobbDouglas(2, map[model.GoodType]float64{kw: 0.5, wheat: 0.5})
	got := f.F(model.Bundle{kw: 4, wheat: 9})
	if !near(got, 2*2*3, 1e-12) {
		t.Errorf("expected 12, got %v", got)
	}
	if out := f.F(model.Bundle{kw: 4}); out != 0 {
		t.Errorf("missing input should yield zero output, got %v", out)
	}
}

func TestCobbDouglas_PartialDerivative(t *testing.T) {
	f, _ := NewCobbDouglas(1, map[model.GoodType]float64{kw: 0.4, wheat: 0.6})
	b := model.Bundle{kw: 4, wheat: 3}
	want := 0.4 * math.Pow(4, -0.6) * math.Pow(3, 0.6)
	if got := f.PartialDerivative(b, kw); !near(got, want, 1e-12) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if got := f.PartialDerivative(b, coal); got != 0 {
		t.Errorf("non-input derivative should be 0, got %v", got)
	}
}

func TestCobbDouglas_PartialDerivative_ZeroTimesInfinity(t *testing.T) {
	f, _ := NewCobbDouglas(1, map[model.GoodType]float64{kw: 0.4, wheat: 0.6})

	// x_kw = 0 gives 0^-0.6 = +Inf, x_wheat = 0 gives 0^0.6 = 0.
	got := f.PartialDerivative(model.Bundle{}, kw)
	if math.IsNaN(got) || got != 0 {
		t.Errorf("0 × ∞ must evaluate to 0, got %v", got)
	}

	// With the other input positive the marginal output is infinite.
	got = f.PartialDerivative(model.Bundle{wheat: 1}, kw)
	if !math.IsInf(got, 1) {
		t.Errorf("expected +Inf, got %v", got)
	}
}

func TestCES_F(t *testing.T) {
	// r = 0.5, h = 1: F = (x^0.5 + y^0.5)^2.
	f, _ := NewCES(1, map[model.GoodType]float64{kw: 1, wheat: 1}, -0.5, 1)
	got := f.F(model.Bundle{kw: 4, wheat: 9})
	if !near(got, 25, 1e-9) {
		t.Errorf("expected 25, got %v", got)
	}
}

func TestCES_PartialDerivative_MatchesNumeric(t *testing.T) {
	f, _ := NewCES(1.5, map[model.GoodType]float64{kw: 0.7, wheat: 0.3}, -0.4, 0.9)
	b := model.Bundle{kw: 2, wheat: 5}
	numeric := (&Generic{Inputs: f.InputTypes(), Output: f.F}).PartialDerivative(b, kw)
	if got := f.PartialDerivative(b, kw); !near(got, numeric, 1e-5) {
		t.Errorf("analytic %v differs from numeric %v", got, numeric)
	}
}

func TestCES_PartialDerivative_NoNaN(t *testing.T) {
	f, _ := NewCES(1, map[model.GoodType]float64{kw: 1, wheat: 1}, -0.5, 1)
	for _, b := range []model.Bundle{{}, {kw: 1}, {wheat: 1}} {
		for _, in := range f.InputTypes() {
			if d := f.PartialDerivative(b, in); math.IsNaN(d) {
				t.Errorf("NaN derivative for %s at %v", in, b)
			}
		}
	}
}

func TestRoot(t *testing.T) {
	f, _ := NewRoot(kw, 3)
	if got := f.F(model.Bundle{kw: 16}); got != 12 {
		t.Errorf("expected 12, got %v", got)
	}
	if got := f.PartialDerivative(model.Bundle{kw: 16}, kw); !near(got, 3*0.5/4, 1e-12) {
		t.Errorf("unexpected derivative %v", got)
	}
	if got := f.PartialDerivative(model.Bundle{kw: 16}, wheat); got != 0 {
		t.Errorf("non-input derivative should be 0, got %v", got)
	}
}

// --- Closed form optima ---

func TestCobbDouglas_OptimalBundle_FixedPrices(t *testing.T) {
	f, _ := NewCobbDouglas(1, map[model.GoodType]float64{kw: 0.4, wheat: 0.6})
	costs := map[model.GoodType]LinearCost{
		kw:    {PerUnit: 1},
		wheat: {PerUnit: 2},
	}
	b, ok := f.OptimalBundle(costs, 10)
	if !ok {
		t.Fatal("expected closed form solution")
	}
	if !near(b[kw], 4, 1e-12) || !near(b[wheat], 3, 1e-12) {
		t.Errorf("expected KILOWATT=4 WHEAT=3, got %v", b)
	}
}

func TestCobbDouglas_OptimalBundle_FixedCostParts(t *testing.T) {
	f, _ := NewCobbDouglas(1, map[model.GoodType]float64{kw: 0.5, wheat: 0.5})
	costs := map[model.GoodType]LinearCost{
		kw:    {PerUnit: 2, Fixed: -4},
		wheat: {PerUnit: 1},
	}
	b, ok := f.OptimalBundle(costs, 10)
	if !ok {
		t.Fatal("expected closed form solution")
	}
	spent := costs[kw].Total(b[kw]) + costs[wheat].Total(b[wheat])
	if !near(spent, 10, 1e-9) {
		t.Errorf("bundle should exhaust the budget, spent %v", spent)
	}
}

func TestCobbDouglas_OptimalBundle_NotApplicable(t *testing.T) {
	f, _ := NewCobbDouglas(1, map[model.GoodType]float64{kw: 0.5, wheat: 0.5})
	tests := []struct {
		name  string
		costs map[model.GoodType]LinearCost
	}{
		{"missing input", map[model.GoodType]LinearCost{kw: {PerUnit: 1}}},
		{"negative price", map[model.GoodType]LinearCost{kw: {PerUnit: -1}, wheat: {PerUnit: 1}}},
		{"NaN price", map[model.GoodType]LinearCost{kw: {PerUnit: math.NaN()}, wheat: {PerUnit: 1}}},
		{"fixed costs exceed budget", map[model.GoodType]LinearCost{kw: {PerUnit: 1, Fixed: 20}, wheat: {PerUnit: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := f.OptimalBundle(tt.costs, 10); ok {
				t.Error("expected no closed form solution")
			}
		})
	}
}

func TestCobbDouglas_OptimalBundle_FreeInput(t *testing.T) {
	f, _ := NewCobbDouglas(1, map[model.GoodType]float64{kw: 0.4, wheat: 0.6})
	b, ok := f.OptimalBundle(map[model.GoodType]LinearCost{
		kw:    {PerUnit: 1},
		wheat: {PerUnit: 0},
	}, 10)
	if !ok {
		t.Fatal("a free input must not rule out the closed form")
	}
	// The whole budget goes to the priced input; the free one is the caller's.
	if !near(b[kw], 10, 1e-12) || b[wheat] != 0 {
		t.Errorf("expected KILOWATT=10 WHEAT=0, got %v", b)
	}

	b, ok = f.OptimalBundle(map[model.GoodType]LinearCost{kw: {}, wheat: {}}, 10)
	if !ok || b[kw] != 0 || b[wheat] != 0 {
		t.Errorf("all free: expected zero bundle, got %v %v", b, ok)
	}
}

func TestCES_OptimalBundle_FreeInput(t *testing.T) {
	f, _ := NewCES(1, map[model.GoodType]float64{kw: 0.3, wheat: 0.5, coal: 0.2}, -0.5, 1)
	b, ok := f.OptimalBundle(map[model.GoodType]LinearCost{
		kw:    {PerUnit: 1},
		wheat: {PerUnit: 2},
		coal:  {PerUnit: 0},
	}, 100)
	if !ok {
		t.Fatal("a free input must not rule out the closed form")
	}
	if b[coal] != 0 {
		t.Errorf("free input should be left to the caller, got %v", b[coal])
	}
	if spent := b[kw] + 2*b[wheat]; !near(spent, 100, 1e-9) {
		t.Errorf("priced inputs should exhaust the budget, spent %v", spent)
	}
}

func TestCES_OptimalBundle_EqualMarginalOutputPerPrice(t *testing.T) {
	f, _ := NewCES(1, map[model.GoodType]float64{kw: 0.3, wheat: 0.5, coal: 0.2}, -0.5, 1)
	prices := map[model.GoodType]float64{kw: 1, wheat: 2, coal: 0.5}
	costs := make(map[model.GoodType]LinearCost)
	for g, p := range prices {
		costs[g] = LinearCost{PerUnit: p}
	}
	b, ok := f.OptimalBundle(costs, 100)
	if !ok {
		t.Fatal("expected closed form solution")
	}

	ref := f.PartialDerivative(b, kw) / prices[kw]
	for g, p := range prices {
		ratio := f.PartialDerivative(b, g) / p
		if !near(ratio, ref, 1e-9*math.Max(1, ref)) {
			t.Errorf("marginal output per price differs for %s: %v vs %v", g, ratio, ref)
		}
	}
}

func TestCES_OptimalBundle_Corner(t *testing.T) {
	// r = 2: convex inner sum, everything goes to the cheapest weighted input.
	f, _ := NewCES(1, map[model.GoodType]float64{kw: 1, wheat: 1}, -2, 1)
	b, ok := f.OptimalBundle(map[model.GoodType]LinearCost{
		kw:    {PerUnit: 1},
		wheat: {PerUnit: 2},
	}, 10)
	if !ok {
		t.Fatal("expected closed form solution")
	}
	if b[kw] != 10 || b[wheat] != 0 {
		t.Errorf("expected corner KILOWATT=10, got %v", b)
	}
}
