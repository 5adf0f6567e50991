package optimizer

import (
	"math"
	"sync"
	"testing"

	"pgregory.net/rapid"

	"github.com/uwol/computational-economy-sub002/internal/convex"
	"github.com/uwol/computational-economy-sub002/internal/model"
	"github.com/uwol/computational-economy-sub002/internal/pricefn"
)

const (
	kw    = model.GoodKilowatt
	wheat = model.GoodWheat
)

type causes struct {
	mu  sync.Mutex
	got []string
}

func (c *causes) Record(path string, cause Cause) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, path+":"+string(cause))
}

func (c *causes) last(t *testing.T) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.got) == 0 {
		t.Fatal("no cause recorded")
	}
	return c.got[len(c.got)-1]
}

func newTestOptimizer() (*Optimizer, *causes) {
	rec := &causes{}
	return New(WithRecorder(rec)), rec
}

// fataler is satisfied by *testing.T and *rapid.T.
type fataler interface {
	Helper()
	Fatal(args ...any)
}

func cobbDouglas(t fataler) *convex.CobbDouglas {
	t.Helper()
	f, err := convex.NewCobbDouglas(1, map[model.GoodType]float64{kw: 0.4, wheat: 0.6})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func fixedPrices(p map[model.GoodType]float64) map[model.GoodType]pricefn.PriceFunction {
	out := make(map[model.GoodType]pricefn.PriceFunction, len(p))
	for g, v := range p {
		out[g] = pricefn.NewFixed(v)
	}
	return out
}

func near(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func spent(b model.Bundle, p map[model.GoodType]float64) float64 {
	s := 0.0
	for g, x := range b {
		s += x * p[g]
	}
	return s
}

func TestCobbDouglas_Analytical(t *testing.T) {
	o, rec := newTestOptimizer()
	b := o.CalculateOutputMaximizingInputs(cobbDouglas(t),
		fixedPrices(map[model.GoodType]float64{kw: 1, wheat: 2}), 10)

	if !near(b[kw], 4, 1e-9) || !near(b[wheat], 3, 1e-9) {
		t.Errorf("bundle = %v, want KILOWATT 4, WHEAT 3", b)
	}
	if got := rec.last(t); got != "analytical:BUDGET_PLANNED" {
		t.Errorf("cause = %s", got)
	}
}

func TestCobbDouglas_IterativeAgreesWithAnalytical(t *testing.T) {
	o, _ := newTestOptimizer()
	p := map[model.GoodType]float64{kw: 1, wheat: 2}
	b, cause := o.iterate(cobbDouglas(t), fixedPrices(p), 10, nil)

	if cause != CauseBudgetPlanned {
		t.Errorf("cause = %s", cause)
	}
	if !near(b[kw], 4, 0.05) || !near(b[wheat], 3, 0.05) {
		t.Errorf("bundle = %v, want about KILOWATT 4, WHEAT 3", b)
	}
	if s := spent(b, p); s > 10+1e-9 || s < 9.9 {
		t.Errorf("spent %v of 10", s)
	}
}

func TestCES_EqualMarginalOutputPerPrice(t *testing.T) {
	o, _ := newTestOptimizer()
	f, err := convex.NewCES(1, map[model.GoodType]float64{kw: 0.3, wheat: 0.7}, -0.5, 1)
	if err != nil {
		t.Fatal(err)
	}
	p := map[model.GoodType]float64{kw: 1.5, wheat: 2.5}
	b := o.CalculateOutputMaximizingInputs(f, fixedPrices(p), 20)

	if !near(spent(b, p), 20, 1e-9) {
		t.Errorf("spent %v, want 20", spent(b, p))
	}
	rk := f.PartialDerivative(b, kw) / p[kw]
	rw := f.PartialDerivative(b, wheat) / p[wheat]
	if math.Abs(rk-rw) > 1e-9*math.Max(rk, rw) {
		t.Errorf("marginal output per price differs: %v vs %v", rk, rw)
	}
}

func TestMarketPrices_Analytical(t *testing.T) {
	o, rec := newTestOptimizer()
	kwMarket := pricefn.NewMarket([]model.Order{
		{ID: 1, PricePerUnit: 1, Amount: 2},
		{ID: 2, PricePerUnit: 2, Amount: 10},
	})
	prices := map[model.GoodType]pricefn.PriceFunction{
		kw:    kwMarket,
		wheat: pricefn.NewFixed(2),
	}

	// The cheap interval is too small; the optimum lies in the second one,
	// where cost(x) = 2x − 2.
	b := o.CalculateOutputMaximizingInputs(cobbDouglas(t), prices, 10)
	if !near(b[kw], 2.4, 1e-9) || !near(b[wheat], 3.6, 1e-9) {
		t.Errorf("bundle = %v, want KILOWATT 2.4, WHEAT 3.6", b)
	}
	if got := rec.last(t); got != "analytical:BUDGET_PLANNED" {
		t.Errorf("cause = %s", got)
	}
	if cost := kwMarket.Price(b[kw])*b[kw] + 2*b[wheat]; !near(cost, 10, 1e-9) {
		t.Errorf("bundle costs %v, want 10", cost)
	}
}

func TestMarketPrices_SoldOutFallsBackToIterative(t *testing.T) {
	o, rec := newTestOptimizer()
	prices := map[model.GoodType]pricefn.PriceFunction{
		kw:    pricefn.NewMarket([]model.Order{{ID: 1, PricePerUnit: 1, Amount: 1}}),
		wheat: pricefn.NewFixed(2),
	}

	b := o.CalculateOutputMaximizingInputs(cobbDouglas(t), prices, 10)
	if got := rec.last(t); got != "iterative:BUDGET_PLANNED" {
		t.Errorf("cause = %s", got)
	}
	if b[kw] < 0.99 || b[kw] > 1+1e-9 {
		t.Errorf("KILOWATT = %v, want the whole depth of 1 and no more", b[kw])
	}
	if b[wheat] < 4 || b[wheat] > 4.51 {
		t.Errorf("WHEAT = %v, want the remaining budget", b[wheat])
	}
}

func TestZeroBudget(t *testing.T) {
	for _, budget := range []float64{0, -5} {
		o, rec := newTestOptimizer()
		b := o.CalculateOutputMaximizingInputs(cobbDouglas(t),
			fixedPrices(map[model.GoodType]float64{kw: 1, wheat: 2}), budget)
		if b[kw] != 0 || b[wheat] != 0 || len(b) != 2 {
			t.Errorf("budget %v: expected zero bundle, got %v", budget, b)
		}
		if got := rec.last(t); got != "precheck:BUDGET_PLANNED" {
			t.Errorf("budget %v: cause = %s", budget, got)
		}
	}
}

func TestInvalidBudget(t *testing.T) {
	for _, budget := range []float64{math.NaN(), math.Inf(1)} {
		o, rec := newTestOptimizer()
		b := o.CalculateOutputMaximizingInputs(cobbDouglas(t),
			fixedPrices(map[model.GoodType]float64{kw: 1, wheat: 2}), budget)
		if b[kw] != 0 || b[wheat] != 0 || len(b) != 2 {
			t.Errorf("budget %v: expected zero bundle, got %v", budget, b)
		}
		if got := rec.last(t); got != "precheck:INVALID_BUDGET" {
			t.Errorf("budget %v: cause = %s", budget, got)
		}
	}
}

// --- Free inputs ---

func TestFreeInput_MarketAnalytical(t *testing.T) {
	o, rec := newTestOptimizer()
	prices := map[model.GoodType]pricefn.PriceFunction{
		kw:    pricefn.NewFixed(1),
		wheat: pricefn.NewMarket([]model.Order{{ID: 1, PricePerUnit: 0, Amount: 50}}),
	}

	b := o.CalculateOutputMaximizingInputs(cobbDouglas(t), prices, 10)
	if !near(b[wheat], 50, 1e-9) || !near(b[kw], 10, 1e-9) {
		t.Errorf("bundle = %v, want all free WHEAT and the budget on KILOWATT", b)
	}
	if got := rec.last(t); got != "analytical:BUDGET_PLANNED" {
		t.Errorf("cause = %s", got)
	}
}

func TestFreeInput_PricedSupplyBeyond(t *testing.T) {
	tests := []struct {
		name      string
		nextPrice float64
		wantKW    float64
		wantWheat float64
	}{
		// cost(wheat) = wheat − 1 past the free unit: 11 to spend in total.
		{"optimum inside priced interval", 1, 4.4, 6.6},
		// More wheat at 10 is not worth it: stop where the free supply ends.
		{"optimum at end of free supply", 10, 10, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, rec := newTestOptimizer()
			free := 1.0
			if tt.nextPrice == 10 {
				free = 5
			}
			prices := map[model.GoodType]pricefn.PriceFunction{
				kw: pricefn.NewFixed(1),
				wheat: pricefn.NewMarket([]model.Order{
					{ID: 1, PricePerUnit: 0, Amount: free},
					{ID: 2, PricePerUnit: tt.nextPrice, Amount: 100},
				}),
			}
			b := o.CalculateOutputMaximizingInputs(cobbDouglas(t), prices, 10)
			if !near(b[kw], tt.wantKW, 1e-9) || !near(b[wheat], tt.wantWheat, 1e-9) {
				t.Errorf("bundle = %v, want KILOWATT %v, WHEAT %v", b, tt.wantKW, tt.wantWheat)
			}
			if got := rec.last(t); got != "analytical:BUDGET_PLANNED" {
				t.Errorf("cause = %s", got)
			}
		})
	}
}

func TestFreeInput_IterativeTakesFreeSupply(t *testing.T) {
	o, _ := newTestOptimizer()
	prices := map[model.GoodType]pricefn.PriceFunction{
		kw:    pricefn.NewFixed(1),
		wheat: pricefn.NewMarket([]model.Order{{ID: 1, PricePerUnit: 0, Amount: 50}}),
	}
	b, cause := o.iterate(cobbDouglas(t), prices, 10, nil)
	if cause != CauseBudgetPlanned {
		t.Errorf("cause = %s", cause)
	}
	if b[wheat] < 50-1e-9 || b[wheat] > 50+1e-9 {
		t.Errorf("WHEAT = %v, want the free depth of 50", b[wheat])
	}
	if !near(b[kw], 10, 0.05) || b[kw] > 10+1e-9 {
		t.Errorf("KILOWATT = %v, want about 10", b[kw])
	}
}

func TestFreeInput_UnlimitedFixedPrice(t *testing.T) {
	o, rec := newTestOptimizer()
	f := cobbDouglas(t)
	b := o.CalculateOutputMaximizingInputs(f, fixedPrices(map[model.GoodType]float64{kw: 1, wheat: 0}), 10)

	if got := rec.last(t); got != "iterative:BUDGET_PLANNED" {
		t.Errorf("cause = %s", got)
	}
	if !(b[wheat] > 0) || math.IsInf(b[wheat], 0) {
		t.Errorf("WHEAT = %v, want a finite positive amount", b[wheat])
	}
	if !near(b[kw], 10, 0.05) || b[kw] > 10+1e-9 {
		t.Errorf("KILOWATT = %v, want about 10", b[kw])
	}
	if !(f.F(b) > 0) {
		t.Errorf("output = %v, want positive", f.F(b))
	}
}

func TestInputFactorUnavailable(t *testing.T) {
	o, rec := newTestOptimizer()
	prices := fixedPrices(map[model.GoodType]float64{kw: 1, wheat: math.NaN()})

	b := o.CalculateOutputMaximizingInputs(cobbDouglas(t), prices, 10)
	if b[kw] != 0 || b[wheat] != 0 {
		t.Errorf("expected zero bundle, got %v", b)
	}
	if got := rec.last(t); got != "precheck:INPUT_FACTOR_UNAVAILABLE" {
		t.Errorf("cause = %s", got)
	}

	// Holding wheat already, the agent buys what it can.
	b = o.CalculateOutputMaximizingInputs(cobbDouglas(t), prices, 10,
		WithInventory(model.Bundle{wheat: 5}))
	if b[wheat] != 0 || !(b[kw] > 0) || math.IsNaN(b[kw]) {
		t.Errorf("expected only KILOWATT, got %v", b)
	}
}

func TestNoInputAvailable(t *testing.T) {
	o, rec := newTestOptimizer()
	f, err := convex.NewCES(1, map[model.GoodType]float64{kw: 1, wheat: 1}, -0.5, 1)
	if err != nil {
		t.Fatal(err)
	}
	b := o.CalculateOutputMaximizingInputs(f,
		fixedPrices(map[model.GoodType]float64{kw: math.NaN(), wheat: math.NaN()}), 10)
	if b[kw] != 0 || b[wheat] != 0 {
		t.Errorf("expected zero bundle, got %v", b)
	}
	if got := rec.last(t); got != "iterative:NO_INPUT_AVAILABLE" {
		t.Errorf("cause = %s", got)
	}
}

func TestGenericFunction(t *testing.T) {
	o, rec := newTestOptimizer()
	f := &convex.Generic{
		Inputs: []model.GoodType{kw, wheat},
		Output: func(b model.Bundle) float64 { return b[kw] + 2*b[wheat] },
	}
	b := o.CalculateOutputMaximizingInputs(f, fixedPrices(map[model.GoodType]float64{kw: 1, wheat: 1}), 10)

	if got := rec.last(t); got != "iterative:BUDGET_PLANNED" {
		t.Errorf("cause = %s", got)
	}
	if b[kw] != 0 || !near(b[wheat], 10, 0.02) {
		t.Errorf("expected all budget on WHEAT, got %v", b)
	}
}

// --- Production ---

func root(t *testing.T) *convex.Root {
	t.Helper()
	f, err := convex.NewRoot(kw, 1)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestProfit_RevenueZero(t *testing.T) {
	for _, revenue := range []float64{0, -1, math.NaN()} {
		o, rec := newTestOptimizer()
		b := o.CalculateProfitMaximizingInputs(root(t), fixedPrices(map[model.GoodType]float64{kw: 1}),
			revenue, 100, math.Inf(1))
		if b[kw] != 0 {
			t.Errorf("revenue %v: expected zero bundle, got %v", revenue, b)
		}
		if got := rec.last(t); got != "precheck:ESTIMATED_REVENUE_PER_UNIT_ZERO" {
			t.Errorf("revenue %v: cause = %s", revenue, got)
		}
	}
}

func TestProfit_MarginalRevenueExceeded(t *testing.T) {
	o, rec := newTestOptimizer()
	// Output √x costs 2√x per extra unit at price 1, which exceeds 4 at x = 4.
	b := o.CalculateProfitMaximizingInputs(root(t), fixedPrices(map[model.GoodType]float64{kw: 1}),
		4, 100, math.Inf(1))
	if got := rec.last(t); got != "production:MARGINAL_REVENUE_EXCEEDED" {
		t.Errorf("cause = %s", got)
	}
	if b[kw] < 4 || b[kw] > 4.25 {
		t.Errorf("KILOWATT = %v, want about 4", b[kw])
	}
}

func TestProfit_MaxOutputExceeded(t *testing.T) {
	o, rec := newTestOptimizer()
	b := o.CalculateProfitMaximizingInputs(root(t), fixedPrices(map[model.GoodType]float64{kw: 1}),
		1000, 100, 3)
	if got := rec.last(t); got != "production:MAX_OUTPUT_EXCEEDED" {
		t.Errorf("cause = %s", got)
	}
	if b[kw] < 9 || b[kw] > 9.25 {
		t.Errorf("KILOWATT = %v, want about 9", b[kw])
	}
}

func TestProfit_BudgetPlanned(t *testing.T) {
	o, rec := newTestOptimizer()
	b := o.CalculateProfitMaximizingInputs(root(t), fixedPrices(map[model.GoodType]float64{kw: 1}),
		1000, 5, math.Inf(1))
	if got := rec.last(t); got != "production:BUDGET_PLANNED" {
		t.Errorf("cause = %s", got)
	}
	if b[kw] > 5+1e-9 || b[kw] < 4.9 {
		t.Errorf("KILOWATT = %v, want about 5", b[kw])
	}
}

// --- Properties ---

func TestProperty_CobbDouglasEqualMarginalOutputPerPrice(t *testing.T) {
	o, _ := newTestOptimizer()
	rapid.Check(t, func(t *rapid.T) {
		e := rapid.Float64Range(0.05, 0.95).Draw(t, "exponent")
		f, err := convex.NewCobbDouglas(1, map[model.GoodType]float64{kw: e, wheat: 1 - e})
		if err != nil {
			t.Fatal(err)
		}
		p := map[model.GoodType]float64{
			kw:    rapid.Float64Range(0.1, 10).Draw(t, "price_kw"),
			wheat: rapid.Float64Range(0.1, 10).Draw(t, "price_wheat"),
		}
		budget := rapid.Float64Range(1, 1000).Draw(t, "budget")

		b := o.CalculateOutputMaximizingInputs(f, fixedPrices(p), budget)
		if s := spent(b, p); math.Abs(s-budget) > 1e-9*budget {
			t.Fatalf("spent %v of %v", s, budget)
		}
		rk := f.PartialDerivative(b, kw) / p[kw]
		rw := f.PartialDerivative(b, wheat) / p[wheat]
		if math.Abs(rk-rw) > 1e-9*math.Max(rk, rw) {
			t.Fatalf("marginal output per price differs: %v vs %v", rk, rw)
		}
	})
}

func TestProperty_IterativeBundleIsFinite(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		o := New(WithRecorder(&causes{}), WithIterations(rapid.IntRange(1, 50).Draw(t, "iterations")))
		var orders []model.Order
		n := rapid.IntRange(0, 5).Draw(t, "orders")
		price := rapid.SampledFrom([]float64{0, 0.1}).Draw(t, "first_price")
		for i := range n {
			price += rapid.Float64Range(0, 3).Draw(t, "step")
			orders = append(orders, model.Order{
				ID:           uint64(i + 1),
				PricePerUnit: price,
				Amount:       rapid.Float64Range(0.1, 10).Draw(t, "amount"),
			})
		}
		market := pricefn.NewMarket(orders)
		prices := map[model.GoodType]pricefn.PriceFunction{
			kw:    market,
			wheat: pricefn.NewFixed(rapid.Float64Range(0.1, 5).Draw(t, "price_wheat")),
		}
		budget := rapid.Float64Range(0.01, 100).Draw(t, "budget")

		b, _ := o.iterate(cobbDouglas(t), prices, budget, nil)
		for g, x := range b {
			if math.IsNaN(x) || x < 0 {
				t.Fatalf("%s planned %v", g, x)
			}
		}
		if depth := market.Depth(); b[kw] > depth+1e-9 {
			t.Fatalf("planned %v KILOWATT, the market holds %v", b[kw], depth)
		}
	})
}
