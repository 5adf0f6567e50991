// Package optimizer computes output-maximizing input bundles for utility and
// production functions under a budget, given one price function per input.
//
// Cobb-Douglas and CES functions are solved analytically by searching for
// the price interval each input's optimum falls into. Everything else, and
// every problem without a consistent analytical solution, falls back to an
// iterative hill climb that spends the budget in small slices on the input
// with the highest marginal output per marginal price.
//
// Running out of budget or supply is an ordinary outcome: the optimizer
// returns a zero or partial bundle and records the termination cause. A NaN
// or +Inf budget plans nothing and is recorded as INVALID_BUDGET.
//
// Inputs priced at zero are free. The optimizer takes all the free supply of
// a market; free supply without limit is taken up to a bounded amount.
package optimizer

import (
	"log/slog"
	"math"
	"time"

	"github.com/uwol/computational-economy-sub002/internal/convex"
	"github.com/uwol/computational-economy-sub002/internal/invariant"
	"github.com/uwol/computational-economy-sub002/internal/metrics"
	"github.com/uwol/computational-economy-sub002/internal/model"
	"github.com/uwol/computational-economy-sub002/internal/pricefn"
)

// Cause records why an optimization terminated.
type Cause string

const (
	CauseBudgetPlanned               Cause = "BUDGET_PLANNED"
	CauseNoInputAvailable            Cause = "NO_INPUT_AVAILABLE"
	CauseInputFactorUnavailable      Cause = "INPUT_FACTOR_UNAVAILABLE"
	CauseMarginalRevenueExceeded     Cause = "MARGINAL_REVENUE_EXCEEDED"
	CauseMaxOutputExceeded           Cause = "MAX_OUTPUT_EXCEEDED"
	CauseEstimatedRevenuePerUnitZero Cause = "ESTIMATED_REVENUE_PER_UNIT_ZERO"
	CauseInvalidBudget               Cause = "INVALID_BUDGET"
)

// Termination paths.
const (
	PathPrecheck   = "precheck"
	PathAnalytical = "analytical"
	PathIterative  = "iterative"
	PathProduction = "production"
)

const (
	// DefaultIterations is the number of budget slices per input.
	DefaultIterations = 500

	// seedAmount bootstraps functions that yield nothing while any input is
	// zero. It is removed from the result.
	seedAmount = 1e-7

	// maxAnalyticalLeaves bounds the interval combinations tried before the
	// analytical search gives up.
	maxAnalyticalLeaves = 100_000

	// maxFreeSteps bounds the iterative steps spent on free inputs. Each
	// such step at most doubles the amount, so free supply without limit
	// ends at about seedAmount·2^64.
	maxFreeSteps = 64
)

// Recorder observes termination causes.
type Recorder interface {
	Record(path string, cause Cause)
}

type metricsRecorder struct{}

func (metricsRecorder) Record(path string, cause Cause) {
	metrics.OptimizerTerminations.WithLabelValues(path, string(cause)).Inc()
	slog.Debug("optimizer terminated", "path", path, "cause", cause)
}

// Optimizer is stateless across calls and safe for concurrent use.
type Optimizer struct {
	iterations int
	recorder   Recorder
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithIterations sets the number of budget slices per input of the
// iterative path. Values below 1 are ignored.
func WithIterations(n int) Option {
	return func(o *Optimizer) {
		if n >= 1 {
			o.iterations = n
		}
	}
}

// WithRecorder replaces the default metrics and log recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Optimizer) { o.recorder = r }
}

// New creates an optimizer.
func New(opts ...Option) *Optimizer {
	o := &Optimizer{
		iterations: DefaultIterations,
		recorder:   metricsRecorder{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CallOption adjusts a single optimization.
type CallOption func(*call)

type call struct {
	inventory model.Bundle
}

// WithInventory supplies inputs the agent already holds. An input without a
// price is only fatal to functions needing every input when the agent holds
// none of it.
func WithInventory(inventory model.Bundle) CallOption {
	return func(c *call) { c.inventory = inventory }
}

func (o *Optimizer) record(path string, cause Cause, start time.Time) {
	metrics.OptimizerLatency.WithLabelValues(path).Observe(time.Since(start).Seconds())
	o.recorder.Record(path, cause)
}

// CalculateOutputMaximizingInputs returns the bundle maximizing fn whose
// cost under prices does not exceed budget. It never returns NaN amounts.
func (o *Optimizer) CalculateOutputMaximizingInputs(
	fn convex.Function,
	prices map[model.GoodType]pricefn.PriceFunction,
	budget float64,
	opts ...CallOption,
) model.Bundle {
	start := time.Now()
	c := applyCall(opts)

	if bundle, cause, done := precheck(fn, prices, budget, c); done {
		o.record(PathPrecheck, cause, start)
		return bundle
	}

	if cf, ok := fn.(convex.ConvexFunction); ok {
		if bundle, ok := o.analytical(cf, prices, budget); ok {
			o.record(PathAnalytical, CauseBudgetPlanned, start)
			return bundle
		}
		slog.Debug("no analytical solution, iterating", "inputs", fn.InputTypes(), "budget", budget)
	}

	bundle, cause := o.iterate(fn, prices, budget, nil)
	o.record(PathIterative, cause, start)
	return bundle
}

// CalculateProfitMaximizingInputs plans production inputs. It climbs like
// the iterative path but stops once producing one more unit would cost more
// than revenuePerUnit, or once the output reaches maxOutput.
func (o *Optimizer) CalculateProfitMaximizingInputs(
	fn convex.Function,
	prices map[model.GoodType]pricefn.PriceFunction,
	revenuePerUnit float64,
	budget float64,
	maxOutput float64,
	opts ...CallOption,
) model.Bundle {
	start := time.Now()
	c := applyCall(opts)

	if !(revenuePerUnit > 0) {
		o.record(PathPrecheck, CauseEstimatedRevenuePerUnitZero, start)
		return zeroBundle(fn.InputTypes())
	}
	if bundle, cause, done := precheck(fn, prices, budget, c); done {
		o.record(PathPrecheck, cause, start)
		return bundle
	}

	guard := func(purchased model.Bundle, score float64) (Cause, bool) {
		if !(maxOutput > 0) || fn.F(purchased) >= maxOutput {
			return CauseMaxOutputExceeded, true
		}
		// score is output per money, its inverse the marginal cost of output.
		if score <= 0 || 1/score > revenuePerUnit {
			return CauseMarginalRevenueExceeded, true
		}
		return "", false
	}

	bundle, cause := o.iterate(fn, prices, budget, guard)
	o.record(PathProduction, cause, start)
	return bundle
}

func applyCall(opts []CallOption) call {
	var c call
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// precheck handles the terminal states that need no search.
func precheck(fn convex.Function, prices map[model.GoodType]pricefn.PriceFunction,
	budget float64, c call) (model.Bundle, Cause, bool) {
	inputs := fn.InputTypes()
	if math.IsNaN(budget) || math.IsInf(budget, 1) {
		slog.Warn("optimizer budget must be finite", "budget", budget)
		return zeroBundle(inputs), CauseInvalidBudget, true
	}
	if !(budget > 0) {
		return zeroBundle(inputs), CauseBudgetPlanned, true
	}
	if fn.NeedsAllInputsNonZero() {
		for _, in := range inputs {
			if unavailable(prices[in]) && !(c.inventory[in] > 0) {
				slog.Debug("input factor unavailable", "input", in)
				return zeroBundle(inputs), CauseInputFactorUnavailable, true
			}
		}
	}
	return nil, "", false
}

func unavailable(pf pricefn.PriceFunction) bool {
	return pf == nil || math.IsNaN(pf.MarginalPrice(0))
}

func zeroBundle(inputs []model.GoodType) model.Bundle {
	b := make(model.Bundle, len(inputs))
	for _, in := range inputs {
		b[in] = 0
	}
	return b
}

// checkBundle asserts that a planned bundle is usable by callers.
func checkBundle(path string, bundle model.Bundle, spent, budget float64) error {
	for in, x := range bundle {
		if err := invariant.Check(x >= 0 && !math.IsInf(x, 0), "optimizer_amount_finite",
			"%s planned %v of %s", path, x, in); err != nil {
			return err
		}
	}
	return invariant.Check(invariant.LessOrEqual(spent, budget), "optimizer_budget",
		"%s spent %v of budget %v", path, spent, budget)
}
