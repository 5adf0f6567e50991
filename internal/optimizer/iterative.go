package optimizer

import (
	"math"

	"github.com/uwol/computational-economy-sub002/internal/convex"
	"github.com/uwol/computational-economy-sub002/internal/invariant"
	"github.com/uwol/computational-economy-sub002/internal/model"
	"github.com/uwol/computational-economy-sub002/internal/pricefn"
)

// stopGuard may end the climb before the next purchase. purchased excludes
// the seed; score is the marginal output per money of the chosen input.
type stopGuard func(purchased model.Bundle, score float64) (Cause, bool)

// iterate spends budget in slices of budget/(inputs·iterations), each on the
// input with the highest partial derivative per marginal price. Inputs whose
// marginal price is NaN (sold out) are never chosen. Free inputs (marginal
// price 0) score +Inf and cost nothing; at most maxFreeSteps steps go to them.
// No step crosses into the next price interval of its input.
func (o *Optimizer) iterate(fn convex.Function, prices map[model.GoodType]pricefn.PriceFunction,
	budget float64, guard stopGuard) (model.Bundle, Cause) {
	inputs := fn.InputTypes()
	if len(inputs) == 0 {
		return model.Bundle{}, CauseNoInputAvailable
	}

	purchased := zeroBundle(inputs)
	seed := 0.0
	if fn.NeedsAllInputsNonZero() || !climbable(fn, inputs, purchased) {
		seed = seedAmount
	}
	// bundle is what the function is evaluated at, purchased what is bought.
	bundle := make(model.Bundle, len(inputs))
	intervals := make(map[model.GoodType][]pricefn.Interval, len(inputs))
	for _, in := range inputs {
		bundle[in] = seed
		if pf := prices[in]; pf != nil {
			intervals[in] = pf.AnalyticalPriceFunctionParameters(math.Inf(1))
		}
	}

	totalSlices := len(inputs) * o.iterations
	slice := budget / float64(totalSlices)
	maxSteps := 4*totalSlices + maxFreeSteps
	spent := 0.0
	freeSteps := 0
	cause := CauseBudgetPlanned

	for step := 0; step < maxSteps; step++ {
		if !invariant.LessOrEqual(spent+slice, budget) {
			break
		}

		best, price, score, ok := bestInput(fn, prices, inputs, bundle, purchased, freeSteps < maxFreeSteps)
		if !ok {
			cause = CauseNoInputAvailable
			break
		}
		if guard != nil {
			if c, stop := guard(purchased, score); stop {
				cause = c
				break
			}
		}

		// Capping at the current amount keeps one step from overshooting
		// when the price is very low.
		limit := math.Max(bundle[best], seed)
		switch {
		case limit > 0:
		case price > 0:
			limit = slice / price
		default:
			limit = seedAmount
		}
		amount := math.Min(limit, intervalEnd(intervals[best], purchased[best])-purchased[best])
		if price > 0 {
			amount = math.Min(amount, slice/price)
		} else {
			freeSteps++
		}

		bundle[best] += amount
		purchased[best] += amount
		spent += amount * price
	}

	if err := checkBundle(PathIterative, purchased, spent, budget); err != nil {
		return zeroBundle(inputs), cause
	}
	return purchased, cause
}

// intervalEnd returns the right boundary of the price interval x lies in,
// +Inf when no interval holds x.
func intervalEnd(intervals []pricefn.Interval, x float64) float64 {
	for _, iv := range intervals {
		if x < iv.RightBoundary {
			return iv.RightBoundary
		}
	}
	return math.Inf(1)
}

// climbable reports whether some input has a positive partial derivative at
// bundle. CES functions are flat at the origin and need a seed as well.
func climbable(fn convex.Function, inputs []model.GoodType, bundle model.Bundle) bool {
	for _, in := range inputs {
		if fn.PartialDerivative(bundle, in) > 0 {
			return true
		}
	}
	return false
}

// bestInput returns the input with the highest marginal output per marginal
// price. Marginal prices are evaluated at the purchased amounts. A free input
// with a positive derivative scores +Inf unless allowFree is false.
func bestInput(fn convex.Function, prices map[model.GoodType]pricefn.PriceFunction,
	inputs []model.GoodType, bundle, purchased model.Bundle, allowFree bool) (model.GoodType, float64, float64, bool) {
	var (
		best      model.GoodType
		bestPrice float64
		bestScore = math.Inf(-1)
		found     bool
	)
	for _, in := range inputs {
		pf := prices[in]
		if pf == nil {
			continue
		}
		mp := pf.MarginalPrice(purchased[in])
		if !(mp >= 0) || math.IsInf(mp, 0) || (mp == 0 && !allowFree) {
			continue
		}
		d := fn.PartialDerivative(bundle, in)
		if !(d > 0) {
			continue
		}
		score := math.Inf(1)
		if mp > 0 {
			score = d / mp
		}
		if score > bestScore {
			best, bestPrice, bestScore, found = in, mp, score, true
		}
	}
	return best, bestPrice, bestScore, found
}
