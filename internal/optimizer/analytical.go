package optimizer

import (
	"log/slog"
	"math"

	"github.com/uwol/computational-economy-sub002/internal/convex"
	"github.com/uwol/computational-economy-sub002/internal/model"
	"github.com/uwol/computational-economy-sub002/internal/pricefn"
)

// assignmentSearch looks for one price interval per input such that the
// closed-form optimum under those intervals' linear costs lands inside every
// assumed interval.
type assignmentSearch struct {
	fn         convex.ConvexFunction
	inputs     []model.GoodType
	candidates [][]pricefn.Interval
	chosen     []pricefn.Interval
	budget     float64
	leaves     int

	// kink holds the first solution that stops at the end of a free
	// interval while priced supply follows. It is used when no leaf puts an
	// optimum strictly inside its intervals.
	kink solution
}

// solution is the outcome of the search. found distinguishes "no consistent
// assignment" from an assignment that is still being built.
type solution struct {
	bundle model.Bundle
	cost   map[model.GoodType]float64
	found  bool
}

// analytical returns the closed-form optimum, or ok == false when the prices
// admit no consistent interval assignment.
func (o *Optimizer) analytical(fn convex.ConvexFunction, prices map[model.GoodType]pricefn.PriceFunction,
	budget float64) (model.Bundle, bool) {
	inputs := fn.InputTypes()
	candidates := make([][]pricefn.Interval, len(inputs))
	for i, in := range inputs {
		pf := prices[in]
		if pf == nil {
			return nil, false
		}
		intervals := pf.AnalyticalPriceFunctionParameters(budget)
		if len(intervals) == 0 {
			return nil, false
		}
		if err := pricefn.CheckContinuity(intervals); err != nil {
			return nil, false
		}
		candidates[i] = intervals
	}

	s := &assignmentSearch{
		fn:         fn,
		inputs:     inputs,
		candidates: candidates,
		chosen:     make([]pricefn.Interval, len(inputs)),
		budget:     budget,
	}
	sol := s.assign(0)
	if !sol.found {
		sol = s.kink
	}
	if !sol.found {
		return nil, false
	}

	spent := 0.0
	for _, in := range inputs {
		spent += sol.cost[in]
	}
	if err := checkBundle(PathAnalytical, sol.bundle, spent, budget); err != nil {
		return nil, false
	}
	return sol.bundle, true
}

// assign fixes the interval of inputs[depth] and recurses. It backtracks to
// the next interval whenever the optimum below falls outside an assumption.
func (s *assignmentSearch) assign(depth int) solution {
	if depth == len(s.inputs) {
		return s.leaf()
	}
	for _, iv := range s.candidates[depth] {
		if s.leaves >= maxAnalyticalLeaves {
			slog.Warn("analytical search exhausted", "inputs", s.inputs, "leaves", s.leaves)
			return solution{}
		}
		s.chosen[depth] = iv
		if sol := s.assign(depth + 1); sol.found {
			return sol
		}
	}
	return solution{}
}

func (s *assignmentSearch) leaf() solution {
	s.leaves++
	costs := make(map[model.GoodType]convex.LinearCost, len(s.inputs))
	for i, in := range s.inputs {
		costs[in] = s.chosen[i].LinearCost()
	}
	bundle, ok := s.fn.OptimalBundle(costs, s.budget)
	if !ok {
		return solution{}
	}

	// Free inputs are taken up to the end of their interval. An unbounded
	// free interval has no finite optimum.
	atKink := false
	for i, in := range s.inputs {
		iv := s.chosen[i]
		if iv.CoefficientXPower0 != 0 {
			continue
		}
		if math.IsInf(iv.RightBoundary, 0) {
			return solution{}
		}
		bundle[in] = iv.RightBoundary
		if last := s.candidates[i][len(s.candidates[i])-1]; last.RightBoundary > iv.RightBoundary {
			atKink = true
		}
	}

	cost := make(map[model.GoodType]float64, len(s.inputs))
	for i, in := range s.inputs {
		if !s.chosen[i].Contains(bundle[in]) {
			return solution{}
		}
		cost[in] = costs[in].Total(bundle[in])
	}
	sol := solution{bundle: bundle, cost: cost, found: true}
	if atKink {
		if !s.kink.found {
			s.kink = sol
		}
		return solution{}
	}
	return sol
}
