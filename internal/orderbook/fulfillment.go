package orderbook

import (
	"log/slog"
	"math"

	"github.com/uwol/computational-economy-sub002/internal/invariant"
	"github.com/uwol/computational-economy-sub002/internal/model"
)

// Constraints bound a buy request. +Inf or NaN leaves a bound unrestricted.
type Constraints struct {
	MaxAmount       float64 `json:"max_amount"`
	MaxTotalPrice   float64 `json:"max_total_price"`
	MaxPricePerUnit float64 `json:"max_price_per_unit"`
}

// Unrestricted returns constraints without any bound.
func Unrestricted() Constraints {
	inf := math.Inf(1)
	return Constraints{MaxAmount: inf, MaxTotalPrice: inf, MaxPricePerUnit: inf}
}

func restricted(v float64) bool {
	return !math.IsInf(v, 1) && !math.IsNaN(v)
}

// FulfillmentSet is the ordered selection for one buy request, cheapest
// order first. It is consumed exactly once by settlement.
type FulfillmentSet struct {
	Fills       []model.Fill `json:"fills"`
	TotalAmount float64      `json:"total_amount"`
	TotalPrice  float64      `json:"total_price"`
}

// FindBestFulfillmentSet walks the book from the cheapest order and takes
// from each as much as every active constraint allows. It stops at the first
// order above the price cap or as soon as nothing more can be taken.
// Property orders are taken whole or not at all.
func (tx *Tx) FindBestFulfillmentSet(c Constraints) (FulfillmentSet, error) {
	amountRestricted := restricted(c.MaxAmount)
	totalPriceRestricted := restricted(c.MaxTotalPrice)
	pricePerUnitRestricted := restricted(c.MaxPricePerUnit)
	indivisible := tx.b.key.Commodity.Kind == model.KindProperty

	var set FulfillmentSet
	for _, o := range tx.b.orders {
		if pricePerUnitRestricted && o.PricePerUnit > c.MaxPricePerUnit {
			break
		}

		amount := o.Amount
		if amountRestricted {
			amount = math.Min(amount, math.Max(0, c.MaxAmount-set.TotalAmount))
		}
		if totalPriceRestricted && o.PricePerUnit != 0 {
			amount = math.Min(amount, math.Max(0, (c.MaxTotalPrice-set.TotalPrice)/o.PricePerUnit))
		}
		amount = math.Max(0, amount)

		if math.IsNaN(amount) || math.IsInf(amount, 0) {
			return set, invariant.Check(false, "fulfillment_amount_finite",
				"order %d yields amount %v", o.ID, amount)
		}
		if indivisible {
			if !invariant.LessOrEqual(1, amount) {
				break
			}
			amount = 1
		}
		if amount <= 0 {
			break
		}

		set.Fills = append(set.Fills, model.Fill{Order: o, Amount: amount})
		set.TotalAmount += amount
		set.TotalPrice += amount * o.PricePerUnit
		if amount < o.Amount {
			// A binding constraint is exhausted.
			break
		}
	}

	if err := checkFulfillment(c, set); err != nil {
		return FulfillmentSet{}, err
	}

	slog.Debug("fulfillment set selected",
		"market", tx.b.key.String(),
		"orders", len(set.Fills),
		"amount", set.TotalAmount,
		"total_price", set.TotalPrice,
	)
	return set, nil
}

// checkFulfillment asserts the post-conditions of the selection.
func checkFulfillment(c Constraints, set FulfillmentSet) error {
	if restricted(c.MaxAmount) {
		if err := invariant.Check(invariant.LessOrEqual(set.TotalAmount, c.MaxAmount),
			"fulfillment_max_amount", "selected %v > max amount %v", set.TotalAmount, c.MaxAmount); err != nil {
			return err
		}
	}
	if restricted(c.MaxTotalPrice) {
		if err := invariant.Check(invariant.LessOrEqual(set.TotalPrice, c.MaxTotalPrice),
			"fulfillment_max_total_price", "spent %v > max total price %v", set.TotalPrice, c.MaxTotalPrice); err != nil {
			return err
		}
	}
	prev := math.Inf(-1)
	for _, f := range set.Fills {
		if restricted(c.MaxPricePerUnit) {
			if err := invariant.Check(f.Order.PricePerUnit <= c.MaxPricePerUnit,
				"fulfillment_price_cap", "order %d price %v > cap %v",
				f.Order.ID, f.Order.PricePerUnit, c.MaxPricePerUnit); err != nil {
				return err
			}
		}
		if err := invariant.Check(f.Order.PricePerUnit >= prev,
			"fulfillment_ascending", "order %d price %v after %v",
			f.Order.ID, f.Order.PricePerUnit, prev); err != nil {
			return err
		}
		prev = f.Order.PricePerUnit
	}
	return nil
}
