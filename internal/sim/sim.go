// Package sim runs a small closed economy on top of the market core.
// Households sell labour hours and buy consumer goods; factories buy labour
// and sell what they produce. Money only moves through settlements, so the
// total money supply is constant.
//
// Each tick has three phases: sellers post offers, buyers plan and buy,
// then every pricing behaviour closes its period. Within a phase agents act
// in an order shuffled by a seeded source, so a run is reproducible.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/uwol/computational-economy-sub002/internal/behaviour"
	"github.com/uwol/computational-economy-sub002/internal/convex"
	"github.com/uwol/computational-economy-sub002/internal/ledger"
	"github.com/uwol/computational-economy-sub002/internal/market"
	"github.com/uwol/computational-economy-sub002/internal/model"
	"github.com/uwol/computational-economy-sub002/internal/orderbook"
	"github.com/uwol/computational-economy-sub002/internal/settlement"
)

var ErrInvalidConfig = errors.New("sim: invalid configuration")

// Config sizes a simulation.
type Config struct {
	Seed       int64
	Ticks      int
	Households int
	Factories  int
	Currency   model.Currency

	HouseholdBalance float64
	FactoryBalance   float64
	// LabourHours is what every household can sell per tick.
	LabourHours float64
	// InterestRate discounts household budgets.
	InterestRate float64
}

// DefaultConfig returns a small economy in euro.
func DefaultConfig() Config {
	return Config{
		Seed:             42,
		Ticks:            240,
		Households:       20,
		Factories:        4,
		Currency:         model.CurrencyEuro,
		HouseholdBalance: 100,
		FactoryBalance:   200,
		LabourHours:      8,
		InterestRate:     0.02,
	}
}

func (c Config) validate() error {
	switch {
	case c.Ticks < 0:
		return fmt.Errorf("%w: ticks %d", ErrInvalidConfig, c.Ticks)
	case c.Households < 1 || c.Factories < 1:
		return fmt.Errorf("%w: need at least one household and one factory", ErrInvalidConfig)
	case c.Currency == "":
		return fmt.Errorf("%w: currency is required", ErrInvalidConfig)
	case !(c.LabourHours > 0) || !(c.InterestRate > -1):
		return fmt.Errorf("%w: labour hours %v interest %v", ErrInvalidConfig, c.LabourHours, c.InterestRate)
	}
	return nil
}

// consumerGoods are produced by factories, alternating by index.
var consumerGoods = []model.GoodType{model.GoodWheat, model.GoodKilowatt}

var tradedGoods = []model.GoodType{model.GoodWheat, model.GoodKilowatt, model.GoodLabourHour}

// agent is one actor of the economy.
type agent interface {
	id() model.AgentID
	offer(ctx context.Context, e *Economy) error
	buy(ctx context.Context, e *Economy) error
	closePeriod()
}

// Economy is a running simulation.
type Economy struct {
	cfg       Config
	market    *market.Service
	bank      *ledger.Bank
	inventory *ledger.Inventory
	rng       *rand.Rand

	households []*Household
	factories  []*Factory
	tick       int
}

// New sets up cfg.Households households and cfg.Factories factories trading
// through mkt. bank and inventory must be the collaborators mkt settles
// with.
func New(cfg Config, mkt *market.Service, bank *ledger.Bank, inventory *ledger.Inventory) (*Economy, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e := &Economy{
		cfg:       cfg,
		market:    mkt,
		bank:      bank,
		inventory: inventory,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
	}

	utility, err := convex.NewCobbDouglas(1, map[model.GoodType]float64{
		model.GoodWheat:    0.5,
		model.GoodKilowatt: 0.5,
	})
	if err != nil {
		return nil, err
	}
	for i := range cfg.Households {
		h, err := newHousehold(e, model.AgentID(fmt.Sprintf("household-%d", i)), utility)
		if err != nil {
			return nil, err
		}
		e.households = append(e.households, h)
	}
	for i := range cfg.Factories {
		good := consumerGoods[i%len(consumerGoods)]
		f, err := newFactory(e, model.AgentID(fmt.Sprintf("factory-%d", i)), good)
		if err != nil {
			return nil, err
		}
		e.factories = append(e.factories, f)
	}
	return e, nil
}

func (e *Economy) goodsMarket(g model.GoodType) model.MarketKey {
	return model.MarketKey{Currency: e.cfg.Currency, Commodity: model.Good(g)}
}

// agents returns all agents in a freshly shuffled order.
func (e *Economy) agents() []agent {
	all := make([]agent, 0, len(e.households)+len(e.factories))
	for _, h := range e.households {
		all = append(all, h)
	}
	for _, f := range e.factories {
		all = append(all, f)
	}
	e.rng.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	return all
}

// TickReport summarizes one tick.
type TickReport struct {
	Tick           int                        `json:"tick"`
	Settlements    int                        `json:"settlements"`
	Consumed       model.Bundle               `json:"consumed"`
	Produced       model.Bundle               `json:"produced"`
	Employment     float64                    `json:"employment"`
	MarginalPrices map[model.GoodType]float64 `json:"-"`
}

// Step runs one tick.
func (e *Economy) Step(ctx context.Context) (TickReport, error) {
	e.tick++
	rep := TickReport{
		Tick:           e.tick,
		Consumed:       model.Bundle{},
		Produced:       model.Bundle{},
		MarginalPrices: make(map[model.GoodType]float64),
	}
	before := e.settlementCount(ctx)

	for _, a := range e.agents() {
		if err := a.offer(ctx, e); err != nil {
			return rep, fmt.Errorf("tick %d: %s offer: %w", e.tick, a.id(), err)
		}
	}
	for _, g := range tradedGoods {
		rep.MarginalPrices[g] = e.market.GetMarginalPrice(e.cfg.Currency, model.Good(g))
	}
	for _, a := range e.agents() {
		if err := a.buy(ctx, e); err != nil {
			return rep, fmt.Errorf("tick %d: %s buy: %w", e.tick, a.id(), err)
		}
	}
	for _, a := range e.agents() {
		a.closePeriod()
	}

	for _, h := range e.households {
		for g, v := range h.lastConsumed {
			rep.Consumed[g] += v
		}
	}
	for _, f := range e.factories {
		rep.Produced[f.good] += f.lastProduced
		rep.Employment += f.lastLabour
	}
	rep.Settlements = e.settlementCount(ctx) - before

	slog.Info("tick completed",
		"tick", rep.Tick,
		"settlements", rep.Settlements,
		"employment", rep.Employment,
		"wheat_price", rep.MarginalPrices[model.GoodWheat],
		"kilowatt_price", rep.MarginalPrices[model.GoodKilowatt],
		"labour_price", rep.MarginalPrices[model.GoodLabourHour],
	)
	return rep, nil
}

// Run steps through the configured number of ticks or until ctx is done.
func (e *Economy) Run(ctx context.Context) ([]TickReport, error) {
	reports := make([]TickReport, 0, e.cfg.Ticks)
	for range e.cfg.Ticks {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		rep, err := e.Step(ctx)
		if err != nil {
			return reports, err
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

// MoneySupply returns the sum of all agents' balances.
func (e *Economy) MoneySupply() float64 {
	total := 0.0
	for _, h := range e.households {
		b, _ := e.bank.Balance(h.account)
		total += b
	}
	for _, f := range e.factories {
		b, _ := e.bank.Balance(f.account)
		total += b
	}
	return total
}

func (e *Economy) settlementCount(ctx context.Context) int {
	n := 0
	for _, g := range tradedGoods {
		history, err := e.market.History(ctx, e.goodsMarket(g))
		if err != nil {
			slog.Warn("failed to read market history", "market", e.goodsMarket(g).String(), "error", err)
			continue
		}
		n += len(history)
	}
	return n
}

// buyBundle buys every positive entry of bundle within budget and returns
// what was bought and spent.
func (e *Economy) buyBundle(ctx context.Context, buyer model.AgentID, account model.AccountID, bundle model.Bundle, inputs []model.GoodType, budget float64) (model.Bundle, float64, error) {
	bought := model.Bundle{}
	spent := 0.0
	for _, g := range inputs {
		amount := bundle[g]
		if !(amount > 0) || !(budget-spent > 0) {
			continue
		}
		res, err := e.market.Buy(ctx, e.goodsMarket(g), settlement.Request{
			Constraints: orderbook.Constraints{
				MaxAmount:       amount,
				MaxTotalPrice:   budget - spent,
				MaxPricePerUnit: math.Inf(1),
			},
			Buyer:   buyer,
			Account: account,
		})
		if err != nil {
			return bought, spent, err
		}
		bought[g] += res.Amount
		spent += res.Spent
	}
	return bought, spent, nil
}

// newPricing creates a pricing behaviour for seller in key and subscribes it
// to the seller's settlements.
func (e *Economy) newPricing(seller model.AgentID, key model.MarketKey, price float64) (*behaviour.Pricing, error) {
	p, err := behaviour.NewPricing(seller, key, price, 0.05, 12)
	if err != nil {
		return nil, err
	}
	e.market.RegisterListener(seller, key, p)
	return p, nil
}
