package sim

import (
	"context"
	"fmt"

	"github.com/uwol/computational-economy-sub002/internal/behaviour"
	"github.com/uwol/computational-economy-sub002/internal/convex"
	"github.com/uwol/computational-economy-sub002/internal/market"
	"github.com/uwol/computational-economy-sub002/internal/model"
)

// Household sells its labour hours and spends part of its balance on the
// bundle of consumer goods maximizing its utility.
type Household struct {
	agentID   model.AgentID
	account   model.AccountID
	utility   convex.Function
	budgeting *behaviour.Budgeting
	wage      *behaviour.Pricing

	lastConsumed model.Bundle
}

func newHousehold(e *Economy, id model.AgentID, utility convex.Function) (*Household, error) {
	acct, err := e.bank.Open(id, e.cfg.Currency, e.cfg.HouseholdBalance)
	if err != nil {
		return nil, err
	}
	balance := func() (float64, error) { return e.bank.Balance(acct.ID) }
	budgeting, err := behaviour.NewBudgeting(e.cfg.Currency, balance, 0.8)
	if err != nil {
		return nil, err
	}
	wage, err := e.newPricing(id, e.goodsMarket(model.GoodLabourHour), 1)
	if err != nil {
		return nil, err
	}
	return &Household{
		agentID:   id,
		account:   acct.ID,
		utility:   utility,
		budgeting: budgeting,
		wage:      wage,
	}, nil
}

func (h *Household) id() model.AgentID { return h.agentID }

// offer replaces yesterday's unsold labour with today's hours.
func (h *Household) offer(ctx context.Context, e *Economy) error {
	e.market.RemoveAllSellingOffers(ctx, h.agentID, market.Scope{Commodity: model.Good(model.GoodLabourHour)})
	if left := e.inventory.Amount(h.agentID, model.GoodLabourHour); left > 0 {
		if err := e.inventory.Consume(h.agentID, model.GoodLabourHour, left); err != nil {
			return err
		}
	}
	if err := e.inventory.Add(h.agentID, model.GoodLabourHour, e.cfg.LabourHours); err != nil {
		return err
	}
	if _, err := e.market.PlaceSellingOffer(ctx, market.Offer{
		Market:       e.goodsMarket(model.GoodLabourHour),
		Offeror:      h.agentID,
		Account:      h.account,
		Amount:       e.cfg.LabourHours,
		PricePerUnit: h.wage.Price(),
	}); err != nil {
		return err
	}
	h.wage.RecordOffered(e.cfg.LabourHours)
	return nil
}

// buy plans the utility-maximizing bundle, buys it and consumes it.
func (h *Household) buy(ctx context.Context, e *Economy) error {
	budget, err := h.budgeting.Budget(e.cfg.InterestRate)
	if err != nil {
		return err
	}
	plan := e.market.CalculateOutputMaximizingInputs(h.utility, e.cfg.Currency, budget)
	bought, _, err := e.buyBundle(ctx, h.agentID, h.account, plan, h.utility.InputTypes(), budget)
	if err != nil {
		return err
	}
	for g, v := range bought {
		if v > 0 {
			if err := e.inventory.Consume(h.agentID, g, v); err != nil {
				return fmt.Errorf("consume %s: %w", g, err)
			}
		}
	}
	h.lastConsumed = bought
	return nil
}

func (h *Household) closePeriod() { h.wage.NextPeriod() }

// Factory buys labour up to the point where one more unit of output costs
// more than it sells for, produces one good and offers its whole stock.
type Factory struct {
	agentID    model.AgentID
	account    model.AccountID
	good       model.GoodType
	production convex.Function
	capacity   float64
	pricing    *behaviour.Pricing

	lastLabour   float64
	lastProduced float64
}

func newFactory(e *Economy, id model.AgentID, good model.GoodType) (*Factory, error) {
	acct, err := e.bank.Open(id, e.cfg.Currency, e.cfg.FactoryBalance)
	if err != nil {
		return nil, err
	}
	production, err := convex.NewRoot(model.GoodLabourHour, 10)
	if err != nil {
		return nil, err
	}
	pricing, err := e.newPricing(id, e.goodsMarket(good), 2)
	if err != nil {
		return nil, err
	}
	return &Factory{
		agentID:    id,
		account:    acct.ID,
		good:       good,
		production: production,
		capacity:   100,
		pricing:    pricing,
	}, nil
}

func (f *Factory) id() model.AgentID { return f.agentID }

// offer re-posts the whole stock at the current price.
func (f *Factory) offer(ctx context.Context, e *Economy) error {
	key := e.goodsMarket(f.good)
	e.market.RemoveAllSellingOffers(ctx, f.agentID, market.Scope{Commodity: key.Commodity})
	stock := e.inventory.Amount(f.agentID, f.good)
	if !(stock > 0) {
		return nil
	}
	if _, err := e.market.PlaceSellingOffer(ctx, market.Offer{
		Market:       key,
		Offeror:      f.agentID,
		Account:      f.account,
		Amount:       stock,
		PricePerUnit: f.pricing.Price(),
	}); err != nil {
		return err
	}
	f.pricing.RecordOffered(stock)
	return nil
}

// buy hires labour and turns it into output for the next tick.
func (f *Factory) buy(ctx context.Context, e *Economy) error {
	budget, err := e.bank.Balance(f.account)
	if err != nil {
		return err
	}
	maxOutput := f.capacity - e.inventory.Amount(f.agentID, f.good)
	plan := e.market.CalculateProfitMaximizingInputs(f.production, e.cfg.Currency, f.pricing.Price(), budget, maxOutput)
	bought, _, err := e.buyBundle(ctx, f.agentID, f.account, plan, f.production.InputTypes(), budget)
	if err != nil {
		return err
	}

	labour := bought[model.GoodLabourHour]
	output := f.production.F(bought)
	if labour > 0 {
		if err := e.inventory.Consume(f.agentID, model.GoodLabourHour, labour); err != nil {
			return err
		}
	}
	if output > 0 {
		if err := e.inventory.Add(f.agentID, f.good, output); err != nil {
			return err
		}
	}
	f.lastLabour, f.lastProduced = labour, output
	return nil
}

func (f *Factory) closePeriod() { f.pricing.NextPeriod() }
