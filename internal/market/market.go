// Package market is the entry point agents use to trade: it owns the order
// books of every market, settles purchases against them, derives price
// functions from them and plans input bundles. Every book mutation is
// followed by a market snapshot, and every settled order by a settlement
// record, both written to the store and published as events.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uwol/computational-economy-sub002/internal/convex"
	"github.com/uwol/computational-economy-sub002/internal/events"
	"github.com/uwol/computational-economy-sub002/internal/model"
	"github.com/uwol/computational-economy-sub002/internal/optimizer"
	"github.com/uwol/computational-economy-sub002/internal/orderbook"
	"github.com/uwol/computational-economy-sub002/internal/pricefn"
	"github.com/uwol/computational-economy-sub002/internal/settlement"
	"github.com/uwol/computational-economy-sub002/internal/store"
)

var (
	ErrInvalidCommodity = errors.New("market: invalid commodity key")
	ErrAuthentication   = errors.New("market: offeror cannot authenticate against the counter-currency account")
	ErrOfferAccount     = errors.New("market: offer account does not hold the market currency")
)

// Accounts is the settlement-account service the market depends on.
type Accounts interface {
	settlement.Accounts
	// Authenticate fails unless owner holds account id.
	Authenticate(id model.AccountID, owner model.AgentID) error
}

// Service is the market facade.
type Service struct {
	books     *orderbook.Registry
	engine    *settlement.Engine
	accounts  Accounts
	optimizer *optimizer.Optimizer
	store     store.Store
	publisher events.Publisher
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithStore persists snapshots and settlement records to st.
func WithStore(st store.Store) Option {
	return func(s *Service) { s.store = st }
}

// WithPublisher publishes snapshots and settlement records to p.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithOptimizer replaces the default demand optimizer.
func WithOptimizer(o *optimizer.Optimizer) Option {
	return func(s *Service) { s.optimizer = o }
}

// New creates a market service settling through accounts and ownership.
// Without options it keeps records in memory and publishes nothing.
func New(accounts Accounts, ownership settlement.Ownership, opts ...Option) *Service {
	s := &Service{
		books:     orderbook.NewRegistry(),
		engine:    settlement.NewEngine(accounts, ownership),
		accounts:  accounts,
		optimizer: optimizer.New(),
		store:     store.NewMemoryStore(),
		publisher: events.Nop{},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Offer is a selling offer to be placed.
type Offer struct {
	Market           model.MarketKey  `json:"market"`
	Offeror          model.AgentID    `json:"offeror"`
	Account          model.AccountID  `json:"account"`
	CommodityAccount model.AccountID  `json:"commodity_account,omitempty"`
	Property         model.PropertyID `json:"property,omitempty"`
	Amount           float64          `json:"amount"`
	PricePerUnit     float64          `json:"price_per_unit"`
}

// PlaceSellingOffer puts an offer into its market's book. It fails on a
// non-positive or NaN amount, a negative or NaN price, on an account that
// does not hold the market currency, and on currency offers whose offeror
// does not own the counter-currency account.
func (s *Service) PlaceSellingOffer(ctx context.Context, offer Offer) (model.Order, error) {
	if !offer.Market.Commodity.Valid() || offer.Market.Currency == "" {
		return model.Order{}, fmt.Errorf("%w: %s", ErrInvalidCommodity, offer.Market)
	}
	if offer.Market.Commodity.Kind == model.KindCurrency {
		if err := s.accounts.Authenticate(offer.CommodityAccount, offer.Offeror); err != nil {
			return model.Order{}, fmt.Errorf("%w: %v", ErrAuthentication, err)
		}
	}
	if offer.Account != "" {
		cur, err := s.accounts.Currency(offer.Account)
		if err != nil {
			return model.Order{}, err
		}
		if cur != offer.Market.Currency {
			return model.Order{}, fmt.Errorf("%w: %s holds %s", ErrOfferAccount, offer.Account, cur)
		}
	}

	book := s.books.Book(offer.Market)
	order, err := book.Place(model.Order{
		Market:           offer.Market,
		Offeror:          offer.Offeror,
		Account:          offer.Account,
		CommodityAccount: offer.CommodityAccount,
		Property:         offer.Property,
		PricePerUnit:     offer.PricePerUnit,
		Amount:           offer.Amount,
	})
	if err != nil {
		return model.Order{}, err
	}

	slog.Info("offer placed",
		"market", offer.Market.String(),
		"order", order.ID,
		"offeror", order.Offeror,
		"amount", order.Amount,
		"price", order.PricePerUnit,
	)
	s.snapshot(ctx, book)
	return order, nil
}

// Scope narrows RemoveAllSellingOffers. Zero fields match everything.
type Scope struct {
	Currency  model.Currency
	Commodity model.CommodityKey
}

func (sc Scope) matches(key model.MarketKey) bool {
	if sc.Currency != "" && sc.Currency != key.Currency {
		return false
	}
	if sc.Commodity != (model.CommodityKey{}) && sc.Commodity != key.Commodity {
		return false
	}
	return true
}

// RemoveAllSellingOffers withdraws every offer of offeror within scope and
// returns the withdrawn orders. Calling it again is a no-op.
func (s *Service) RemoveAllSellingOffers(ctx context.Context, offeror model.AgentID, scope Scope) []model.Order {
	var removed []model.Order
	for _, book := range s.books.Books() {
		if !scope.matches(book.Key()) {
			continue
		}
		gone := book.RemoveAll(func(o model.Order) bool { return o.Offeror == offeror })
		if len(gone) == 0 {
			continue
		}
		removed = append(removed, gone...)
		s.snapshot(ctx, book)
	}
	if len(removed) > 0 {
		slog.Info("offers removed", "offeror", offeror, "count", len(removed))
	}
	return removed
}

// GetMarginalPrice returns the price of the cheapest offer, NaN if the
// market has no supply.
func (s *Service) GetMarginalPrice(currency model.Currency, commodity model.CommodityKey) float64 {
	return s.GetPriceFunction(currency, commodity).MarginalPrice(0)
}

// GetPriceFunction returns the price function of the current supply of a
// market. The function is a snapshot; later offers do not change it.
func (s *Service) GetPriceFunction(currency model.Currency, commodity model.CommodityKey) *pricefn.Market {
	book, ok := s.books.Lookup(model.MarketKey{Currency: currency, Commodity: commodity})
	if !ok {
		return pricefn.NewMarket(nil)
	}
	return pricefn.NewMarket(book.Snapshot())
}

// PriceFunctions returns the price functions of the goods markets for
// goods in currency.
func (s *Service) PriceFunctions(currency model.Currency, goods []model.GoodType) map[model.GoodType]pricefn.PriceFunction {
	out := make(map[model.GoodType]pricefn.PriceFunction, len(goods))
	for _, g := range goods {
		out[g] = s.GetPriceFunction(currency, model.Good(g))
	}
	return out
}

// Orders returns the live orders of a market, cheapest first.
func (s *Service) Orders(key model.MarketKey) []model.Order {
	book, ok := s.books.Lookup(key)
	if !ok {
		return nil
	}
	return book.Snapshot()
}

// FindBestFulfillmentSet previews what a buy with constraints c would take
// from a market without settling it.
func (s *Service) FindBestFulfillmentSet(key model.MarketKey, c orderbook.Constraints) (orderbook.FulfillmentSet, error) {
	book, ok := s.books.Lookup(key)
	if !ok {
		return orderbook.FulfillmentSet{}, nil
	}
	return book.FindBestFulfillmentSet(c)
}

// Buy buys from the cheapest offers of a market within req's constraints.
func (s *Service) Buy(ctx context.Context, key model.MarketKey, req settlement.Request) (settlement.Result, error) {
	return s.buy(ctx, key, req, s.engine.Buy)
}

// BuyProperty buys whole properties from a property market.
func (s *Service) BuyProperty(ctx context.Context, key model.MarketKey, req settlement.Request) (settlement.Result, error) {
	return s.buy(ctx, key, req, s.engine.BuyProperty)
}

type buyFunc func(context.Context, *orderbook.Book, settlement.Request) (settlement.Result, error)

func (s *Service) buy(ctx context.Context, key model.MarketKey, req settlement.Request, fn buyFunc) (settlement.Result, error) {
	if !key.Commodity.Valid() || key.Currency == "" {
		return settlement.Result{}, fmt.Errorf("%w: %s", ErrInvalidCommodity, key)
	}
	book, ok := s.books.Lookup(key)
	if !ok {
		book = orderbook.NewBook(key)
	}

	res, err := fn(ctx, book, req)
	if !res.Changed() {
		return res, err
	}

	// Whatever was settled has moved money and goods; record it even when
	// the attempt failed later or the caller has gone away.
	rctx := context.WithoutCancel(ctx)
	for i := range res.Settlements {
		s.record(rctx, &res.Settlements[i])
	}
	slog.Info("settlement executed",
		"market", key.String(),
		"buyer", req.Buyer,
		"amount", res.Amount,
		"spent", res.Spent,
		"orders", len(res.Settlements),
		"withdrawn", len(res.Withdrawn),
		"cause", res.Cause,
		"error", err,
	)
	s.snapshot(rctx, book)
	return res, err
}

// RegisterListener subscribes l to settlements of seller's orders in
// market. nil unregisters.
func (s *Service) RegisterListener(seller model.AgentID, market model.MarketKey, l settlement.Listener) {
	s.engine.RegisterListener(seller, market, l)
}

// CalculateOutputMaximizingInputs plans the bundle maximizing fn within
// budget against the current goods markets in currency.
func (s *Service) CalculateOutputMaximizingInputs(fn convex.Function, currency model.Currency, budget float64, opts ...optimizer.CallOption) model.Bundle {
	return s.optimizer.CalculateOutputMaximizingInputs(fn, s.PriceFunctions(currency, fn.InputTypes()), budget, opts...)
}

// CalculateProfitMaximizingInputs plans production inputs against the
// current goods markets in currency.
func (s *Service) CalculateProfitMaximizingInputs(fn convex.Function, currency model.Currency, revenuePerUnit, budget, maxOutput float64, opts ...optimizer.CallOption) model.Bundle {
	prices := s.PriceFunctions(currency, fn.InputTypes())
	return s.optimizer.CalculateProfitMaximizingInputs(fn, prices, revenuePerUnit, budget, maxOutput, opts...)
}

// Optimizer returns the demand optimizer the service plans with.
func (s *Service) Optimizer() *optimizer.Optimizer { return s.optimizer }

// Snapshots returns the latest snapshot of every market that has changed.
func (s *Service) Snapshots(ctx context.Context) ([]model.MarketSnapshot, error) {
	return s.store.ListSnapshots(ctx)
}

// History returns the settlements of a market, oldest first.
func (s *Service) History(ctx context.Context, key model.MarketKey) ([]model.Settlement, error) {
	return s.store.SettlementsByMarket(ctx, key.String())
}

// SettlementsOf returns the settlements an agent bought or sold in.
func (s *Service) SettlementsOf(ctx context.Context, agent model.AgentID) ([]model.Settlement, error) {
	return s.store.SettlementsByAgent(ctx, string(agent))
}

// record persists and publishes one settlement. Failures are logged: the
// settlement itself has already happened.
func (s *Service) record(ctx context.Context, st *model.Settlement) {
	if err := s.store.InsertSettlement(ctx, st); err != nil {
		slog.Error("failed to record settlement", "id", st.ID, "market", st.Market, "error", err)
	}
	if err := s.publisher.Publish(ctx, events.SettlementEvent(*st)); err != nil {
		slog.Warn("failed to publish settlement", "id", st.ID, "market", st.Market, "error", err)
	}
}

// snapshot stores and publishes the current state of book.
func (s *Service) snapshot(ctx context.Context, book *orderbook.Book) {
	snap := Snapshot(book.Key(), book.Snapshot(), s.now())
	if err := s.store.UpsertSnapshot(ctx, &snap); err != nil {
		slog.Error("failed to store snapshot", "market", snap.Market, "error", err)
	}
	if err := s.publisher.Publish(ctx, events.SnapshotEvent(snap)); err != nil {
		slog.Warn("failed to publish snapshot", "market", snap.Market, "error", err)
	}
}

// Snapshot summarizes the given live orders of a market.
func Snapshot(key model.MarketKey, orders []model.Order, at time.Time) model.MarketSnapshot {
	pf := pricefn.NewMarket(orders)
	snap := model.MarketSnapshot{
		Market:     key.String(),
		Depth:      decimal.NewFromFloat(pf.Depth()),
		OrderCount: len(orders),
		UpdatedAt:  at,
	}
	if mp := pf.MarginalPrice(0); !math.IsNaN(mp) {
		snap.MarginalPrice = decimal.NewNullDecimal(decimal.NewFromFloat(mp))
	}
	return snap
}
