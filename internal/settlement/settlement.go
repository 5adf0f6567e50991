// Package settlement executes fulfillment sets: for every matched order it
// moves the payment from buyer to seller, moves the commodity from seller to
// buyer, shrinks or deletes the order and notifies the seller.
//
// Settlement of one book runs under that book's lock, so two buyers can never
// settle against the same order concurrently.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/uwol/computational-economy-sub002/internal/metrics"
	"github.com/uwol/computational-economy-sub002/internal/model"
	"github.com/uwol/computational-economy-sub002/internal/orderbook"
)

var (
	// ErrInsufficientFunds is returned by Accounts when the payer cannot cover
	// a transfer. Settlement treats it as an ordinary stop, not a failure.
	ErrInsufficientFunds = errors.New("settlement: insufficient funds")
	ErrNotProperty       = errors.New("settlement: market does not trade properties")
	ErrMissingBuyer      = errors.New("settlement: buyer and buyer account are required")
	ErrCounterAccount    = errors.New("settlement: currency purchases need a counter-currency account")
	ErrBuyerAccount      = errors.New("settlement: buyer account does not hold the traded currency")

	// ErrDeliveryFailed marks an order whose seller could not hand over the
	// commodity. The payment is reversed and the order withdrawn.
	ErrDeliveryFailed = errors.New("settlement: seller could not deliver")

	// ErrPaymentRejected marks an order whose account refused the payment,
	// e.g. because it no longer exists. The order is withdrawn.
	ErrPaymentRejected = errors.New("settlement: seller account rejected the payment")
)

// Accounts moves money between settlement accounts.
type Accounts interface {
	// Transfer moves amount from one account to another in the accounts'
	// common currency. It fails with ErrInsufficientFunds, leaving both
	// accounts unchanged, when from cannot cover amount.
	Transfer(ctx context.Context, from, to model.AccountID, amount float64, memo string) error
	// Currency returns the currency account id holds.
	Currency(id model.AccountID) (model.Currency, error)
}

// Ownership moves goods and properties between owners.
type Ownership interface {
	TransferGood(ctx context.Context, good model.GoodType, from, to model.AgentID, amount float64) error
	TransferProperty(ctx context.Context, property model.PropertyID, from, to model.AgentID) error
}

// Event describes one settled order from the seller's point of view.
type Event struct {
	Market       model.MarketKey `json:"market"`
	Seller       model.AgentID   `json:"seller"`
	Buyer        model.AgentID   `json:"buyer"`
	Amount       float64         `json:"amount"`
	PricePerUnit float64         `json:"price_per_unit"`
	Currency     model.Currency  `json:"currency"`
}

// Listener receives settlement events for the seller it was registered for.
// It runs under the book's lock and must not call back into the same book.
type Listener interface {
	OnSettlement(Event)
}

// Cause records why a settlement attempt ended.
type Cause string

const (
	// CauseFulfilled means every order of the fulfillment set was settled.
	CauseFulfilled         Cause = "FULFILLED"
	CauseNoSupply          Cause = "NO_SUPPLY"
	CauseInsufficientFunds Cause = "INSUFFICIENT_FUNDS"
)

// Request is a buy request against one book.
type Request struct {
	orderbook.Constraints
	Buyer   model.AgentID   `json:"buyer"`
	Account model.AccountID `json:"account"`
	// CommodityAccount receives the counter-currency on currency markets.
	CommodityAccount model.AccountID `json:"commodity_account,omitempty"`
}

// Result is the outcome of one buy call. A partial result is still a
// success; Cause tells why it stopped.
type Result struct {
	Spent       float64            `json:"spent"`
	Amount      float64            `json:"amount"`
	Settlements []model.Settlement `json:"settlements"`
	// Withdrawn lists orders taken out of the book because their seller
	// could not be paid or could not deliver.
	Withdrawn []model.Order `json:"withdrawn,omitempty"`
	Cause     Cause         `json:"cause"`
}

// Changed reports whether the attempt modified the book.
func (r Result) Changed() bool {
	return len(r.Settlements) > 0 || len(r.Withdrawn) > 0
}

type listenerKey struct {
	seller model.AgentID
	market model.MarketKey
}

// Engine settles buy requests using the injected collaborators.
type Engine struct {
	accounts  Accounts
	ownership Ownership

	mu        sync.RWMutex
	listeners map[listenerKey]Listener

	now func() time.Time
}

// NewEngine creates a settlement engine.
func NewEngine(accounts Accounts, ownership Ownership) *Engine {
	return &Engine{
		accounts:  accounts,
		ownership: ownership,
		listeners: make(map[listenerKey]Listener),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RegisterListener subscribes l to settlements of seller's orders in market.
// A later registration for the same pair replaces the earlier one; nil
// unregisters.
func (e *Engine) RegisterListener(seller model.AgentID, market model.MarketKey, l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := listenerKey{seller: seller, market: market}
	if l == nil {
		delete(e.listeners, key)
		return
	}
	e.listeners[key] = l
}

func (e *Engine) listener(seller model.AgentID, market model.MarketKey) Listener {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.listeners[listenerKey{seller: seller, market: market}]
}

// Buy selects the cheapest orders of book allowed by req and settles them in
// ascending price order. It stops early, keeping what was already settled,
// when the buyer runs out of funds. Orders whose seller cannot be paid or
// cannot deliver are withdrawn and skipped. Property markets take whole
// units.
//
// An error after some orders were settled still returns those settlements
// in the result.
func (e *Engine) Buy(ctx context.Context, book *orderbook.Book, req Request) (Result, error) {
	key := book.Key()
	if req.Buyer == "" || req.Account == "" {
		return Result{}, ErrMissingBuyer
	}
	if err := e.holds(req.Account, key.Currency); err != nil {
		return Result{}, err
	}
	if key.Commodity.Kind == model.KindCurrency {
		if req.CommodityAccount == "" {
			return Result{}, ErrCounterAccount
		}
		if err := e.holds(req.CommodityAccount, key.Commodity.Currency); err != nil {
			return Result{}, err
		}
	}

	var res Result
	err := book.Update(func(tx *orderbook.Tx) error {
		set, err := tx.FindBestFulfillmentSet(req.Constraints)
		if err != nil {
			return err
		}
		if len(set.Fills) == 0 {
			res.Cause = CauseNoSupply
			return nil
		}

		res.Cause = CauseFulfilled
		for _, fill := range set.Fills {
			settled, err := e.settle(ctx, tx, req, fill)
			if errors.Is(err, ErrInsufficientFunds) {
				res.Cause = CauseInsufficientFunds
				return nil
			}
			if errors.Is(err, ErrDeliveryFailed) || errors.Is(err, ErrPaymentRejected) {
				slog.Warn("withdrawing unsettleable order",
					"market", fill.Order.Market.String(),
					"order", fill.Order.ID,
					"seller", fill.Order.Offeror,
					"error", err,
				)
				if err := tx.Remove(fill.Order.ID); err != nil {
					return err
				}
				res.Withdrawn = append(res.Withdrawn, fill.Order)
				continue
			}
			if err != nil {
				return err
			}
			res.Spent += fill.Amount * fill.Order.PricePerUnit
			res.Amount += fill.Amount
			res.Settlements = append(res.Settlements, settled)
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	if res.Cause != CauseFulfilled {
		metrics.SettlementAborts.WithLabelValues(string(res.Cause)).Inc()
	}
	slog.Debug("buy settled",
		"market", book.Key().String(),
		"buyer", req.Buyer,
		"amount", res.Amount,
		"spent", res.Spent,
		"orders", len(res.Settlements),
		"cause", res.Cause,
	)
	return res, nil
}

// BuyProperty buys whole properties from a property market. It is Buy with
// every matched order taken as exactly one unit.
func (e *Engine) BuyProperty(ctx context.Context, book *orderbook.Book, req Request) (Result, error) {
	if book.Key().Commodity.Kind != model.KindProperty {
		return Result{}, fmt.Errorf("%w: %s", ErrNotProperty, book.Key())
	}
	return e.Buy(ctx, book, req)
}

// holds fails unless account id holds currency.
func (e *Engine) holds(id model.AccountID, currency model.Currency) error {
	cur, err := e.accounts.Currency(id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBuyerAccount, err)
	}
	if cur != currency {
		return fmt.Errorf("%w: %s holds %s, market trades %s", ErrBuyerAccount, id, cur, currency)
	}
	return nil
}

// settle executes one fill under the book's lock.
func (e *Engine) settle(ctx context.Context, tx *orderbook.Tx, req Request, fill model.Fill) (model.Settlement, error) {
	o := fill.Order
	total := fill.Amount * o.PricePerUnit
	memo := fmt.Sprintf("%s order %d", o.Market, o.ID)

	if err := e.accounts.Transfer(ctx, req.Account, o.Account, total, memo); err != nil {
		if errors.Is(err, ErrInsufficientFunds) || ctx.Err() != nil {
			return model.Settlement{}, fmt.Errorf("payment for order %d: %w", o.ID, err)
		}
		// The buyer's account was checked up front, so the seller's side failed.
		return model.Settlement{}, fmt.Errorf("%w: order %d: %v", ErrPaymentRejected, o.ID, err)
	}
	if err := e.deliver(ctx, req, fill); err != nil {
		// Return the payment; the order stays in the book.
		if rerr := e.accounts.Transfer(ctx, o.Account, req.Account, total, "reversal: "+memo); rerr != nil {
			return model.Settlement{}, errors.Join(err, fmt.Errorf("reversal for order %d: %w", o.ID, rerr))
		}
		return model.Settlement{}, fmt.Errorf("%w: order %d: %v", ErrDeliveryFailed, o.ID, err)
	}
	if _, err := tx.Take(o.ID, fill.Amount); err != nil {
		return model.Settlement{}, err
	}

	market := o.Market.String()
	metrics.SettlementsTotal.WithLabelValues(o.Kind().String()).Inc()
	metrics.SettledVolume.WithLabelValues(market).Add(fill.Amount)

	if l := e.listener(o.Offeror, o.Market); l != nil {
		l.OnSettlement(Event{
			Market:       o.Market,
			Seller:       o.Offeror,
			Buyer:        req.Buyer,
			Amount:       fill.Amount,
			PricePerUnit: o.PricePerUnit,
			Currency:     o.Market.Currency,
		})
	}

	return model.Settlement{
		ID:           uuid.New().String(),
		Market:       market,
		OrderID:      o.ID,
		Buyer:        string(req.Buyer),
		Seller:       string(o.Offeror),
		Amount:       decimal.NewFromFloat(fill.Amount),
		PricePerUnit: decimal.NewFromFloat(o.PricePerUnit),
		Total:        decimal.NewFromFloat(total),
		Timestamp:    e.now(),
	}, nil
}

// deliver moves the traded commodity from seller to buyer.
func (e *Engine) deliver(ctx context.Context, req Request, fill model.Fill) error {
	o := fill.Order
	switch o.Kind() {
	case model.KindGood:
		return e.ownership.TransferGood(ctx, o.Market.Commodity.Good, o.Offeror, req.Buyer, fill.Amount)
	case model.KindCurrency:
		memo := fmt.Sprintf("%s order %d", o.Market, o.ID)
		return e.accounts.Transfer(ctx, o.CommodityAccount, req.CommodityAccount, fill.Amount, memo)
	case model.KindProperty:
		return e.ownership.TransferProperty(ctx, o.Property, o.Offeror, req.Buyer)
	default:
		return fmt.Errorf("settlement: unknown commodity kind %d", o.Kind())
	}
}
