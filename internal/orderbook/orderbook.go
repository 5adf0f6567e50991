// Package orderbook maintains the live selling offers of one market, sorted
// ascending by unit price with ties broken by insertion order, and selects
// the cheapest fulfillment set for a buy request.
//
// Every book is guarded by its own mutex. Reads take a snapshot; matching and
// settlement run inside Update so that no two settlements against the same
// order interleave.
package orderbook

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/uwol/computational-economy-sub002/internal/invariant"
	"github.com/uwol/computational-economy-sub002/internal/metrics"
	"github.com/uwol/computational-economy-sub002/internal/model"
)

var (
	ErrInvalidAmount  = errors.New("orderbook: amount must be positive and finite")
	ErrInvalidPrice   = errors.New("orderbook: price must be a finite non-negative number")
	ErrMarketMismatch = errors.New("orderbook: order belongs to another market")
	ErrPropertyAmount = errors.New("orderbook: property orders carry exactly one unit of a named property")
	ErrMissingAccount = errors.New("orderbook: order needs a settlement account")
	ErrCounterAccount = errors.New("orderbook: currency orders need a counter-currency account")
	ErrOrderNotFound  = errors.New("orderbook: order not found")
	ErrOverdrawnOrder = errors.New("orderbook: take exceeds remaining amount")
)

// Book holds the live orders of one market.
type Book struct {
	key    model.MarketKey
	mu     sync.Mutex
	orders []model.Order // sorted by model.Order.Less
	nextID uint64
}

// NewBook creates an empty book for key.
func NewBook(key model.MarketKey) *Book {
	return &Book{key: key}
}

// Key returns the market the book serves.
func (b *Book) Key() model.MarketKey { return b.key }

// Tx gives exclusive access to a book for the duration of Book.Update.
type Tx struct {
	b *Book
}

// Update runs fn while holding the book's lock. Callers must not re-enter the
// same book from fn.
func (b *Book) Update(fn func(tx *Tx) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.observe()
	return fn(&Tx{b: b})
}

// Place validates o, assigns it the next insertion id and inserts it.
func (b *Book) Place(o model.Order) (model.Order, error) {
	var placed model.Order
	err := b.Update(func(tx *Tx) error {
		var err error
		placed, err = tx.Place(o)
		return err
	})
	return placed, err
}

// Remove deletes the order with the given id.
func (b *Book) Remove(id uint64) error {
	return b.Update(func(tx *Tx) error { return tx.Remove(id) })
}

// RemoveAll deletes every order matching filter and returns them.
// Removing when nothing matches is a no-op.
func (b *Book) RemoveAll(filter func(model.Order) bool) []model.Order {
	var removed []model.Order
	_ = b.Update(func(tx *Tx) error {
		removed = tx.RemoveAll(filter)
		return nil
	})
	return removed
}

// Snapshot returns a copy of the live orders, ascending by price.
func (b *Book) Snapshot() []model.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.orders)
}

// Orders returns the live orders ascending by price as of the call. The
// sequence is finite and may be ranged over repeatedly; it never observes
// later mutations.
func (b *Book) Orders() iter.Seq[model.Order] {
	snapshot := b.Snapshot()
	return func(yield func(model.Order) bool) {
		for _, o := range snapshot {
			if !yield(o) {
				return
			}
		}
	}
}

// Len returns the number of live orders.
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

// FindBestFulfillmentSet selects orders for c without changing the book.
func (b *Book) FindBestFulfillmentSet(c Constraints) (FulfillmentSet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return (&Tx{b: b}).FindBestFulfillmentSet(c)
}

// observe must be called with the lock held.
func (b *Book) observe() {
	metrics.OpenOrders.WithLabelValues(b.key.String()).Set(float64(len(b.orders)))
}

// Place validates o, assigns it the next insertion id and inserts it.
func (tx *Tx) Place(o model.Order) (model.Order, error) {
	b := tx.b
	if o.Market == (model.MarketKey{}) {
		o.Market = b.key
	}
	if err := validate(b.key, o); err != nil {
		return model.Order{}, err
	}

	b.nextID++
	o.ID = b.nextID
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}

	// New ids are the largest, so the order lands after equal prices.
	idx := sort.Search(len(b.orders), func(i int) bool { return o.Less(b.orders[i]) })
	b.orders = slices.Insert(b.orders, idx, o)
	return o, nil
}

func validate(key model.MarketKey, o model.Order) error {
	if o.Market != key {
		return fmt.Errorf("%w: %s into %s", ErrMarketMismatch, o.Market, key)
	}
	if !(o.Amount > 0) || math.IsInf(o.Amount, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, o.Amount)
	}
	if !(o.PricePerUnit >= 0) || math.IsInf(o.PricePerUnit, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidPrice, o.PricePerUnit)
	}
	if o.Account == "" {
		return ErrMissingAccount
	}
	switch key.Commodity.Kind {
	case model.KindProperty:
		if o.Amount != 1 || o.Property == "" {
			return ErrPropertyAmount
		}
	case model.KindCurrency:
		if o.CommodityAccount == "" {
			return ErrCounterAccount
		}
	}
	return nil
}

func (tx *Tx) index(id uint64) int {
	for i, o := range tx.b.orders {
		if o.ID == id {
			return i
		}
	}
	return -1
}

// Remove deletes the order with the given id.
func (tx *Tx) Remove(id uint64) error {
	i := tx.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	tx.b.orders = slices.Delete(tx.b.orders, i, i+1)
	return nil
}

// RemoveAll deletes every order matching filter and returns them.
func (tx *Tx) RemoveAll(filter func(model.Order) bool) []model.Order {
	var removed []model.Order
	tx.b.orders = slices.DeleteFunc(tx.b.orders, func(o model.Order) bool {
		if filter(o) {
			removed = append(removed, o)
			return true
		}
		return false
	})
	return removed
}

// Take decrements the remaining amount of an order and deletes it once
// nothing remains. It returns the order as it was before the take.
func (tx *Tx) Take(id uint64, amount float64) (model.Order, error) {
	i := tx.index(id)
	if i < 0 {
		return model.Order{}, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	o := tx.b.orders[i]
	if !invariant.LessOrEqual(amount, o.Amount) {
		return o, fmt.Errorf("%w: take %v of %v", ErrOverdrawnOrder, amount, o.Amount)
	}

	remaining := o.Amount - amount
	if remaining <= 0 {
		tx.b.orders = slices.Delete(tx.b.orders, i, i+1)
	} else {
		tx.b.orders[i].Amount = remaining
	}
	return o, nil
}

// Orders returns the live orders under the transaction's lock.
func (tx *Tx) Orders() []model.Order {
	return slices.Clone(tx.b.orders)
}
