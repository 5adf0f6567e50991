package orderbook

import (
	"errors"
	"math"
	"slices"
	"testing"

	"pgregory.net/rapid"

	"github.com/uwol/computational-economy-sub002/internal/model"
)

var wheat = model.MarketKey{Currency: model.CurrencyEuro, Commodity: model.Good(model.GoodWheat)}

func offer(owner string, price, amount float64) model.Order {
	return model.Order{
		Offeror:      model.AgentID(owner),
		Account:      model.AccountID(owner + "-eur"),
		PricePerUnit: price,
		Amount:       amount,
	}
}

func mustPlace(t *testing.T, b *Book, o model.Order) model.Order {
	t.Helper()
	placed, err := b.Place(o)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	return placed
}

func prices(b *Book) []float64 {
	var out []float64
	for o := range b.Orders() {
		out = append(out, o.PricePerUnit)
	}
	return out
}

func TestPlace_SortsAscendingWithInsertionTieBreak(t *testing.T) {
	b := NewBook(wheat)
	first := mustPlace(t, b, offer("a", 5, 1))
	mustPlace(t, b, offer("b", 3, 1))
	second := mustPlace(t, b, offer("c", 5, 1))
	mustPlace(t, b, offer("d", 4, 1))

	if got, want := prices(b), []float64{3, 4, 5, 5}; !slices.Equal(got, want) {
		t.Fatalf("prices = %v, want %v", got, want)
	}
	snap := b.Snapshot()
	if snap[2].ID != first.ID || snap[3].ID != second.ID {
		t.Errorf("equal prices should keep insertion order, got ids %d, %d", snap[2].ID, snap[3].ID)
	}
	if first.ID == second.ID {
		t.Error("ids must be unique")
	}
}

func TestPlace_Validation(t *testing.T) {
	usd := model.MarketKey{Currency: model.CurrencyEuro, Commodity: model.CounterCurrency(model.CurrencyDollar)}
	shares := model.MarketKey{Currency: model.CurrencyEuro, Commodity: model.Property(model.PropertyShare)}

	tests := []struct {
		name string
		key  model.MarketKey
		o    model.Order
		want error
	}{
		{"zero amount", wheat, offer("a", 1, 0), ErrInvalidAmount},
		{"negative amount", wheat, offer("a", 1, -1), ErrInvalidAmount},
		{"NaN amount", wheat, offer("a", 1, math.NaN()), ErrInvalidAmount},
		{"infinite amount", wheat, offer("a", 1, math.Inf(1)), ErrInvalidAmount},
		{"NaN price", wheat, offer("a", math.NaN(), 1), ErrInvalidPrice},
		{"negative price", wheat, offer("a", -1, 1), ErrInvalidPrice},
		{"no account", wheat, model.Order{PricePerUnit: 1, Amount: 1}, ErrMissingAccount},
		{"other market", wheat, model.Order{Market: usd, Account: "x", PricePerUnit: 1, Amount: 1}, ErrMarketMismatch},
		{"currency without counter account", usd, offer("a", 1, 1), ErrCounterAccount},
		{"property of two units", shares, model.Order{Account: "x", Property: "p1", PricePerUnit: 1, Amount: 2}, ErrPropertyAmount},
		{"property without id", shares, model.Order{Account: "x", PricePerUnit: 1, Amount: 1}, ErrPropertyAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBook(tt.key)
			if _, err := b.Place(tt.o); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if b.Len() != 0 {
				t.Error("rejected order must not enter the book")
			}
		})
	}
}

func TestPlace_ZeroPriceAllowed(t *testing.T) {
	b := NewBook(wheat)
	mustPlace(t, b, offer("a", 0, 1))
	if b.Len() != 1 {
		t.Fatal("free offers are valid")
	}
}

func TestRemoveAll_Idempotent(t *testing.T) {
	b := NewBook(wheat)
	mustPlace(t, b, offer("a", 1, 1))
	mustPlace(t, b, offer("b", 2, 1))
	mustPlace(t, b, offer("a", 3, 1))

	byA := func(o model.Order) bool { return o.Offeror == "a" }
	if removed := b.RemoveAll(byA); len(removed) != 2 {
		t.Fatalf("expected 2 removed, got %d", len(removed))
	}
	after := b.Snapshot()
	if removed := b.RemoveAll(byA); len(removed) != 0 {
		t.Fatalf("second removal should be a no-op, removed %d", len(removed))
	}
	if !slices.Equal(after, b.Snapshot()) {
		t.Error("book changed on second removal")
	}
}

func TestRemove(t *testing.T) {
	b := NewBook(wheat)
	o := mustPlace(t, b, offer("a", 1, 1))
	if err := b.Remove(o.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := b.Remove(o.ID); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrders_SnapshotAtCall(t *testing.T) {
	b := NewBook(wheat)
	mustPlace(t, b, offer("a", 1, 1))
	seq := b.Orders()
	mustPlace(t, b, offer("b", 2, 1))

	for range 2 {
		n := 0
		for range seq {
			n++
		}
		if n != 1 {
			t.Fatalf("sequence should reflect the call-time state, saw %d orders", n)
		}
	}
}

func TestTake(t *testing.T) {
	b := NewBook(wheat)
	o := mustPlace(t, b, offer("a", 1, 10))

	err := b.Update(func(tx *Tx) error {
		if _, err := tx.Take(o.ID, 4); err != nil {
			return err
		}
		if _, err := tx.Take(o.ID, 7); !errors.Is(err, ErrOverdrawnOrder) {
			t.Errorf("expected ErrOverdrawnOrder, got %v", err)
		}
		_, err := tx.Take(o.ID, 6)
		return err
	})
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if b.Len() != 0 {
		t.Error("exhausted order must be deleted")
	}
}

// --- Fulfillment ---

func TestFulfillment_ExampleScenario(t *testing.T) {
	b := NewBook(wheat)
	mustPlace(t, b, offer("a", 5, 10))
	cheap := mustPlace(t, b, offer("b", 4, 10))

	set, err := b.FindBestFulfillmentSet(Constraints{
		MaxAmount:       5,
		MaxTotalPrice:   math.Inf(1),
		MaxPricePerUnit: 8,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(set.Fills) != 1 || set.Fills[0].Order.ID != cheap.ID || set.Fills[0].Amount != 5 {
		t.Fatalf("expected 5 units from the 4-priced order, got %+v", set.Fills)
	}
	if set.TotalPrice != 20 || set.TotalAmount != 5 {
		t.Errorf("totals = %v/%v, want 20/5", set.TotalPrice, set.TotalAmount)
	}
}

func TestFulfillment_Constraints(t *testing.T) {
	inf := math.Inf(1)
	tests := []struct {
		name       string
		c          Constraints
		wantAmount float64
		wantPrice  float64
		wantFills  int
	}{
		{"unrestricted", Unrestricted(), 40, 10 + 40 + 90, 3},
		{"NaN means unrestricted", Constraints{math.NaN(), math.NaN(), math.NaN()}, 40, 140, 3},
		{"amount cap", Constraints{15, inf, inf}, 15, 10 + 10, 2},
		{"budget cap", Constraints{inf, 30, inf}, 20, 30, 2},
		{"budget cap within order", Constraints{inf, 5, inf}, 5, 5, 1},
		{"price cap", Constraints{inf, inf, 2}, 30, 50, 2},
		{"price cap below book", Constraints{inf, inf, 0.5}, 0, 0, 0},
		{"zero amount", Constraints{0, inf, inf}, 0, 0, 0},
		{"negative budget", Constraints{inf, -1, inf}, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBook(wheat)
			mustPlace(t, b, offer("a", 1, 10))
			mustPlace(t, b, offer("b", 2, 20))
			mustPlace(t, b, offer("c", 9, 10))
			set, err := b.FindBestFulfillmentSet(tt.c)
			if err != nil {
				t.Fatal(err)
			}
			if len(set.Fills) != tt.wantFills {
				t.Errorf("fills = %d, want %d", len(set.Fills), tt.wantFills)
			}
			if math.Abs(set.TotalAmount-tt.wantAmount) > 1e-9 {
				t.Errorf("amount = %v, want %v", set.TotalAmount, tt.wantAmount)
			}
			if math.Abs(set.TotalPrice-tt.wantPrice) > 1e-9 {
				t.Errorf("price = %v, want %v", set.TotalPrice, tt.wantPrice)
			}
			if b.Len() != 3 {
				t.Error("selection must not mutate the book")
			}
		})
	}
}

func TestFulfillment_FreeOrdersIgnoreBudget(t *testing.T) {
	b := NewBook(wheat)
	mustPlace(t, b, offer("a", 0, 10))
	mustPlace(t, b, offer("b", 1, 10))

	set, err := b.FindBestFulfillmentSet(Constraints{math.Inf(1), 3, math.Inf(1)})
	if err != nil {
		t.Fatal(err)
	}
	if set.TotalAmount != 13 || set.TotalPrice != 3 {
		t.Errorf("got %v units for %v, want 13 for 3", set.TotalAmount, set.TotalPrice)
	}
}

func TestFulfillment_PropertyTakesWholeUnits(t *testing.T) {
	shares := model.MarketKey{Currency: model.CurrencyEuro, Commodity: model.Property(model.PropertyShare)}
	b := NewBook(shares)
	for i, id := range []model.PropertyID{"s1", "s2", "s3"} {
		mustPlace(t, b, model.Order{
			Offeror: "firm", Account: "firm-eur", Property: id,
			PricePerUnit: float64(10 + i), Amount: 1,
		})
	}

	set, err := b.FindBestFulfillmentSet(Constraints{math.Inf(1), 25, math.Inf(1)})
	if err != nil {
		t.Fatal(err)
	}
	// 10 + 11 fits, the third share would need 12 more.
	if len(set.Fills) != 2 || set.TotalPrice != 21 {
		t.Fatalf("expected two shares for 21, got %+v", set)
	}
	for _, f := range set.Fills {
		if f.Amount != 1 {
			t.Errorf("property fills must be whole, got %v", f.Amount)
		}
	}
}

// --- Registry ---

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	coal := model.MarketKey{Currency: model.CurrencyEuro, Commodity: model.Good(model.GoodCoal)}

	if _, ok := r.Lookup(wheat); ok {
		t.Fatal("registry should start empty")
	}
	w := r.Book(wheat)
	if r.Book(wheat) != w {
		t.Error("Book must return the same instance")
	}
	r.Book(coal)
	books := r.Books()
	if len(books) != 2 || books[0].Key() != coal || books[1].Key() != wheat {
		t.Errorf("books not ordered by key: %v", books)
	}
}

// --- Properties ---

func drawBook(t *rapid.T) *Book {
	b := NewBook(wheat)
	n := rapid.IntRange(0, 15).Draw(t, "orders")
	for range n {
		_, err := b.Place(offer(
			rapid.SampledFrom([]string{"a", "b", "c"}).Draw(t, "owner"),
			rapid.Float64Range(0, 50).Draw(t, "price"),
			rapid.Float64Range(0.01, 20).Draw(t, "amount"),
		))
		if err != nil {
			t.Fatalf("place: %v", err)
		}
	}
	return b
}

func drawBound(t *rapid.T, label string, max float64) float64 {
	if rapid.Bool().Draw(t, label+"_unrestricted") {
		return math.Inf(1)
	}
	return rapid.Float64Range(0, max).Draw(t, label)
}

func drawConstraints(t *rapid.T) Constraints {
	return Constraints{
		MaxAmount:       drawBound(t, "max_amount", 200),
		MaxTotalPrice:   drawBound(t, "max_total_price", 2000),
		MaxPricePerUnit: drawBound(t, "max_price", 60),
	}
}

func TestProperty_FulfillmentSafety(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := drawBook(t)
		c := drawConstraints(t)
		set, err := b.FindBestFulfillmentSet(c)
		if err != nil {
			t.Fatalf("selection failed: %v", err)
		}

		spent, amount := 0.0, 0.0
		for _, f := range set.Fills {
			spent += f.Amount * f.Order.PricePerUnit
			amount += f.Amount
			if f.Amount <= 0 || f.Amount > f.Order.Amount {
				t.Fatalf("fill %v outside (0, %v]", f.Amount, f.Order.Amount)
			}
			if f.Order.PricePerUnit > c.MaxPricePerUnit {
				t.Fatalf("price %v above cap %v", f.Order.PricePerUnit, c.MaxPricePerUnit)
			}
		}
		if spent > c.MaxTotalPrice+1e-9*math.Max(1, c.MaxTotalPrice) {
			t.Fatalf("spent %v > budget %v", spent, c.MaxTotalPrice)
		}
		if amount > c.MaxAmount+1e-9*math.Max(1, c.MaxAmount) {
			t.Fatalf("amount %v > max %v", amount, c.MaxAmount)
		}
	})
}

func TestProperty_AscendingFillOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := drawBook(t)
		set, err := b.FindBestFulfillmentSet(drawConstraints(t))
		if err != nil {
			t.Fatalf("selection failed: %v", err)
		}
		for i := 1; i < len(set.Fills); i++ {
			prev, cur := set.Fills[i-1], set.Fills[i]
			if cur.Order.Less(prev.Order) {
				t.Fatalf("fill %d out of order", i)
			}
			// Every order before the last fill must be taken completely.
			if prev.Amount != prev.Order.Amount {
				t.Fatalf("order %d partially filled before a more expensive one", prev.Order.ID)
			}
		}
		// Selected orders are a prefix of the book.
		snap := b.Snapshot()
		for i, f := range set.Fills {
			if snap[i].ID != f.Order.ID {
				t.Fatalf("fill %d skips book order %d", i, snap[i].ID)
			}
		}
	})
}
