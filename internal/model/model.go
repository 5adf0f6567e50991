// Package model defines the core domain types shared across the market core.
// Live matching and optimization run on float64 so that NaN can signal a
// sold-out market; persisted records use shopspring/decimal.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Currency denominates prices and settlement accounts.
type Currency string

const (
	CurrencyEuro   Currency = "EUR"
	CurrencyDollar Currency = "USD"
	CurrencyYen    Currency = "YEN"
)

// GoodType names a tradeable, divisible good.
type GoodType string

const (
	GoodKilowatt   GoodType = "KILOWATT"
	GoodWheat      GoodType = "WHEAT"
	GoodCoal       GoodType = "COAL"
	GoodIron       GoodType = "IRON"
	GoodCar        GoodType = "CAR"
	GoodLabourHour GoodType = "LABOURHOUR"
)

// PropertyClass groups indivisible properties (shares, bonds) that share one
// order book.
type PropertyClass string

const (
	PropertyShare PropertyClass = "SHARE"
	PropertyBond  PropertyClass = "BOND"
)

type (
	PropertyID string
	AgentID    string
	AccountID  string
)

// CommodityKind tags the variant held by a CommodityKey.
type CommodityKind uint8

const (
	KindGood CommodityKind = iota + 1
	KindCurrency
	KindProperty
)

func (k CommodityKind) String() string {
	switch k {
	case KindGood:
		return "GOOD"
	case KindCurrency:
		return "CURRENCY"
	case KindProperty:
		return "PROPERTY"
	default:
		return "UNKNOWN"
	}
}

// CommodityKey identifies what an order book trades: a good type, a
// counter-currency or a property class. Exactly one payload field is set,
// matching Kind.
type CommodityKey struct {
	Kind     CommodityKind `json:"kind"`
	Good     GoodType      `json:"good,omitempty"`
	Currency Currency      `json:"currency,omitempty"`
	Property PropertyClass `json:"property,omitempty"`
}

// Good returns the key of a goods market.
func Good(g GoodType) CommodityKey {
	return CommodityKey{Kind: KindGood, Good: g}
}

// CounterCurrency returns the key of a currency market trading c.
func CounterCurrency(c Currency) CommodityKey {
	return CommodityKey{Kind: KindCurrency, Currency: c}
}

// Property returns the key of a property market.
func Property(p PropertyClass) CommodityKey {
	return CommodityKey{Kind: KindProperty, Property: p}
}

// Name returns the payload value of the key.
func (k CommodityKey) Name() string {
	switch k.Kind {
	case KindGood:
		return string(k.Good)
	case KindCurrency:
		return string(k.Currency)
	case KindProperty:
		return string(k.Property)
	default:
		return ""
	}
}

func (k CommodityKey) String() string {
	return k.Kind.String() + "-" + k.Name()
}

// Valid reports whether the payload matching Kind is set.
func (k CommodityKey) Valid() bool {
	return k.Kind >= KindGood && k.Kind <= KindProperty && k.Name() != ""
}

// MarketKey identifies one order book: the denomination currency plus the
// traded commodity.
type MarketKey struct {
	Currency  Currency     `json:"currency"`
	Commodity CommodityKey `json:"commodity"`
}

func (k MarketKey) String() string {
	return fmt.Sprintf("%s-%s", k.Currency, k.Commodity)
}

// Order is a live selling offer. ID is assigned by the order book in
// insertion order and breaks price ties.
type Order struct {
	ID      uint64    `json:"id"`
	Market  MarketKey `json:"market"`
	Offeror AgentID   `json:"offeror"`
	// Account receives the payment in the denomination currency.
	Account AccountID `json:"account"`
	// CommodityAccount is the offeror's account in the counter-currency;
	// set on currency orders only.
	CommodityAccount AccountID `json:"commodity_account,omitempty"`
	// Property is the offered property; set on property orders only.
	Property     PropertyID `json:"property,omitempty"`
	PricePerUnit float64    `json:"price_per_unit"`
	Amount       float64    `json:"amount"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Kind returns the variant of the traded commodity.
func (o Order) Kind() CommodityKind {
	return o.Market.Commodity.Kind
}

// Less orders by price ascending, then by insertion id.
func (o Order) Less(other Order) bool {
	if o.PricePerUnit != other.PricePerUnit {
		return o.PricePerUnit < other.PricePerUnit
	}
	return o.ID < other.ID
}

// Fill is one entry of a fulfillment set: take Amount units from Order.
type Fill struct {
	Order  Order   `json:"order"`
	Amount float64 `json:"amount"`
}

// Bundle maps input goods to amounts.
type Bundle map[GoodType]float64

// Clone returns a copy of b.
func (b Bundle) Clone() Bundle {
	c := make(Bundle, len(b))
	for k, v := range b {
		c[k] = v
	}
	return c
}

// Settlement is an immutable record of one settled order.
type Settlement struct {
	ID           string          `json:"id" db:"id"`
	Market       string          `json:"market" db:"market"`
	OrderID      uint64          `json:"order_id" db:"order_id"`
	Buyer        string          `json:"buyer" db:"buyer"`
	Seller       string          `json:"seller" db:"seller"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	PricePerUnit decimal.Decimal `json:"price_per_unit" db:"price_per_unit"`
	Total        decimal.Decimal `json:"total" db:"total"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// MarketSnapshot is the latest observed state of one order book.
// MarginalPrice is null when the book is sold out.
type MarketSnapshot struct {
	Market        string              `json:"market" db:"market"`
	MarginalPrice decimal.NullDecimal `json:"marginal_price" db:"marginal_price"`
	Depth         decimal.Decimal     `json:"depth" db:"depth"`
	OrderCount    int                 `json:"order_count" db:"order_count"`
	UpdatedAt     time.Time           `json:"updated_at" db:"updated_at"`
}
