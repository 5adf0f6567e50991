// Package ticker parses and formats market tickers of the form
// {CURRENCY}-{KIND}-{KEY}, e.g. EUR-GOOD-WHEAT, EUR-CURRENCY-USD or
// EUR-PROPERTY-SHARE.
package ticker

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/uwol/computational-economy-sub002/internal/model"
)

var tickerRegex = regexp.MustCompile(
	`^([A-Z]{3})-([A-Z]+)-([A-Z][A-Z0-9_]*)$`,
)

var (
	ErrInvalidTicker = errors.New("ticker: invalid ticker format")
	ErrInvalidKind   = errors.New("ticker: unsupported commodity kind")
)

var kinds = map[string]model.CommodityKind{
	model.KindGood.String():     model.KindGood,
	model.KindCurrency.String(): model.KindCurrency,
	model.KindProperty.String(): model.KindProperty,
}

// Parse parses and validates a ticker string.
func Parse(ticker string) (model.MarketKey, error) {
	matches := tickerRegex.FindStringSubmatch(ticker)
	if matches == nil {
		return model.MarketKey{}, fmt.Errorf("%w: %s (expected {CUR}-{KIND}-{KEY})",
			ErrInvalidTicker, ticker)
	}

	currency := model.Currency(matches[1])
	kind, ok := kinds[matches[2]]
	if !ok {
		return model.MarketKey{}, fmt.Errorf("%w: %s", ErrInvalidKind, matches[2])
	}

	var commodity model.CommodityKey
	switch kind {
	case model.KindGood:
		commodity = model.Good(model.GoodType(matches[3]))
	case model.KindCurrency:
		if matches[3] == matches[1] {
			return model.MarketKey{}, fmt.Errorf("%w: currency %s traded against itself",
				ErrInvalidTicker, matches[3])
		}
		commodity = model.CounterCurrency(model.Currency(matches[3]))
	case model.KindProperty:
		commodity = model.Property(model.PropertyClass(matches[3]))
	}

	return model.MarketKey{Currency: currency, Commodity: commodity}, nil
}

// Format renders a market key as a ticker.
func Format(key model.MarketKey) string {
	return key.String()
}
