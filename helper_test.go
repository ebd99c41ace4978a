package espp

import (
	"github.com/etnz/espp/date"
	"github.com/shopspring/decimal"
)

// usd is a helper for tests to create a USD amount from consts.
func usd(v, rate float64) Amount { return NewAmount(D(v), USD, D(rate)) }

// usdp returns a pointer to a USD amount.
func usdp(v, rate float64) *Amount {
	a := usd(v, rate)
	return &a
}

// day parses a test date.
func day(s string) date.Date { return date.MustParse(s) }

// lot is a helper to create an opening lot.
func lot(symbol, on string, qty, price, rate float64) Lot {
	return Lot{Symbol: symbol, Date: day(on), Quantity: D(qty), PurchasePrice: usd(price, rate)}
}

// dec is a helper for comparisons.
func dec(v float64) decimal.Decimal { return D(v) }
