package espp

import (
	"context"

	"github.com/etnz/espp/date"
	"github.com/shopspring/decimal"
)

// FakeProvider is an in-memory Provider for tests and offline runs.
type FakeProvider struct {
	prices       map[string]*date.History[decimal.Decimal]
	rates        map[string]*date.History[decimal.Decimal]
	dividends    map[string]*date.History[DividendRecord]
	fundamentals map[string]Fundamentals
	manual       *Rates
}

// NewFakeProvider returns an empty provider. ESPPUSD rates come from
// manual, falling back to USD.
func NewFakeProvider(manual *Rates) *FakeProvider {
	if manual == nil {
		manual = &Rates{TaxDeduction: map[int]decimal.Decimal{}, ESPP: map[date.Date]decimal.Decimal{}}
	}
	return &FakeProvider{
		prices:       make(map[string]*date.History[decimal.Decimal]),
		rates:        make(map[string]*date.History[decimal.Decimal]),
		dividends:    make(map[string]*date.History[DividendRecord]),
		fundamentals: make(map[string]Fundamentals),
		manual:       manual,
	}
}

func history[T any](m map[string]*date.History[T], key string) *date.History[T] {
	h, ok := m[key]
	if !ok {
		h = new(date.History[T])
		m[key] = h
	}
	return h
}

// SetPrice records the close price of symbol on a day.
func (p *FakeProvider) SetPrice(symbol string, on date.Date, v decimal.Decimal) *FakeProvider {
	history(p.prices, symbol).Append(on, v)
	return p
}

// SetRate records the NOK rate of currency on a day.
func (p *FakeProvider) SetRate(currency string, on date.Date, v decimal.Decimal) *FakeProvider {
	history(p.rates, currency).Append(on, v)
	return p
}

// SetDividend records a dividend of symbol paid on a day.
func (p *FakeProvider) SetDividend(symbol string, paid date.Date, r DividendRecord) *FakeProvider {
	history(p.dividends, symbol).Append(paid, r)
	return p
}

// SetFundamentals records the identity of a security.
func (p *FakeProvider) SetFundamentals(f Fundamentals) *FakeProvider {
	p.fundamentals[f.Symbol] = f
	return p
}

func lookup[T any](m map[string]*date.History[T], kind LookupKind, key string, on date.Date, attempts int) (T, error) {
	var zero T
	h, ok := m[key]
	if !ok {
		return zero, &LookupError{Kind: kind, Key: key, Date: on}
	}
	v, _, ok := h.ValueWithin(on, attempts-1)
	if !ok {
		return zero, &LookupError{Kind: kind, Key: key, Date: on}
	}
	return v, nil
}

func (p *FakeProvider) ClosePrice(_ context.Context, symbol string, on date.Date) (decimal.Decimal, error) {
	return lookup(p.prices, LookupStock, symbol, on, StockAttempts)
}

func (p *FakeProvider) ExchangeRate(_ context.Context, currency string, on date.Date) (decimal.Decimal, error) {
	switch currency {
	case NOK:
		return decimal.NewFromInt(1), nil
	case ESPPUSD:
		if rate, ok := p.manual.ESPPRate(on); ok {
			return rate, nil
		}
		currency = USD
	}
	return lookup(p.rates, LookupCurrency, currency, on, CurrencyAttempts)
}

func (p *FakeProvider) DividendRecord(_ context.Context, symbol string, paid date.Date) (DividendRecord, error) {
	return lookup(p.dividends, LookupDividends, symbol, paid, DividendAttempts)
}

func (p *FakeProvider) Fundamentals(_ context.Context, symbol string) (Fundamentals, error) {
	f, ok := p.fundamentals[symbol]
	if !ok {
		return Fundamentals{Symbol: symbol}, &LookupError{Kind: LookupFundamentals, Key: symbol}
	}
	return f, nil
}
