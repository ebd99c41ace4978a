package espp

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/etnz/espp/date"
	"github.com/shopspring/decimal"
)

// Number of days tried, starting with the requested one, before a lookup
// gives up. Markets and banks are closed on holidays.
const (
	StockAttempts    = 5
	CurrencyAttempts = 6
	DividendAttempts = 5
)

// DividendRecord is a dividend as published by market data, keyed by its
// payment date.
type DividendRecord struct {
	ExDate          date.Date
	DeclarationDate date.Date
	PerShare        decimal.Decimal
}

// Fundamentals identifies a security.
type Fundamentals struct {
	Symbol  string
	Name    string
	ISIN    string
	Country string
}

// Provider supplies market data. Dated lookups fall back to previous days
// and return a *LookupError when nothing is found.
type Provider interface {
	ClosePrice(ctx context.Context, symbol string, on date.Date) (decimal.Decimal, error)
	ExchangeRate(ctx context.Context, currency string, on date.Date) (decimal.Decimal, error)
	DividendRecord(ctx context.Context, symbol string, paymentDate date.Date) (DividendRecord, error)
	Fundamentals(ctx context.Context, symbol string) (Fundamentals, error)
}

// Lookback returns the value of get on day on or one of the attempts-1
// previous days, the most recent first.
func Lookback[T any](on date.Date, attempts int, get func(date.Date) (T, bool)) (T, date.Date, bool) {
	for i := 0; i < attempts; i++ {
		day := on.Add(-i)
		if v, ok := get(day); ok {
			return v, day, true
		}
	}
	var zero T
	return zero, date.Date{}, false
}

//go:embed rates.json
var defaultRates []byte

// Rates holds the manually maintained tables: the yearly tax deduction
// rate in percent, and the exchange rate of the ESPP plan by purchase date.
type Rates struct {
	TaxDeduction map[int]decimal.Decimal
	ESPP         map[date.Date]decimal.Decimal
}

// DefaultRates returns the tables embedded in the binary.
func DefaultRates() *Rates {
	r, err := LoadRates(bytes.NewReader(defaultRates))
	if err != nil {
		panic(fmt.Sprintf("embedded rates: %v", err))
	}
	return r
}

// LoadRates reads rate tables. Each deduction rate is either a number or a
// list whose first element is the rate.
func LoadRates(r io.Reader) (*Rates, error) {
	var raw struct {
		TaxDeduction map[string]json.RawMessage `json:"tax_deduction_rates"`
		ESPP         map[string]decimal.Decimal `json:"espp"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding rates: %w", err)
	}
	rates := &Rates{TaxDeduction: make(map[int]decimal.Decimal), ESPP: make(map[date.Date]decimal.Decimal)}
	for k, v := range raw.TaxDeduction {
		year, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("tax deduction rate: invalid year %q", k)
		}
		var rate decimal.Decimal
		if err := json.Unmarshal(v, &rate); err != nil {
			var list []json.RawMessage
			if err := json.Unmarshal(v, &list); err != nil || len(list) == 0 {
				return nil, fmt.Errorf("tax deduction rate %d: %s", year, v)
			}
			if err := json.Unmarshal(list[0], &rate); err != nil {
				return nil, fmt.Errorf("tax deduction rate %d: %w", year, err)
			}
		}
		rates.TaxDeduction[year] = rate
	}
	for k, v := range raw.ESPP {
		on, err := date.Parse(k)
		if err != nil {
			return nil, fmt.Errorf("espp rate: %w", err)
		}
		rates.ESPP[on] = v
	}
	return rates, nil
}

// Merge overrides r's entries with the ones of o.
func (r *Rates) Merge(o *Rates) {
	for k, v := range o.TaxDeduction {
		r.TaxDeduction[k] = v
	}
	for k, v := range o.ESPP {
		r.ESPP[k] = v
	}
}

// FirstDeductionYear is the year the tax deduction was introduced.
const FirstDeductionYear = 2006

// TaxDeductionRate returns the deduction rate of year, in percent. Years
// before FirstDeductionYear have none.
func (r *Rates) TaxDeductionRate(year int) (decimal.Decimal, error) {
	if rate, ok := r.TaxDeduction[year]; ok {
		return rate, nil
	}
	if year < FirstDeductionYear {
		return decimal.Zero, nil
	}
	return decimal.Zero, &LookupError{Kind: LookupDeductionRate, Key: strconv.Itoa(year)}
}

// ESPPRate returns the plan exchange rate for a purchase on date on.
func (r *Rates) ESPPRate(on date.Date) (decimal.Decimal, bool) {
	rate, ok := r.ESPP[on]
	return rate, ok
}
