package espp

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/etnz/espp/date"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRates(t *testing.T) {
	r, err := LoadRates(strings.NewReader(`{
		"tax_deduction_rates": {"2021": 0.5, "2022": [1.7, "2022-12-31"]},
		"espp": {"2022-06-30": 10.12}
	}`))
	require.NoError(t, err)

	got, err := r.TaxDeductionRate(2021)
	require.NoError(t, err)
	assert.True(t, got.Equal(D(0.5)))
	got, err = r.TaxDeductionRate(2022)
	require.NoError(t, err)
	assert.True(t, got.Equal(D(1.7)))

	rate, ok := r.ESPPRate(day("2022-06-30"))
	assert.True(t, ok)
	assert.True(t, rate.Equal(D(10.12)))
	_, ok = r.ESPPRate(day("2022-07-01"))
	assert.False(t, ok)
}

func TestLoadRates_Invalid(t *testing.T) {
	for _, data := range []string{
		`{"tax_deduction_rates": {"twenty": 1}}`,
		`{"tax_deduction_rates": {"2021": []}}`,
		`{"tax_deduction_rates": {"2021": "high"}}`,
		`{"espp": {"June": 10}}`,
		`[`,
	} {
		if _, err := LoadRates(strings.NewReader(data)); err == nil {
			t.Errorf("LoadRates(%s) succeeded, want an error", data)
		}
	}
}

func TestTaxDeductionRate(t *testing.T) {
	r := DefaultRates()
	got, err := r.TaxDeductionRate(2022)
	require.NoError(t, err)
	assert.True(t, got.Equal(D(1.7)))

	got, err = r.TaxDeductionRate(2005)
	require.NoError(t, err, "no deduction before it existed")
	assert.True(t, got.IsZero())

	_, err = r.TaxDeductionRate(2099)
	var le *LookupError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, LookupDeductionRate, le.Kind)
	assert.Equal(t, "2099", le.Key)
}

func TestRates_Merge(t *testing.T) {
	r := DefaultRates()
	r.Merge(&Rates{TaxDeduction: map[int]decimal.Decimal{2022: D(9)}, ESPP: map[date.Date]decimal.Decimal{day("2022-12-30"): D(9.9)}})
	got, err := r.TaxDeductionRate(2022)
	require.NoError(t, err)
	assert.True(t, got.Equal(D(9)))
	got, err = r.TaxDeductionRate(2021)
	require.NoError(t, err)
	assert.True(t, got.Equal(D(0.5)), "other years are kept")
	_, ok := r.ESPPRate(day("2022-12-30"))
	assert.True(t, ok)
}

func TestLookback(t *testing.T) {
	known := map[date.Date]int{day("2022-12-30"): 1}
	get := func(d date.Date) (int, bool) { v, ok := known[d]; return v, ok }

	v, on, ok := Lookback(day("2023-01-01"), 3, get)
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, day("2022-12-30"), on)

	_, _, ok = Lookback(day("2023-01-01"), 2, get)
	assert.False(t, ok)
}

func TestFakeProvider(t *testing.T) {
	ctx := context.Background()
	manual := &Rates{ESPP: map[date.Date]decimal.Decimal{day("2022-06-30"): D(10.12)}}
	p := NewFakeProvider(manual).SetRate(USD, day("2022-06-30"), D(9.9)).SetPrice("CSCO", day("2022-12-30"), D(47.64))

	rate, err := p.ExchangeRate(ctx, NOK, day("2022-06-30"))
	require.NoError(t, err)
	assert.True(t, rate.Equal(D(1)))

	rate, err = p.ExchangeRate(ctx, ESPPUSD, day("2022-06-30"))
	require.NoError(t, err)
	assert.True(t, rate.Equal(D(10.12)), "plan rate")
	rate, err = p.ExchangeRate(ctx, ESPPUSD, day("2022-07-01"))
	require.NoError(t, err)
	assert.True(t, rate.Equal(D(9.9)), "falls back to USD")

	price, err := p.ClosePrice(ctx, "CSCO", day("2023-01-03"))
	require.NoError(t, err, "within the attempts")
	assert.True(t, price.Equal(D(47.64)))
	_, err = p.ClosePrice(ctx, "CSCO", day("2023-01-04"))
	assert.True(t, errors.Is(err, ErrLookup))

	_, err = p.DividendRecord(ctx, "CSCO", day("2022-04-27"))
	assert.ErrorIs(t, err, ErrLookup)
	_, err = p.Fundamentals(ctx, "CSCO")
	assert.ErrorIs(t, err, ErrLookup)
}
