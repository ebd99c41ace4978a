package espp

import (
	"bytes"
	"strings"
	"testing"

	"github.com/etnz/espp/date"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var exact = cmp.Options{
	cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) }),
	cmp.Comparer(func(a, b Amount) bool { return a.Equal(b) }),
	cmp.Comparer(func(a, b date.Date) bool { return a == b }),
}

// heldLot is what a lot carries to the next year.
type heldLot struct {
	Symbol    string
	Date      date.Date
	Quantity  decimal.Decimal
	Price     Amount
	Deduction decimal.Decimal
}

// heldLots projects the lots still held.
func heldLots(lots []Lot) []heldLot {
	var r []heldLot
	for _, lot := range lots {
		if lot.Quantity.IsPositive() {
			r = append(r, heldLot{lot.Symbol, lot.Date, lot.Quantity, lot.PurchasePrice, lot.DeductionAvailable})
		}
	}
	return r
}

func TestHoldings_RoundTrip(t *testing.T) {
	opening := lot("CSCO", "2019-05-31", 12.3456, 33.3333, 8.7654321)
	opening.DeductionAccumulated = D("1.234567890123")
	l := NewLedger(opening, lot("ACME", "2020-11-30", 7, 101.01, 9.1))
	l.Acquire(NewDeposit(day("2021-03-15"), "CSCO", D("3.1415"), usd(41.17, 8.55), "test"))
	_, err := l.ConsumeFIFO("CSCO", D(5), day("2021-06-01"), "SELL")
	require.NoError(t, err)
	l.Accrue(D("0.5"))

	cash := []CashEntry{
		{Date: day("2021-10-01"), Description: DescDividend, Amount: usd(12.345678, 8.9)},
		{Date: day("2021-11-01"), Description: DescSale, Amount: usd(0, 8.9)},
	}
	h := NewHoldings(2021, "morgan", l, cash)
	require.Len(t, h.Stocks, 3, "the sold slice is not carried")
	require.Len(t, h.Cash, 1, "spent cash is not carried")

	var buf bytes.Buffer
	require.NoError(t, EncodeHoldings(&buf, h))
	got, err := DecodeHoldings(&buf)
	require.NoError(t, err)

	if diff := cmp.Diff(h, got, exact); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	restored := NewLedger(got.Lots()...)
	for _, symbol := range []string{"ACME", "CSCO"} {
		for _, on := range []string{"2021-12-31", "2022-01-01", "2023-06-30"} {
			want, err := l.BalanceAsOf(symbol, day(on))
			require.NoError(t, err)
			have, err := restored.BalanceAsOf(symbol, day(on))
			require.NoError(t, err)
			if diff := cmp.Diff(heldLots(want), heldLots(have), exact); diff != "" {
				t.Errorf("BalanceAsOf(%s, %s) mismatch (-want +got):\n%s", symbol, on, diff)
			}
		}
		held, err := l.Held(symbol, day("2021-12-31"))
		require.NoError(t, err)
		assert.True(t, h.Quantity(symbol).Equal(held))
	}
	assert.Equal(t, []string{"ACME", "CSCO"}, got.Symbols())
	assert.True(t, got.CashBalance().Equal(D(12.345678)))
}

func TestHoldings_Carry(t *testing.T) {
	opening := lot("CSCO", "2019-05-31", 10, 30, 9)
	opening.DeductionAccumulated = D(2)
	l := NewLedger(opening)
	l.Accrue(D(1))
	h := NewHoldings(2021, "morgan", l, nil)

	lots := h.Lots()
	require.Len(t, lots, 1)
	// 2 + 1% of (270 + 2)
	assert.True(t, lots[0].DeductionAccumulated.Equal(D("4.72")), "carried %s", lots[0].DeductionAccumulated)
	assert.True(t, lots[0].PurchasePrice.Equal(usd(30, 9)))
}

func TestDecodeHoldings_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"syntax", `{"year": 2021,`},
		{"no symbol", `{"year": 2021, "stocks": [{"date": "2021-01-01", "qty": 1, "tax_deduction": 0, "purchase_price": {"currency": "USD", "value": 1, "nok_exchange_rate": 10}}]}`},
		{"empty lot", `{"year": 2021, "stocks": [{"symbol": "CSCO", "date": "2021-01-01", "qty": 0, "tax_deduction": 0, "purchase_price": {"currency": "USD", "value": 1, "nok_exchange_rate": 10}}]}`},
		{"negative deduction", `{"year": 2021, "stocks": [{"symbol": "CSCO", "date": "2021-01-01", "qty": 1, "tax_deduction": -1, "purchase_price": {"currency": "USD", "value": 1, "nok_exchange_rate": 10}}]}`},
		{"negative cash", `{"year": 2021, "cash": [{"date": "2021-01-01", "description": "sale", "amount": {"currency": "USD", "value": -1, "nok_exchange_rate": 10}}]}`},
		{"missing rate", `{"year": 2021, "cash": [{"date": "2021-01-01", "description": "sale", "amount": {"currency": "USD", "value": 1}}]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeHoldings(strings.NewReader(tc.data)); err == nil {
				t.Errorf("DecodeHoldings() succeeded, want an error")
			}
		})
	}
}

func TestHoldings_NoPrecisionLoss(t *testing.T) {
	h := &Holdings{Year: 2021, Broker: "morgan", Stocks: []Stock{{
		Symbol:        "CSCO",
		Date:          day("2021-01-01"),
		Quantity:      D("0.1234567890123456789"),
		TaxDeduction:  D("0.0000000000000001"),
		PurchasePrice: RestoreAmount(D("47.123456789"), USD, D("8.5432109876"), D("402.5887658462")),
	}}}
	var buf bytes.Buffer
	require.NoError(t, EncodeHoldings(&buf, h))
	assert.Contains(t, buf.String(), "0.1234567890123456789")
	got, err := DecodeHoldings(&buf)
	require.NoError(t, err)
	assert.True(t, got.Stocks[0].Quantity.Equal(h.Stocks[0].Quantity))
	assert.True(t, got.Stocks[0].PurchasePrice.NOKValue().Equal(D("402.5887658462")))
}
