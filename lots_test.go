package espp

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumeFIFO(t *testing.T) {
	l := NewLedger(lot("CSCO", "2021-03-01", 10, 40, 8.5))
	if _, err := l.Acquire(NewBuy(day("2022-01-10"), "CSCO", D(20), usd(45, 9), "test")); err != nil {
		t.Fatalf("Acquire() = %v", err)
	}

	used, err := l.ConsumeFIFO("CSCO", D(-15), day("2022-06-01"), "SELL 1")
	require.NoError(t, err)
	require.Len(t, used, 2)
	assert.True(t, used[0].Quantity.Equal(D(10)), "first lot fully consumed, got %s", used[0].Quantity)
	assert.True(t, used[1].Quantity.Equal(D(5)), "second lot partly consumed, got %s", used[1].Quantity)

	// The partly consumed lot was split: the sold slice is a lot of its own.
	lots := l.Lots("CSCO")
	require.Len(t, lots, 3)
	want := []float64{0, 0, 15}
	for i, lot := range lots {
		if !lot.Quantity.Equal(D(want[i])) {
			t.Errorf("lots[%d].Quantity = %s, want %v", i, lot.Quantity, want[i])
		}
	}
	if got := l.Lot(used[1].Lot); !got.Original.Equal(D(5)) || got.Disposed != day("2022-06-01") {
		t.Errorf("sold slice = %+v, want original 5 disposed on 2022-06-01", got)
	}
	if lots[2].Parent != lots[1].ID {
		t.Errorf("remainder parent = %d, want %d", lots[2].Parent, lots[1].ID)
	}
	if !l.Position("CSCO").Equal(D(15)) {
		t.Errorf("Position() = %s, want 15", l.Position("CSCO"))
	}
}

func TestConsumeFIFO_Errors(t *testing.T) {
	tests := []struct {
		name string
		qty  float64
		on   string
		want error
	}{
		{"zero quantity", 0, "2022-06-01", ErrInvalidQuantity},
		{"selling more than held", 150, "2022-06-01", ErrInvalidPosition},
		{"selling from the future", 60, "2022-01-15", ErrInvalidPosition},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l := NewLedger(lot("CSCO", "2022-01-01", 50, 10, 10), lot("CSCO", "2022-02-01", 50, 10, 10))
			before := l.Lots("CSCO")
			_, err := l.ConsumeFIFO("CSCO", D(tc.qty), day(tc.on), "SELL")
			if !errors.Is(err, tc.want) {
				t.Fatalf("ConsumeFIFO() = %v, want %v", err, tc.want)
			}
			assert.Equal(t, before, l.Lots("CSCO"), "the ledger must be left untouched")
		})
	}
}

func TestBalanceAsOf(t *testing.T) {
	l := NewLedger(lot("CSCO", "2021-05-01", 10, 40, 8.5))
	l.Acquire(NewBuy(day("2022-03-01"), "CSCO", D(10), usd(45, 9), "test"))
	l.Acquire(NewBuy(day("2022-09-01"), "CSCO", D(10), usd(50, 10), "test"))
	_, err := l.ConsumeFIFO("CSCO", D(15), day("2022-06-01"), "SELL 1")
	require.NoError(t, err)
	_, err = l.ConsumeFIFO("CSCO", D(10), day("2022-10-01"), "SELL 2")
	require.NoError(t, err)

	tests := []struct {
		on   string
		want float64
	}{
		{"2021-12-31", 10},
		{"2022-03-01", 20},
		{"2022-05-31", 20},
		{"2022-06-01", 5},
		{"2022-09-01", 15},
		{"2022-12-31", 5},
	}
	for _, tc := range tests {
		got, err := l.Held("CSCO", day(tc.on))
		if err != nil {
			t.Fatalf("Held(%s) = %v", tc.on, err)
		}
		if !got.Equal(D(tc.want)) {
			t.Errorf("Held(%s) = %s, want %v", tc.on, got, tc.want)
		}
	}

	// Projections never change the ledger.
	before := l.Lots("CSCO")
	view, err := l.BalanceAsOf("CSCO", day("2022-03-01"))
	require.NoError(t, err)
	view[0].Quantity = D(1000)
	assert.Equal(t, before, l.Lots("CSCO"))
}

// FIFO conservation: remaining plus sold is always what was bought.
func TestFIFOConservation(t *testing.T) {
	buys := []float64{3, 7.5, 12, 0.25, 40}
	sells := []float64{2, 8, 0.75, 11, 30}

	l := NewLedger()
	bought := decimal.Zero
	for i, q := range buys {
		l.Acquire(NewBuy(day("2022-01-01").Add(i), "ACME", D(q), usd(10, 10), "test"))
		bought = bought.Add(D(q))
	}
	sold := decimal.Zero
	for i, q := range sells {
		on := day("2022-02-01").Add(i * 30)
		_, err := l.ConsumeFIFO("ACME", D(q), on, "SELL")
		require.NoError(t, err)
		sold = sold.Add(D(q))

		held, err := l.Held("ACME", on)
		require.NoError(t, err)
		if !held.Add(sold).Equal(bought) {
			t.Errorf("after sale %d: held %s + sold %s != bought %s", i, held, sold, bought)
		}
		if !l.Position("ACME").Equal(held) {
			t.Errorf("after sale %d: Position() = %s, Held() = %s", i, l.Position("ACME"), held)
		}
		for _, lot := range l.Lots("ACME") {
			if lot.Quantity.IsNegative() || lot.Quantity.GreaterThan(lot.Original) {
				t.Errorf("lot %d: quantity %s outside [0, %s]", lot.ID, lot.Quantity, lot.Original)
			}
		}
	}
}

func TestAccrue(t *testing.T) {
	l := NewLedger(Lot{Symbol: "CSCO", Date: day("2020-01-01"), Quantity: D(10), PurchasePrice: usd(10, 10), DeductionAccumulated: D(5)})
	l.Acquire(NewBuy(day("2022-01-01"), "CSCO", D(10), usd(20, 10), "test"))
	_, err := l.ConsumeFIFO("CSCO", D(10), day("2022-06-01"), "SELL")
	require.NoError(t, err)

	l.Accrue(D(2))
	lots := l.Lots("CSCO")
	// Sold during the year: only the accumulated deduction is available.
	assert.True(t, lots[0].DeductionNew.IsZero())
	assert.True(t, lots[0].DeductionAvailable.Equal(D(5)), "got %s", lots[0].DeductionAvailable)
	// Held at year end: 2% of 200 NOK.
	assert.True(t, lots[1].DeductionNew.Equal(D(4)), "got %s", lots[1].DeductionNew)
	assert.True(t, lots[1].DeductionAvailable.Equal(D(4)), "got %s", lots[1].DeductionAvailable)

	if got := l.ConsumeDeduction(lots[0].ID, D(3)); !got.Equal(D(3)) {
		t.Errorf("ConsumeDeduction(3) = %s, want 3", got)
	}
	if got := l.ConsumeDeduction(lots[0].ID, D(3)); !got.Equal(D(2)) {
		t.Errorf("ConsumeDeduction(3) = %s, want 2", got)
	}
	if got := l.Lot(lots[0].ID).DeductionAvailable; !got.IsZero() {
		t.Errorf("DeductionAvailable = %s, want 0", got)
	}
	if got := l.ConsumeDeduction(lots[0].ID, D(3)); !got.IsZero() {
		t.Errorf("ConsumeDeduction() on an empty budget = %s, want 0", got)
	}
}
