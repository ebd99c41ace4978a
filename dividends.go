package espp

import (
	"fmt"

	"github.com/etnz/espp/date"
	"github.com/shopspring/decimal"
)

// DividendAllocation is the share of one dividend attributed to one lot.
type DividendAllocation struct {
	Lot      LotID
	Date     date.Date // payment date
	ExDate   date.Date
	Quantity decimal.Decimal
	PerShare Amount // dividend per share, at the payment rate
	Dividend Amount // attributed to the lot

	DeductionUsed      decimal.Decimal // NOK per share
	DeductionUsedTotal decimal.Decimal // NOK
}

// TaxableNOK is the attributed dividend in NOK, net of the deduction used.
func (a DividendAllocation) TaxableNOK() decimal.Decimal {
	return a.Dividend.NOKValue().Sub(a.DeductionUsedTotal)
}

// DividendEvent is one dividend payment, attributed to the lots qualifying
// for it.
type DividendEvent struct {
	Dividend    Dividend
	Held        decimal.Decimal // qualifying shares
	Allocations []DividendAllocation
}

// DeductionUsed returns the NOK deduction used by the whole payment.
func (e DividendEvent) DeductionUsed() decimal.Decimal {
	total := decimal.Zero
	for _, a := range e.Allocations {
		total = total.Add(a.DeductionUsedTotal)
	}
	return total
}

// qualifyingDate returns the last day shares must be held to receive the
// dividend: the day before the ex-dividend date. Shares bought on the
// ex-date do not qualify, unlike in the espp2 tool which counted them.
func qualifyingDate(d Dividend) date.Date {
	if d.ExDate.IsZero() {
		return d.Date
	}
	return d.ExDate.Add(-1)
}

// AllocateDividend attributes d pro-rata to the lots held at the end of the
// day before its ex-dividend date. The last lot absorbs the rounding
// remainder so that the allocations add up to the paid amount. It does not
// touch the deductions.
func AllocateDividend(l *Ledger, d Dividend) (DividendEvent, error) {
	on := qualifyingDate(d)
	lots, err := l.BalanceAsOf(d.Symbol, on)
	if err != nil {
		return DividendEvent{}, err
	}
	held := decimal.Zero
	for _, lot := range lots {
		held = held.Add(lot.Quantity)
	}
	if !held.IsPositive() {
		return DividendEvent{}, &InvalidPositionError{Symbol: d.Symbol, Date: d.Date,
			Reason: fmt.Sprintf("dividend %s with no shares held on %s", d.Amount, on)}
	}

	dps := d.Amount.Div(held)
	event := DividendEvent{Dividend: d, Held: held}
	attributed, covered := decimal.Zero, decimal.Zero
	for _, lot := range lots {
		if lot.Quantity.IsZero() {
			continue
		}
		covered = covered.Add(lot.Quantity)
		value := dps.Value().Mul(lot.Quantity)
		if covered.Equal(held) {
			value = d.Amount.Value().Sub(attributed)
		}
		attributed = attributed.Add(value)
		event.Allocations = append(event.Allocations, DividendAllocation{
			Lot:      lot.ID,
			Date:     d.Date,
			ExDate:   d.ExDate,
			Quantity: lot.Quantity,
			PerShare: dps,
			Dividend: d.Amount.WithValue(value),
		})
		if covered.Equal(held) {
			break
		}
	}
	return event, nil
}

// ApplyDividendDeduction consumes the lots' deductions against the dividend
// per share. A lot whose deduction covers the dividend per share makes its
// share of the dividend tax free, otherwise whatever is left is used.
func ApplyDividendDeduction(l *Ledger, event *DividendEvent) {
	for i := range event.Allocations {
		a := &event.Allocations[i]
		a.DeductionUsed = l.ConsumeDeduction(a.Lot, a.PerShare.NOKValue())
		a.DeductionUsedTotal = a.DeductionUsed.Mul(a.Quantity)
	}
}

// checkDividend compares the paid amount with the per share value reported
// by market data. It returns a warning when they differ by more than 1% and
// more than one unit of currency.
func checkDividend(event DividendEvent, reported decimal.Decimal) string {
	if reported.IsZero() {
		return ""
	}
	d := event.Dividend
	expected := event.Held.Mul(reported).Round(2)
	diff := expected.Sub(d.Amount.Value()).Abs()
	if diff.LessThanOrEqual(decimal.NewFromInt(1)) {
		return ""
	}
	if !expected.IsZero() && diff.Div(expected).LessThanOrEqual(decimal.NewFromFloat(0.01)) {
		return ""
	}
	return fmt.Sprintf("dividend %s %s on %s: expected %s for %s shares at %s per share, got %s",
		d.Symbol, d.ID(), d.Date, expected, event.Held, reported, d.Amount.Value())
}
