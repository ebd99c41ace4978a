package espp

import (
	"github.com/etnz/espp/date"
	"github.com/shopspring/decimal"
)

// SaleAllocation is the part of a sale taken from one lot.
type SaleAllocation struct {
	Lot           LotID
	PurchaseDate  date.Date
	Quantity      decimal.Decimal // sold from the lot, positive
	SellPrice     Amount          // per share
	PurchasePrice Amount          // per share
	GainPerShare  Amount          // before deduction

	DeductionUsed decimal.Decimal // NOK per share
}

// Gain returns the gain of the allocation before deduction.
func (a SaleAllocation) Gain() Amount { return a.GainPerShare.Mul(a.Quantity) }

// DeductionUsedTotal is the NOK deduction used by the allocation.
func (a SaleAllocation) DeductionUsedTotal() decimal.Decimal { return a.DeductionUsed.Mul(a.Quantity) }

// TaxableNOK is the gain in NOK net of the deduction used.
func (a SaleAllocation) TaxableNOK() decimal.Decimal {
	return a.Gain().NOKValue().Sub(a.DeductionUsedTotal())
}

// Sale is one Sell transaction with the lots it consumed.
type Sale struct {
	Sell        Sell
	Allocations []SaleAllocation
}

// SaleTotals aggregates the allocations of a sale.
type SaleTotals struct {
	Quantity      decimal.Decimal
	Gain          Amount // before deduction
	TaxableNOK    decimal.Decimal
	DeductionUsed decimal.Decimal // NOK
	PurchasePrice Amount          // consumed lot costs plus the fee
}

// Totals computes the sale totals.
func (s Sale) Totals() SaleTotals {
	t := SaleTotals{Gain: NewAmount(decimal.Zero, s.Sell.Amount.Currency(), s.Sell.Amount.Rate())}
	t.PurchasePrice = t.Gain
	for _, a := range s.Allocations {
		t.Quantity = t.Quantity.Add(a.Quantity)
		t.Gain = t.Gain.Add(a.Gain())
		t.TaxableNOK = t.TaxableNOK.Add(a.TaxableNOK())
		t.DeductionUsed = t.DeductionUsed.Add(a.DeductionUsedTotal())
		t.PurchasePrice = t.PurchasePrice.Add(a.PurchasePrice.Mul(a.Quantity))
	}
	if s.Sell.Fee != nil {
		t.PurchasePrice = t.PurchasePrice.Add(s.Sell.Fee.Abs())
	}
	return t
}

// SellPrice is the price per share of the sale net of its fee, valued at
// the sale's own exchange rate.
func SellPrice(s Sell) Amount {
	net := s.Amount.Value()
	if s.Fee != nil {
		net = net.Sub(s.Fee.Value().Abs())
	}
	return s.Amount.WithValue(net.Div(s.Quantity.Abs()))
}

// SettleSale computes the per lot allocations of a sale from the lots it
// consumed. Deductions are not applied yet.
func SettleSale(l *Ledger, s Sell, used []Consumption) Sale {
	price := SellPrice(s)
	sale := Sale{Sell: s}
	for _, c := range used {
		lot := l.Lot(c.Lot)
		sale.Allocations = append(sale.Allocations, SaleAllocation{
			Lot:           c.Lot,
			PurchaseDate:  lot.Date,
			Quantity:      c.Quantity,
			SellPrice:     price,
			PurchasePrice: lot.PurchasePrice,
			GainPerShare:  gain(price, lot.PurchasePrice),
		})
	}
	return sale
}

// gain returns sell minus purchase, in value and in NOK, each side at its
// own rate.
func gain(sell, purchase Amount) Amount {
	value := sell.Value().Sub(purchase.Value())
	nok := sell.NOKValue().Sub(purchase.NOKValue())
	return RestoreAmount(value, sell.Currency(), effectiveRate(value, nok, sell.Rate()), nok)
}

// ApplySaleDeduction reduces positive gains with the lots' remaining
// deductions. Losses are left untouched.
func ApplySaleDeduction(l *Ledger, sale *Sale) {
	for i := range sale.Allocations {
		a := &sale.Allocations[i]
		if !a.GainPerShare.NOKValue().IsPositive() {
			continue
		}
		a.DeductionUsed = l.ConsumeDeduction(a.Lot, a.GainPerShare.NOKValue())
	}
}
