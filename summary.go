package espp

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ForeignShares is the tax form entry of one foreign security. NOK values
// are rounded to the krone.
type ForeignShares struct {
	Symbol        string
	ISIN          string
	Country       string
	Account       string
	Shares        decimal.Decimal
	Wealth        decimal.Decimal
	Dividend      decimal.Decimal
	TaxableGain   decimal.Decimal
	DeductionUsed decimal.Decimal

	// Set for 2022 only: the part after the tax increase.
	PostTaxIncreaseDividend *decimal.Decimal
	PostTaxIncreaseGain     *decimal.Decimal
}

// CreditDeduction is the foreign tax credit claimed for dividends.
type CreditDeduction struct {
	Symbol                  string
	Country                 string
	IncomeTax               decimal.Decimal
	GrossShareDividend      decimal.Decimal
	TaxOnGrossShareDividend decimal.Decimal
}

// Summary holds what goes into the tax return.
type Summary struct {
	Year             int
	ForeignShares    []ForeignShares
	CreditDeductions []CreditDeduction
	Cash             CashSummary
}

// Withholding rates on US dividends.
var (
	TreatyRate           = decimal.RequireFromString("0.15")
	NoTreatyRate         = decimal.RequireFromString("0.30")
	withholdingTolerance = decimal.RequireFromString("0.01")
	withholdingMinDiff   = decimal.NewFromInt(5)
)

func round(d decimal.Decimal) decimal.Decimal { return d.RoundBank(0) }

// buildSummary computes the tax return entries of a report. It returns
// warnings about suspicious dividend withholdings.
func buildSummary(r *Report) (Summary, []string) {
	s := Summary{Year: r.Year, Cash: r.Cash}
	split := r.Year == TaxIncreaseDate.Year()

	// The currency gain of cash moved right after a sale belongs to the
	// share gain. It is counted once, with the first symbol sold.
	aggregated := r.Cash.GainAggregated
	for _, item := range r.Balance {
		fs := ForeignShares{
			Symbol:  item.Symbol,
			ISIN:    r.Fundamentals[item.Symbol].ISIN,
			Country: r.Fundamentals[item.Symbol].Country,
			Account: r.Broker,
			Shares:  item.Quantity,
			Wealth:  round(item.Amount.NOKValue()),
		}
		var divUsed, postDividend, postGain decimal.Decimal
		for _, d := range r.Dividends {
			if d.Symbol == item.Symbol {
				fs.Dividend = round(d.NetNOK())
				divUsed = d.DeductionUsed
				postDividend = d.PostTaxIncrease
			}
		}
		gain, saleUsed := decimal.Zero, decimal.Zero
		sold := false
		for _, ss := range r.Sales {
			if ss.Symbol != item.Symbol {
				continue
			}
			for _, sale := range ss.Sales {
				t := sale.Totals()
				gain = gain.Add(t.TaxableNOK)
				saleUsed = saleUsed.Add(t.DeductionUsed)
				if sale.Sell.Date.After(TaxIncreaseDate) {
					postGain = postGain.Add(t.TaxableNOK)
				}
				sold = true
			}
		}
		if sold && !aggregated.IsZero() {
			gain = gain.Add(aggregated)
			aggregated = decimal.Zero
		}
		fs.TaxableGain = round(gain)
		fs.DeductionUsed = round(divUsed.Add(saleUsed))
		if split {
			pd, pg := round(postDividend), round(postGain)
			fs.PostTaxIncreaseDividend, fs.PostTaxIncreaseGain = &pd, &pg
		}
		s.ForeignShares = append(s.ForeignShares, fs)
	}
	if !aggregated.IsZero() && len(s.ForeignShares) > 0 {
		fs := &s.ForeignShares[0]
		fs.TaxableGain = round(fs.TaxableGain.Add(aggregated))
	}

	var warnings []string
	for _, d := range r.Dividends {
		if msg := checkWithholding(d); msg != "" {
			warnings = append(warnings, msg)
		}
		expected := TreatyRate.Mul(d.Gross.NOKValue())
		s.CreditDeductions = append(s.CreditDeductions, CreditDeduction{
			Symbol:                  d.Symbol,
			Country:                 "USA",
			IncomeTax:               round(expected),
			GrossShareDividend:      round(d.Gross.NOKValue()),
			TaxOnGrossShareDividend: round(expected),
		})
	}
	return s, warnings
}

// checkWithholding warns when the tax withheld on dividends looks like the
// no treaty rate, or deviates from the treaty rate by more than 1% and more
// than 5 USD.
func checkWithholding(d SymbolDividends) string {
	gross := d.Gross.Value()
	if gross.IsZero() {
		return ""
	}
	actual := d.Tax.Value().Abs()
	rate := actual.Div(gross)
	if rate.Sub(NoTreatyRate).Abs().LessThanOrEqual(NoTreatyRate.Mul(withholdingTolerance)) {
		return fmt.Sprintf("%s: %s withheld on %s dividends is 30%%, a W-8BEN form is probably missing", d.Symbol, actual.StringFixed(2), gross.StringFixed(2))
	}
	expected := TreatyRate.Mul(gross)
	diff := expected.Sub(actual).Abs()
	if diff.GreaterThan(withholdingMinDiff) && diff.Div(expected).GreaterThan(withholdingTolerance) {
		return fmt.Sprintf("%s: expected %s withheld on %s dividends, got %s", d.Symbol, expected.StringFixed(2), gross.StringFixed(2), actual.StringFixed(2))
	}
	return ""
}
