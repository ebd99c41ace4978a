package espp

import (
	"context"
	"slices"

	"github.com/etnz/espp/date"
	"github.com/shopspring/decimal"
)

// Report is the tax report of one year.
type Report struct {
	Year   int
	Broker string

	PreviousHoldings *Holdings
	Holdings         *Holdings // end of this year, opens the next one

	DeductionRate decimal.Decimal // percent
	Lots          []Lot           // every lot of the year, split by sales
	Buys          []BuySummary
	Sales         []SymbolSales
	Dividends     []SymbolDividends
	Transfers     []ShareTransfer
	ESPP          []ESPPInfo

	CashLedger     []LedgerLine
	Cash           CashSummary
	RemainingCash  Amount // valued on December 31st
	UnmatchedWires []UnmatchedWire

	PreviousBalance []BalanceItem // December 31st of the previous year
	Balance         []BalanceItem // December 31st

	Fundamentals map[string]Fundamentals
	Summary      Summary
	Warnings     []string
}

// BuySummary aggregates the acquisitions of a symbol during the year.
type BuySummary struct {
	Symbol   string
	Quantity decimal.Decimal
	AvgPrice decimal.Decimal // in the purchase currency
	AvgNOK   decimal.Decimal
}

// SymbolSales lists the sales of a symbol.
type SymbolSales struct {
	Symbol string
	Sales  []Sale
}

// SymbolDividends aggregates the dividends of a symbol.
type SymbolDividends struct {
	Symbol        string
	Events        []DividendEvent
	Gross         Amount
	Tax           Amount // withheld, net of reversals
	DeductionUsed decimal.Decimal

	// PostTaxIncrease is the part of Gross declared after the 2022 tax
	// increase, net of deduction, in NOK.
	PostTaxIncrease decimal.Decimal
}

// NetNOK is the taxable dividend in NOK, after deduction.
func (s SymbolDividends) NetNOK() decimal.Decimal { return s.Gross.NOKValue().Sub(s.DeductionUsed) }

// BalanceItem is the value of a holding at the end of a year.
type BalanceItem struct {
	Symbol   string
	Quantity decimal.Decimal
	FMV      decimal.Decimal // close price per share
	Amount   Amount
}

// ESPPInfo details the benefit of one ESPP purchase.
type ESPPInfo struct {
	Symbol          string
	Date            date.Date
	Quantity        decimal.Decimal
	InvestedNOK     decimal.Decimal // at the discounted price
	PurchaseNOK     decimal.Decimal // at the market price
	BenefitGrossNOK decimal.Decimal
	BenefitNetNOK   decimal.Decimal
	ROIGross        decimal.Decimal // percent
	ROINet          decimal.Decimal // percent
}

// ESPPNetFactor is the part of the ESPP benefit left after income tax.
var ESPPNetFactor = decimal.RequireFromString("0.54")

func (e *Engine) report(ctx context.Context, y *taxYear) (*Report, error) {
	r := &Report{
		Year:             y.in.Year,
		Broker:           y.in.Broker,
		PreviousHoldings: y.in.Holdings,
		Holdings:         NewHoldings(y.in.Year, y.in.Broker, y.ledger, y.cashSummary.Holdings),
		DeductionRate:    y.rate,
		Transfers:        y.transfers,
		CashLedger:       y.cash.Ledger(),
		Cash:             y.cashSummary,
		UnmatchedWires:   y.unmatched,
		Fundamentals:     make(map[string]Fundamentals),
		Warnings:         y.warnings,
	}
	symbols := y.ledger.Symbols()
	for _, s := range symbols {
		r.Lots = append(r.Lots, y.ledger.Lots(s)...)
	}
	r.Buys = buys(symbols, y.txs)
	r.Sales = salesBySymbol(symbols, y.sales)
	r.Dividends = dividendsBySymbol(symbols, y.dividends, y.txs)
	r.ESPP = esppInfo(y.txs)

	eoy := date.EndOfYear(y.in.Year)
	rate, err := e.provider.ExchangeRate(ctx, USD, eoy)
	if err != nil {
		return nil, err
	}
	r.RemainingCash = NewAmount(y.cashSummary.Remaining, USD, rate)

	held := make(map[string]decimal.Decimal)
	for _, s := range symbols {
		held[s] = y.ledger.Position(s)
	}
	if r.Balance, err = e.balance(ctx, y.in.Year, symbols, held); err != nil {
		return nil, err
	}
	prev := make(map[string]decimal.Decimal)
	for _, s := range symbols {
		prev[s] = y.in.Holdings.Quantity(s)
	}
	if r.PreviousBalance, err = e.balance(ctx, y.in.Year-1, symbols, prev); err != nil {
		return nil, err
	}

	for _, s := range symbols {
		f, err := e.provider.Fundamentals(ctx, s)
		if err != nil {
			return nil, err
		}
		r.Fundamentals[s] = f
	}

	var warnings []string
	r.Summary, warnings = buildSummary(r)
	for _, w := range warnings {
		e.log.Warn().Int("year", r.Year).Msg(w)
		r.Warnings = append(r.Warnings, w)
	}
	return r, nil
}

// balance values the holdings on December 31st of year. Symbols not held
// are listed with a zero value and no market data lookup.
func (e *Engine) balance(ctx context.Context, year int, symbols []string, held map[string]decimal.Decimal) ([]BalanceItem, error) {
	eoy := date.EndOfYear(year)
	var items []BalanceItem
	var rate decimal.Decimal
	for _, s := range symbols {
		qty := held[s]
		item := BalanceItem{Symbol: s, Quantity: qty, Amount: NewAmount(decimal.Zero, USD, decimal.Zero)}
		if qty.IsPositive() {
			if rate.IsZero() {
				var err error
				if rate, err = e.provider.ExchangeRate(ctx, USD, eoy); err != nil {
					return nil, err
				}
			}
			fmv, err := e.provider.ClosePrice(ctx, s, eoy)
			if err != nil {
				return nil, err
			}
			item.FMV = fmv
			item.Amount = NewAmount(qty.Mul(fmv), USD, rate)
		}
		items = append(items, item)
	}
	return items, nil
}

func buys(symbols []string, txs []Transaction) []BuySummary {
	var r []BuySummary
	for _, s := range symbols {
		b := BuySummary{Symbol: s}
		n := 0
		for _, tx := range txs {
			var qty decimal.Decimal
			var price Amount
			switch t := tx.(type) {
			case Buy:
				if t.Symbol != s {
					continue
				}
				qty, price = t.Quantity, t.PurchasePrice
			case Deposit:
				if t.Symbol != s {
					continue
				}
				qty, price = t.Quantity, t.PurchasePrice
			default:
				continue
			}
			b.Quantity = b.Quantity.Add(qty)
			b.AvgPrice = b.AvgPrice.Add(price.Value())
			b.AvgNOK = b.AvgNOK.Add(price.NOKValue())
			n++
		}
		if n == 0 {
			continue
		}
		b.AvgPrice = b.AvgPrice.Div(decimal.NewFromInt(int64(n)))
		b.AvgNOK = b.AvgNOK.Div(decimal.NewFromInt(int64(n)))
		r = append(r, b)
	}
	return r
}

func salesBySymbol(symbols []string, sales []Sale) []SymbolSales {
	var r []SymbolSales
	for _, s := range symbols {
		ss := SymbolSales{Symbol: s}
		for _, sale := range sales {
			if sale.Sell.Symbol == s {
				ss.Sales = append(ss.Sales, sale)
			}
		}
		if len(ss.Sales) > 0 {
			r = append(r, ss)
		}
	}
	return r
}

// TaxIncreaseDate is the day of the 2022 dividend and gain tax increase.
var TaxIncreaseDate = date.New(2022, 10, 5)

func dividendsBySymbol(symbols []string, events []DividendEvent, txs []Transaction) []SymbolDividends {
	var r []SymbolDividends
	for _, s := range symbols {
		sd := SymbolDividends{Symbol: s}
		for _, ev := range events {
			if ev.Dividend.Symbol != s {
				continue
			}
			sd.Events = append(sd.Events, ev)
			sd.Gross = sd.Gross.Add(ev.Dividend.Amount)
			used := ev.DeductionUsed()
			sd.DeductionUsed = sd.DeductionUsed.Add(used)
			if ev.Dividend.Date.Year() == TaxIncreaseDate.Year() && ev.Dividend.DeclarationDate.After(TaxIncreaseDate) {
				sd.PostTaxIncrease = sd.PostTaxIncrease.Add(ev.Dividend.Amount.NOKValue().Sub(used))
			}
		}
		for _, tx := range txs {
			switch t := tx.(type) {
			case Tax:
				if t.Symbol == s {
					sd.Tax = sd.Tax.Add(t.Amount)
				}
			case TaxReversal:
				if t.Symbol == s {
					sd.Tax = sd.Tax.Add(t.Amount)
				}
			}
		}
		if len(sd.Events) > 0 || !sd.Tax.IsZero() {
			r = append(r, sd)
		}
	}
	return r
}

func esppInfo(txs []Transaction) []ESPPInfo {
	var r []ESPPInfo
	hundred := decimal.NewFromInt(100)
	for _, tx := range txs {
		d, ok := tx.(Deposit)
		if !ok || d.DiscountedPrice == nil {
			continue
		}
		on := d.Date
		if !d.PurchaseDate.IsZero() {
			on = d.PurchaseDate
		}
		info := ESPPInfo{
			Symbol:      d.Symbol,
			Date:        on,
			Quantity:    d.Quantity,
			InvestedNOK: d.DiscountedPrice.NOKValue().Mul(d.Quantity),
			PurchaseNOK: d.PurchasePrice.NOKValue().Mul(d.Quantity),
		}
		info.BenefitGrossNOK = info.PurchaseNOK.Sub(info.InvestedNOK)
		info.BenefitNetNOK = info.BenefitGrossNOK.Mul(ESPPNetFactor)
		if !info.InvestedNOK.IsZero() {
			info.ROIGross = info.BenefitGrossNOK.Div(info.InvestedNOK).Mul(hundred)
			info.ROINet = info.BenefitNetNOK.Div(info.InvestedNOK).Mul(hundred)
		}
		r = append(r, info)
	}
	slices.SortStableFunc(r, func(a, b ESPPInfo) int { return a.Date.Compare(b.Date) })
	return r
}
