package espp

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/etnz/espp/date"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Input is everything needed to compute one tax year.
type Input struct {
	Year         int
	Broker       string
	Transactions []Transaction // may span several years, only Year is used
	Wires        []WireReceipt
	Holdings     *Holdings // end of the previous year, nil for none

	// OpeningCash is the cash balance reported by the broker at the end of
	// the previous year, if known.
	OpeningCash *decimal.Decimal
}

// Engine computes tax years.
type Engine struct {
	provider Provider
	rates    *Rates
	log      zerolog.Logger
}

// NewEngine returns an engine using p for market data and rates for the
// manual tables. A nil rates uses the embedded tables.
func NewEngine(p Provider, rates *Rates, log zerolog.Logger) *Engine {
	if rates == nil {
		rates = DefaultRates()
	}
	return &Engine{provider: p, rates: rates, log: log}
}

// ShareTransfer is a Transfer with the lots it consumed.
type ShareTransfer struct {
	Transfer Transfer
	Used     []Consumption
}

// taxYear is the state of one processed tax year.
type taxYear struct {
	in          Input
	txs         []Transaction
	ledger      *Ledger
	cash        *Cash
	rate        decimal.Decimal
	dividends   []DividendEvent
	sales       []Sale
	transfers   []ShareTransfer
	unmatched   []UnmatchedWire
	cashSummary CashSummary
	warnings    []string
}

func (y *taxYear) warn(log zerolog.Logger, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Warn().Int("year", y.in.Year).Msg(msg)
	y.warnings = append(y.warnings, msg)
}

// process runs the lot and cash ledgers over the year's transactions.
//
// Lots are split by every sale first, in date order, so that deductions can
// be accrued on the lots still held at the end of the year. Deductions are
// then spent on dividends, before sales.
func (e *Engine) process(ctx context.Context, in Input) (*taxYear, error) {
	y := &taxYear{in: in}
	period := date.TaxYear(in.Year)
	for _, tx := range in.Transactions {
		if period.Contains(tx.When()) {
			y.txs = append(y.txs, tx)
		}
	}
	SortTransactions(y.txs)
	log := e.log.With().Int("year", in.Year).Str("broker", in.Broker).Logger()
	log.Info().Int("transactions", len(y.txs)).Stringer("period", period).Msg("processing tax year")

	var opening []CashEntry
	if in.Holdings != nil {
		if in.Holdings.Year != in.Year-1 {
			return nil, fmt.Errorf("holdings of %d cannot open %d", in.Holdings.Year, in.Year)
		}
		opening = in.Holdings.Cash
	}
	y.ledger = NewLedger(in.Holdings.Lots()...)
	y.cash = NewCash(in.Year, opening, log)

	if in.OpeningCash != nil {
		rate, err := e.provider.ExchangeRate(ctx, USD, date.EndOfYear(in.Year-1))
		if err != nil {
			return nil, err
		}
		delta, err := y.cash.Adjust(*in.OpeningCash, rate)
		if err != nil {
			return nil, err
		}
		if !delta.IsZero() {
			y.warn(log, "opening cash adjusted by %s USD to match the reported %s USD", delta, *in.OpeningCash)
		}
	}

	// Lots.
	for _, tx := range y.txs {
		switch tx.(type) {
		case Buy, Deposit:
			if _, err := y.ledger.Acquire(tx); err != nil {
				return nil, err
			}
		}
	}
	consumed := make(map[int][]Consumption)
	for i, tx := range y.txs {
		switch t := tx.(type) {
		case Sell:
			used, err := y.ledger.ConsumeFIFO(t.Symbol, t.Quantity, t.Date, t.ID())
			if err != nil {
				return nil, err
			}
			consumed[i] = used
		case Transfer:
			used, err := y.ledger.ConsumeFIFO(t.Symbol, t.Quantity, t.Date, t.ID())
			if err != nil {
				return nil, err
			}
			consumed[i] = used
		}
	}

	// Deduction.
	rate, err := e.rates.TaxDeductionRate(in.Year)
	if err != nil {
		return nil, err
	}
	if in.Year < FirstDeductionYear {
		y.warn(log, "no tax deduction before %d", FirstDeductionYear)
	}
	y.rate = rate
	total := y.ledger.Accrue(rate)
	log.Debug().Str("rate", rate.String()).Str("total", total.String()).Msg("tax deduction accrued")

	for _, tx := range y.txs {
		d, ok := tx.(Dividend)
		if !ok {
			continue
		}
		d, reported, err := e.dividendDates(ctx, d)
		if err != nil {
			return nil, err
		}
		event, err := AllocateDividend(y.ledger, d)
		if err != nil {
			return nil, err
		}
		ApplyDividendDeduction(y.ledger, &event)
		if msg := checkDividend(event, reported); msg != "" {
			y.warn(log, "%s", msg)
		}
		y.dividends = append(y.dividends, event)
	}
	for i, tx := range y.txs {
		switch t := tx.(type) {
		case Sell:
			sale := SettleSale(y.ledger, t, consumed[i])
			ApplySaleDeduction(y.ledger, &sale)
			y.sales = append(y.sales, sale)
		case Transfer:
			y.transfers = append(y.transfers, ShareTransfer{Transfer: t, Used: consumed[i]})
		}
	}

	// Cash.
	var wires []Wire
	for _, tx := range y.txs {
		if err := y.book(tx); err != nil {
			return nil, err
		}
		if w, ok := tx.(Wire); ok {
			wires = append(wires, w)
		}
	}
	y.unmatched = y.cash.Wire(wires, in.Wires)
	y.cashSummary, err = y.cash.Process()
	if err != nil {
		return nil, err
	}
	// Unmatched wires and their transfers are both in date order.
	k := 0
	for _, t := range y.cashSummary.Transfers {
		if t.Unmatched && k < len(y.unmatched) {
			y.unmatched[k].NOKValue = t.AmountSent.Abs()
			k++
		}
	}
	for _, u := range y.unmatched {
		y.warn(log, "wire of %s %s on %s has no received record, estimated at %s NOK", u.Value.Abs().StringFixed(2), u.Currency, u.Date, u.NOKValue.Abs().StringFixed(0))
	}
	return y, nil
}

// book writes the cash movements of a transaction. Wires are booked
// separately, against the received records.
func (y *taxYear) book(tx Transaction) error {
	c := y.cash
	switch t := tx.(type) {
	case Buy, Deposit, Wire:
		return nil
	case Sell:
		if err := c.Debit(t.Date, t.Amount, DescSale); err != nil {
			return err
		}
		if t.Fee != nil && !t.Fee.IsZero() {
			return c.Credit(t.Date, t.Fee.Abs().Neg(), DescSaleFee, TransferNo)
		}
		return nil
	case Dividend:
		return c.Debit(t.Date, t.Amount, DescDividend)
	case Tax:
		return c.Credit(t.Date, t.Amount, DescTax, TransferNo)
	case TaxReversal:
		return c.Debit(t.Date, t.Amount, DescTaxReturned)
	case DividendReinvest:
		return c.Credit(t.Date, t.Amount, DescDividendReinvest, TransferNo)
	case Fee:
		return c.Credit(t.Date, t.Amount, DescFee, TransferNo)
	case Transfer:
		if t.Fee != nil && !t.Fee.IsZero() {
			return c.Credit(t.Date, t.Fee.Abs().Neg(), DescTransferFee, TransferNo)
		}
		return nil
	case CashAdjust:
		description := t.Description
		if description == "" {
			description = "cash adjustment"
		}
		if t.Amount.IsNegative() {
			return c.Credit(t.Date, t.Amount, description, TransferNo)
		}
		if t.Amount.IsPositive() {
			return c.Debit(t.Date, t.Amount, description)
		}
		return nil
	default:
		return fmt.Errorf("unsupported transaction %T %s", tx, tx.ID())
	}
}

// dividendDates completes a dividend with the ex-dividend and declaration
// dates from market data. It also returns the per share value reported.
func (e *Engine) dividendDates(ctx context.Context, d Dividend) (Dividend, decimal.Decimal, error) {
	if !d.ExDate.IsZero() && !d.PerShare.IsZero() {
		if d.DeclarationDate.IsZero() {
			d.DeclarationDate = d.ExDate
		}
		return d, d.PerShare, nil
	}
	rec, err := e.provider.DividendRecord(ctx, d.Symbol, d.Date)
	if err != nil {
		if d.ExDate.IsZero() {
			return d, decimal.Zero, err
		}
		return d, d.PerShare, nil
	}
	if d.ExDate.IsZero() {
		d.ExDate = rec.ExDate
	}
	if d.DeclarationDate.IsZero() {
		d.DeclarationDate = rec.DeclarationDate
	}
	if d.DeclarationDate.IsZero() {
		d.DeclarationDate = d.ExDate
	}
	if d.PerShare.IsZero() {
		d.PerShare = rec.PerShare
	}
	return d, d.PerShare, nil
}

// Run computes the tax report of a year. Any inconsistency in the data
// aborts the run: no partial report is returned.
func (e *Engine) Run(ctx context.Context, in Input) (*Report, error) {
	y, err := e.process(ctx, in)
	if err != nil {
		return nil, err
	}
	return e.report(ctx, y)
}

// Years returns the distinct years of the transactions, sorted.
func Years(txs []Transaction) []int {
	var years []int
	for _, tx := range txs {
		if !slices.Contains(years, tx.When().Year()) {
			years = append(years, tx.When().Year())
		}
	}
	slices.Sort(years)
	return years
}

// RollForward computes the holdings at the end of the year before year,
// processing every year after from, or after the oldest transaction when
// from is nil. Years without transactions still accrue deductions. Wires
// are left unmatched.
func (e *Engine) RollForward(ctx context.Context, broker string, txs []Transaction, from *Holdings, year int) (*Holdings, error) {
	h := from
	start := year
	if h != nil {
		start = h.Year + 1
	} else if years := Years(txs); len(years) > 0 {
		start = years[0]
	}
	for y := start; y < year; y++ {
		e.log.Info().Int("year", y).Msg("rolling holdings forward")
		state, err := e.process(ctx, Input{Year: y, Broker: broker, Transactions: txs, Holdings: h})
		if err != nil {
			return nil, fmt.Errorf("year %d: %w", y, err)
		}
		h = NewHoldings(y, broker, state.ledger, state.cashSummary.Holdings)
	}
	if h == nil {
		return &Holdings{Year: year - 1, Broker: broker, Stocks: []Stock{}, Cash: []CashEntry{}, Version: HoldingsVersion}, nil
	}
	return h, nil
}

// IsDataError reports whether err is an inconsistency of the input data
// rather than missing market data.
func IsDataError(err error) bool {
	return errors.Is(err, ErrInvalidPosition) || errors.Is(err, ErrInvalidQuantity) || errors.Is(err, ErrCash)
}
