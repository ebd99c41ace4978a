package espp

import (
	"fmt"
	"slices"
	"strings"

	"github.com/etnz/espp/date"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Thresholds of the cash account reconciliation.
var (
	// WireTolerance is the largest difference between the value sent and
	// the value received for a wire to match.
	WireTolerance = decimal.RequireFromString("0.05")
	// AggregationDays is the longest time cash from a sale can stay in the
	// account for its currency gain to be aggregated with the sale.
	AggregationDays = 14
	// AdjustmentLimit is the largest opening balance correction accepted.
	AdjustmentLimit = decimal.NewFromInt(10)
)

// Cash entry descriptions with a meaning for the reconciliation.
const (
	DescSale             = "sale"
	DescSaleFee          = "sale fee"
	DescDividend         = "dividend"
	DescTax              = "tax"
	DescTaxReturned      = "tax returned"
	DescDividendReinvest = "dividend reinvest"
	DescWire             = "wire"
	DescWireFee          = "wire fee"
	DescFee              = "fee"
	DescTransferFee      = "transfer fee"
	DescAdjustDebit      = "cash balance adjustment (debit)"
	DescAdjustCredit     = "cash balance adjustment (credit)"
)

// TransferType tells whether a credit moves money out of the account.
type TransferType string

const (
	TransferNo        TransferType = "NO"
	TransferYes       TransferType = "YES"
	TransferUnmatched TransferType = "UNMATCHED"
)

// CashEntry is a movement of the USD cash account. Debits (positive values)
// bring cash in, credits (negative values) take it out.
type CashEntry struct {
	Date        date.Date        `json:"date"`
	Description string           `json:"description"`
	Amount      Amount           `json:"amount"`
	Transfer    TransferType     `json:"transfer,omitempty"`
	SaleDate    date.Date        `json:"sale_date,omitzero"`
	SalePrice   *decimal.Decimal `json:"sale_price_nok,omitempty"`
	Gain        *decimal.Decimal `json:"gain_nok,omitempty"`
	Aggregated  bool             `json:"aggregated,omitempty"`
	Uses        []CashUse        `json:"uses,omitempty"`
	WireFee     decimal.Decimal  `json:"wire_fee_nok,omitzero"` // NOK, on the wire it was charged for
}

// CashUse is one slice of a debit spent by a credit. SalePrice and Gain of
// the entry add up its uses.
type CashUse struct {
	Date       date.Date       `json:"date"`
	Value      decimal.Decimal `json:"value"`
	SalePrice  decimal.Decimal `json:"sale_price_nok"`
	Gain       decimal.Decimal `json:"gain_nok"`
	Aggregated bool            `json:"aggregated,omitempty"`
}

func (e CashEntry) isTransfer() bool { return e.Transfer == TransferYes || e.Transfer == TransferUnmatched }

// TransferRecord summarizes the debits consumed by one transfer out of the
// account. NOK values are rounded to the krone.
type TransferRecord struct {
	Date           date.Date       `json:"date"`
	Description    string          `json:"description"`
	AmountSent     decimal.Decimal `json:"amount_sent"`
	AmountReceived decimal.Decimal `json:"amount_received"`
	Gain           decimal.Decimal `json:"gain"`
	AggregatedGain decimal.Decimal `json:"aggregated_gain"`
	Unmatched      bool            `json:"unmatched,omitempty"`
}

// CashSummary is the result of processing the cash account.
type CashSummary struct {
	Transfers      []TransferRecord
	Remaining      decimal.Decimal // USD left at the end of the year
	Gain           decimal.Decimal
	GainAggregated decimal.Decimal
	AmountSent     decimal.Decimal
	AmountReceived decimal.Decimal
	Holdings       []CashEntry // debits left, carried to the next year
}

// UnmatchedWire is a sent wire with no received record.
type UnmatchedWire struct {
	Date     date.Date       `json:"date"`
	Currency string          `json:"currency"`
	Value    decimal.Decimal `json:"value"`
	NOKValue decimal.Decimal `json:"nok_value"`
}

// LedgerLine is a cash entry with the account balance after it.
type LedgerLine struct {
	Entry   CashEntry
	Balance decimal.Decimal
}

// Cash is the USD cash account of one tax year.
type Cash struct {
	year    int
	entries []CashEntry
	log     zerolog.Logger
}

// NewCash returns the cash account of year, opened with the entries carried
// from the previous year.
func NewCash(year int, opening []CashEntry, log zerolog.Logger) *Cash {
	c := &Cash{year: year, log: log}
	for _, e := range opening {
		c.insert(e)
	}
	return c
}

// insert keeps entries sorted by date, after the entries of the same day.
func (c *Cash) insert(e CashEntry) {
	i, _ := slices.BinarySearchFunc(c.entries, e.Date, func(x CashEntry, d date.Date) int {
		if x.Date.After(d) {
			return 1
		}
		return -1
	})
	c.entries = slices.Insert(c.entries, i, e)
}

// Debit adds cash to the account. amount must not be negative.
func (c *Cash) Debit(on date.Date, amount Amount, description string) error {
	if amount.IsNegative() {
		return fmt.Errorf("cash debit %q on %s: amount must be positive, got %s", description, on, amount)
	}
	c.log.Debug().Str("date", on.String()).Str("value", amount.Value().String()).Str("description", description).Msg("cash debit")
	c.insert(CashEntry{Date: on, Amount: amount, Description: description, Transfer: TransferNo})
	return nil
}

// Credit takes cash out of the account. amount must not be positive.
func (c *Cash) Credit(on date.Date, amount Amount, description string, transfer TransferType) error {
	if amount.IsPositive() {
		return fmt.Errorf("cash credit %q on %s: amount must be negative, got %s", description, on, amount)
	}
	c.log.Debug().Str("date", on.String()).Str("value", amount.Value().String()).Str("description", description).Msg("cash credit")
	c.insert(CashEntry{Date: on, Amount: amount, Description: description, Transfer: transfer})
	return nil
}

// Entries returns a copy of the account entries, sorted by date.
func (c *Cash) Entries() []CashEntry { return slices.Clone(c.entries) }

// Balance returns the USD balance of the account.
func (c *Cash) Balance() decimal.Decimal {
	total := decimal.Zero
	for _, e := range c.entries {
		total = total.Add(e.Amount.Value())
	}
	return total
}

// Ledger returns the entries with the running balance.
func (c *Cash) Ledger() []LedgerLine {
	lines := make([]LedgerLine, 0, len(c.entries))
	total := decimal.Zero
	for _, e := range c.entries {
		total = total.Add(e.Amount.Value())
		lines = append(lines, LedgerLine{Entry: e, Balance: total})
	}
	return lines
}

// Adjust reconciles the opening balance with the balance reported by the
// broker at the end of the previous year. A difference up to
// AdjustmentLimit is booked on December 31st of the previous year at rate;
// a larger one is an error.
func (c *Cash) Adjust(reported, rate decimal.Decimal) (decimal.Decimal, error) {
	on := date.EndOfYear(c.year - 1)
	balance := c.Balance()
	diff := reported.Sub(balance)
	if diff.Abs().GreaterThan(AdjustmentLimit) {
		return diff, &CashError{Date: on, Description: fmt.Sprintf("reported balance %s, computed %s", reported, balance), Missing: diff}
	}
	if diff.IsZero() {
		return diff, nil
	}
	c.log.Warn().Int("year", c.year-1).Str("computed", balance.String()).Str("reported", reported.String()).Msg("minor cash mismatch")
	amount := NewAmount(diff, USD, rate)
	if diff.IsPositive() {
		return diff, c.Debit(on, amount, DescAdjustDebit)
	}
	return diff, c.Credit(on, amount, DescAdjustCredit, TransferNo)
}

// Wire credits the account with the sent wires, using the NOK value of the
// matching received record when there is one. A sent and a received wire
// match when they share the date and their values differ by at most
// WireTolerance; the closest pairs are matched first and a received record
// serves at most once. Wires without a match are credited at their own
// rate and returned by date, in the order they were sent within a day.
func (c *Cash) Wire(sent []Wire, received []WireReceipt) []UnmatchedWire {
	type candidate struct {
		wire, receipt int
		diff          decimal.Decimal
	}
	var candidates []candidate
	for i, w := range sent {
		for j, r := range received {
			if r.Date != w.Date {
				continue
			}
			diff := r.Value.Abs().Sub(w.Amount.Value().Abs()).Abs()
			if diff.LessThanOrEqual(WireTolerance) {
				candidates = append(candidates, candidate{wire: i, receipt: j, diff: diff})
			}
		}
	}
	slices.SortStableFunc(candidates, func(a, b candidate) int { return a.diff.Cmp(b.diff) })

	match := make(map[int]int)
	used := make(map[int]bool)
	for _, cd := range candidates {
		if _, ok := match[cd.wire]; ok || used[cd.receipt] {
			continue
		}
		match[cd.wire] = cd.receipt
		used[cd.receipt] = true
	}

	var unmatched []UnmatchedWire
	for i, w := range sent {
		var fee decimal.Decimal
		if w.Fee != nil {
			fee = w.Fee.NOKValue()
		}
		if j, ok := match[i]; ok {
			r := received[j]
			cur := r.Currency
			if cur == "" {
				cur = w.Amount.Currency()
			}
			amount := RestoreAmount(r.Value.Abs().Neg(), cur, r.Rate(), r.NOKValue.Abs().Neg())
			c.insert(CashEntry{Date: r.Date, Amount: amount, Description: DescWire, Transfer: TransferYes, WireFee: fee})
		} else {
			unmatched = append(unmatched, UnmatchedWire{Date: w.Date, Currency: w.Amount.Currency(), Value: w.Amount.Value(), NOKValue: w.Amount.NOKValue()})
			c.insert(CashEntry{Date: w.Date, Amount: w.Amount, Description: DescWire, Transfer: TransferUnmatched, WireFee: fee})
		}
		if w.Fee != nil && !w.Fee.IsZero() {
			c.insert(CashEntry{Date: w.Date, Amount: *w.Fee, Description: DescWireFee, Transfer: TransferNo})
		}
	}
	slices.SortStableFunc(unmatched, func(a, b UnmatchedWire) int { return a.Date.Compare(b.Date) })

	if len(unmatched) > 0 {
		var b strings.Builder
		for _, u := range unmatched {
			fmt.Fprintf(&b, "%s: %s %s / %s NOK; ", u.Date, u.Value.Abs().StringFixed(2), u.Currency, u.NOKValue.Abs().StringFixed(2))
		}
		c.log.Warn().Int("count", len(unmatched)).Str("wires", b.String()).Msg("wire transfers missing received records")
	}
	return unmatched
}

// netDividendTaxes subtracts from every dividend the taxes withheld the same
// day, when they are not larger than the dividend, and zeroes those taxes.
func netDividendTaxes(entries []CashEntry) {
	for i := range entries {
		div := &entries[i]
		if div.Description != DescDividend {
			continue
		}
		for j := range entries {
			tax := &entries[j]
			if tax.Description != DescTax || tax.Date != div.Date || tax.Amount.IsZero() {
				continue
			}
			if tax.Amount.Value().Abs().GreaterThan(div.Amount.Value().Abs()) {
				continue
			}
			div.Amount = div.Amount.Add(tax.Amount)
			tax.Amount = tax.Amount.WithValue(decimal.Zero)
		}
	}
}

// Process spends the debits FIFO for every credit, in date order, and
// computes the currency gain of every transfer out of the account. The
// consumed debits record their sale date, price and gain. A credit larger
// than the remaining debits is a CashError.
func (c *Cash) Process() (CashSummary, error) {
	work := slices.Clone(c.entries)
	netDividendTaxes(work)

	var debits []int
	for i, e := range work {
		if e.Amount.IsPositive() {
			debits = append(debits, i)
		}
	}

	var summary CashSummary
	pos := 0
	for i, e := range work {
		if !e.Amount.IsNegative() {
			continue
		}
		if e.Description == DescWireFee {
			c.recordSale(i, e.Date, e.Amount.Value().Abs(), e.Amount.NOKValue(), e.Amount.NOKValue())
		}

		var paid, received, gain, aggregated decimal.Decimal
		toSell := e.Amount.Value().Abs()
		if e.isTransfer() {
			received = e.Amount.NOKValue().Abs()
		}
		for toSell.IsPositive() && pos < len(debits) {
			d := &work[debits[pos]]
			available := d.Amount.Value()
			if available.IsZero() {
				pos++
				continue
			}
			used := decimal.Min(toSell, available)
			if e.isTransfer() {
				cost := d.Amount.NOKValue()
				if used.LessThan(available) {
					cost = cost.Mul(used).Div(available)
				}
				sold := cost
				if e.Transfer == TransferYes {
					sold = used.Mul(e.Amount.Rate())
				}
				paid = paid.Add(cost)
				if c.recordSale(debits[pos], e.Date, used, sold, sold.Sub(cost)) {
					aggregated = aggregated.Add(sold.Sub(cost))
				} else {
					gain = gain.Add(sold.Sub(cost))
				}
			}
			toSell = toSell.Sub(used)
			if used.Equal(available) {
				d.Amount = d.Amount.WithValue(decimal.Zero)
				pos++
			} else {
				d.Amount = d.Amount.WithValue(available.Sub(used))
			}
		}
		if toSell.IsPositive() {
			return CashSummary{}, &CashError{Date: e.Date, Description: e.Description, Missing: toSell}
		}

		if !e.isTransfer() {
			continue
		}
		if !e.WireFee.IsZero() {
			if !aggregated.IsZero() {
				aggregated = aggregated.Add(e.WireFee)
			} else {
				gain = gain.Add(e.WireFee)
			}
		}
		if e.Transfer == TransferUnmatched {
			received, gain, aggregated = paid, decimal.Zero, decimal.Zero
		}
		summary.Transfers = append(summary.Transfers, TransferRecord{
			Date:           e.Date,
			Description:    e.Description,
			AmountSent:     paid.RoundBank(0),
			AmountReceived: received.RoundBank(0),
			Gain:           gain.RoundBank(0),
			AggregatedGain: aggregated.RoundBank(0),
			Unmatched:      e.Transfer == TransferUnmatched,
		})
	}

	for _, t := range summary.Transfers {
		summary.Gain = summary.Gain.Add(t.Gain)
		summary.GainAggregated = summary.GainAggregated.Add(t.AggregatedGain)
		summary.AmountSent = summary.AmountSent.Add(t.AmountSent)
		summary.AmountReceived = summary.AmountReceived.Add(t.AmountReceived)
	}
	for _, i := range debits {
		d := work[i]
		if d.Amount.IsPositive() {
			summary.Remaining = summary.Remaining.Add(d.Amount.Value())
			summary.Holdings = append(summary.Holdings, CashEntry{Date: d.Date, Description: d.Description, Amount: d.Amount})
		}
	}
	return summary, nil
}

// recordSale adds a use of value to the account entry i and reports
// whether its gain is aggregated: a sale's cash spent within
// AggregationDays.
func (c *Cash) recordSale(i int, on date.Date, value, price, gain decimal.Decimal) bool {
	e := &c.entries[i]
	use := CashUse{
		Date:       on,
		Value:      value,
		SalePrice:  price,
		Gain:       gain,
		Aggregated: on.Sub(e.Date) <= AggregationDays && e.Description == DescSale,
	}
	e.Uses = append(e.Uses, use)
	if e.SalePrice != nil {
		price = price.Add(*e.SalePrice)
		gain = gain.Add(*e.Gain)
	}
	e.SaleDate = on
	e.SalePrice = &price
	e.Gain = &gain
	e.Aggregated = e.Aggregated || use.Aggregated
	return use.Aggregated
}
