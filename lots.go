package espp

import (
	"fmt"
	"slices"

	"github.com/etnz/espp/date"
	"github.com/shopspring/decimal"
)

// LotID addresses a lot in a Ledger.
type LotID int

// Lot is one acquisition of shares, tracked individually for FIFO disposal.
// Deduction fields are per share, in NOK.
type Lot struct {
	ID              LotID
	Symbol          string
	Date            date.Date
	Quantity        decimal.Decimal // remaining
	Original        decimal.Decimal
	PurchasePrice   Amount // per share
	DiscountedPrice *Amount
	Carried         bool // comes from the previous year's holdings

	DeductionAccumulated decimal.Decimal // carried from previous years
	DeductionNew         decimal.Decimal // accrued this year
	DeductionAvailable   decimal.Decimal // left to use this year

	Disposed date.Date // set when the lot was consumed
	Parent   LotID     // lot this one was split from, or its own id
}

// Consumption is a quantity taken from a lot by a sale or transfer.
type Consumption struct {
	Lot      LotID
	Quantity decimal.Decimal
}

type disposal struct {
	symbol string
	on     date.Date
	qty    decimal.Decimal
	ref    string
}

// Ledger is an arena of lots. Per symbol, lots are kept in FIFO order:
// opening lots first, then acquisitions in the order they were added.
// Lots are only mutated through the Ledger methods.
type Ledger struct {
	lots      []Lot
	order     map[string][]LotID
	disposals []disposal
}

// NewLedger returns a ledger initialized with the opening lots, in order.
func NewLedger(opening ...Lot) *Ledger {
	l := &Ledger{order: make(map[string][]LotID)}
	for _, lot := range opening {
		lot.Carried = true
		l.add(lot)
	}
	return l
}

func (l *Ledger) add(lot Lot) LotID {
	lot.ID = LotID(len(l.lots))
	lot.Parent = lot.ID
	if lot.Original.IsZero() {
		lot.Original = lot.Quantity
	}
	l.lots = append(l.lots, lot)
	l.order[lot.Symbol] = append(l.order[lot.Symbol], lot.ID)
	return lot.ID
}

// Acquire appends a lot for a Buy or Deposit transaction.
func (l *Ledger) Acquire(tx Transaction) (LotID, error) {
	switch t := tx.(type) {
	case Buy:
		return l.add(Lot{Symbol: t.Symbol, Date: t.Date, Quantity: t.Quantity, PurchasePrice: t.PurchasePrice}), nil
	case Deposit:
		on := t.Date
		if !t.PurchaseDate.IsZero() {
			on = t.PurchaseDate
		}
		return l.add(Lot{Symbol: t.Symbol, Date: on, Quantity: t.Quantity, PurchasePrice: t.PurchasePrice, DiscountedPrice: t.DiscountedPrice}), nil
	default:
		return 0, fmt.Errorf("%s %s does not acquire shares", tx.Type(), tx.ID())
	}
}

// Lot returns a copy of the lot.
func (l *Ledger) Lot(id LotID) Lot { return l.lots[id] }

// Symbols returns the symbols known to the ledger, sorted.
func (l *Ledger) Symbols() []string {
	symbols := make([]string, 0, len(l.order))
	for s := range l.order {
		symbols = append(symbols, s)
	}
	slices.Sort(symbols)
	return symbols
}

// Lots returns a copy of the lots of symbol in FIFO order.
func (l *Ledger) Lots(symbol string) []Lot {
	ids := l.order[symbol]
	lots := make([]Lot, 0, len(ids))
	for _, id := range ids {
		lots = append(lots, l.lots[id])
	}
	return lots
}

// BalanceAsOf returns a copy of the lots of symbol acquired on or before
// on, with quantities reduced by every disposal dated on or before on,
// consumed FIFO. It does not change the ledger.
func (l *Ledger) BalanceAsOf(symbol string, on date.Date) ([]Lot, error) {
	view := l.Lots(symbol)
	for i := range view {
		view[i].Quantity = view[i].Original
	}
	for _, d := range l.disposals {
		if d.symbol != symbol || d.on.After(on) {
			continue
		}
		remaining := d.qty
		for i := range view {
			if remaining.IsZero() {
				break
			}
			if view[i].Quantity.IsZero() {
				continue
			}
			if view[i].Date.After(d.on) {
				return nil, &InvalidPositionError{Symbol: symbol, Date: d.on,
					Reason: fmt.Sprintf("%s sells from a lot acquired on %s", d.ref, view[i].Date)}
			}
			take := decimal.Min(view[i].Quantity, remaining)
			view[i].Quantity = view[i].Quantity.Sub(take)
			remaining = remaining.Sub(take)
		}
		if remaining.IsPositive() {
			return nil, &InvalidPositionError{Symbol: symbol, Date: d.on,
				Reason: fmt.Sprintf("%s sells %s more than held", d.ref, remaining)}
		}
	}
	return slices.DeleteFunc(view, func(lot Lot) bool { return lot.Date.After(on) }), nil
}

// Held returns the number of shares of symbol held at the end of day on.
func (l *Ledger) Held(symbol string, on date.Date) (decimal.Decimal, error) {
	lots, err := l.BalanceAsOf(symbol, on)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, lot := range lots {
		total = total.Add(lot.Quantity)
	}
	return total, nil
}

// Position returns the number of shares of symbol currently remaining.
func (l *Ledger) Position(symbol string) decimal.Decimal {
	total := decimal.Zero
	for _, id := range l.order[symbol] {
		total = total.Add(l.lots[id].Quantity)
	}
	return total
}

// ConsumeFIFO takes qty shares of symbol from the oldest lots, skipping
// empty ones. A lot only partly consumed is split so that every returned
// consumption covers a whole lot. The ledger is left untouched on error.
func (l *Ledger) ConsumeFIFO(symbol string, qty decimal.Decimal, asOf date.Date, ref string) ([]Consumption, error) {
	qty = qty.Abs()
	if qty.IsZero() {
		return nil, &InvalidQuantityError{Symbol: symbol, Date: asOf, Quantity: qty}
	}

	// Validate first.
	remaining := qty
	for _, id := range l.order[symbol] {
		if !remaining.IsPositive() {
			break
		}
		lot := l.lots[id]
		if lot.Quantity.IsZero() {
			continue
		}
		if lot.Date.After(asOf) {
			return nil, &InvalidPositionError{Symbol: symbol, Date: asOf,
				Reason: fmt.Sprintf("%s sells from a lot acquired on %s", ref, lot.Date)}
		}
		remaining = remaining.Sub(lot.Quantity)
	}
	if remaining.IsPositive() {
		return nil, &InvalidPositionError{Symbol: symbol, Date: asOf,
			Reason: fmt.Sprintf("%s sells %s shares, holding %s", ref, qty, qty.Sub(remaining))}
	}

	var used []Consumption
	remaining = qty
	for i := 0; i < len(l.order[symbol]) && remaining.IsPositive(); i++ {
		id := l.order[symbol][i]
		lot := &l.lots[id]
		if lot.Quantity.IsZero() {
			continue
		}
		if lot.Quantity.GreaterThan(remaining) {
			l.split(symbol, i, remaining)
			lot = &l.lots[id]
		}
		take := lot.Quantity
		l.reduceQuantity(id, take, asOf)
		used = append(used, Consumption{Lot: id, Quantity: take})
		remaining = remaining.Sub(take)
	}
	l.disposals = append(l.disposals, disposal{symbol: symbol, on: asOf, qty: qty, ref: ref})
	return used, nil
}

// split cuts the lot at position i of the symbol's order so that it holds
// exactly keep shares; the rest becomes a new lot placed right after it.
func (l *Ledger) split(symbol string, i int, keep decimal.Decimal) {
	id := l.order[symbol][i]
	rest := l.lots[id]
	restQty := rest.Quantity.Sub(keep)
	rest.ID = LotID(len(l.lots))
	rest.Quantity, rest.Original = restQty, restQty
	rest.Parent = l.lots[id].Parent

	l.lots[id].Quantity = keep
	l.lots[id].Original = l.lots[id].Original.Sub(restQty)
	l.lots = append(l.lots, rest)
	l.order[symbol] = slices.Insert(l.order[symbol], i+1, rest.ID)
}

func (l *Ledger) reduceQuantity(id LotID, qty decimal.Decimal, on date.Date) {
	lot := &l.lots[id]
	lot.Quantity = lot.Quantity.Sub(qty)
	if lot.Quantity.IsZero() {
		lot.Disposed = on
	}
}

// ConsumeDeduction uses up to perShare NOK of the lot's available
// deduction and returns the amount used per share. The available deduction
// never goes negative.
func (l *Ledger) ConsumeDeduction(id LotID, perShare decimal.Decimal) decimal.Decimal {
	lot := &l.lots[id]
	if !perShare.IsPositive() || !lot.DeductionAvailable.IsPositive() {
		return decimal.Zero
	}
	used := decimal.Min(perShare, lot.DeductionAvailable)
	lot.DeductionAvailable = lot.DeductionAvailable.Sub(used)
	return used
}

// Accrue computes this year's deduction for every lot still held, at rate
// percent of the purchase price plus the accumulated deduction, and resets
// the available deduction of every lot.
func (l *Ledger) Accrue(rate decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for i := range l.lots {
		lot := &l.lots[i]
		lot.DeductionNew = decimal.Zero
		if lot.Quantity.IsPositive() {
			lot.DeductionNew = lot.PurchasePrice.NOKValue().Add(lot.DeductionAccumulated).Mul(rate).Div(decimal.NewFromInt(100))
		}
		lot.DeductionAvailable = lot.DeductionAccumulated.Add(lot.DeductionNew)
		total = total.Add(lot.DeductionAvailable.Mul(lot.Original))
	}
	return total
}
