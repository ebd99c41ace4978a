package espp

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/etnz/espp/date"
	"github.com/shopspring/decimal"
)

// HoldingsVersion is written in every encoded snapshot.
const HoldingsVersion = "2"

// Stock is a lot carried from one year to the next. TaxDeduction is the
// unused deduction per share, in NOK.
type Stock struct {
	Symbol        string          `json:"symbol"`
	Date          date.Date       `json:"date"`
	Quantity      decimal.Decimal `json:"qty"`
	TaxDeduction  decimal.Decimal `json:"tax_deduction"`
	PurchasePrice Amount          `json:"purchase_price"`
}

// Holdings is the end of year state of an account: the lots still held and
// the cash left, in FIFO order. It opens the next year.
type Holdings struct {
	Year    int         `json:"year"`
	Broker  string      `json:"broker"`
	Stocks  []Stock     `json:"stocks"`
	Cash    []CashEntry `json:"cash"`
	Version string      `json:"version,omitempty"`
}

// NewHoldings builds the snapshot of the ledger and the cash left at the
// end of year. Empty lots and spent cash are dropped.
func NewHoldings(year int, broker string, l *Ledger, cash []CashEntry) *Holdings {
	h := &Holdings{Year: year, Broker: broker, Version: HoldingsVersion, Stocks: []Stock{}, Cash: []CashEntry{}}
	for _, symbol := range l.Symbols() {
		for _, lot := range l.Lots(symbol) {
			if !lot.Quantity.IsPositive() {
				continue
			}
			h.Stocks = append(h.Stocks, Stock{
				Symbol:        lot.Symbol,
				Date:          lot.Date,
				Quantity:      lot.Quantity,
				TaxDeduction:  lot.DeductionAvailable,
				PurchasePrice: lot.PurchasePrice,
			})
		}
	}
	for _, e := range cash {
		if e.Amount.IsPositive() {
			h.Cash = append(h.Cash, CashEntry{Date: e.Date, Description: e.Description, Amount: e.Amount})
		}
	}
	return h
}

// Lots returns the opening lots of the next year.
func (h *Holdings) Lots() []Lot {
	if h == nil {
		return nil
	}
	lots := make([]Lot, 0, len(h.Stocks))
	for _, s := range h.Stocks {
		lots = append(lots, Lot{
			Symbol:               s.Symbol,
			Date:                 s.Date,
			Quantity:             s.Quantity,
			Original:             s.Quantity,
			PurchasePrice:        s.PurchasePrice,
			DeductionAccumulated: s.TaxDeduction,
			DeductionAvailable:   s.TaxDeduction,
		})
	}
	return lots
}

// Symbols returns the symbols held, sorted.
func (h *Holdings) Symbols() []string {
	var symbols []string
	for _, s := range h.Stocks {
		if !slices.Contains(symbols, s.Symbol) {
			symbols = append(symbols, s.Symbol)
		}
	}
	slices.Sort(symbols)
	return symbols
}

// Quantity returns the number of shares of symbol held.
func (h *Holdings) Quantity(symbol string) decimal.Decimal {
	total := decimal.Zero
	if h == nil {
		return total
	}
	for _, s := range h.Stocks {
		if s.Symbol == symbol {
			total = total.Add(s.Quantity)
		}
	}
	return total
}

// CashBalance returns the USD cash held.
func (h *Holdings) CashBalance() decimal.Decimal {
	total := decimal.Zero
	for _, e := range h.Cash {
		total = total.Add(e.Amount.Value())
	}
	return total
}

// Validate checks the snapshot invariants.
func (h *Holdings) Validate() error {
	for _, s := range h.Stocks {
		if s.Symbol == "" {
			return fmt.Errorf("holdings %d: stock without symbol", h.Year)
		}
		if !s.Quantity.IsPositive() {
			return &InvalidQuantityError{Symbol: s.Symbol, Date: s.Date, Quantity: s.Quantity}
		}
		if s.TaxDeduction.IsNegative() {
			return fmt.Errorf("holdings %d: %s lot of %s has a negative deduction %s", h.Year, s.Symbol, s.Date, s.TaxDeduction)
		}
	}
	for _, e := range h.Cash {
		if !e.Amount.IsPositive() {
			return fmt.Errorf("holdings %d: cash entry of %s is not positive: %s", h.Year, e.Date, e.Amount)
		}
	}
	return nil
}

// DecodeHoldings reads a JSON snapshot, keeping every decimal digit.
func DecodeHoldings(r io.Reader) (*Holdings, error) {
	var h Holdings
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("decoding holdings: %w", err)
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return &h, nil
}

// MarshalJSON writes the version ahead of the content.
func (h Holdings) MarshalJSON() ([]byte, error) {
	type content Holdings
	c := content(h)
	c.Version = ""
	var w jsonObjectWriter
	return w.Optional("version", h.Version).EmbedFrom(c).MarshalJSON()
}

// EncodeHoldings writes the snapshot as indented JSON.
func EncodeHoldings(w io.Writer, h *Holdings) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(h)
}
