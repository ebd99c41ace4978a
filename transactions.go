package espp

import (
	"errors"
	"fmt"
	"slices"

	"github.com/etnz/espp/date"
	"github.com/shopspring/decimal"
)

// EntryType is a typed string for identifying transaction entries.
type EntryType string

// Entry types as they appear in the normalized transaction stream.
const (
	TypeBuy              EntryType = "BUY"
	TypeDeposit          EntryType = "DEPOSIT"
	TypeSell             EntryType = "SELL"
	TypeDividend         EntryType = "DIVIDEND"
	TypeDividendReinvest EntryType = "DIVIDEND_REINV"
	TypeTax              EntryType = "TAX"
	TypeTaxReversal      EntryType = "TAXSUB"
	TypeWire             EntryType = "WIRE"
	TypeFee              EntryType = "FEE"
	TypeTransfer         EntryType = "TRANSFER"
	TypeCashAdjust       EntryType = "CASHADJUST"
)

// Transaction is one normalized economic event. The set of implementations
// is closed: Buy, Deposit, Sell, Dividend, DividendReinvest, Tax,
// TaxReversal, Wire, Fee, Transfer and CashAdjust.
type Transaction interface {
	Type() EntryType
	When() date.Date
	ID() string
	Origin() string
	Validate() error
	withID(string) Transaction
}

type baseEntry struct {
	Kind        EntryType `json:"type"`
	Date        date.Date `json:"date"`
	Description string    `json:"description,omitempty"`
	Source      string    `json:"source,omitempty"`
	Ref         string    `json:"id,omitempty"`
}

func (b baseEntry) Type() EntryType { return b.Kind }
func (b baseEntry) When() date.Date { return b.Date }
func (b baseEntry) ID() string      { return b.Ref }
func (b baseEntry) Origin() string  { return b.Source }

func (b baseEntry) validate(want EntryType) error {
	if b.Kind != want {
		return fmt.Errorf("entry type %q, want %q", b.Kind, want)
	}
	if b.Date.IsZero() {
		return fmt.Errorf("%s entry without a date", b.Kind)
	}
	return nil
}

func newBase(kind EntryType, on date.Date, description, source string) baseEntry {
	return baseEntry{Kind: kind, Date: on, Description: description, Source: source}
}

// Buy is a share purchase. PurchasePrice is per share.
type Buy struct {
	baseEntry
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"qty"`
	PurchasePrice Amount          `json:"purchase_price"`
}

func NewBuy(on date.Date, symbol string, qty decimal.Decimal, price Amount, source string) Buy {
	return Buy{baseEntry: newBase(TypeBuy, on, "", source), Symbol: symbol, Quantity: qty, PurchasePrice: price}
}

func (t Buy) withID(id string) Transaction { t.Ref = id; return t }

func (t Buy) Validate() error {
	if err := t.validate(TypeBuy); err != nil {
		return err
	}
	return validateAcquisition(t.Symbol, t.Date, t.Quantity, t.PurchasePrice)
}

// Deposit is a share vest or ESPP purchase delivered into the account.
// DiscountedPrice is set for ESPP purchases.
type Deposit struct {
	baseEntry
	Symbol          string          `json:"symbol"`
	Quantity        decimal.Decimal `json:"qty"`
	PurchasePrice   Amount          `json:"purchase_price"`
	PurchaseDate    date.Date       `json:"purchase_date,omitzero"`
	DiscountedPrice *Amount         `json:"discounted_purchase_price,omitempty"`
}

func NewDeposit(on date.Date, symbol string, qty decimal.Decimal, price Amount, source string) Deposit {
	return Deposit{baseEntry: newBase(TypeDeposit, on, "", source), Symbol: symbol, Quantity: qty, PurchasePrice: price}
}

func (t Deposit) withID(id string) Transaction { t.Ref = id; return t }

func (t Deposit) Validate() error {
	if err := t.validate(TypeDeposit); err != nil {
		return err
	}
	return validateAcquisition(t.Symbol, t.Date, t.Quantity, t.PurchasePrice)
}

func validateAcquisition(symbol string, on date.Date, qty decimal.Decimal, price Amount) error {
	if symbol == "" {
		return errors.New("symbol is missing")
	}
	if !qty.IsPositive() {
		return &InvalidQuantityError{Symbol: symbol, Date: on, Quantity: qty}
	}
	if price.IsNegative() {
		return fmt.Errorf("%s on %s: negative purchase price %s", symbol, on, price)
	}
	return nil
}

// Sell is a share sale. Quantity is negative, Amount holds the proceeds and
// Fee, when set, is negative.
type Sell struct {
	baseEntry
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"qty"`
	Amount   Amount          `json:"amount"`
	Fee      *Amount         `json:"fee,omitempty"`
}

func NewSell(on date.Date, symbol string, qty decimal.Decimal, amount Amount, fee *Amount, source string) Sell {
	return Sell{baseEntry: newBase(TypeSell, on, "", source), Symbol: symbol, Quantity: qty, Amount: amount, Fee: fee}
}

func (t Sell) withID(id string) Transaction { t.Ref = id; return t }

func (t Sell) Validate() error {
	if err := t.validate(TypeSell); err != nil {
		return err
	}
	if t.Symbol == "" {
		return errors.New("symbol is missing")
	}
	if !t.Quantity.IsNegative() {
		return &InvalidQuantityError{Symbol: t.Symbol, Date: t.Date, Quantity: t.Quantity}
	}
	if t.Amount.IsNegative() {
		return fmt.Errorf("sell %s on %s: negative proceeds %s", t.Symbol, t.Date, t.Amount)
	}
	if t.Fee != nil && t.Fee.IsPositive() {
		return fmt.Errorf("sell %s on %s: fee must be negative, got %s", t.Symbol, t.Date, t.Fee)
	}
	return nil
}

// Dividend is a cash dividend payment. Date is the payment date. ExDate and
// DeclarationDate are filled from market data when missing.
type Dividend struct {
	baseEntry
	Symbol          string          `json:"symbol"`
	Amount          Amount          `json:"amount"`
	ExDate          date.Date       `json:"exdate,omitzero"`
	DeclarationDate date.Date       `json:"declarationdate,omitzero"`
	PerShare        decimal.Decimal `json:"dividend_dps,omitzero"`
}

func NewDividend(on date.Date, symbol string, amount Amount, source string) Dividend {
	return Dividend{baseEntry: newBase(TypeDividend, on, "", source), Symbol: symbol, Amount: amount}
}

func (t Dividend) withID(id string) Transaction { t.Ref = id; return t }

func (t Dividend) Validate() error {
	if err := t.validate(TypeDividend); err != nil {
		return err
	}
	if t.Symbol == "" {
		return errors.New("symbol is missing")
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("dividend %s on %s: amount must be positive, got %s", t.Symbol, t.Date, t.Amount)
	}
	return nil
}

// DividendReinvest is cash leaving the account to buy shares with a dividend.
type DividendReinvest struct {
	baseEntry
	Symbol string `json:"symbol"`
	Amount Amount `json:"amount"`
}

func (t DividendReinvest) withID(id string) Transaction { t.Ref = id; return t }

func (t DividendReinvest) Validate() error {
	if err := t.validate(TypeDividendReinvest); err != nil {
		return err
	}
	return validateSign(t.baseEntry, t.Amount, -1)
}

// Tax is a withholding tax, usually on a dividend. Amount is negative.
type Tax struct {
	baseEntry
	Symbol string `json:"symbol"`
	Amount Amount `json:"amount"`
}

func NewTax(on date.Date, symbol string, amount Amount, source string) Tax {
	return Tax{baseEntry: newBase(TypeTax, on, "", source), Symbol: symbol, Amount: amount}
}

func (t Tax) withID(id string) Transaction { t.Ref = id; return t }

func (t Tax) Validate() error {
	if err := t.validate(TypeTax); err != nil {
		return err
	}
	return validateSign(t.baseEntry, t.Amount, -1)
}

// TaxReversal is a withholding tax returned to the account.
type TaxReversal struct {
	baseEntry
	Symbol string `json:"symbol"`
	Amount Amount `json:"amount"`
}

func (t TaxReversal) withID(id string) Transaction { t.Ref = id; return t }

func (t TaxReversal) Validate() error {
	if err := t.validate(TypeTaxReversal); err != nil {
		return err
	}
	return validateSign(t.baseEntry, t.Amount, 1)
}

// Wire is cash sent from the broker account to a Norwegian bank account.
// Amount is negative, as seen from the sending side.
type Wire struct {
	baseEntry
	Amount Amount  `json:"amount"`
	Fee    *Amount `json:"fee,omitempty"`
}

func NewWire(on date.Date, amount Amount, fee *Amount, source string) Wire {
	return Wire{baseEntry: newBase(TypeWire, on, "", source), Amount: amount, Fee: fee}
}

func (t Wire) withID(id string) Transaction { t.Ref = id; return t }

func (t Wire) Validate() error {
	if err := t.validate(TypeWire); err != nil {
		return err
	}
	if t.Fee != nil && t.Fee.IsPositive() {
		return fmt.Errorf("wire on %s: fee must be negative, got %s", t.Date, t.Fee)
	}
	return validateSign(t.baseEntry, t.Amount, -1)
}

// Fee is an account fee. Amount is negative.
type Fee struct {
	baseEntry
	Amount Amount `json:"amount"`
}

func (t Fee) withID(id string) Transaction { t.Ref = id; return t }

func (t Fee) Validate() error {
	if err := t.validate(TypeFee); err != nil {
		return err
	}
	return validateSign(t.baseEntry, t.Amount, -1)
}

// Transfer is shares moved out of the account without a sale.
// Quantity is negative.
type Transfer struct {
	baseEntry
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"qty"`
	Fee      *Amount         `json:"fee,omitempty"`
}

func NewTransfer(on date.Date, symbol string, qty decimal.Decimal, source string) Transfer {
	return Transfer{baseEntry: newBase(TypeTransfer, on, "", source), Symbol: symbol, Quantity: qty}
}

func (t Transfer) withID(id string) Transaction { t.Ref = id; return t }

func (t Transfer) Validate() error {
	if err := t.validate(TypeTransfer); err != nil {
		return err
	}
	if t.Symbol == "" {
		return errors.New("symbol is missing")
	}
	if !t.Quantity.IsNegative() {
		return &InvalidQuantityError{Symbol: t.Symbol, Date: t.Date, Quantity: t.Quantity}
	}
	return nil
}

// CashAdjust corrects the cash account to a balance reported by the broker.
type CashAdjust struct {
	baseEntry
	Amount Amount `json:"amount"`
}

func NewCashAdjust(on date.Date, amount Amount, description string) CashAdjust {
	return CashAdjust{baseEntry: newBase(TypeCashAdjust, on, description, "cash adjustment"), Amount: amount}
}

func (t CashAdjust) withID(id string) Transaction { t.Ref = id; return t }

func (t CashAdjust) Validate() error { return t.validate(TypeCashAdjust) }

func validateSign(b baseEntry, a Amount, sign int) error {
	if a.IsZero() || a.Value().Sign() == sign {
		return nil
	}
	return fmt.Errorf("%s on %s: unexpected sign for amount %s", b.Kind, b.Date, a)
}

// symbolOf returns the symbol a transaction applies to, or "" for cash only entries.
func symbolOf(tx Transaction) string {
	switch t := tx.(type) {
	case Buy:
		return t.Symbol
	case Deposit:
		return t.Symbol
	case Sell:
		return t.Symbol
	case Dividend:
		return t.Symbol
	case DividendReinvest:
		return t.Symbol
	case Tax:
		return t.Symbol
	case TaxReversal:
		return t.Symbol
	case Transfer:
		return t.Symbol
	default:
		return ""
	}
}

// Symbols returns the distinct symbols of the transactions, sorted.
func Symbols(txs []Transaction) []string {
	var symbols []string
	for _, tx := range txs {
		if s := symbolOf(tx); s != "" && !slices.Contains(symbols, s) {
			symbols = append(symbols, s)
		}
	}
	slices.Sort(symbols)
	return symbols
}

// quantityOf returns the share quantity of a transaction, if it has one.
func quantityOf(tx Transaction) (decimal.Decimal, bool) {
	switch t := tx.(type) {
	case Buy:
		return t.Quantity, true
	case Deposit:
		return t.Quantity, true
	case Sell:
		return t.Quantity, true
	case Transfer:
		return t.Quantity, true
	default:
		return decimal.Zero, false
	}
}

// SortTransactions sorts transactions by date. Transactions on the same day
// keep their relative order.
func SortTransactions(txs []Transaction) {
	slices.SortStableFunc(txs, func(a, b Transaction) int { return a.When().Compare(b.When()) })
}

// IDGenerator assigns ids of the form "TYPE date[ qty]:n" where n counts the
// entries sharing the same source and date.
type IDGenerator struct {
	seen map[string]int
}

// Assign returns tx with an id, keeping any id it already has.
func (g *IDGenerator) Assign(tx Transaction) Transaction {
	if tx.ID() != "" {
		return tx
	}
	if g.seen == nil {
		g.seen = make(map[string]int)
	}
	key := tx.Origin() + tx.When().String()
	g.seen[key]++
	id := fmt.Sprintf("%s %s", tx.Type(), tx.When())
	if qty, ok := quantityOf(tx); ok && !qty.IsZero() {
		id += " " + qty.String()
	}
	return tx.withID(fmt.Sprintf("%s:%d", id, g.seen[key]))
}
