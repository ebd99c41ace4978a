package espp

import (
	"errors"
	"fmt"

	"github.com/etnz/espp/date"
	"github.com/shopspring/decimal"
)

// Sentinel errors, matched with errors.Is.
var (
	ErrInvalidPosition  = errors.New("invalid position")
	ErrInvalidQuantity  = errors.New("invalid quantity")
	ErrCash             = errors.New("cash account inconsistency")
	ErrLookup           = errors.New("market data not found")
	ErrCurrencyMismatch = errors.New("currency mismatch")
)

// InvalidPositionError reports a share movement that the lots cannot
// satisfy: selling more than held, selling from a lot acquired later, or a
// dividend on a symbol with no holding.
type InvalidPositionError struct {
	Symbol string
	Date   date.Date
	Reason string
}

func (e *InvalidPositionError) Error() string {
	return fmt.Sprintf("invalid position: %s on %s: %s", e.Symbol, e.Date, e.Reason)
}

func (e *InvalidPositionError) Is(target error) bool { return target == ErrInvalidPosition }

// InvalidQuantityError reports a share movement with an unusable quantity.
type InvalidQuantityError struct {
	Symbol   string
	Date     date.Date
	Quantity decimal.Decimal
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity %s for %s on %s", e.Quantity, e.Symbol, e.Date)
}

func (e *InvalidQuantityError) Is(target error) bool { return target == ErrInvalidQuantity }

// CashError reports a credit larger than the remaining debits of the cash
// account.
type CashError struct {
	Date        date.Date
	Description string
	Missing     decimal.Decimal
}

func (e *CashError) Error() string {
	return fmt.Sprintf("cash account: %s on %s exceeds the balance by %s", e.Description, e.Date, e.Missing)
}

func (e *CashError) Is(target error) bool { return target == ErrCash }

// LookupKind names the kind of market data looked up.
type LookupKind string

const (
	LookupStock         LookupKind = "STOCK"
	LookupCurrency      LookupKind = "CURRENCY"
	LookupDividends     LookupKind = "DIVIDENDS"
	LookupFundamentals  LookupKind = "FUNDAMENTALS"
	LookupDeductionRate LookupKind = "TAX_DEDUCTION_RATE"
)

// LookupError reports missing market data after the fallback window was
// exhausted. It distinguishes "no data" from bad input.
type LookupError struct {
	Kind LookupKind
	Key  string
	Date date.Date // zero for undated lookups
	Err  error     // underlying cause, if any
}

func (e *LookupError) Error() string {
	msg := fmt.Sprintf("no %s data for %s", e.Kind, e.Key)
	if !e.Date.IsZero() {
		msg += " on " + e.Date.String()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LookupError) Is(target error) bool { return target == ErrLookup }
func (e *LookupError) Unwrap() error        { return e.Err }
