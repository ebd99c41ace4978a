package espp

import (
	"encoding/json"
	"fmt"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Currency codes known to the engine.
const (
	NOK = "NOK"
	USD = "USD"
	// ESPPUSD is a synthetic USD code whose rate is the semiannual average
	// used by the ESPP plan. Amounts in ESPPUSD add up with USD amounts.
	ESPPUSD = "ESPPUSD"
)

// Amount is a monetary value in a given currency together with its NOK
// equivalent and the exchange rate used to compute it.
type Amount struct {
	cur   string
	value decimal.Decimal
	rate  decimal.Decimal // NOK per unit of cur
	nok   decimal.Decimal
}

// NewAmount returns an Amount whose NOK value is value * rate.
func NewAmount(value decimal.Decimal, currency string, rate decimal.Decimal) Amount {
	return Amount{cur: currency, value: value, rate: rate, nok: value.Mul(rate)}
}

// NOKAmount returns an Amount already expressed in NOK.
func NOKAmount(value decimal.Decimal) Amount { return NewAmount(value, NOK, decimal.NewFromInt(1)) }

// RestoreAmount rebuilds an Amount from persisted data, keeping the NOK value
// as it was recorded instead of recomputing it.
func RestoreAmount(value decimal.Decimal, currency string, rate, nok decimal.Decimal) Amount {
	return Amount{cur: currency, value: value, rate: rate, nok: nok}
}

// D converts common numeric types into a decimal.
func D[T float64 | int | int64 | string | decimal.Decimal](value T) decimal.Decimal {
	switch v := any(value).(type) {
	case decimal.Decimal:
		return v
	case float64:
		return decimal.NewFromFloat(v)
	case int:
		return decimal.NewFromInt(int64(v))
	case int64:
		return decimal.NewFromInt(v)
	case string:
		return decimal.RequireFromString(v)
	default:
		panic("unsupported type")
	}
}

func (a Amount) Currency() string          { return a.cur }
func (a Amount) Value() decimal.Decimal    { return a.value }
func (a Amount) Rate() decimal.Decimal     { return a.rate }
func (a Amount) NOKValue() decimal.Decimal { return a.nok }
func (a Amount) IsZero() bool              { return a.value.IsZero() }
func (a Amount) IsPositive() bool          { return a.value.IsPositive() }
func (a Amount) IsNegative() bool          { return a.value.IsNegative() }

// Equal reports whether a and b have the same currency, value and NOK value.
func (a Amount) Equal(b Amount) bool {
	return a.cur == b.cur && a.value.Equal(b.value) && a.rate.Equal(b.rate) && a.nok.Equal(b.nok)
}

func (a Amount) Neg() Amount { return Amount{cur: a.cur, value: a.value.Neg(), rate: a.rate, nok: a.nok.Neg()} }

func (a Amount) Abs() Amount {
	if a.value.IsNegative() {
		return a.Neg()
	}
	return a
}

// Mul scales the amount, keeping its rate.
func (a Amount) Mul(q decimal.Decimal) Amount {
	return Amount{cur: a.cur, value: a.value.Mul(q), rate: a.rate, nok: a.nok.Mul(q)}
}

// Div divides the amount, keeping its rate.
func (a Amount) Div(q decimal.Decimal) Amount {
	return Amount{cur: a.cur, value: a.value.Div(q), rate: a.rate, nok: a.nok.Div(q)}
}

// WithValue returns an amount in the same currency and rate with a new value.
func (a Amount) WithValue(value decimal.Decimal) Amount { return NewAmount(value, a.cur, a.rate) }

// Add sums two amounts of the same currency. NOK values are added, the
// resulting rate is the effective one.
func (a Amount) Add(b Amount) Amount {
	cur := cur(a, b)
	value, nok := a.value.Add(b.value), a.nok.Add(b.nok)
	return Amount{cur: cur, value: value, rate: effectiveRate(value, nok, a.rate), nok: nok}
}

// Sub subtracts two amounts of the same currency.
func (a Amount) Sub(b Amount) Amount { return a.Add(b.Neg()) }

func effectiveRate(value, nok, fallback decimal.Decimal) decimal.Decimal {
	if value.IsZero() {
		return fallback
	}
	return nok.Div(value)
}

// cur makes the "" currency weak and ESPPUSD compatible with USD.
func cur(a, b Amount) string {
	switch {
	case a.cur == "":
		return b.cur
	case b.cur == "":
		return a.cur
	case a.cur == b.cur:
		return a.cur
	case isUSD(a.cur) && isUSD(b.cur):
		return USD
	}
	panic(fmt.Sprintf("%v: %s != %s", ErrCurrencyMismatch, a.cur, b.cur))
}

func isUSD(c string) bool { return c == USD || c == ESPPUSD }

// currency returns the go-money definition used for formatting.
func currency(code string) *money.Currency {
	if isUSD(code) {
		code = USD
	}
	return money.New(0, code).Currency()
}

func format(value decimal.Decimal, code string) string {
	c := currency(code)
	dec := value.Round(int32(c.Fraction)).Shift(int32(c.Fraction))
	return c.Formatter().Format(dec.IntPart())
}

// String returns the formatted value, followed by its NOK value for foreign amounts.
func (a Amount) String() string {
	if a.cur == NOK || a.cur == "" {
		return format(a.value, NOK)
	}
	return fmt.Sprintf("%s (%s)", format(a.value, a.cur), format(a.nok, NOK))
}

// FormatNOK formats a NOK decimal the same way amounts are formatted.
func FormatNOK(v decimal.Decimal) string { return format(v, NOK) }

// MarshalJSON writes every digit: persisted amounts must never lose precision.
func (a Amount) MarshalJSON() ([]byte, error) {
	var w jsonObjectWriter
	w.Append("currency", a.cur)
	w.Append("value", a.value)
	w.Append("nok_exchange_rate", a.rate)
	w.Append("nok_value", a.nok)
	return w.MarshalJSON()
}

// UnmarshalJSON reads an amount. When nok_value is missing it is computed
// from the rate.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var temp struct {
		Currency string           `json:"currency"`
		Value    decimal.Decimal  `json:"value"`
		Rate     *decimal.Decimal `json:"nok_exchange_rate"`
		NOK      *decimal.Decimal `json:"nok_value"`
	}
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}
	rate := decimal.NewFromInt(1)
	if temp.Rate != nil {
		rate = *temp.Rate
	} else if temp.Currency != NOK {
		return fmt.Errorf("amount %s %s has no nok_exchange_rate", temp.Value, temp.Currency)
	}
	if temp.NOK == nil {
		*a = NewAmount(temp.Value, temp.Currency, rate)
		return nil
	}
	*a = RestoreAmount(temp.Value, temp.Currency, rate, *temp.NOK)
	return nil
}
