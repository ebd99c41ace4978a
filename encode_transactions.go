package espp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/etnz/espp/date"
	"github.com/shopspring/decimal"
)

// DecodeTransactions decodes a stream of JSONL transactions, one entry per
// line discriminated by its "type" field. Entries without an id receive one.
// The result is sorted by date, keeping the input order within a day.
func DecodeTransactions(r io.Reader) ([]Transaction, error) {
	var (
		txs []Transaction
		ids IDGenerator
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for n := 1; scanner.Scan(); n++ {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		tx, err := decodeTransaction(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		if err := tx.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		txs = append(txs, ids.Assign(tx))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	SortTransactions(txs)
	return txs, nil
}

func decodeTransaction(line []byte) (Transaction, error) {
	var identifier struct {
		Type EntryType `json:"type"`
	}
	if err := json.Unmarshal(line, &identifier); err != nil {
		return nil, fmt.Errorf("could not identify entry type in %q: %w", string(line), err)
	}
	switch identifier.Type {
	case TypeBuy:
		return decodeAs[Buy](line)
	case TypeDeposit:
		return decodeAs[Deposit](line)
	case TypeSell:
		return decodeAs[Sell](line)
	case TypeDividend:
		return decodeAs[Dividend](line)
	case TypeDividendReinvest:
		return decodeAs[DividendReinvest](line)
	case TypeTax:
		return decodeAs[Tax](line)
	case TypeTaxReversal:
		return decodeAs[TaxReversal](line)
	case TypeWire:
		return decodeAs[Wire](line)
	case TypeFee:
		return decodeAs[Fee](line)
	case TypeTransfer:
		return decodeAs[Transfer](line)
	case TypeCashAdjust:
		return decodeAs[CashAdjust](line)
	default:
		return nil, fmt.Errorf("unknown entry type %q", identifier.Type)
	}
}

func decodeAs[T Transaction](line []byte) (Transaction, error) {
	var t T
	if err := json.Unmarshal(line, &t); err != nil {
		return nil, err
	}
	return t, nil
}

// EncodeTransactions writes transactions as JSONL.
func EncodeTransactions(w io.Writer, txs []Transaction) error {
	enc := json.NewEncoder(w)
	for _, tx := range txs {
		if err := enc.Encode(tx); err != nil {
			return fmt.Errorf("encoding %s: %w", tx.ID(), err)
		}
	}
	return nil
}

// WireReceipt is a wire as received by the Norwegian bank: the USD value
// sent and the NOK value credited.
type WireReceipt struct {
	Date     date.Date       `json:"date"`
	Currency string          `json:"currency"`
	Value    decimal.Decimal `json:"value"`
	NOKValue decimal.Decimal `json:"nok_value"`
}

// Rate is the exchange rate realized by the wire.
func (w WireReceipt) Rate() decimal.Decimal {
	if w.Value.IsZero() {
		return decimal.Zero
	}
	return w.NOKValue.Div(w.Value).Abs()
}

// DecodeWires reads a JSON array of received wires.
func DecodeWires(r io.Reader) ([]WireReceipt, error) {
	var wires []WireReceipt
	if err := json.NewDecoder(r).Decode(&wires); err != nil {
		return nil, fmt.Errorf("decoding wires: %w", err)
	}
	return wires, nil
}
