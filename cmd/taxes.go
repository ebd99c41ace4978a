package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/etnz/espp"
	"github.com/etnz/espp/date"
	"github.com/etnz/espp/renderer"
	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
)

// taxesCmd holds the flags for the 'taxes' subcommand.
type taxesCmd struct {
	year        int
	holdings    string
	wires       string
	output      string
	openingCash string
	short       bool
}

func (*taxesCmd) Name() string     { return "taxes" }
func (*taxesCmd) Synopsis() string { return "compute the tax report of a year" }
func (*taxesCmd) Usage() string {
	return `espp taxes [-year <year>] [-holdings <file>] [-wires <file>] [-o <file>]

  Computes the tax report of a year: wealth, dividends, gains on sales and
  on currency, and the deductions used. The holdings at the end of the year
  are written to the -o file, to open the next year.

  Without -holdings, the opening holdings are computed from the oldest
  transaction.
`
}

func (c *taxesCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.year, "year", date.Today().Year()-1, "Tax year")
	f.StringVar(&c.holdings, "holdings", "", "Holdings file of the end of the previous year")
	f.StringVar(&c.wires, "wires", "", "JSON file of the wires received in Norway")
	f.StringVar(&c.output, "o", "", "Write the holdings of the end of the year to this file")
	f.StringVar(&c.openingCash, "opening-cash", "", "Cash balance (USD) reported by the broker at the end of the previous year")
	f.BoolVar(&c.short, "short", false, "Do not print the lots and the cash ledger")
}

func (c *taxesCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	var opening *decimal.Decimal
	if c.openingCash != "" {
		v, err := decimal.NewFromString(c.openingCash)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing opening cash: %v\n", err)
			return subcommands.ExitUsageError
		}
		opening = &v
	}

	a, err := newApp()
	if err != nil {
		return exitStatus(err)
	}
	report, err := a.run(ctx, c.year, c.holdings, c.wires, opening)
	if err != nil {
		return exitStatus(err)
	}

	printMarkdown(renderer.RenderReport(report, renderer.ReportOptions{SkipLots: c.short, SkipCashLedger: c.short}))

	if c.output != "" {
		if err := EncodeHoldings(c.output, report.Holdings); err != nil {
			return exitStatus(err)
		}
		a.log.Info().Str("file", c.output).Int("year", c.year).Msg("holdings written")
	}
	return subcommands.ExitSuccess
}

// run computes the report of year.
func (a *app) run(ctx context.Context, year int, holdingsFile, wiresFile string, opening *decimal.Decimal) (*espp.Report, error) {
	txs, err := DecodeTransactions()
	if err != nil {
		return nil, err
	}
	wires, err := DecodeWires(wiresFile)
	if err != nil {
		return nil, err
	}
	prev, err := a.openingHoldings(ctx, holdingsFile, txs, year)
	if err != nil {
		return nil, err
	}
	return a.engine.Run(ctx, espp.Input{
		Year:         year,
		Broker:       *brokerName,
		Transactions: txs,
		Wires:        wires,
		Holdings:     prev,
		OpeningCash:  opening,
	})
}
