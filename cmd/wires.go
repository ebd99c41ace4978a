package cmd

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"slices"

	"github.com/etnz/espp"
	"github.com/etnz/espp/date"
	"github.com/etnz/espp/renderer"
	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
)

// wiresCmd holds the flags for the 'wires' subcommand.
type wiresCmd struct {
	year     int
	holdings string
	wires    string
	template string
}

func (*wiresCmd) Name() string     { return "wires" }
func (*wiresCmd) Synopsis() string { return "match the wires sent by the broker with the ones received" }
func (*wiresCmd) Usage() string {
	return `espp wires [-year <year>] [-wires <file>] [-template <file>]

  Lists the transfers to Norway of a year, with their currency gain, and
  the wires that could not be matched with a received wire.

  With -template, the received wires are written to a file, with an entry
  to complete for every unmatched wire.
`
}

func (c *wiresCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.year, "year", date.Today().Year()-1, "Tax year")
	f.StringVar(&c.holdings, "holdings", "", "Holdings file of the end of the previous year")
	f.StringVar(&c.wires, "wires", "", "JSON file of the wires received in Norway")
	f.StringVar(&c.template, "template", "", "Write the received wires, completed with the unmatched ones, to this file")
}

func (c *wiresCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := newApp()
	if err != nil {
		return exitStatus(err)
	}
	report, err := a.run(ctx, c.year, c.holdings, c.wires, nil)
	if err != nil {
		return exitStatus(err)
	}
	printMarkdown(renderer.RenderWires(report))

	if c.template == "" {
		return subcommands.ExitSuccess
	}
	received, err := DecodeWires(c.wires)
	if err != nil {
		return exitStatus(err)
	}
	if err := writeWires(c.template, wiresTemplate(received, report.UnmatchedWires)); err != nil {
		return exitStatus(err)
	}
	a.log.Info().Str("file", c.template).Int("unmatched", len(report.UnmatchedWires)).Msg("wires template written")
	return subcommands.ExitSuccess
}

// wiresTemplate returns the received wires with a zero NOK value entry for
// every unmatched wire, by date.
func wiresTemplate(received []espp.WireReceipt, unmatched []espp.UnmatchedWire) []espp.WireReceipt {
	all := slices.Clone(received)
	for _, u := range unmatched {
		all = append(all, espp.WireReceipt{Date: u.Date, Currency: u.Currency, Value: u.Value.Abs(), NOKValue: decimal.Zero})
	}
	slices.SortStableFunc(all, func(a, b espp.WireReceipt) int { return a.Date.Compare(b.Date) })
	return all
}

func writeWires(file string, wires []espp.WireReceipt) error {
	content, err := json.MarshalIndent(wires, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(file, append(content, '\n'), 0o644)
}
