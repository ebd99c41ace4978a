package cmd

import (
	"context"
	"flag"

	"github.com/etnz/espp/date"
	"github.com/etnz/espp/renderer"
	"github.com/google/subcommands"
)

// holdingsCmd holds the flags for the 'holdings' subcommand.
type holdingsCmd struct {
	year     int
	holdings string
	output   string
	show     string
}

func (*holdingsCmd) Name() string     { return "holdings" }
func (*holdingsCmd) Synopsis() string { return "compute the holdings at the end of a year" }
func (*holdingsCmd) Usage() string {
	return `espp holdings [-year <year>] [-holdings <file>] [-o <file>]
espp holdings -show <file>

  Computes the shares and the cash held at the end of a year, with the tax
  deduction carried by each lot. Wires are not matched: use 'taxes' for a
  complete year.
`
}

func (c *holdingsCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.year, "year", date.Today().Year()-1, "Year of the holdings")
	f.StringVar(&c.holdings, "holdings", "", "Holdings file to start from")
	f.StringVar(&c.output, "o", "", "Write the holdings to this file")
	f.StringVar(&c.show, "show", "", "Only print this holdings file")
}

func (c *holdingsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.show != "" {
		h, err := DecodeHoldings(c.show)
		if err != nil {
			return exitStatus(err)
		}
		printMarkdown(renderer.RenderHoldings(h))
		return subcommands.ExitSuccess
	}

	a, err := newApp()
	if err != nil {
		return exitStatus(err)
	}
	txs, err := DecodeTransactions()
	if err != nil {
		return exitStatus(err)
	}
	from, err := DecodeHoldings(c.holdings)
	if err != nil {
		return exitStatus(err)
	}
	h, err := a.engine.RollForward(ctx, *brokerName, txs, from, c.year+1)
	if err != nil {
		return exitStatus(err)
	}
	printMarkdown(renderer.RenderHoldings(h))

	if c.output != "" {
		if err := EncodeHoldings(c.output, h); err != nil {
			return exitStatus(err)
		}
		a.log.Info().Str("file", c.output).Int("year", h.Year).Msg("holdings written")
	}
	return subcommands.ExitSuccess
}
