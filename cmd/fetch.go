package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/etnz/espp"
	"github.com/google/subcommands"
)

// refresher is implemented by providers keeping a cache.
type refresher interface {
	Refresh(ctx context.Context, symbol string) error
}

type fetchCmd struct{}

func (*fetchCmd) Name() string     { return "fetch" }
func (*fetchCmd) Synopsis() string { return "download the market data of symbols" }
func (*fetchCmd) Usage() string {
	return `espp fetch [<symbol>...]

  Downloads the prices, dividends and fundamentals of the symbols, or of
  every symbol in the transactions, replacing the cached ones.
`
}

func (c *fetchCmd) SetFlags(f *flag.FlagSet) {}

func (c *fetchCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := newApp()
	if err != nil {
		return exitStatus(err)
	}
	r, ok := a.provider.(refresher)
	if !ok {
		fmt.Fprintln(os.Stderr, "Error: the market data provider has no cache")
		return subcommands.ExitFailure
	}

	symbols := f.Args()
	if len(symbols) == 0 {
		txs, err := DecodeTransactions()
		if err != nil {
			return exitStatus(err)
		}
		symbols = espp.Symbols(txs)
	}
	status := subcommands.ExitSuccess
	for _, symbol := range symbols {
		if err := r.Refresh(ctx, symbol); err != nil {
			a.log.Error().Err(err).Str("symbol", symbol).Msg("fetch failed")
			status = subcommands.ExitFailure
			continue
		}
		a.log.Info().Str("symbol", symbol).Msg("market data updated")
	}
	return status
}
