// Package cmd implements the CLI application computing the Norwegian tax
// report of ESPP and RSU shares.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/etnz/espp"
	"github.com/etnz/espp/eodhd"
	"github.com/google/subcommands"
	"github.com/rs/zerolog"
)

// Commands are the subcommands of the application, by group.
var Commands = []struct {
	Group   string
	Command subcommands.Command
}{
	{"tax", &taxesCmd{}},
	{"tax", &holdingsCmd{}},
	{"tax", &wiresCmd{}},
	{"market data", &fetchCmd{}},
	{"help", &topicCmd{}},
}

// Register the subcommands.
// A main package will call Register() to allow subcommands, and Execute() on the user-selected one.
func Register(c *subcommands.Commander) {
	for _, cmd := range Commands {
		c.Register(cmd.Command, cmd.Group)
	}
}

// as a CLI application, it has a very short lived lifecycle, so it is ok to use global variables.

var (
	transactionsFile = flag.String("transactions", "transactions.jsonl", "Path to the normalized transactions file (JSONL format)")
	brokerName       = flag.String("broker", "schwab", "Name of the broker account, reported on the tax form")
	cacheDir         = flag.String("cache-dir", "", "Folder of the market data cache (default $ESPP_CACHE_DIR or "+eodhd.DefaultCacheDir+")")
	ratesFile        = flag.String("rates-file", "", "JSON file overriding the tax deduction and ESPP rates (default $ESPP_RATES_FILE)")
	logLevel         = flag.String("log-level", "", "Log level: debug, info, warn or error (default $ESPP_LOG_LEVEL or info)")
	rawOutput        = flag.Bool("raw", false, "Print markdown as is, without terminal rendering")
)

// stdout receives the reports.
var stdout io.Writer = os.Stdout

// newProvider returns the market data provider of the application.
var newProvider = func(cfg Config, rates *espp.Rates, log zerolog.Logger) espp.Provider {
	return eodhd.NewClient(eodhd.Config{
		APIKey:   cfg.APIKey,
		CacheDir: cfg.CacheDir,
		Rates:    rates,
		Logger:   log,
	})
}

// app is what every command needs: configuration, logger and engine.
type app struct {
	cfg      Config
	log      zerolog.Logger
	rates    *espp.Rates
	provider espp.Provider
	engine   *espp.Engine
}

// newApp loads the configuration, applying the command line flags over the
// environment.
func newApp() (*app, error) {
	cfg := LoadConfig()
	if *cacheDir != "" {
		cfg.CacheDir = *cacheDir
	}
	if *ratesFile != "" {
		cfg.RatesFile = *ratesFile
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	a := &app{cfg: cfg, log: NewLogger(LoggerConfig{Level: cfg.LogLevel, Pretty: true})}

	a.rates = espp.DefaultRates()
	if cfg.RatesFile != "" {
		f, err := os.Open(cfg.RatesFile)
		if err != nil {
			return nil, fmt.Errorf("opening rates file: %w", err)
		}
		defer f.Close()
		override, err := espp.LoadRates(f)
		if err != nil {
			return nil, fmt.Errorf("rates file %q: %w", cfg.RatesFile, err)
		}
		a.rates.Merge(override)
	}
	a.provider = newProvider(cfg, a.rates, a.log)
	a.engine = espp.NewEngine(a.provider, a.rates, a.log)
	return a, nil
}

// DecodeTransactions decodes the transactions of the app transactions file.
func DecodeTransactions() ([]espp.Transaction, error) {
	f, err := os.Open(*transactionsFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return espp.DecodeTransactions(f)
}

// DecodeWires decodes received wires from file. An empty name is no wires.
func DecodeWires(file string) ([]espp.WireReceipt, error) {
	if file == "" {
		return nil, nil
	}
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return espp.DecodeWires(f)
}

// DecodeHoldings decodes a holdings snapshot from file. An empty name is
// no snapshot.
func DecodeHoldings(file string) (*espp.Holdings, error) {
	if file == "" {
		return nil, nil
	}
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return espp.DecodeHoldings(f)
}

// EncodeHoldings writes a holdings snapshot to file.
func EncodeHoldings(file string, h *espp.Holdings) error {
	f, err := os.Create(file)
	if err != nil {
		return err
	}
	if err := espp.EncodeHoldings(f, h); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// openingHoldings returns the holdings opening year: from file when given,
// otherwise rolled forward from the oldest transaction.
func (a *app) openingHoldings(ctx context.Context, file string, txs []espp.Transaction, year int) (*espp.Holdings, error) {
	h, err := DecodeHoldings(file)
	if err != nil {
		return nil, fmt.Errorf("previous holdings: %w", err)
	}
	if h != nil && h.Year >= year {
		return nil, fmt.Errorf("previous holdings are for %d, not before %d", h.Year, year)
	}
	if h != nil && h.Year == year-1 {
		return h, nil
	}
	return a.engine.RollForward(ctx, *brokerName, txs, h, year)
}

// exitStatus reports err and returns the matching exit status.
func exitStatus(err error) subcommands.ExitStatus {
	var perr *fs.PathError
	switch {
	case errors.As(err, &perr):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	case espp.IsDataError(err):
		fmt.Fprintf(os.Stderr, "Error in the transactions: %v\n", err)
	case errors.Is(err, espp.ErrLookup):
		fmt.Fprintf(os.Stderr, "Error: missing market data: %v\n", err)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return subcommands.ExitFailure
}
