// Package eodhd provides market data for the tax engine: stock prices,
// dividends and fundamentals from EOD Historical Data, and NOK exchange
// rates from Norges Bank.
//
// Every series is downloaded whole and kept in a JSON file per kind and
// symbol. A file is downloaded again when a date after its fetch date is
// requested.
package eodhd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/etnz/espp"
	"github.com/etnz/espp/date"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Default endpoints.
const (
	EODHDURL  = "https://eodhd.com/api"
	NorgesURL = "https://data.norges-bank.no/api/data/EXR/B.%s.NOK.SP?format=csv&startPeriod=1998&locale=us&bom=include"
)

// DefaultCacheDir is where series are stored when no directory is configured.
const DefaultCacheDir = "cache"

// Config configures a Client.
type Config struct {
	APIKey   string
	CacheDir string
	Rates    *espp.Rates // ESPPUSD rates, nil for the embedded table
	Logger   zerolog.Logger
	HTTP     *http.Client // nil for a client with a daily disk cache
}

// Client is an espp.Provider backed by EODHD and Norges Bank.
type Client struct {
	key   string
	dir   string
	rates *espp.Rates
	log   zerolog.Logger
	http  *http.Client
	memo  *cache.Cache

	eodhdURL  string
	norgesURL string // format string taking the currency
	today     func() date.Date

	mu sync.Mutex // serializes cache file access
}

var _ espp.Provider = (*Client)(nil)

// NewClient returns a Client.
func NewClient(cfg Config) *Client {
	if cfg.CacheDir == "" {
		cfg.CacheDir = DefaultCacheDir
	}
	if cfg.Rates == nil {
		cfg.Rates = espp.DefaultRates()
	}
	if cfg.HTTP == nil {
		cfg.HTTP = newDailyCachingClient(filepath.Join(cfg.CacheDir, "http"), cfg.Logger)
	}
	return &Client{
		key:       cfg.APIKey,
		dir:       cfg.CacheDir,
		rates:     cfg.Rates,
		log:       cfg.Logger,
		http:      cfg.HTTP,
		memo:      cache.New(time.Hour, 10*time.Minute),
		eodhdURL:  EODHDURL,
		norgesURL: NorgesURL,
		today:     date.Today,
	}
}

// table is the content of a cache file.
type table[T any] struct {
	Fetched date.Date `json:"fetched"`
	Data    T         `json:"data"`
}

// stale reports whether t cannot answer a lookup on day on. A zero on
// never needs a refresh.
func (t table[T]) stale(on date.Date) bool { return !on.IsZero() && on.After(t.Fetched) }

func (c *Client) filename(kind espp.LookupKind, symbol string) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s_%s.json", kind, symbol))
}

// load returns the series of kind for symbol, from memory, from the cache
// file or downloaded with fetch, whichever is the first to know about day
// on.
func load[T any](ctx context.Context, c *Client, kind espp.LookupKind, symbol string, on date.Date, fetch func(context.Context, string) (T, error)) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := string(kind) + "_" + symbol
	if v, ok := c.memo.Get(key); ok {
		if t := v.(table[T]); !t.stale(on) {
			return t.Data, nil
		}
	}

	name := c.filename(kind, symbol)
	if content, err := os.ReadFile(name); err == nil {
		var t table[T]
		if err := json.Unmarshal(content, &t); err != nil {
			c.log.Warn().Err(err).Str("file", name).Msg("ignoring corrupted cache file")
		} else if !t.stale(on) {
			c.memo.SetDefault(key, t)
			return t.Data, nil
		}
	}

	data, err := fetch(ctx, symbol)
	if err != nil {
		var zero T
		return zero, &espp.LookupError{Kind: kind, Key: symbol, Date: on, Err: err}
	}
	t := table[T]{Fetched: c.today(), Data: data}
	c.log.Info().Str("kind", string(kind)).Str("symbol", symbol).Str("file", name).Msg("caching market data")
	if err := c.save(name, t); err != nil {
		c.log.Warn().Err(err).Str("file", name).Msg("cache write error (ignored)")
	}
	c.memo.SetDefault(key, t)
	return data, nil
}

func (c *Client) save(name string, v any) error {
	content, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}
	return os.WriteFile(name, content, 0o644)
}

// lookback searches series for a value on day on or one of the previous
// days, attempts days in total.
func lookback[T any](series map[string]T, kind espp.LookupKind, key string, on date.Date, attempts int) (T, error) {
	v, _, ok := espp.Lookback(on, attempts, func(d date.Date) (T, bool) {
		v, ok := series[d.String()]
		return v, ok
	})
	if !ok {
		return v, &espp.LookupError{Kind: kind, Key: key, Date: on}
	}
	return v, nil
}

// ClosePrice returns the close price of a US listed symbol.
func (c *Client) ClosePrice(ctx context.Context, symbol string, on date.Date) (decimal.Decimal, error) {
	series, err := load(ctx, c, espp.LookupStock, symbol, on, c.fetchPrices)
	if err != nil {
		return decimal.Zero, err
	}
	return lookback(series, espp.LookupStock, symbol, on, espp.StockAttempts)
}

// ExchangeRate returns the NOK value of one unit of currency. ESPPUSD
// uses the plan's rate table and falls back to USD.
func (c *Client) ExchangeRate(ctx context.Context, currency string, on date.Date) (decimal.Decimal, error) {
	switch currency {
	case espp.NOK:
		return decimal.NewFromInt(1), nil
	case espp.ESPPUSD:
		if rate, ok := c.rates.ESPPRate(on); ok {
			return rate, nil
		}
		c.log.Warn().Str("date", on.String()).Msg("no ESPP rate, using USD")
		currency = espp.USD
	}
	series, err := load(ctx, c, espp.LookupCurrency, currency, on, c.fetchCurrency)
	if err != nil {
		return decimal.Zero, err
	}
	return lookback(series, espp.LookupCurrency, currency, on, espp.CurrencyAttempts)
}

// DividendRecord returns the dividend of symbol paid on paid. The
// declaration date defaults to the ex-dividend date.
func (c *Client) DividendRecord(ctx context.Context, symbol string, paid date.Date) (espp.DividendRecord, error) {
	series, err := load(ctx, c, espp.LookupDividends, symbol, paid, c.fetchDividends)
	if err != nil {
		return espp.DividendRecord{}, err
	}
	d, err := lookback(series, espp.LookupDividends, symbol, paid, espp.DividendAttempts)
	if err != nil {
		return espp.DividendRecord{}, err
	}
	rec := espp.DividendRecord{PerShare: d.Value}
	if rec.ExDate, err = date.Parse(d.Date); err != nil {
		return rec, &espp.LookupError{Kind: espp.LookupDividends, Key: symbol, Date: paid, Err: err}
	}
	rec.DeclarationDate = rec.ExDate
	if d.DeclarationDate != "" {
		if rec.DeclarationDate, err = date.Parse(d.DeclarationDate); err != nil {
			return rec, &espp.LookupError{Kind: espp.LookupDividends, Key: symbol, Date: paid, Err: err}
		}
	}
	return rec, nil
}

// Fundamentals returns the identity of symbol. Once cached, fundamentals
// are never downloaded again.
func (c *Client) Fundamentals(ctx context.Context, symbol string) (espp.Fundamentals, error) {
	raw, err := load(ctx, c, espp.LookupFundamentals, symbol, date.Date{}, c.fetchFundamentals)
	if err != nil {
		return espp.Fundamentals{Symbol: symbol}, err
	}
	f, err := parseFundamentals(raw)
	if err != nil {
		return espp.Fundamentals{Symbol: symbol}, &espp.LookupError{Kind: espp.LookupFundamentals, Key: symbol, Err: err}
	}
	if f.Symbol == "" {
		f.Symbol = symbol
	}
	if err := ValidateISIN(f.ISIN); err != nil {
		c.log.Warn().Str("symbol", symbol).Str("isin", f.ISIN).Err(err).Msg("suspicious ISIN")
	}
	return f, nil
}

// Refresh downloads every series of symbol, regardless of the cache.
func (c *Client) Refresh(ctx context.Context, symbol string) error {
	c.mu.Lock()
	for _, kind := range []espp.LookupKind{espp.LookupStock, espp.LookupDividends, espp.LookupFundamentals} {
		c.memo.Delete(string(kind) + "_" + symbol)
		if err := os.Remove(c.filename(kind, symbol)); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.mu.Unlock()
			return err
		}
	}
	c.mu.Unlock()

	today := c.today()
	if _, err := load(ctx, c, espp.LookupStock, symbol, today, c.fetchPrices); err != nil {
		return err
	}
	if _, err := load(ctx, c, espp.LookupDividends, symbol, today, c.fetchDividends); err != nil {
		return err
	}
	_, err := c.Fundamentals(ctx, symbol)
	return err
}
