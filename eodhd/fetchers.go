package eodhd

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/etnz/espp"
	"github.com/shopspring/decimal"
)

// This file contains functions to access the EODHD and Norges Bank APIs.

// fetchPrices returns the daily close prices of a US listed symbol, keyed
// by date.
func (c *Client) fetchPrices(ctx context.Context, symbol string) (map[string]decimal.Decimal, error) {
	// https://eodhd.com/api/eod/CSCO.US?api_token=demo&fmt=json
	// [
	//	{
	//		"date": "2024-02-13",
	//		"open": 49.51,
	//		"high": 49.6,
	//		"low": 48.22,
	//		"close": 48.6,
	//		"adjusted_close": 46.31,
	//		"volume": 23484800
	//	},
	addr := fmt.Sprintf("%s/eod/%s.US?fmt=json&api_token=%s", c.eodhdURL, url.PathEscape(symbol), url.QueryEscape(c.key))
	type Info struct {
		Date  string          `json:"date"`
		Close decimal.Decimal `json:"close"`
	}

	content := make([]Info, 0)
	if err := jwget(ctx, c.http, addr, &content); err != nil {
		return nil, err
	}
	prices := make(map[string]decimal.Decimal, len(content))
	for _, info := range content {
		prices[info.Date] = info.Close
	}
	return prices, nil
}

// dividend is a dividend as published by EODHD. Date is the ex-dividend
// date.
type dividend struct {
	Date            string          `json:"date"`
	DeclarationDate string          `json:"declarationDate"`
	PaymentDate     string          `json:"paymentDate"`
	Value           decimal.Decimal `json:"value"`
	Currency        string          `json:"currency"`
}

// fetchDividends returns the dividend history of a US listed symbol, keyed
// by payment date.
func (c *Client) fetchDividends(ctx context.Context, symbol string) (map[string]dividend, error) {
	// see https://eodhd.com/financial-apis/api-splits-dividends
	addr := fmt.Sprintf("%s/div/%s.US?fmt=json&api_token=%s", c.eodhdURL, url.PathEscape(symbol), url.QueryEscape(c.key))

	content := make([]dividend, 0)
	if err := jwget(ctx, c.http, addr, &content); err != nil {
		return nil, err
	}
	dividends := make(map[string]dividend, len(content))
	for _, d := range content {
		if d.PaymentDate == "" {
			continue
		}
		dividends[d.PaymentDate] = d
	}
	return dividends, nil
}

// fetchFundamentals returns the raw fundamentals document of a US listed
// symbol.
func (c *Client) fetchFundamentals(ctx context.Context, symbol string) (json.RawMessage, error) {
	addr := fmt.Sprintf("%s/fundamentals/%s.US?api_token=%s", c.eodhdURL, url.PathEscape(symbol), url.QueryEscape(c.key))
	body, err := wget(ctx, c.http, addr)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, errors.New("fundamentals: invalid JSON")
	}
	return json.RawMessage(body), nil
}

// fetchCurrency returns the daily NOK rates of currency published by Norges
// Bank, keyed by date.
func (c *Client) fetchCurrency(ctx context.Context, currency string) (map[string]decimal.Decimal, error) {
	body, err := wget(ctx, c.http, fmt.Sprintf(c.norgesURL, url.PathEscape(currency)))
	if err != nil {
		return nil, err
	}
	return parseRates(bytes.NewReader(body))
}

// parseRates reads Norges Bank's semicolon separated rates. The header is
// skipped; on every other line the date and the value are the last two
// fields.
//
//	B;Business;USD;US dollar;NOK;Norwegian krone;SP;Spot;4;false;0;Units;C;ECB concertation time 14:15 CET;2022-05-24;9.5979
func parseRates(r io.Reader) (map[string]decimal.Decimal, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	rates := make(map[string]decimal.Decimal)
	for i := 0; ; i++ {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("exchange rates line %d: %w", i+1, err)
		}
		if i == 0 || len(fields) < 2 {
			continue
		}
		day := strings.TrimSpace(fields[len(fields)-2])
		value := strings.TrimSpace(fields[len(fields)-1])
		if value == "" || value == "NaN" {
			continue
		}
		rate, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("exchange rates line %d: %w", i+1, err)
		}
		rates[day] = rate
	}
	if len(rates) == 0 {
		return nil, errors.New("no exchange rates found")
	}
	return rates, nil
}

// parseFundamentals extracts the identity of a security from an EODHD
// fundamentals document. Funds carry their ISIN in the ETF data.
func parseFundamentals(raw json.RawMessage) (espp.Fundamentals, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return espp.Fundamentals{}, err
	}
	get := func(path string) string {
		v, err := jsonpath.Get(path, doc)
		if err != nil {
			return ""
		}
		// jsonpath returns either the value or a list of one value.
		if list, ok := v.([]any); ok && len(list) > 0 {
			v = list[0]
		}
		s, _ := v.(string)
		return s
	}
	f := espp.Fundamentals{
		Symbol:  get("$.General.Code"),
		Name:    get("$.General.Name"),
		ISIN:    get("$.General.ISIN"),
		Country: get("$.General.CountryName"),
	}
	if f.ISIN == "" {
		f.ISIN = get("$.ETF_Data.ISIN")
	}
	if f.Name == "" {
		return f, errors.New("fundamentals without a name")
	}
	return f, nil
}
