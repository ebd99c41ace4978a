package renderer

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/etnz/espp"
	"github.com/etnz/espp/date"
	"github.com/shopspring/decimal"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var fixGolden = flag.Bool("fix-golden", false, "if true, update failing golden .md files with the received output")

func TestFixGoldenIsOff(t *testing.T) {
	if *fixGolden {
		t.Fatal("-fix-golden is enabled. This flag should only be used for updating test fixtures and must be disabled for regular tests.")
	}
}

func TestGolden(t *testing.T) {
	testCases := []struct {
		name       string
		goldenFile string
		render     func(t *testing.T) string
	}{
		{
			name:       "holdings",
			goldenFile: "testdata/holdings.md",
			render: func(t *testing.T) string {
				f, err := os.Open("testdata/holdings.json")
				if err != nil {
					t.Fatal(err)
				}
				defer f.Close()
				h, err := espp.DecodeHoldings(f)
				if err != nil {
					t.Fatalf("DecodeHoldings() = %v", err)
				}
				return RenderHoldings(h)
			},
		},
		{
			name:       "wires",
			goldenFile: "testdata/wires.md",
			render: func(t *testing.T) string {
				return RenderWires(sampleReport())
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.render(t)
			want, err := os.ReadFile(tc.goldenFile)
			if err != nil {
				if !os.IsNotExist(err) || !*fixGolden {
					t.Fatalf("failed to read golden file %q: %v", tc.goldenFile, err)
				}
			}
			if strings.TrimRight(got, "\n") == strings.TrimRight(string(want), "\n") {
				return
			}
			if *fixGolden {
				if err := os.MkdirAll(filepath.Dir(tc.goldenFile), 0755); err != nil {
					t.Fatalf("failed to create testdata directory: %v", err)
				}
				if err := os.WriteFile(tc.goldenFile, []byte(got), 0644); err != nil {
					t.Fatalf("failed to write updated golden file %q: %v", tc.goldenFile, err)
				}
				t.Logf("updated golden file %s", tc.goldenFile)
				return
			}
			t.Errorf("output mismatch for %s:\n--- want\n+++ got\n%s", tc.name, createDiff(string(want), got))
		})
	}
}

func TestRenderReport(t *testing.T) {
	tests := []struct {
		name   string
		opts   ReportOptions
		h2     []string
		tables int
	}{
		{
			name:   "full",
			h2:     []string{"Tax return", "Dividends", "Sales", "Transfers to Norway", "Balance on December 31st", "ESPP", "Lots", "Cash ledger", "Warnings"},
			tables: 10,
		},
		{
			name:   "short",
			opts:   ReportOptions{SkipLots: true, SkipCashLedger: true},
			h2:     []string{"Tax return", "Dividends", "Sales", "Transfers to Norway", "Balance on December 31st", "ESPP", "Warnings"},
			tables: 8,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := RenderReport(sampleReport(), tc.opts)
			if strings.HasPrefix(out, "error") {
				t.Fatalf("RenderReport() = %s", out)
			}
			doc := parse(out)

			if got := doc.headings[1]; !slices.Equal(got, []string{"Tax report 2022, schwab"}) {
				t.Errorf("title = %q", got)
			}
			if got := doc.headings[2]; !slices.Equal(got, tc.h2) {
				t.Errorf("sections = %q, want %q", got, tc.h2)
			}
			want3 := []string{"Foreign shares", "Credit deduction", "Currency gain", "CSCO", "CSCO", "Unmatched wires"}
			if got := doc.headings[3]; !slices.Equal(got, want3) {
				t.Errorf("subsections = %q, want %q", got, want3)
			}
			if doc.tables != tc.tables {
				t.Errorf("found %d tables, want %d", doc.tables, tc.tables)
			}
		})
	}
}

func TestRenderReport_Content(t *testing.T) {
	out := RenderReport(sampleReport(), ReportOptions{})
	for _, want := range []string{
		"Tax deduction rate: 1.70 %",
		"| CSCO | US17275R1023 | USA | schwab | 90 | 42876 | 300 | 3080 | 500 |",
		"CSCO after the tax increase: dividend 0, taxable gain 0.",
		"| **2022-05-20** | | **10** |",
		"| 2022-05-24 | wire | 9597.90 | 9650.00 | 52.10 | 0.00 |",
		"| CSCO | 2021-06-30 | 0 |",
		"- dividend withholding of CSCO looks like 30 %",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report does not contain %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "No dividends.") || strings.Contains(out, "No sales.") {
		t.Errorf("report has empty sections:\n%s", out)
	}

	empty := &espp.Report{Year: 2023}
	out = RenderReport(empty, ReportOptions{})
	for _, want := range []string{"# Tax report 2023\n", "No dividends.", "No sales."} {
		if !strings.Contains(out, want) {
			t.Errorf("empty report does not contain %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "## ESPP") || strings.Contains(out, "## Warnings") {
		t.Errorf("empty report has optional sections:\n%s", out)
	}
}

// sampleReport is a 2022 report with one sale, one dividend and one ESPP
// purchase.
func sampleReport() *espp.Report {
	rate := espp.D("10")
	usd := func(v string) espp.Amount { return espp.NewAmount(espp.D(v), espp.USD, rate) }
	dec := func(v string) decimal.Decimal { return espp.D(v) }
	zero := decimal.Zero

	sell := espp.NewSell(date.New(2022, 5, 20), "CSCO", dec("10"), usd("500"), nil, "test")
	sale := espp.Sale{Sell: sell, Allocations: []espp.SaleAllocation{{
		PurchaseDate:  date.New(2021, 6, 30),
		Quantity:      dec("10"),
		SellPrice:     usd("50"),
		PurchasePrice: usd("40"),
		GainPerShare:  usd("10"),
		DeductionUsed: dec("12"),
	}}}

	div := espp.NewDividend(date.New(2022, 4, 27), "CSCO", usd("38"), "test")
	div.ExDate = date.New(2022, 4, 5)
	event := espp.DividendEvent{Dividend: div, Held: dec("100"), Allocations: []espp.DividendAllocation{{
		Date:               div.Date,
		ExDate:             div.ExDate,
		Quantity:           dec("100"),
		PerShare:           usd("0.38"),
		Dividend:           usd("38"),
		DeductionUsed:      dec("0.8"),
		DeductionUsedTotal: dec("80"),
	}}}
	esppPrice := espp.NewAmount(dec("40"), espp.ESPPUSD, rate)

	return &espp.Report{
		Year:          2022,
		Broker:        "schwab",
		DeductionRate: dec("1.7"),
		Lots: []espp.Lot{
			{Symbol: "CSCO", Date: date.New(2021, 6, 30), Quantity: zero, Original: dec("10"), PurchasePrice: esppPrice, Disposed: date.New(2022, 5, 20)},
			{Symbol: "CSCO", Date: date.New(2021, 6, 30), Quantity: dec("90"), Original: dec("90"), PurchasePrice: esppPrice, DeductionNew: dec("6.8"), DeductionAvailable: dec("6")},
		},
		Sales: []espp.SymbolSales{{Symbol: "CSCO", Sales: []espp.Sale{sale}}},
		Dividends: []espp.SymbolDividends{{
			Symbol:        "CSCO",
			Events:        []espp.DividendEvent{event},
			Gross:         usd("38"),
			Tax:           usd("-11.4"),
			DeductionUsed: dec("80"),
		}},
		ESPP: []espp.ESPPInfo{{
			Symbol: "CSCO", Date: date.New(2021, 6, 30), Quantity: dec("100"),
			InvestedNOK: dec("34000"), PurchaseNOK: dec("40000"),
			BenefitGrossNOK: dec("6000"), BenefitNetNOK: dec("3240"),
			ROIGross: dec("17.647"), ROINet: dec("9.529"),
		}},
		CashLedger: []espp.LedgerLine{
			{Entry: espp.CashEntry{Date: date.New(2022, 4, 27), Description: espp.DescDividend, Amount: usd("38")}, Balance: dec("38")},
			{Entry: espp.CashEntry{Date: date.New(2022, 5, 20), Description: espp.DescSale, Amount: usd("500")}, Balance: dec("538")},
		},
		Cash: espp.CashSummary{
			Transfers: []espp.TransferRecord{
				{Date: date.New(2022, 5, 24), Description: "wire", AmountSent: dec("9597.9"), AmountReceived: dec("9650"), Gain: dec("52.1")},
				{Date: date.New(2022, 6, 1), Description: "wire", AmountSent: dec("4020"), AmountReceived: dec("4230"), Gain: dec("210"), AggregatedGain: dec("210")},
			},
			AmountSent:     dec("13617.9"),
			AmountReceived: dec("13880"),
			Gain:           dec("262.1"),
			GainAggregated: dec("210"),
		},
		RemainingCash: usd("38"),
		UnmatchedWires: []espp.UnmatchedWire{
			{Date: date.New(2022, 11, 2), Currency: espp.USD, Value: dec("500"), NOKValue: dec("5120")},
		},
		PreviousBalance: []espp.BalanceItem{{Symbol: "CSCO", Quantity: dec("100"), FMV: dec("63.37"), Amount: espp.NewAmount(dec("6337"), espp.USD, dec("8.82"))}},
		Balance:         []espp.BalanceItem{{Symbol: "CSCO", Quantity: dec("90"), FMV: dec("47.64"), Amount: espp.NewAmount(dec("4287.6"), espp.USD, rate)}},
		Fundamentals:    map[string]espp.Fundamentals{"CSCO": {Symbol: "CSCO", ISIN: "US17275R1023", Country: "USA"}},
		Summary: espp.Summary{
			Year: 2022,
			ForeignShares: []espp.ForeignShares{{
				Symbol: "CSCO", ISIN: "US17275R1023", Country: "USA", Account: "schwab",
				Shares: dec("90"), Wealth: dec("42876"), Dividend: dec("300"), TaxableGain: dec("3080"), DeductionUsed: dec("500"),
				PostTaxIncreaseDividend: &zero, PostTaxIncreaseGain: &zero,
			}},
			CreditDeductions: []espp.CreditDeduction{{Symbol: "CSCO", Country: "USA", IncomeTax: dec("57"), GrossShareDividend: dec("380"), TaxOnGrossShareDividend: dec("57")}},
		},
		Warnings: []string{"dividend withholding of CSCO looks like 30 %: is the W-8BEN form missing?"},
	}
}

type outline struct {
	headings map[int][]string
	tables   int
}

// parse walks the markdown AST of a rendered document.
func parse(md string) outline {
	src := []byte(md)
	root := goldmark.New(goldmark.WithExtensions(extension.GFM)).Parser().Parse(text.NewReader(src))
	o := outline{headings: make(map[int][]string)}
	ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n := n.(type) {
		case *ast.Heading:
			o.headings[n.Level] = append(o.headings[n.Level], plain(n, src))
			return ast.WalkSkipChildren, nil
		case *east.Table:
			o.tables++
		}
		return ast.WalkContinue, nil
	})
	return o
}

func plain(n ast.Node, src []byte) string {
	var b bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(src))
			continue
		}
		b.WriteString(plain(c, src))
	}
	return b.String()
}

// createDiff returns a line by line diff of two strings.
func createDiff(want, got string) string {
	wantLines := strings.Split(want, "\n")
	gotLines := strings.Split(got, "\n")
	var b strings.Builder
	for i := 0; i < max(len(wantLines), len(gotLines)); i++ {
		var w, g string
		if i < len(wantLines) {
			w = wantLines[i]
		}
		if i < len(gotLines) {
			g = gotLines[i]
		}
		if w != g {
			fmt.Fprintf(&b, "-%s\n+%s\n", w, g)
		} else {
			fmt.Fprintf(&b, " %s\n", w)
		}
	}
	return b.String()
}
