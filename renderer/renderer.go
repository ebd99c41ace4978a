// Package renderer renders tax reports, holdings and wire reconciliations
// as markdown, using text/template files embedded in the binary.
package renderer

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"text/template"

	"github.com/etnz/espp"
	"github.com/shopspring/decimal"
)

//go:embed *.md
var templates embed.FS

var funcs = template.FuncMap{
	"nok": espp.FormatNOK,
	// fixed rounds d to places decimals, always printing them.
	"fixed": func(places int, d decimal.Decimal) string { return d.StringFixed(int32(places)) },
	"pct":   func(d decimal.Decimal) string { return d.StringFixed(2) + " %" },
	"deref": func(d *decimal.Decimal) decimal.Decimal {
		if d == nil {
			return decimal.Zero
		}
		return *d
	},
	"isin": func(r *espp.Report, symbol string) string { return r.Fundamentals[symbol].ISIN },
}

// ReportOptions selects the sections of a tax report.
type ReportOptions struct {
	SkipLots       bool // Do not render the lots and their deductions.
	SkipCashLedger bool // Do not render the cash ledger lines.
}

// RenderReport renders the tax report of one year to a markdown string.
func RenderReport(r *espp.Report, opts ReportOptions) string {
	partials := map[string]string{
		"report_title":     "report_title.md",
		"report_summary":   "report_summary.md",
		"report_dividends": "report_dividends.md",
		"report_sales":     "report_sales.md",
		"report_balance":   "report_balance.md",
		"report_espp":      "report_espp.md",
		"report_warnings":  "report_warnings.md",
		"report_wires":     "wires_body.md",
		"report_lots":      "report_lots.md",
		"report_cash":      "report_cash.md",
	}
	// An empty file name results in an empty template.
	if opts.SkipLots {
		partials["report_lots"] = ""
	}
	if opts.SkipCashLedger {
		partials["report_cash"] = ""
	}
	return renderTemplate("report", "report.md", partials, r)
}

// RenderHoldings renders an end of year snapshot to a markdown string.
func RenderHoldings(h *espp.Holdings) string {
	return renderTemplate("holdings", "holdings.md", nil, h)
}

// RenderWires renders the transfers to Norway of a report and the wires
// that could not be matched.
func RenderWires(r *espp.Report) string {
	partials := map[string]string{
		"wires_body": "wires_body.md",
	}
	return renderTemplate("wires", "wires.md", partials, r)
}

// renderTemplate is a generic utility to render a main template that depends on several partials.
func renderTemplate(templateName, mainFile string, partials map[string]string, data any) string {
	mainContent, err := fs.ReadFile(templates, mainFile)
	if err != nil {
		return fmt.Sprintf("error reading main template %q: %v", mainFile, err)
	}

	tmpl, err := template.New(templateName).Funcs(funcs).Parse(string(mainContent))
	if err != nil {
		return fmt.Sprintf("error parsing main template %q: %v", mainFile, err)
	}

	for name, file := range partials {
		var content []byte
		if file != "" {
			content, err = fs.ReadFile(templates, file)
			if err != nil {
				return fmt.Sprintf("error reading partial template %q: %v", file, err)
			}
		}
		if _, err := tmpl.New(name).Parse(string(content)); err != nil {
			return fmt.Sprintf("error parsing partial template %q for %q: %v", file, name, err)
		}
	}

	var b strings.Builder
	if err := tmpl.ExecuteTemplate(&b, templateName, data); err != nil {
		return fmt.Sprintf("error executing template %q: %v", templateName, err)
	}
	return b.String()
}
