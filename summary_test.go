package espp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckWithholding(t *testing.T) {
	tests := []struct {
		name  string
		gross float64
		tax   float64
		want  string
	}{
		{"treaty rate", 1000, -150, ""},
		{"within 5 USD", 1000, -146, ""},
		{"no treaty rate", 1000, -300, "W-8BEN"},
		{"too little withheld", 1000, -100, "expected 150.00"},
		{"nothing paid", 0, 0, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := checkWithholding(SymbolDividends{Symbol: "CSCO", Gross: usd(tc.gross, 10), Tax: usd(tc.tax, 10)})
			if tc.want == "" {
				assert.Empty(t, got)
				return
			}
			if !strings.Contains(got, tc.want) {
				t.Errorf("checkWithholding() = %q, want it to mention %q", got, tc.want)
			}
		})
	}
}

func saleOn(on string, taxable float64) Sale {
	return Sale{
		Sell: NewSell(day(on), "CSCO", D(-1), usd(taxable/10, 10), nil, "test"),
		Allocations: []SaleAllocation{{
			Quantity:     D(1),
			GainPerShare: usd(taxable/10, 10),
		}},
	}
}

func TestBuildSummary_TaxIncrease(t *testing.T) {
	r := &Report{
		Year:   2022,
		Broker: "morgan",
		Balance: []BalanceItem{
			{Symbol: "CSCO", Quantity: D(10), Amount: usd(500, 10)},
			{Symbol: "ACME", Quantity: D(0), Amount: usd(0, 10)},
		},
		Sales: []SymbolSales{{Symbol: "CSCO", Sales: []Sale{saleOn("2022-06-01", 1000), saleOn("2022-11-01", 400)}}},
		Dividends: []SymbolDividends{{
			Symbol:          "CSCO",
			Gross:           usd(100, 10),
			Tax:             usd(-15, 10),
			DeductionUsed:   D(200),
			PostTaxIncrease: D(300.4),
		}},
		Cash: CashSummary{GainAggregated: D(55)},
	}
	s, warnings := buildSummary(r)
	assert.Empty(t, warnings)
	require.Len(t, s.ForeignShares, 2)

	csco := s.ForeignShares[0]
	assert.True(t, csco.Wealth.Equal(D(5000)))
	assert.True(t, csco.Dividend.Equal(D(800)))
	assert.True(t, csco.TaxableGain.Equal(D(1455)), "taxable gain %s", csco.TaxableGain)
	assert.True(t, csco.DeductionUsed.Equal(D(200)))
	require.NotNil(t, csco.PostTaxIncreaseDividend)
	assert.True(t, csco.PostTaxIncreaseDividend.Equal(D(300)))
	assert.True(t, csco.PostTaxIncreaseGain.Equal(D(400)))

	// The aggregated currency gain is counted once.
	acme := s.ForeignShares[1]
	assert.True(t, acme.TaxableGain.IsZero())

	require.Len(t, s.CreditDeductions, 1)
	assert.True(t, s.CreditDeductions[0].GrossShareDividend.Equal(D(1000)))
	assert.True(t, s.CreditDeductions[0].TaxOnGrossShareDividend.Equal(D(150)))
}

func TestBuildSummary_OtherYears(t *testing.T) {
	r := &Report{
		Year:    2023,
		Balance: []BalanceItem{{Symbol: "CSCO", Quantity: D(10), Amount: usd(500, 10)}},
		Cash:    CashSummary{GainAggregated: D(-20)},
	}
	s, _ := buildSummary(r)
	require.Len(t, s.ForeignShares, 1)
	assert.Nil(t, s.ForeignShares[0].PostTaxIncreaseDividend)
	assert.Nil(t, s.ForeignShares[0].PostTaxIncreaseGain)
	// With no sale, the aggregated gain goes to the first symbol.
	assert.True(t, s.ForeignShares[0].TaxableGain.Equal(D(-20)))
}
