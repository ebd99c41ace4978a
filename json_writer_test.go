package espp

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJsonObjectWriter(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *jsonObjectWriter)
		want  string
	}{
		{"empty", func(w *jsonObjectWriter) {}, `{}`},
		{"ordered", func(w *jsonObjectWriter) {
			w.Append("symbol", "CSCO").Append("qty", D("12.5"))
		}, `{"symbol":"CSCO","qty":12.5}`},
		{"optional", func(w *jsonObjectWriter) {
			w.Optional("description", "").Optional("fee", D(0)).Optional("gain", (*int)(nil)).Optional("qty", D(3))
		}, `{"qty":3}`},
		{"embed", func(w *jsonObjectWriter) {
			w.Append("version", "2").Embed([]byte(` {"year":2022} `)).Embed([]byte(`{}`))
		}, `{"version":"2","year":2022}`},
		{"embed from", func(w *jsonObjectWriter) {
			w.EmbedFrom(struct {
				Year int `json:"year"`
			}{2022}).Append("broker", "schwab")
		}, `{"year":2022,"broker":"schwab"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var w jsonObjectWriter
			tc.write(&w)
			got, err := w.MarshalJSON()
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(got))
			assert.Equal(t, tc.want, string(got), "field order")
		})
	}
}

func TestJsonObjectWriter_Error(t *testing.T) {
	var w jsonObjectWriter
	w.Append("bad", make(chan int)).Append("ignored", 1)
	_, err := w.MarshalJSON()
	assert.ErrorContains(t, err, `"bad"`)
}

func TestAmount_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(RestoreAmount(D("47.123456789"), USD, D("8.5432109876"), D("402.5887658462")))
	require.NoError(t, err)
	assert.Equal(t, `{"currency":"USD","value":47.123456789,"nok_exchange_rate":8.5432109876,"nok_value":402.5887658462}`, string(b))
}

func TestHoldings_MarshalJSON(t *testing.T) {
	h := &Holdings{Year: 2022, Broker: "schwab", Stocks: []Stock{}, Cash: []CashEntry{}, Version: HoldingsVersion}
	b, err := json.Marshal(h)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), `{"version":"2","year":2022,`), string(b))
	assert.Equal(t, 1, strings.Count(string(b), `"version"`))

	h.Version = ""
	b, err = json.Marshal(h)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "version")
}
