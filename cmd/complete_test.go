package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletion(t *testing.T) {
	c := Completion()

	for _, name := range []string{"taxes", "holdings", "wires", "fetch", "topic"} {
		assert.Contains(t, c.Sub, name)
	}
	for _, name := range []string{"transactions", "broker", "cache-dir", "rates-file", "log-level", "raw"} {
		assert.Contains(t, c.Flags, name)
	}
	for _, name := range []string{"year", "holdings", "wires", "o", "opening-cash", "short"} {
		assert.Contains(t, c.Sub["taxes"].Flags, name)
	}
	assert.Contains(t, c.Sub["wires"].Flags, "template")
	assert.Contains(t, c.Sub["holdings"].Flags, "show")

	assert.Empty(t, c.Flags["raw"].Predict(""))
	assert.Empty(t, c.Sub["taxes"].Flags["short"].Predict(""))
	assert.ElementsMatch(t, []string{"debug", "info", "warn", "error"}, c.Flags["log-level"].Predict(""))
}

func TestCompletion_Topics(t *testing.T) {
	topics := Completion().Sub["topic"].Args
	require.NotNil(t, topics)

	names := topics.Predict("")
	assert.Contains(t, names, "*")
	assert.Contains(t, names, "holdings")
	assert.NotContains(t, names, "readme")
}
