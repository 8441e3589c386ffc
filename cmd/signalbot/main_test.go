package main

import (
	"testing"

	"futures-signal-engine/internal/indicator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"run", "cycle", "indicators"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}

	ind, _, err := root.Find([]string{"indicators"})
	require.NoError(t, err)
	for _, flag := range []string{"symbol", "interval", "rsi", "sma", "limit", "rows"} {
		assert.NotNil(t, ind.Flags().Lookup(flag), flag)
	}
}

func TestCell(t *testing.T) {
	s := indicator.Series{{}, {Value: 78.571428, Valid: true}}
	assert.Equal(t, "-", cell(s, 0))
	assert.Equal(t, "78.5714", cell(s, 1))
	assert.Equal(t, "-", cell(s, 5))
}
