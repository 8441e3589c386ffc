package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"futures-signal-engine/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func btcFilters() model.SymbolFilters {
	return model.SymbolFilters{
		Symbol:      "BTCUSDT",
		StepSize:    decimal.RequireFromString("0.001"),
		MinQty:      decimal.RequireFromString("0.001"),
		MinNotional: decimal.NewFromInt(100),
	}
}

func TestFilterCache_ZeroTTLAlwaysFetches(t *testing.T) {
	stub := &stubExchange{filters: btcFilters()}
	c := NewFilterCache(stub, 0)

	for i := 0; i < 3; i++ {
		_, err := c.GetSymbolFilters(context.Background(), "BTCUSDT")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, stub.filterCalls)
}

func TestFilterCache_ServesWithinTTL(t *testing.T) {
	stub := &stubExchange{filters: btcFilters()}
	c := NewFilterCache(stub, time.Minute)
	clk := &manualClock{t: time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)}
	c.now = clk.Now

	f, err := c.GetSymbolFilters(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, f.MinNotional.Equal(decimal.NewFromInt(100)))

	clk.Advance(30 * time.Second)
	_, err = c.GetSymbolFilters(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, stub.filterCalls)

	clk.Advance(31 * time.Second)
	_, err = c.GetSymbolFilters(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2, stub.filterCalls)
}

func TestFilterCache_Invalidate(t *testing.T) {
	stub := &stubExchange{filters: btcFilters()}
	c := NewFilterCache(stub, time.Hour)

	_, _ = c.GetSymbolFilters(context.Background(), "BTCUSDT")
	c.InvalidateFilters("BTCUSDT")
	_, _ = c.GetSymbolFilters(context.Background(), "BTCUSDT")
	assert.Equal(t, 2, stub.filterCalls)

	var _ model.FilterInvalidator = c
}

func TestFilterCache_ErrorsAreNotCached(t *testing.T) {
	stub := &stubExchange{filterErr: errors.New("boom")}
	c := NewFilterCache(stub, time.Hour)

	_, err := c.GetSymbolFilters(context.Background(), "BTCUSDT")
	require.Error(t, err)

	stub.filterErr = nil
	stub.filters = btcFilters()
	f, err := c.GetSymbolFilters(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", f.Symbol)
	assert.Equal(t, 2, stub.filterCalls)
}
