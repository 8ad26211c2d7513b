package repository

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/agent-core/pkg/types"
)

func TestLoadTimeframeCandles_AggregatesStoredOneMinuteBars(t *testing.T) {
	store, err := NewFileStore(zap.NewNop(), t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	candles := make([]types.Candle, 0, 6)
	for i := 0; i < 6; i++ {
		px := decimal.NewFromInt(int64(100 + i))
		candles = append(candles, types.Candle{
			Symbol: "BTC", Open: px, High: px.Add(decimal.NewFromInt(1)), Low: px,
			Close: px, Volume: decimal.NewFromInt(1), Timestamp: int64(i) * 60_000,
		})
	}
	require.NoError(t, store.SaveCandles(ctx, "BTC", candles))

	bars, err := store.LoadTimeframeCandles(ctx, "BTC", 0, 3, types.Timeframe5m)
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	assert.Equal(t, 3, bars[0].CandleCount)
	assert.Equal(t, types.Timeframe5m, bars[0].Timeframe)
}

func TestLoadCandles_MissingSymbolReturnsEmpty(t *testing.T) {
	store, err := NewFileStore(zap.NewNop(), t.TempDir())
	require.NoError(t, err)

	candles, err := store.LoadCandles(context.Background(), "NOPE", 0)
	require.NoError(t, err)
	assert.Empty(t, candles)
}
