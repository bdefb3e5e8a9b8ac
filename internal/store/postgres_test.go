package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpagg/pkg/types"
)

func TestCandleRowRoundTrip(t *testing.T) {
	t.Parallel()
	c := types.Candle{
		Venue:       types.VenueAster,
		Symbol:      "ETH",
		Timeframe:   types.TF5m,
		Timestamp:   1_700_000_100_000,
		Open:        "3200.1",
		High:        "3210.5",
		Low:         "3195.0",
		Close:       "3208.2",
		Volume:      "42.5",
		QuoteVolume: "136102.3",
		TradeCount:  17,
		VWAP:        "3202.4",
	}

	got := toRow(c).candle()
	assert.Equal(t, c, got)
}

func TestCandlesQueryNoFilters(t *testing.T) {
	t.Parallel()
	query, args := candlesQuery(types.VenueHyperliquid, "BTC", types.TF1m, time.Time{}, time.Time{}, 0)

	require.Len(t, args, 3)
	assert.Equal(t, "hyperliquid", args[0])
	assert.Equal(t, "BTC", args[1])
	assert.Equal(t, "1m", args[2])
	assert.NotContains(t, query, "bucket_ts >=")
	assert.NotContains(t, query, "LIMIT")
	assert.True(t, strings.HasSuffix(query, "ORDER BY bucket_ts ASC"))
}

func TestCandlesQueryAllFilters(t *testing.T) {
	t.Parallel()
	from := time.UnixMilli(1_700_000_000_000).UTC()
	to := time.UnixMilli(1_700_003_600_000).UTC()

	query, args := candlesQuery(types.VenueLighter, "SOL", types.TF1h, from, to, 500)

	require.Len(t, args, 6)
	assert.Equal(t, from.UnixMilli(), args[3])
	assert.Equal(t, to.UnixMilli(), args[4])
	assert.Equal(t, 500, args[5])
	assert.Contains(t, query, "bucket_ts >= $4")
	assert.Contains(t, query, "bucket_ts <= $5")
	assert.Contains(t, query, "LIMIT $6")
}

func TestNopStore(t *testing.T) {
	t.Parallel()
	var s ColdStore = Nop{}

	require.NoError(t, s.InsertCandles(context.Background(), []types.Candle{{Symbol: "BTC"}}))
	got, err := s.Candles(context.Background(), types.VenueAvantis, "BTC", types.TF1d, time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, s.Close())
}
