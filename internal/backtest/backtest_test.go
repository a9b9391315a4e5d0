package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"copytrade-signals/internal/database"
)

func TestCloseCounterpart(t *testing.T) {
	require.Equal(t, database.EventCloseLong, closeCounterpart(database.DirectionLong))
	require.Equal(t, database.EventCloseShort, closeCounterpart(database.DirectionShort))
}

func TestResolvePrice(t *testing.T) {
	require.Equal(t, 100.0, resolvePrice(100, 90, 80))
	require.Equal(t, 90.0, resolvePrice(0, 90, 80))
	require.Equal(t, 80.0, resolvePrice(0, 0, 80))
}

func TestCloseTrade_LongProfit(t *testing.T) {
	trade := &Trade{
		Symbol:         "BTCUSDT",
		Direction:      database.DirectionLong,
		EntryTime:      time.Unix(0, 0),
		EntryPrice:     100,
		MarginNotional: 100,
		Leverage:       10,
	}

	closed := closeTrade(trade, time.Unix(3600, 0), 110, "signal_close")

	require.InDelta(t, 100, closed.PnLUSDT, 1e-9) // 10% move * 1000 notional
	require.InDelta(t, 100, closed.ROIPct, 1e-9)
	require.Equal(t, "signal_close", closed.ExitReason)
}

func TestCloseTrade_ShortLoss(t *testing.T) {
	trade := &Trade{
		Symbol:         "BTCUSDT",
		Direction:      database.DirectionShort,
		EntryTime:      time.Unix(0, 0),
		EntryPrice:     100,
		MarginNotional: 50,
		Leverage:       5,
	}

	closed := closeTrade(trade, time.Unix(3600, 0), 110, "window_end")

	require.Less(t, closed.PnLUSDT, 0.0)
}

func TestSummarizeTrades_Empty(t *testing.T) {
	s := summarizeTrades(nil)
	require.Zero(t, s.Trades)
	require.Zero(t, s.WinRatePct)
}

func TestSummarizeTrades_MixedOutcomes(t *testing.T) {
	trades := []Trade{
		{Symbol: "BTCUSDT", PnLUSDT: 10, ROIPct: 5},
		{Symbol: "BTCUSDT", PnLUSDT: -4, ROIPct: -2},
		{Symbol: "ETHUSDT", PnLUSDT: 0, ROIPct: 0},
	}

	s := summarizeTrades(trades)

	require.Equal(t, 3, s.Trades)
	require.Equal(t, 1, s.Wins)
	require.Equal(t, 1, s.Losses)
	require.Equal(t, 1, s.Breakeven)
	require.InDelta(t, 6.0, s.TotalPnl, 1e-9)
	require.InDelta(t, 100.0/3, s.WinRatePct, 1e-9)
}

func TestContributionsFromOpenSets(t *testing.T) {
	st := newSymbolState()
	st.openLong["trader-a"] = true
	st.openShort["trader-b"] = true

	weights := map[string]float64{"trader-a": 0.6, "trader-b": 0.4}
	contributions := contributionsFromOpenSets(st, weights)

	require.Len(t, contributions, 2)
}
