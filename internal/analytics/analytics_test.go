package analytics

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleTrades() []TradeRecord {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return []TradeRecord{
		{PnL: 10, Timestamp: base},
		{PnL: -5, Timestamp: base.Add(24 * time.Hour)},
		{PnL: 20, Timestamp: base.Add(48 * time.Hour)},
		{PnL: -8, Timestamp: base.Add(72 * time.Hour)},
	}
}

func TestEquityCurveAndReturns(t *testing.T) {
	curve := EquityCurve(100, sampleTrades())
	require.Equal(t, []float64{100, 110, 105, 125, 117}, curve)

	returns := ReturnsSeries(curve)
	require.Len(t, returns, 4)
	require.InDelta(t, 0.1, returns[0], 1e-9)
}

func TestSharpeZeroWhenNoVariance(t *testing.T) {
	require.Zero(t, Sharpe([]float64{0.01, 0.01, 0.01}, 0))
	require.Zero(t, Sharpe(nil, 0))
}

func TestSortinoIgnoresUpside(t *testing.T) {
	returns := []float64{0.05, 0.03, -0.02, -0.01}
	require.NotZero(t, Sortino(returns, 0))
	require.Zero(t, Sortino([]float64{0.01, 0.02}, 0))
}

func TestMaxDrawdown(t *testing.T) {
	equity := []float64{100, 120, 90, 95, 130}
	dd, duration := MaxDrawdown(equity)
	require.InDelta(t, 0.25, dd, 1e-9) // (120-90)/120
	require.Equal(t, 1, duration) // peak at index 1, trough at index 2
}

func TestVaRAndCVaR(t *testing.T) {
	returns := []float64{0.05, -0.1, 0.02, -0.2, 0.01, -0.05, 0.03, -0.15, 0.0, -0.01}
	v := VaR95(returns)
	cv := CVaR95(returns)
	require.Greater(t, v, 0.0)
	require.GreaterOrEqual(t, cv, v)
}

func TestProfitFactorAndRecoveryFactor(t *testing.T) {
	trades := sampleTrades()
	pf := ProfitFactor(trades)
	require.InDelta(t, 30.0/13.0, pf, 1e-9)

	rf := RecoveryFactor(17, 0.25, 100)
	require.InDelta(t, 17.0/25.0, rf, 1e-9)
}

func TestMonteCarlo_DeterministicSeed(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	result := MonteCarlo(sampleTrades(), 100, 500, rng)

	require.Equal(t, 500, result.NumSimulations)
	require.GreaterOrEqual(t, result.ProbabilityOfRuin, 0.0)
	require.LessOrEqual(t, result.ProbabilityOfRuin, 1.0)
}

func TestMonteCarlo_ClampsSimulationCount(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	result := MonteCarlo(sampleTrades(), 100, 50, rng)
	require.Equal(t, minNumSimulations, result.NumSimulations)

	result = MonteCarlo(sampleTrades(), 100, 50000, rng)
	require.Equal(t, maxNumSimulations, result.NumSimulations)
}

func TestWalkForward_RefusesBelowMinimum(t *testing.T) {
	_, err := WalkForward(sampleTrades(), 5, 0.7)
	require.Error(t, err)
}

func TestWalkForward_ComputesRatesAboveMinimum(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := make([]TradeRecord, 0, 60)
	for i := 0; i < 60; i++ {
		pnl := -1.0
		if i%3 != 0 {
			pnl = 1.0
		}
		trades = append(trades, TradeRecord{PnL: pnl, Timestamp: base.Add(time.Duration(i) * time.Hour)})
	}

	result, err := WalkForward(trades, 5, 0.7)
	require.NoError(t, err)
	require.Equal(t, 5, result.NumWindows)
	require.GreaterOrEqual(t, result.MeanInWinRate, 0.0)
	require.LessOrEqual(t, result.MeanInWinRate, 1.0)
}
