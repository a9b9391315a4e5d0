package api

import (
	"math/rand"
	"time"

	"github.com/gin-gonic/gin"

	"copytrade-signals/internal/analytics"
	"copytrade-signals/internal/backtest"
)

// computeAdvancedAnalytics runs the equity curve, risk-ratio, Monte Carlo,
// and walk-forward passes requested via query flags on backtest-lite
// (spec.md §4.16), gated independently so callers only pay for what they ask
// for.
func (s *Server) computeAdvancedAnalytics(c *gin.Context, result backtest.Result, initialBalance float64) (map[string]any, error) {
	trades := analytics.FromBacktestTrades(result.Trades)
	out := map[string]any{}

	if c.Query("equityCurve") == "true" || c.Query("advancedMetrics") == "true" {
		equity := analytics.EquityCurve(initialBalance, trades)
		returns := analytics.ReturnsSeries(equity)
		maxDD, ddDuration := analytics.MaxDrawdown(equity)

		out["equityCurve"] = equity
		out["sharpe"] = analytics.Sharpe(returns, 0)
		out["sortino"] = analytics.Sortino(returns, 0)
		out["maxDrawdown"] = maxDD
		out["maxDrawdownDurationSamples"] = ddDuration
		out["calmar"] = analytics.Calmar(trades, initialBalance, lastOrDefault(equity, initialBalance), maxDD)
		out["var95"] = analytics.VaR95(returns)
		out["cvar95"] = analytics.CVaR95(returns)
		out["profitFactor"] = analytics.ProfitFactor(trades)
		out["recoveryFactor"] = analytics.RecoveryFactor(result.Summary.TotalPnl, maxDD, initialBalance)
	}

	if c.Query("monteCarlo") == "true" {
		numSimulations := queryIntDefault(c, "numSimulations", 1000)
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		out["monteCarlo"] = analytics.MonteCarlo(trades, initialBalance, numSimulations, rng)
	}

	if c.Query("walkForward") == "true" {
		wf, err := analytics.WalkForward(trades, 0, 0)
		if err != nil {
			return nil, err
		}
		out["walkForward"] = wf
	}

	return out, nil
}

func lastOrDefault(values []float64, def float64) float64 {
	if len(values) == 0 {
		return def
	}
	return values[len(values)-1]
}
