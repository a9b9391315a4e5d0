// Package analytics computes the advanced performance metrics run against a
// generated trade list: equity curve, risk ratios, Monte Carlo resampling,
// and walk-forward validation (spec.md §4.16).
package analytics

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"copytrade-signals/internal/apierr"
	"copytrade-signals/internal/backtest"
)

const (
	defaultNumSimulations   = 1000
	minNumSimulations       = 100
	maxNumSimulations       = 10000
	defaultNumWindows       = 5
	defaultInSampleRatio    = 0.7
	minTradesForWalkForward = 50
)

// TradeRecord is the minimal (pnl, timestamp) pair the whole package
// operates on, decoupled from backtest.Trade so analytics can run over any
// ordered trade sequence.
type TradeRecord struct {
	PnL       float64
	Timestamp time.Time
}

// FromBacktestTrades adapts a backtest.Result's trade list into
// TradeRecords, ordered by exit time.
func FromBacktestTrades(trades []backtest.Trade) []TradeRecord {
	out := make([]TradeRecord, len(trades))
	for i, t := range trades {
		out[i] = TradeRecord{PnL: t.PnLUSDT, Timestamp: t.ExitTime}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// EquityCurve returns the running balance after each trade, starting at
// initialBalance (spec.md §4.16: "equity curve by cumulative sum").
func EquityCurve(initialBalance float64, trades []TradeRecord) []float64 {
	curve := make([]float64, len(trades)+1)
	curve[0] = initialBalance
	for i, t := range trades {
		curve[i+1] = curve[i] + t.PnL
	}
	return curve
}

// ReturnsSeries is the successive percentage change of the equity curve.
func ReturnsSeries(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1]
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (equity[i]-prev)/prev)
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64, avg float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sumSq float64
	for _, v := range values {
		d := v - avg
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}

// Sharpe implements spec.md §4.16: (avgReturn - rfDaily) / sigma, 0 when
// sigma is 0.
func Sharpe(returns []float64, rfDaily float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	avg := mean(returns)
	sigma := stdDev(returns, avg)
	if sigma == 0 {
		return 0
	}
	return (avg - rfDaily) / sigma
}

// Sortino is Sharpe restricted to downside deviation (negative returns only).
func Sortino(returns []float64, rfDaily float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) == 0 {
		return 0
	}
	avg := mean(returns)
	sigma := stdDev(downside, 0)
	if sigma == 0 {
		return 0
	}
	return (avg - rfDaily) / sigma
}

// MaxDrawdown returns the largest peak-to-trough fractional decline and its
// duration in samples (spec.md §4.16).
func MaxDrawdown(equity []float64) (maxDrawdown float64, durationSamples int) {
	if len(equity) == 0 {
		return 0, 0
	}
	peak := equity[0]
	peakIdx := 0
	var worstTroughIdx int
	for i, v := range equity {
		if v > peak {
			peak = v
			peakIdx = i
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - v) / peak
		if dd > maxDrawdown {
			maxDrawdown = dd
			worstTroughIdx = i
			durationSamples = worstTroughIdx - peakIdx
		}
	}
	return maxDrawdown, durationSamples
}

// Calmar is CAGR / maxDrawdown, where CAGR spans the first-to-last trade
// timestamps in years (spec.md §4.16). Returns 0 when the span or
// maxDrawdown is 0.
func Calmar(trades []TradeRecord, initialBalance, finalEquity, maxDrawdown float64) float64 {
	if maxDrawdown == 0 || len(trades) < 2 || initialBalance <= 0 {
		return 0
	}
	years := trades[len(trades)-1].Timestamp.Sub(trades[0].Timestamp).Hours() / 24 / 365.25
	if years <= 0 {
		return 0
	}
	ratio := finalEquity / initialBalance
	if ratio <= 0 {
		return 0
	}
	cagr := math.Pow(ratio, 1/years) - 1
	return cagr / maxDrawdown
}

// percentile computes the p-th percentile (0..1) of values via linear
// interpolation on the sorted slice.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := p * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// VaR95 and CVaR95 implement spec.md §4.16's tail-risk pair.
func VaR95(returns []float64) float64 {
	return math.Abs(percentile(returns, 0.05))
}

func CVaR95(returns []float64) float64 {
	threshold := percentile(returns, 0.05)
	var tail []float64
	for _, r := range returns {
		if r <= threshold {
			tail = append(tail, r)
		}
	}
	if len(tail) == 0 {
		return 0
	}
	return math.Abs(mean(tail))
}

// ProfitFactor and RecoveryFactor implement spec.md §4.16.
func ProfitFactor(trades []TradeRecord) float64 {
	var wins, losses float64
	for _, t := range trades {
		if t.PnL > 0 {
			wins += t.PnL
		} else {
			losses += t.PnL
		}
	}
	if losses == 0 {
		return 0
	}
	return wins / math.Abs(losses)
}

func RecoveryFactor(netPnl, maxDrawdown, initialBalance float64) float64 {
	denom := maxDrawdown * initialBalance
	if denom == 0 {
		return 0
	}
	return netPnl / denom
}

// MonteCarloResult is the bootstrap summary of spec.md §4.16.
type MonteCarloResult struct {
	NumSimulations    int
	Mean              float64
	Median            float64
	StdDev            float64
	Interval95Low     float64
	Interval95High    float64
	ProbabilityOfRuin float64
}

// MonteCarlo bootstraps the trade list numSimulations times (clamped to
// [100,10000], default 1000 when <=0), resampling len(trades) pnls with
// replacement per run and tracking the resulting final equity. The caller
// supplies the PRNG source so a run can be made reproducible in tests.
func MonteCarlo(trades []TradeRecord, initialBalance float64, numSimulations int, rng *rand.Rand) MonteCarloResult {
	numSimulations = clampInt(numSimulations, minNumSimulations, maxNumSimulations, defaultNumSimulations)
	if len(trades) == 0 {
		return MonteCarloResult{NumSimulations: numSimulations}
	}

	finals := make([]float64, numSimulations)
	var ruinCount int
	for i := 0; i < numSimulations; i++ {
		equity := initialBalance
		for j := 0; j < len(trades); j++ {
			idx := rng.Intn(len(trades))
			equity += trades[idx].PnL
		}
		finals[i] = equity
		if equity <= 0 {
			ruinCount++
		}
	}

	avg := mean(finals)
	sorted := append([]float64(nil), finals...)
	sort.Float64s(sorted)
	median := percentile(sorted, 0.5)

	return MonteCarloResult{
		NumSimulations:    numSimulations,
		Mean:              avg,
		Median:            median,
		StdDev:            stdDev(finals, avg),
		Interval95Low:     percentile(sorted, 0.025),
		Interval95High:    percentile(sorted, 0.975),
		ProbabilityOfRuin: float64(ruinCount) / float64(numSimulations),
	}
}

func clampInt(v, lo, hi, fallback int) int {
	if v <= 0 {
		return fallback
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// WalkForwardResult is the in/out-of-sample comparison of spec.md §4.16.
type WalkForwardResult struct {
	NumWindows     int
	InSampleRatio  float64
	MeanInWinRate  float64
	MeanOutWinRate float64
	Correlation    float64
	OverfitScore   float64
}

// WalkForward partitions the ordered trade set into numWindows consecutive
// blocks, each split at inSampleRatio, and compares in-sample vs
// out-of-sample win rates. Refuses with apierr.ErrInsufficientData when
// fewer than 50 trades are given (spec.md §4.16).
func WalkForward(trades []TradeRecord, numWindows int, inSampleRatio float64) (WalkForwardResult, error) {
	if len(trades) < minTradesForWalkForward {
		return WalkForwardResult{}, apierr.ErrInsufficientData
	}
	if numWindows <= 0 {
		numWindows = defaultNumWindows
	}
	if inSampleRatio <= 0 || inSampleRatio >= 1 {
		inSampleRatio = defaultInSampleRatio
	}

	windowSize := len(trades) / numWindows
	if windowSize == 0 {
		windowSize = len(trades)
		numWindows = 1
	}

	var inRates, outRates []float64
	for w := 0; w < numWindows; w++ {
		start := w * windowSize
		end := start + windowSize
		if w == numWindows-1 {
			end = len(trades)
		}
		if start >= end {
			continue
		}
		block := trades[start:end]
		splitAt := int(float64(len(block)) * inSampleRatio)
		if splitAt <= 0 || splitAt >= len(block) {
			continue
		}
		inRates = append(inRates, winRate(block[:splitAt]))
		outRates = append(outRates, winRate(block[splitAt:]))
	}

	meanIn := mean(inRates)
	meanOut := mean(outRates)
	overfit := 0.0
	if meanIn != 0 {
		overfit = math.Abs(meanIn-meanOut) / meanIn
	}

	return WalkForwardResult{
		NumWindows:     numWindows,
		InSampleRatio:  inSampleRatio,
		MeanInWinRate:  meanIn,
		MeanOutWinRate: meanOut,
		Correlation:    correlation(inRates, outRates),
		OverfitScore:   overfit,
	}, nil
}

func winRate(trades []TradeRecord) float64 {
	if len(trades) == 0 {
		return 0
	}
	var wins int
	for _, t := range trades {
		if t.PnL > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(trades))
}

func correlation(a, b []float64) float64 {
	if len(a) != len(b) || len(a) < 2 {
		return 0
	}
	meanA, meanB := mean(a), mean(b)
	var cov, varA, varB float64
	for i := range a {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}
