package derive

import (
	"math"
	"sort"
	"time"

	"copytrade-signals/internal/database"
	"copytrade-signals/internal/upstream"
)

// Metrics is the pure-function output of a single raw payload (spec.md §4.4).
type Metrics struct {
	TraderID            string
	ClosingTrades       int
	Wins                int
	Losses              int
	Breakeven           int
	WinRate             *float64
	MaxConsecutiveWins  int
	MaxConsecutiveLosses int
	PositionsVisible    bool
	AvgLeverage         *float64
	QualityScore        float64
	Confidence          database.Confidence
	ClosedTradesLast7d  int
	ROI30d              float64
	Sharpe              float64
}

// ComputeMetrics derives a Metrics record from one trader's raw payload.
// Every field is deterministic given the payload (spec.md §4.4).
func ComputeMetrics(traderID string, payload *upstream.Payload) Metrics {
	orders := database.DecodeOrders(payload.OrderHistory.AllOrders)
	positions := DecodePositions(payload.ActivePositions)
	roiSeries := DecodeROISeries(payload.ROISeries)

	closing := closingTrades(orders)
	sort.Slice(closing, func(i, j int) bool { return closing[i].OrderTime.Before(closing[j].OrderTime) })

	m := Metrics{TraderID: traderID}
	returns := make([]float64, 0, len(closing))

	var curWinStreak, curLossStreak int
	cutoff7d := payload.FetchedAt.Add(-7 * 24 * time.Hour)

	for _, order := range closing {
		m.ClosingTrades++

		var pnl float64
		hasPnL := order.TotalPnL != nil
		if hasPnL {
			pnl = *order.TotalPnL
		}

		switch {
		case !hasPnL || pnl == 0:
			m.Breakeven++
			curWinStreak, curLossStreak = 0, 0
		case pnl > 0:
			m.Wins++
			curWinStreak++
			curLossStreak = 0
			if curWinStreak > m.MaxConsecutiveWins {
				m.MaxConsecutiveWins = curWinStreak
			}
		default:
			m.Losses++
			curLossStreak++
			curWinStreak = 0
			if curLossStreak > m.MaxConsecutiveLosses {
				m.MaxConsecutiveLosses = curLossStreak
			}
		}

		if !order.OrderTime.Before(cutoff7d) {
			m.ClosedTradesLast7d++
		}

		if notional := order.AvgPrice * order.ExecutedQty; notional > 0 {
			returns = append(returns, pnl/notional)
		}
	}

	if m.Wins+m.Losses > 0 {
		wr := float64(m.Wins) / float64(m.Wins+m.Losses)
		m.WinRate = &wr
	}

	m.Sharpe = sharpeRatio(returns)

	var leverageSum float64
	var leverageCount int
	for _, p := range positions {
		if p.Symbol == "" {
			continue
		}
		m.PositionsVisible = true
		leverageSum += p.Leverage
		leverageCount++
	}
	if leverageCount > 0 {
		avg := leverageSum / float64(leverageCount)
		m.AvgLeverage = &avg
	}

	if len(roiSeries) >= 2 {
		m.ROI30d = roiSeries[len(roiSeries)-1] - roiSeries[0]
	}

	m.QualityScore = qualityScore(m)

	switch {
	case m.ClosedTradesLast7d >= 20:
		m.Confidence = database.ConfidenceHigh
	case m.ClosedTradesLast7d >= 10:
		m.Confidence = database.ConfidenceMedium
	default:
		m.Confidence = database.ConfidenceLow
	}

	return m
}

// closingTrades filters orders to the closing-trade definition (spec.md §4.4):
// (side=sell ∧ positionSide=long) ∨ (side=buy ∧ positionSide=short).
func closingTrades(orders []database.UpstreamOrder) []database.UpstreamOrder {
	out := make([]database.UpstreamOrder, 0, len(orders))
	for _, o := range orders {
		if (o.Side == "sell" && o.PositionSide == database.PositionSideLong) ||
			(o.Side == "buy" && o.PositionSide == database.PositionSideShort) {
			out = append(out, o)
		}
	}
	return out
}

func sharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		return 0
	}
	return mean / stdDev
}

// qualityScore implements the accumulation formula of spec.md §4.4: start at
// 50, add bounded contributions from win rate, sharpe, 30-day ROI, leverage
// discipline, and loss-streak penalty, then clamp to [0,100].
func qualityScore(m Metrics) float64 {
	score := 50.0

	if m.WinRate != nil {
		score += math.Round(*m.WinRate * 20)
	}

	cappedSharpe := m.Sharpe
	if cappedSharpe > 3 {
		cappedSharpe = 3
	}
	score += math.Round(cappedSharpe * 5)

	roiContribution := m.ROI30d / 2
	score += clamp(roiContribution, -15, 15)

	if m.PositionsVisible && m.AvgLeverage != nil {
		switch {
		case *m.AvgLeverage > 50:
			score -= 10
		case *m.AvgLeverage > 30:
			score -= 5
		case *m.AvgLeverage < 20:
			score += 5
		}
	}

	lossPenaltyStreak := m.MaxConsecutiveLosses
	if lossPenaltyStreak > 3 {
		lossPenaltyStreak = 3
	}
	score -= 5 * float64(lossPenaltyStreak)

	return clamp(score, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
