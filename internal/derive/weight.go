package derive

import (
	"math"

	"github.com/shopspring/decimal"

	"copytrade-signals/internal/database"
)

var confidenceFactor = map[database.Confidence]float64{
	database.ConfidenceHigh:   1.0,
	database.ConfidenceMedium: 0.7,
	database.ConfidenceLow:    0.4,
}

// ComputeWeight turns a Metrics record plus the trader's visibility flag into
// the persisted TraderScore row (spec.md §4.5-4.6).
func ComputeWeight(m Metrics, positionShow *bool) database.TraderScore {
	baseWeight := m.QualityScore / 100 * confidenceFactor[m.Confidence]

	winAdj := 0.0
	if m.WinRate != nil {
		winAdj = clamp(*m.WinRate, 0, 1)
	}

	availabilityPenalty := 0.6
	if positionShow != nil && *positionShow {
		availabilityPenalty = 1.0
	}

	rawWeight := baseWeight * (0.7 + 0.3*winAdj) * availabilityPenalty
	traderWeight, _ := decimal.NewFromFloat(rawWeight).Round(4).Float64()

	score30d := 0.0
	if m.WinRate != nil {
		score30d = math.Round(*m.WinRate * 100)
	}

	return database.TraderScore{
		TraderID:     m.TraderID,
		Score30D:     score30d,
		QualityScore: m.QualityScore,
		Confidence:   m.Confidence,
		WinRate:      m.WinRate,
		SampleSize:   m.ClosingTrades,
		TraderWeight: traderWeight,
		AvgLeverage:  m.AvgLeverage,
	}
}
