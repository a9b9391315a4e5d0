package consensus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"copytrade-signals/internal/database"
)

func TestCompute_BalancedLongTilt(t *testing.T) {
	contributions := []Contribution{
		{TraderID: "a", Direction: database.DirectionLong, Weight: 0.6},
		{TraderID: "b", Direction: database.DirectionLong, Weight: 0.3},
		{TraderID: "c", Direction: database.DirectionShort, Weight: 0.2},
	}

	sc := Compute("BTCUSDT", contributions)

	require.InDelta(t, 0.9, sc.LongWeight, 1e-9)
	require.InDelta(t, 0.2, sc.ShortWeight, 1e-9)
	require.InDelta(t, 0.7/1.1, sc.SentimentScore, 1e-9)
	require.Equal(t, database.DirectionLong, sc.ConsensusDirection)
	require.Equal(t, 3, sc.TotalTraders)
	require.InDelta(t, 1.0, sc.TraderCoverage, 1e-9)
	require.InDelta(t, 1.0, sc.WeightCoverage, 1e-9)
}

func TestCompute_EmptyIsNeutral(t *testing.T) {
	sc := Compute("ETHUSDT", nil)

	require.Zero(t, sc.SentimentScore)
	require.Equal(t, database.DirectionNeutral, sc.ConsensusDirection)
	require.Zero(t, sc.ConfidenceScore)
}

func TestCompute_WeakTiltStaysNeutral(t *testing.T) {
	contributions := []Contribution{
		{TraderID: "a", Direction: database.DirectionLong, Weight: 0.51},
		{TraderID: "b", Direction: database.DirectionShort, Weight: 0.49},
	}

	sc := Compute("BTCUSDT", contributions)

	require.Equal(t, database.DirectionNeutral, sc.ConsensusDirection)
}
