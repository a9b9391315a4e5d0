package simulation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"copytrade-signals/internal/apierr"
	"copytrade-signals/internal/database"
)

func testPortfolio() *database.Portfolio {
	return &database.Portfolio{
		ID:               "p1",
		CurrentBalance:   10000,
		KellyFraction:    0.5,
		MinSampleSize:    30,
		MaxRiskPerTrade:  0.02,
		MaxPortfolioRisk: 0.5,
	}
}

func TestCalculateSize_Fixed(t *testing.T) {
	result, err := CalculateSize(SizeRequest{Portfolio: testPortfolio(), RiskModel: RiskModelFixed})
	require.NoError(t, err)
	require.Equal(t, 200.0, result.MarginNotional)
}

func TestCalculateSize_RiskBased(t *testing.T) {
	result, err := CalculateSize(SizeRequest{Portfolio: testPortfolio(), RiskModel: RiskModelRiskBased, StopLossPct: 0.1})
	require.NoError(t, err)
	require.Equal(t, 200.0, result.RiskAmount)
	// uncapped margin = 200/0.1 = 2000, clamped to maxRiskPerTrade*balance = 200
	require.Equal(t, 200.0, result.MarginNotional)
}

func TestCalculateSize_RiskBased_RequiresStopLoss(t *testing.T) {
	_, err := CalculateSize(SizeRequest{Portfolio: testPortfolio(), RiskModel: RiskModelRiskBased})
	require.Error(t, err)
}

func TestCalculateSize_Kelly_InsufficientSampleSize(t *testing.T) {
	winRate := 0.6
	_, err := CalculateSize(SizeRequest{
		Portfolio:   testPortfolio(),
		RiskModel:   RiskModelKelly,
		WinRate:     &winRate,
		SampleSize:  5,
		PayoffRatio: 1.5,
	})
	require.ErrorIs(t, err, apierr.ErrInsufficientData)
}

func TestCalculateSize_Kelly_MissingWinRate(t *testing.T) {
	_, err := CalculateSize(SizeRequest{
		Portfolio:   testPortfolio(),
		RiskModel:   RiskModelKelly,
		SampleSize:  50,
		PayoffRatio: 1.5,
	})
	require.ErrorIs(t, err, apierr.ErrInsufficientData)
}

func TestCalculateSize_Kelly_ClampedByMaxRiskPerTrade(t *testing.T) {
	winRate := 0.7
	result, err := CalculateSize(SizeRequest{
		Portfolio:   testPortfolio(),
		RiskModel:   RiskModelKelly,
		WinRate:     &winRate,
		SampleSize:  50,
		PayoffRatio: 2.0,
	})
	require.NoError(t, err)
	// full Kelly = 0.7 - 0.3/2 = 0.55, scaled by 0.5 = 0.275, on 10000 = 2750
	// clamped down to maxRiskPerTrade*balance = 200
	require.Equal(t, 200.0, result.MarginNotional)
}

func TestCalculateSize_Kelly_NegativeEdgeClampedToZero(t *testing.T) {
	winRate := 0.2
	result, err := CalculateSize(SizeRequest{
		Portfolio:   testPortfolio(),
		RiskModel:   RiskModelKelly,
		WinRate:     &winRate,
		SampleSize:  50,
		PayoffRatio: 1.0,
	})
	require.NoError(t, err)
	require.Zero(t, result.MarginNotional)
}

func TestCalculateSize_UnknownModel(t *testing.T) {
	_, err := CalculateSize(SizeRequest{Portfolio: testPortfolio(), RiskModel: "NOT_A_MODEL"})
	require.Error(t, err)
}

func TestCalculateSize_NilPortfolio(t *testing.T) {
	_, err := CalculateSize(SizeRequest{RiskModel: RiskModelFixed})
	require.Error(t, err)
}
