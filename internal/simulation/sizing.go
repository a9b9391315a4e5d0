package simulation

import (
	"copytrade-signals/internal/apierr"
	"copytrade-signals/internal/database"
)

// RiskModel selects the position-sizing strategy for calculate-size and the
// risk-managed open variant (spec.md §6).
type RiskModel string

const (
	RiskModelFixed     RiskModel = "FIXED"
	RiskModelRiskBased RiskModel = "RISK_BASED"
	RiskModelKelly     RiskModel = "KELLY"
)

// SizeRequest carries the inputs to CalculateSize beyond the portfolio's own
// risk limits. Fields are only required by the risk model that consumes
// them; an absent required field is rejected rather than defaulted
// (spec.md §7: "never infer defaults silently").
type SizeRequest struct {
	Portfolio   *database.Portfolio
	RiskModel   RiskModel
	StopLossPct float64  // RISK_BASED: fractional distance from entry to stop, e.g. 0.02
	WinRate     *float64 // KELLY
	SampleSize  int      // KELLY
	PayoffRatio float64  // KELLY: average win size / average loss size
}

// SizeResult is the computed margin notional plus the reasoning behind it.
type SizeResult struct {
	RiskModel      RiskModel `json:"riskModel"`
	MarginNotional float64   `json:"marginNotional"`
	RiskAmount     float64   `json:"riskAmount"`
	KellyFraction  float64   `json:"kellyFraction,omitempty"`
}

// CalculateSize dispatches to the requested risk model, clamping every
// result to the portfolio's maxRiskPerTrade budget so no model can exceed
// the per-trade risk ceiling (spec.md §4.12's portfolio-risk precheck
// covers the portfolio-wide aggregate; this clamp is the per-call bound).
func CalculateSize(req SizeRequest) (*SizeResult, error) {
	if req.Portfolio == nil {
		return nil, apierr.Validation("portfolio is required")
	}
	if req.Portfolio.CurrentBalance <= 0 {
		return nil, apierr.Validation("portfolio has no balance to size against")
	}

	var result *SizeResult
	var err error
	switch req.RiskModel {
	case RiskModelFixed, "":
		result = fixedSize(req.Portfolio)
	case RiskModelRiskBased:
		result, err = riskBasedSize(req)
	case RiskModelKelly:
		result, err = kellySize(req)
	default:
		return nil, apierr.Validation("unknown riskModel: " + string(req.RiskModel))
	}
	if err != nil {
		return nil, err
	}

	maxMargin := req.Portfolio.MaxRiskPerTrade * req.Portfolio.CurrentBalance
	if maxMargin > 0 && result.MarginNotional > maxMargin {
		result.MarginNotional = maxMargin
	}
	result.MarginNotional = round4(result.MarginNotional)
	return result, nil
}

// fixedSize risks a fixed fraction of the current balance on every trade.
func fixedSize(p *database.Portfolio) *SizeResult {
	amount := p.MaxRiskPerTrade * p.CurrentBalance
	return &SizeResult{RiskModel: RiskModelFixed, MarginNotional: amount, RiskAmount: amount}
}

// riskBasedSize computes marginNotional = riskAmount / stopLossPct, where
// riskAmount = maxRiskPerTrade×currentBalance. CalculateSize then caps the
// margin at riskAmount, so for any stopLossPct below 1 the returned margin
// equals the FIXED size.
func riskBasedSize(req SizeRequest) (*SizeResult, error) {
	if req.StopLossPct <= 0 {
		return nil, apierr.Validation("stopLossPct is required for RISK_BASED sizing")
	}
	riskAmount := req.Portfolio.MaxRiskPerTrade * req.Portfolio.CurrentBalance
	marginNotional := riskAmount / req.StopLossPct
	return &SizeResult{RiskModel: RiskModelRiskBased, MarginNotional: marginNotional, RiskAmount: riskAmount}, nil
}

// kellySize implements the Kelly criterion: f* = winRate - (1-winRate)/payoffRatio,
// clamped to [0,1] and scaled by the portfolio's kellyFraction (a fraction of
// full Kelly, e.g. 0.5 for "half Kelly"). Rejects with
// apierr.ErrInsufficientData when sampleSize is below the portfolio's
// minSampleSize or winRate is unavailable, per spec.md §7.
func kellySize(req SizeRequest) (*SizeResult, error) {
	if req.WinRate == nil {
		return nil, apierr.ErrInsufficientData
	}
	if req.SampleSize < req.Portfolio.MinSampleSize {
		return nil, apierr.ErrInsufficientData
	}
	if req.PayoffRatio <= 0 {
		return nil, apierr.Validation("payoffRatio is required for KELLY sizing")
	}

	winRate := *req.WinRate
	fullKelly := winRate - (1-winRate)/req.PayoffRatio
	if fullKelly < 0 {
		fullKelly = 0
	}
	if fullKelly > 1 {
		fullKelly = 1
	}

	scaled := fullKelly * req.Portfolio.KellyFraction
	marginNotional := scaled * req.Portfolio.CurrentBalance

	return &SizeResult{
		RiskModel:      RiskModelKelly,
		MarginNotional: marginNotional,
		RiskAmount:     marginNotional,
		KellyFraction:  scaled,
	}, nil
}
