package signals

import (
	"context"
	"math"
	"time"

	"copytrade-signals/internal/consensus"
	"copytrade-signals/internal/database"
	"copytrade-signals/internal/derive"
)

// Momentum classifies how quickly a symbol's consensus is building or
// unwinding (spec.md §4.10).
type Momentum string

const (
	MomentumForming   Momentum = "forming"
	MomentumWeakening Momentum = "weakening"
	MomentumStable    Momentum = "stable"
)

// PositionView is one trader's open position in a symbol, enriched with the
// per-position fields the heatmap and symbol-detail endpoints expose.
type PositionView struct {
	TraderID            string
	Symbol              string
	Direction           database.Direction
	Segment             database.Segment
	EntryPrice          float64
	MarkPrice           float64
	Notional            float64
	Amount              float64
	Leverage            float64
	UnrealizedPnL       float64
	Weight              float64
	OpenTime            *time.Time
	ROE                 float64
	PnLPercent          float64
	HoldDurationSeconds *float64
}

// SymbolHeatmapEntry is one row of the heatmap: consensus plus symbol-level
// derived fields.
type SymbolHeatmapEntry struct {
	consensus.SymbolConsensus
	EntryPriceCV       float64
	Momentum           Momentum
	PositionSizingFrac float64
	Positions          []PositionView
}

// Service serves the heatmap and symbol-detail queries.
type Service struct {
	repo             *database.Repository
	consensusService *consensus.Service
}

// NewService builds a signals service.
func NewService(repo *database.Repository, consensusService *consensus.Service) *Service {
	return &Service{repo: repo, consensusService: consensusService}
}

// Heatmap returns one entry per symbol with at least minTraders contributors
// after applying the filter (spec.md §4.10).
func (s *Service) Heatmap(ctx context.Context, filter HeatmapFilter, now time.Time) ([]SymbolHeatmapEntry, error) {
	views, err := s.gatherPositions(ctx, filter, now)
	if err != nil {
		return nil, err
	}

	bySymbol := make(map[string][]PositionView)
	for _, v := range views {
		bySymbol[v.Symbol] = append(bySymbol[v.Symbol], v)
	}

	entries := make([]SymbolHeatmapEntry, 0, len(bySymbol))
	for symbol, positions := range bySymbol {
		entry, err := s.buildEntry(ctx, symbol, positions, filter, now)
		if err != nil {
			return nil, err
		}
		if entry.TotalTraders < filter.MinTraders {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// SymbolDetail returns the heatmap entry for a single symbol, including the
// per-trader position detail.
func (s *Service) SymbolDetail(ctx context.Context, symbol string, filter HeatmapFilter, now time.Time) (SymbolHeatmapEntry, error) {
	views, err := s.gatherPositions(ctx, filter, now)
	if err != nil {
		return SymbolHeatmapEntry{}, err
	}
	var positions []PositionView
	for _, v := range views {
		if v.Symbol == symbol {
			positions = append(positions, v)
		}
	}
	return s.buildEntry(ctx, symbol, positions, filter, now)
}

func (s *Service) buildEntry(ctx context.Context, symbol string, positions []PositionView, filter HeatmapFilter, now time.Time) (SymbolHeatmapEntry, error) {
	contributions := make([]consensus.Contribution, 0, len(positions))
	for _, p := range positions {
		contributions = append(contributions, consensus.Contribution{
			TraderID:  p.TraderID,
			Direction: p.Direction,
			Weight:    p.Weight,
		})
	}
	sc := consensus.Compute(symbol, contributions)

	momentum, err := s.momentum(ctx, symbol, now)
	if err != nil {
		return SymbolHeatmapEntry{}, err
	}

	return SymbolHeatmapEntry{
		SymbolConsensus:    sc,
		EntryPriceCV:       entryPriceCV(positions),
		Momentum:           momentum,
		PositionSizingFrac: positionSizingFraction(sc.ConfidenceScore),
		Positions:          positions,
	}, nil
}

// gatherPositions builds the filtered per-trader position view set: visible
// traders contribute from their latest live snapshot, hidden traders from
// their reconstructed active PositionState rows (spec.md §4.10).
func (s *Service) gatherPositions(ctx context.Context, filter HeatmapFilter, now time.Time) ([]PositionView, error) {
	traders, err := s.repo.ListTraders(ctx, "")
	if err != nil {
		return nil, err
	}
	scores, err := s.repo.AllTraderScores(ctx)
	if err != nil {
		return nil, err
	}
	weightByTrader := make(map[string]float64, len(scores))
	for _, sc := range scores {
		weightByTrader[sc.TraderID] = sc.TraderWeight
	}

	cutoff := filter.TimeRange.Cutoff(now)
	var recentWindow time.Duration
	recentActive := false
	if filter.RecentlyOpened != "" {
		recentWindow, recentActive = ParseRecentlyOpened(filter.RecentlyOpened)
	}

	var out []PositionView
	for _, trader := range traders {
		if !SegmentMatches(trader.Segment, filter.SegmentFilter) {
			continue
		}

		if trader.Segment == database.SegmentHidden {
			states, err := s.repo.ActivePositionStatesForTrader(ctx, trader.ID)
			if err != nil {
				return nil, err
			}
			for _, ps := range states {
				view := positionViewFromState(trader, ps, weightByTrader[trader.ID], now)
				if !passesViewFilters(view, filter, cutoff, recentActive, recentWindow, now) {
					continue
				}
				out = append(out, view)
			}
			continue
		}

		ingest, err := s.repo.LatestRawIngest(ctx, trader.ID)
		if err != nil {
			if err == database.ErrNotFound {
				continue
			}
			return nil, err
		}
		rawPositions, _ := ingest.Payload["activePositions"].([]interface{})
		for _, p := range derive.DecodePositions(rawPositions) {
			direction := derive.LiveDirection(p)
			if direction == database.DirectionNeutral {
				continue
			}
			state, err := s.repo.ActivePositionState(ctx, trader.ID, p.Symbol, direction)
			if err != nil && err != database.ErrNotFound {
				return nil, err
			}
			view := positionViewFromLive(trader, p, direction, weightByTrader[trader.ID], state, now)
			if !passesViewFilters(view, filter, cutoff, recentActive, recentWindow, now) {
				continue
			}
			out = append(out, view)
		}
	}
	return out, nil
}

func positionViewFromLive(trader *database.Trader, p database.LivePosition, direction database.Direction, weight float64, state *database.PositionState, now time.Time) PositionView {
	view := PositionView{
		TraderID:      trader.ID,
		Symbol:        p.Symbol,
		Direction:     direction,
		Segment:       trader.Segment,
		EntryPrice:    p.EntryPrice,
		MarkPrice:     p.MarkPrice,
		Notional:      p.Notional,
		Amount:        p.Amount,
		Leverage:      p.Leverage,
		UnrealizedPnL: p.UnrealizedPnL,
		Weight:        weight,
	}
	if state != nil {
		t := state.EstimatedOpenTime
		view.OpenTime = &t
	}
	view.ROE = roe(p.UnrealizedPnL, p.Notional, p.Leverage)
	view.PnLPercent = pnlPercent(p.UnrealizedPnL, p.Amount, p.EntryPrice)
	view.HoldDurationSeconds = holdDurationSeconds(view.OpenTime, now)
	return view
}

func positionViewFromState(trader *database.Trader, ps *database.PositionState, weight float64, now time.Time) PositionView {
	leverage := 0.0
	if ps.Leverage != nil {
		leverage = *ps.Leverage
	}
	view := PositionView{
		TraderID:   trader.ID,
		Symbol:     ps.Symbol,
		Direction:  ps.Direction,
		Segment:    trader.Segment,
		EntryPrice: ps.EntryPrice,
		Amount:     ps.Amount,
		Leverage:   leverage,
		Weight:     weight,
		OpenTime:   &ps.EstimatedOpenTime,
	}
	view.HoldDurationSeconds = holdDurationSeconds(view.OpenTime, now)
	return view
}

func passesViewFilters(view PositionView, filter HeatmapFilter, cutoff time.Time, recentActive bool, recentWindow time.Duration, now time.Time) bool {
	if filter.Side != "" && view.Direction != filter.Side {
		return false
	}
	if !MatchesLeverageBucket(view.Leverage, filter.LeverageBucket) {
		return false
	}
	if !cutoff.IsZero() && view.OpenTime != nil && view.OpenTime.Before(cutoff) {
		return false
	}
	if recentActive {
		if view.OpenTime == nil {
			return false
		}
		if now.Sub(*view.OpenTime) > recentWindow {
			return false
		}
	}
	return true
}

func roe(unrealizedPnL, notional, leverage float64) float64 {
	if leverage == 0 {
		return 0
	}
	margin := notional / leverage
	if margin == 0 {
		return 0
	}
	return unrealizedPnL / margin * 100
}

func pnlPercent(unrealizedPnL, amount, entryPrice float64) float64 {
	denom := amount * entryPrice
	if denom == 0 {
		return 0
	}
	return unrealizedPnL / denom * 100
}

func holdDurationSeconds(openTime *time.Time, now time.Time) *float64 {
	if openTime == nil || openTime.IsZero() {
		return nil
	}
	seconds := now.Sub(*openTime).Seconds()
	return &seconds
}

func entryPriceCV(positions []PositionView) float64 {
	if len(positions) < 2 {
		return 0
	}
	var sum float64
	for _, p := range positions {
		sum += p.EntryPrice
	}
	mean := sum / float64(len(positions))
	if mean == 0 {
		return 0
	}
	var variance float64
	for _, p := range positions {
		d := p.EntryPrice - mean
		variance += d * d
	}
	variance /= float64(len(positions))
	return math.Sqrt(variance) / mean
}

// momentum compares opens in the last hour against opens in the prior 1-4h
// window (spec.md §4.10).
func (s *Service) momentum(ctx context.Context, symbol string, now time.Time) (Momentum, error) {
	events, err := s.repo.EventsForSymbolSince(ctx, symbol, now.Add(-4*time.Hour))
	if err != nil {
		return MomentumStable, err
	}

	var lastHour, priorWindow int
	oneHourAgo := now.Add(-time.Hour)
	for _, e := range events {
		if !isOpenEvent(e.Kind) {
			continue
		}
		t := e.FetchedAt
		if e.EventTime != nil {
			t = *e.EventTime
		}
		if t.After(oneHourAgo) {
			lastHour++
		} else {
			priorWindow++
		}
	}

	switch {
	case float64(lastHour) >= 1.5*float64(priorWindow) && lastHour > 0:
		return MomentumForming, nil
	case priorWindow > 0 && float64(lastHour) <= 0.5*float64(priorWindow):
		return MomentumWeakening, nil
	default:
		return MomentumStable, nil
	}
}

func isOpenEvent(kind database.EventKind) bool {
	return kind == database.EventOpenLong || kind == database.EventOpenShort
}

// positionSizingFraction implements the recommended sizing table of
// spec.md §4.10.
func positionSizingFraction(confidenceScore float64) float64 {
	switch {
	case confidenceScore >= 85:
		return 0.03
	case confidenceScore >= 75:
		return 0.02
	case confidenceScore >= 65:
		return 0.01
	case confidenceScore >= 55:
		return 0.005
	default:
		return 0
	}
}
