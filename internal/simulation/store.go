package simulation

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"copytrade-signals/internal/apierr"
	"copytrade-signals/internal/database"
	"copytrade-signals/internal/events"
)

// Store opens, closes, and reconciles paper positions, enforcing the
// portfolio risk precheck on every open (spec.md §4.12).
type Store struct {
	repo   *database.Repository
	bus    *events.EventBus
	logger zerolog.Logger
}

// NewStore builds a simulated position store. bus may be nil, in which case
// position open/close events are not published (used by tests).
func NewStore(repo *database.Repository, bus *events.EventBus, logger zerolog.Logger) *Store {
	return &Store{repo: repo, bus: bus, logger: logger}
}

// OpenRequest carries every input to Open beyond what the portfolio record
// already fixes.
type OpenRequest struct {
	PortfolioID     string
	Symbol          string
	Direction       database.Direction
	Leverage        float64
	MarginNotional  float64
	EntryPrice      *float64 // caller-supplied override; resolved from the reference price when nil
	StopLossPrice   *float64
	TakeProfitPrice *float64
	TrailingStopPct *float64
	SlippageBps     *float64 // defaults to the portfolio's DefaultSlippageBps
	CommissionBps   *float64
	Source          database.PositionSource
}

// Open validates, resolves the entry price, runs the portfolio-risk
// precheck, and persists a new open position, debiting the portfolio
// balance by marginNotional.
func (s *Store) Open(ctx context.Context, req OpenRequest) (*database.SimulatedPosition, error) {
	if req.MarginNotional <= 0 {
		return nil, apierr.Validation("marginNotional must be > 0")
	}
	if req.Leverage < 1 {
		return nil, apierr.Validation("leverage must be >= 1")
	}

	portfolio, err := s.repo.GetPortfolio(ctx, req.PortfolioID)
	if err != nil {
		return nil, err
	}

	entryPrice, err := s.resolveEntryPrice(ctx, req)
	if err != nil {
		return nil, err
	}
	if entryPrice <= 0 {
		return nil, apierr.Validation("no resolvable entry price for symbol")
	}

	if err := s.checkPortfolioRisk(ctx, portfolio, req.MarginNotional); err != nil {
		return nil, err
	}

	slippageBps := portfolio.DefaultSlippageBps
	if req.SlippageBps != nil {
		slippageBps = *req.SlippageBps
	}
	commissionBps := portfolio.DefaultCommissionBps
	if req.CommissionBps != nil {
		commissionBps = *req.CommissionBps
	}

	positionNotional := round4(req.MarginNotional * req.Leverage)
	effectiveEntry := round4(slippagePrice(entryPrice, slippageBps, req.Direction, true))

	source := req.Source
	if source == "" {
		source = database.SourceManual
	}

	position := &database.SimulatedPosition{
		PortfolioID:         req.PortfolioID,
		Platform:            "paper",
		Symbol:              req.Symbol,
		Direction:           req.Direction,
		Leverage:            req.Leverage,
		MarginNotional:      req.MarginNotional,
		PositionNotional:    positionNotional,
		EntryPrice:          entryPrice,
		EffectiveEntryPrice: effectiveEntry,
		OpenedAt:            time.Now().UTC(),
		StopLossPrice:       req.StopLossPrice,
		TakeProfitPrice:     req.TakeProfitPrice,
		TrailingStopPct:     req.TrailingStopPct,
		SlippageBps:         slippageBps,
		CommissionBps:       commissionBps,
		Source:              source,
	}

	if err := s.repo.OpenSimulatedPosition(ctx, position); err != nil {
		return nil, err
	}

	if err := s.repo.UpdatePortfolioBalance(ctx, portfolio.ID, portfolio.CurrentBalance-req.MarginNotional); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("portfolioId", portfolio.ID).
		Str("symbol", req.Symbol).
		Str("direction", string(req.Direction)).
		Float64("marginNotional", req.MarginNotional).
		Msg("simulation: position opened")

	if s.bus != nil {
		s.bus.PublishSimulatedPositionOpened(position.ID, position.PortfolioID, position.Symbol, string(position.Direction), string(position.Source))
	}

	return position, nil
}

func (s *Store) resolveEntryPrice(ctx context.Context, req OpenRequest) (float64, error) {
	if req.EntryPrice != nil && *req.EntryPrice > 0 {
		return *req.EntryPrice, nil
	}
	price, ok, err := ReferencePrice(ctx, s.repo, req.Symbol)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, apierr.Validation("no reference price available for symbol")
	}
	return price, nil
}

// checkPortfolioRisk implements the precheck of spec.md §4.12: aggregate
// open marginNotional plus the new position must not exceed
// maxPortfolioRisk×currentBalance, and the open count must stay under
// maxOpenPositions.
func (s *Store) checkPortfolioRisk(ctx context.Context, portfolio *database.Portfolio, newMarginNotional float64) error {
	open, err := s.repo.OpenSimulatedPositionsForPortfolio(ctx, portfolio.ID)
	if err != nil {
		return err
	}
	if len(open) >= portfolio.MaxOpenPositions {
		return apierr.ErrPortfolioRisk
	}

	var aggregate float64
	for _, p := range open {
		aggregate += p.MarginNotional
	}
	aggregate += newMarginNotional

	if aggregate > portfolio.MaxPortfolioRisk*portfolio.CurrentBalance {
		return apierr.ErrPortfolioRisk
	}
	return nil
}

// Close computes PnL/ROI, applies slippage on exit, and credits the
// portfolio balance with margin plus net PnL (spec.md §4.12).
func (s *Store) Close(ctx context.Context, positionID int64, exitPrice float64, reason database.CloseReason, triggerTraderID *string, triggerEventKind *database.EventKind) (*database.SimulatedPosition, error) {
	position, err := s.repo.GetSimulatedPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if position.Status != database.SimPositionOpen {
		return position, nil
	}

	effectiveExit := round4(slippagePrice(exitPrice, position.SlippageBps, position.Direction, false))

	var move float64
	if position.Direction == database.DirectionLong {
		move = (effectiveExit - position.EntryPrice) / position.EntryPrice
	} else {
		move = (position.EntryPrice - effectiveExit) / position.EntryPrice
	}

	grossPnL := position.PositionNotional * move
	entryCommission := position.PositionNotional * position.CommissionBps / 10000
	exitCommission := position.PositionNotional * position.CommissionBps / 10000
	netPnL := round4(grossPnL - entryCommission - exitCommission)
	roiPct := round4(netPnL / position.MarginNotional * 100)

	closedAt := time.Now().UTC()
	if err := s.repo.CloseSimulatedPosition(ctx, position.ID, effectiveExit, closedAt, reason, triggerTraderID, triggerEventKind, netPnL, roiPct); err != nil {
		return nil, err
	}

	portfolio, err := s.repo.GetPortfolio(ctx, position.PortfolioID)
	if err != nil {
		return nil, err
	}
	newBalance := portfolio.CurrentBalance + position.MarginNotional + netPnL
	if err := s.repo.UpdatePortfolioBalance(ctx, portfolio.ID, newBalance); err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("positionId", position.ID).
		Str("reason", string(reason)).
		Float64("pnlUsdt", netPnL).
		Float64("roiPct", roiPct).
		Msg("simulation: position closed")

	position.Status = database.SimPositionClosed
	position.ExitPrice = &effectiveExit
	position.PnLUSDT = &netPnL
	position.ROIPct = &roiPct

	if s.bus != nil {
		s.bus.PublishSimulatedPositionClosed(position.ID, position.PortfolioID, position.Symbol, netPnL, roiPct, string(reason))
	}

	return position, nil
}

// slippagePrice implements spec.md §4.12: worse price in the direction of
// the trade on entry, opposite on exit.
func slippagePrice(basePrice, slippageBps float64, direction database.Direction, isEntry bool) float64 {
	factor := slippageBps / 10000
	worseForLongEntry := direction == database.DirectionLong && isEntry
	worseForShortExit := direction == database.DirectionShort && !isEntry
	if worseForLongEntry || worseForShortExit {
		return basePrice * (1 + factor)
	}
	return basePrice * (1 - factor)
}

func round4(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(4).Float64()
	return f
}
