package database

import (
	"context"
	"time"
)

// ============================================================================
// PORTFOLIOS (C13)
// ============================================================================

// CreatePortfolio inserts a new simulated-trading portfolio.
func (r *Repository) CreatePortfolio(ctx context.Context, p *Portfolio) error {
	query := `
		INSERT INTO portfolios (id, name, initial_balance, current_balance, kelly_fraction, min_sample_size,
			max_risk_per_trade, max_portfolio_risk, max_open_positions, default_slippage_bps, default_commission_bps,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	return r.db.Pool.QueryRow(ctx, query,
		p.ID, p.Name, p.InitialBalance, p.CurrentBalance, p.KellyFraction, p.MinSampleSize,
		p.MaxRiskPerTrade, p.MaxPortfolioRisk, p.MaxOpenPositions, p.DefaultSlippageBps, p.DefaultCommissionBps,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

// GetPortfolio returns a portfolio by id.
func (r *Repository) GetPortfolio(ctx context.Context, id string) (*Portfolio, error) {
	query := `
		SELECT id, name, initial_balance, current_balance, kelly_fraction, min_sample_size,
		       max_risk_per_trade, max_portfolio_risk, max_open_positions, default_slippage_bps, default_commission_bps,
		       created_at, updated_at
		FROM portfolios WHERE id = $1
	`
	p := &Portfolio{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.InitialBalance, &p.CurrentBalance, &p.KellyFraction, &p.MinSampleSize,
		&p.MaxRiskPerTrade, &p.MaxPortfolioRisk, &p.MaxOpenPositions, &p.DefaultSlippageBps, &p.DefaultCommissionBps,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, translateNotFound(err)
	}
	return p, nil
}

// ListPortfolios returns every portfolio.
func (r *Repository) ListPortfolios(ctx context.Context) ([]*Portfolio, error) {
	query := `
		SELECT id, name, initial_balance, current_balance, kelly_fraction, min_sample_size,
		       max_risk_per_trade, max_portfolio_risk, max_open_positions, default_slippage_bps, default_commission_bps,
		       created_at, updated_at
		FROM portfolios ORDER BY created_at ASC
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Portfolio
	for rows.Next() {
		p := &Portfolio{}
		if err := rows.Scan(&p.ID, &p.Name, &p.InitialBalance, &p.CurrentBalance, &p.KellyFraction, &p.MinSampleSize,
			&p.MaxRiskPerTrade, &p.MaxPortfolioRisk, &p.MaxOpenPositions, &p.DefaultSlippageBps, &p.DefaultCommissionBps,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePortfolioBalance sets the current balance, used when a position
// opens (margin debit) and after it closes and realizes PnL.
func (r *Repository) UpdatePortfolioBalance(ctx context.Context, id string, newBalance float64) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE portfolios SET current_balance = $2, updated_at = NOW() WHERE id = $1`, id, newBalance)
	return err
}

// ============================================================================
// SIMULATED POSITIONS (C13)
// ============================================================================

const simulatedPositionColumns = `
	id, portfolio_id, platform, symbol, direction, status, leverage, margin_notional, position_notional,
	entry_price, effective_entry_price, exit_price, opened_at, closed_at, close_reason,
	close_trigger_trader_id, close_trigger_event_kind, pnl_usdt, roi_pct,
	stop_loss_price, take_profit_price, trailing_stop_pct, slippage_bps, commission_bps, source,
	created_at, updated_at
`

// OpenSimulatedPosition inserts a new open paper position.
func (r *Repository) OpenSimulatedPosition(ctx context.Context, p *SimulatedPosition) error {
	query := `
		INSERT INTO simulated_positions (portfolio_id, platform, symbol, direction, status, leverage, margin_notional,
			position_notional, entry_price, effective_entry_price, opened_at, stop_loss_price, take_profit_price,
			trailing_stop_pct, slippage_bps, commission_bps, source, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'open', $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	return r.db.Pool.QueryRow(ctx, query,
		p.PortfolioID, p.Platform, p.Symbol, p.Direction, p.Leverage, p.MarginNotional,
		p.PositionNotional, p.EntryPrice, p.EffectiveEntryPrice, p.OpenedAt, p.StopLossPrice, p.TakeProfitPrice,
		p.TrailingStopPct, p.SlippageBps, p.CommissionBps, p.Source,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// CloseSimulatedPosition transitions an open position to closed, recording
// the exit price, realized PnL/ROI and the close reason. A no-op if the
// position is already closed (idempotent close).
func (r *Repository) CloseSimulatedPosition(ctx context.Context, id int64, exitPrice float64, closedAt time.Time, reason CloseReason, triggerTraderID *string, triggerEventKind *EventKind, pnlUSDT, roiPct float64) error {
	query := `
		UPDATE simulated_positions SET
			status = 'closed', exit_price = $2, closed_at = $3, close_reason = $4,
			close_trigger_trader_id = $5, close_trigger_event_kind = $6, pnl_usdt = $7, roi_pct = $8,
			updated_at = NOW()
		WHERE id = $1 AND status = 'open'
	`
	_, err := r.db.Pool.Exec(ctx, query, id, exitPrice, closedAt, reason, triggerTraderID, triggerEventKind, pnlUSDT, roiPct)
	return err
}

// UpdateSimulatedPositionRisk adjusts an open position's stop-loss,
// take-profit, and trailing-stop fields (spec.md §6 "PATCH
// /simulation/positions/:id/risk"). Nil pointers leave a field unchanged.
func (r *Repository) UpdateSimulatedPositionRisk(ctx context.Context, id int64, stopLossPrice, takeProfitPrice, trailingStopPct *float64) error {
	query := `
		UPDATE simulated_positions SET
			stop_loss_price = COALESCE($2, stop_loss_price),
			take_profit_price = COALESCE($3, take_profit_price),
			trailing_stop_pct = COALESCE($4, trailing_stop_pct),
			updated_at = NOW()
		WHERE id = $1 AND status = 'open'
	`
	tag, err := r.db.Pool.Exec(ctx, query, id, stopLossPrice, takeProfitPrice, trailingStopPct)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSimulatedPosition returns a paper position by id.
func (r *Repository) GetSimulatedPosition(ctx context.Context, id int64) (*SimulatedPosition, error) {
	query := "SELECT " + simulatedPositionColumns + " FROM simulated_positions WHERE id = $1"
	return r.scanSimulatedPosition(r.db.Pool.QueryRow(ctx, query, id))
}

// OpenSimulatedPositionsForPortfolio returns every open position in a
// portfolio, used for portfolio risk prechecks (§4.13) and auto-reverse
// candidate selection (C14).
func (r *Repository) OpenSimulatedPositionsForPortfolio(ctx context.Context, portfolioID string) ([]*SimulatedPosition, error) {
	query := "SELECT " + simulatedPositionColumns + " FROM simulated_positions WHERE portfolio_id = $1 AND status = 'open'"
	return r.querySimulatedPositions(ctx, query, portfolioID)
}

// OpenSimulatedPositionForSymbol returns the open position (if any) for a
// portfolio/symbol/direction, used when checking whether a new signal
// opposes an existing paper position (auto-reverse, C14).
func (r *Repository) OpenSimulatedPositionForSymbol(ctx context.Context, portfolioID, symbol string, direction Direction) (*SimulatedPosition, error) {
	query := "SELECT " + simulatedPositionColumns + " FROM simulated_positions WHERE portfolio_id = $1 AND symbol = $2 AND direction = $3 AND status = 'open'"
	return r.scanSimulatedPosition(r.db.Pool.QueryRow(ctx, query, portfolioID, symbol, direction))
}

// LatestPositionForSymbol returns the most recently opened position (open or
// closed) for a portfolio/symbol/source, used by the auto-trigger engine's
// per-symbol cooldown check (C14).
func (r *Repository) LatestPositionForSymbol(ctx context.Context, portfolioID, symbol string, source PositionSource) (*SimulatedPosition, error) {
	query := "SELECT " + simulatedPositionColumns + ` FROM simulated_positions
		WHERE portfolio_id = $1 AND symbol = $2 AND source = $3
		ORDER BY opened_at DESC LIMIT 1`
	return r.scanSimulatedPosition(r.db.Pool.QueryRow(ctx, query, portfolioID, symbol, source))
}

// ListSimulatedPositions returns a portfolio's positions, most recent first,
// optionally filtered to a status.
func (r *Repository) ListSimulatedPositions(ctx context.Context, portfolioID string, status SimulatedPositionStatus, limit int) ([]*SimulatedPosition, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := "SELECT " + simulatedPositionColumns + ` FROM simulated_positions
		WHERE portfolio_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY opened_at DESC LIMIT $3`
	return r.querySimulatedPositions(ctx, query, portfolioID, status, limit)
}

func (r *Repository) querySimulatedPositions(ctx context.Context, query string, args ...any) ([]*SimulatedPosition, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SimulatedPosition
	for rows.Next() {
		p, err := scanSimulatedPositionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) scanSimulatedPosition(row rowScanner) (*SimulatedPosition, error) {
	p, err := scanSimulatedPositionRow(row)
	if err != nil {
		return nil, translateNotFound(err)
	}
	return p, nil
}

func scanSimulatedPositionRow(row rowScanner) (*SimulatedPosition, error) {
	p := &SimulatedPosition{}
	err := row.Scan(
		&p.ID, &p.PortfolioID, &p.Platform, &p.Symbol, &p.Direction, &p.Status, &p.Leverage, &p.MarginNotional, &p.PositionNotional,
		&p.EntryPrice, &p.EffectiveEntryPrice, &p.ExitPrice, &p.OpenedAt, &p.ClosedAt, &p.CloseReason,
		&p.CloseTriggerTraderID, &p.CloseTriggerEventKind, &p.PnLUSDT, &p.ROIPct,
		&p.StopLossPrice, &p.TakeProfitPrice, &p.TrailingStopPct, &p.SlippageBps, &p.CommissionBps, &p.Source,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}
