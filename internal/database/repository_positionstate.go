package database

import (
	"context"
)

// ============================================================================
// POSITION STATE (C8)
// ============================================================================

// ActivePositionState returns the at-most-one active row for
// (trader,symbol,direction), or ErrNotFound.
func (r *Repository) ActivePositionState(ctx context.Context, traderID, symbol string, direction Direction) (*PositionState, error) {
	query := `
		SELECT id, trader_id, symbol, direction, status, entry_price, amount, leverage,
		       first_seen_at, last_seen_at, estimated_open_time, disappeared_at, estimated_close_time,
		       opening_event_id, reconstruction_confidence, created_at, updated_at
		FROM position_states
		WHERE trader_id = $1 AND symbol = $2 AND direction = $3 AND status = 'active'
	`
	return r.scanPositionState(r.db.Pool.QueryRow(ctx, query, traderID, symbol, direction))
}

// UpsertPositionState inserts a new active row or updates the existing one
// (by id). Closing a row is done via CloseActivePositionState so that a
// closed row can never transition back to active (spec.md §3 invariant).
func (r *Repository) UpsertPositionState(ctx context.Context, ps *PositionState) error {
	if ps.ID != 0 {
		query := `
			UPDATE position_states SET
				entry_price = $2, amount = $3, leverage = $4, last_seen_at = $5,
				estimated_open_time = $6, opening_event_id = $7, reconstruction_confidence = $8,
				updated_at = NOW()
			WHERE id = $1 AND status = 'active'
		`
		_, err := r.db.Pool.Exec(ctx, query, ps.ID, ps.EntryPrice, ps.Amount, ps.Leverage, ps.LastSeenAt,
			ps.EstimatedOpenTime, ps.OpeningEventID, ps.ReconstructionConfidence)
		return err
	}

	query := `
		INSERT INTO position_states (trader_id, symbol, direction, status, entry_price, amount, leverage,
			first_seen_at, last_seen_at, estimated_open_time, opening_event_id, reconstruction_confidence, created_at, updated_at)
		VALUES ($1, $2, $3, 'active', $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	return r.db.Pool.QueryRow(ctx, query,
		ps.TraderID, ps.Symbol, ps.Direction, ps.EntryPrice, ps.Amount, ps.Leverage,
		ps.FirstSeenAt, ps.LastSeenAt, ps.EstimatedOpenTime, ps.OpeningEventID, ps.ReconstructionConfidence,
	).Scan(&ps.ID, &ps.CreatedAt, &ps.UpdatedAt)
}

// TouchLastSeen refreshes lastSeenAt on an active row (a snapshot observation
// without an open/close transition).
func (r *Repository) TouchLastSeen(ctx context.Context, id int64, lastSeenAt any) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE position_states SET last_seen_at = $2, updated_at = NOW() WHERE id = $1 AND status = 'active'`, id, lastSeenAt)
	return err
}

// CloseActivePositionState terminates an active row: sets disappearedAt,
// estimatedCloseTime, and status=closed. A closed row never transitions back
// (spec.md §3/§8 invariant) — the WHERE clause enforces this is a no-op on
// an already-closed row, making the operation idempotent.
func (r *Repository) CloseActivePositionState(ctx context.Context, id int64, disappearedAt, estimatedCloseTime any) error {
	query := `
		UPDATE position_states
		SET status = 'closed', disappeared_at = $2, estimated_close_time = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`
	_, err := r.db.Pool.Exec(ctx, query, id, disappearedAt, estimatedCloseTime)
	return err
}

// ActivePositionStatesForSymbol returns every active row for a symbol,
// across all traders.
func (r *Repository) ActivePositionStatesForSymbol(ctx context.Context, symbol string) ([]*PositionState, error) {
	query := `
		SELECT id, trader_id, symbol, direction, status, entry_price, amount, leverage,
		       first_seen_at, last_seen_at, estimated_open_time, disappeared_at, estimated_close_time,
		       opening_event_id, reconstruction_confidence, created_at, updated_at
		FROM position_states WHERE symbol = $1 AND status = 'active'
	`
	return r.queryPositionStates(ctx, query, symbol)
}

// ActivePositionStatesForTrader returns every active row for a trader.
func (r *Repository) ActivePositionStatesForTrader(ctx context.Context, traderID string) ([]*PositionState, error) {
	query := `
		SELECT id, trader_id, symbol, direction, status, entry_price, amount, leverage,
		       first_seen_at, last_seen_at, estimated_open_time, disappeared_at, estimated_close_time,
		       opening_event_id, reconstruction_confidence, created_at, updated_at
		FROM position_states WHERE trader_id = $1 AND status = 'active'
	`
	return r.queryPositionStates(ctx, query, traderID)
}

// AllActivePositionStates returns every active row across all traders and
// symbols.
func (r *Repository) AllActivePositionStates(ctx context.Context) ([]*PositionState, error) {
	query := `
		SELECT id, trader_id, symbol, direction, status, entry_price, amount, leverage,
		       first_seen_at, last_seen_at, estimated_open_time, disappeared_at, estimated_close_time,
		       opening_event_id, reconstruction_confidence, created_at, updated_at
		FROM position_states WHERE status = 'active'
	`
	return r.queryPositionStates(ctx, query)
}

// DeletePositionStatesForTrader clears a trader's reconstructed state before
// a rebuild re-derives it from the event log.
func (r *Repository) DeletePositionStatesForTrader(ctx context.Context, traderID string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM position_states WHERE trader_id = $1`, traderID)
	return err
}

func (r *Repository) queryPositionStates(ctx context.Context, query string, args ...any) ([]*PositionState, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PositionState
	for rows.Next() {
		ps, err := scanPositionStateRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}

func (r *Repository) scanPositionState(row rowScanner) (*PositionState, error) {
	ps, err := scanPositionStateRow(row)
	if err != nil {
		return nil, translateNotFound(err)
	}
	return ps, nil
}

func scanPositionStateRow(row rowScanner) (*PositionState, error) {
	ps := &PositionState{}
	err := row.Scan(
		&ps.ID, &ps.TraderID, &ps.Symbol, &ps.Direction, &ps.Status, &ps.EntryPrice, &ps.Amount, &ps.Leverage,
		&ps.FirstSeenAt, &ps.LastSeenAt, &ps.EstimatedOpenTime, &ps.DisappearedAt, &ps.EstimatedCloseTime,
		&ps.OpeningEventID, &ps.ReconstructionConfidence, &ps.CreatedAt, &ps.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return ps, nil
}
