package database

import (
	"context"
	"time"
)

// ============================================================================
// EVENT LOG (C9)
// ============================================================================

// CreateEvent inserts a normalized event row. The event log is
// derivation-owned: callers should treat it as append-only and rebuild it
// wholesale rather than mutate individual rows (spec.md §9).
func (r *Repository) CreateEvent(ctx context.Context, e *Event) error {
	query := `
		INSERT INTO events (trader_id, symbol, kind, event_time, fetched_at, price, amount, realized_pnl)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	return r.db.Pool.QueryRow(ctx, query, e.TraderID, e.Symbol, e.Kind, e.EventTime, e.FetchedAt, e.Price, e.Amount, e.RealizedPnL).
		Scan(&e.ID)
}

// DeleteEventsForTrader removes all events for a trader, used before a
// derivation rebuild re-derives them from raw ingests.
func (r *Repository) DeleteEventsForTrader(ctx context.Context, traderID string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM events WHERE trader_id = $1`, traderID)
	return err
}

// EventsForTrader returns a trader's events ordered (eventTime ASC, fetchedAt
// ASC) per spec.md §4.8 ordering guarantee.
func (r *Repository) EventsForTrader(ctx context.Context, traderID string) ([]*Event, error) {
	query := `
		SELECT id, trader_id, symbol, kind, event_time, fetched_at, price, amount, realized_pnl
		FROM events WHERE trader_id = $1
		ORDER BY event_time ASC NULLS LAST, fetched_at ASC
	`
	return r.queryEvents(ctx, query, traderID)
}

// EventsSince returns events across all traders matching spec.md §4.8's
// filter: eventTime >= cutoff OR (eventTime IS NULL AND fetchedAt >= cutoff).
func (r *Repository) EventsSince(ctx context.Context, cutoff time.Time, symbol string, limit int) ([]*Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	query := `
		SELECT id, trader_id, symbol, kind, event_time, fetched_at, price, amount, realized_pnl
		FROM events
		WHERE (event_time >= $1 OR (event_time IS NULL AND fetched_at >= $1))
		AND ($2 = '' OR symbol = $2)
		ORDER BY event_time ASC NULLS LAST, fetched_at ASC
		LIMIT $3
	`
	return r.queryEvents(ctx, query, cutoff, symbol, limit)
}

// EventsForSymbolSince mirrors EventsSince scoped to one symbol, used by the
// insights stability replay (C12) and the heatmap momentum count (C11).
func (r *Repository) EventsForSymbolSince(ctx context.Context, symbol string, cutoff time.Time) ([]*Event, error) {
	query := `
		SELECT id, trader_id, symbol, kind, event_time, fetched_at, price, amount, realized_pnl
		FROM events
		WHERE symbol = $1 AND (event_time >= $2 OR (event_time IS NULL AND fetched_at >= $2))
		ORDER BY event_time ASC NULLS LAST, fetched_at ASC
	`
	return r.queryEvents(ctx, query, symbol, cutoff)
}

// AllEventsSince returns every event across all traders/symbols since cutoff,
// used by backtest-lite (C15) which replays the whole log.
func (r *Repository) AllEventsSince(ctx context.Context, cutoff time.Time) ([]*Event, error) {
	query := `
		SELECT id, trader_id, symbol, kind, event_time, fetched_at, price, amount, realized_pnl
		FROM events
		WHERE (event_time >= $1 OR (event_time IS NULL AND fetched_at >= $1))
		ORDER BY event_time ASC NULLS LAST, fetched_at ASC
	`
	return r.queryEvents(ctx, query, cutoff)
}

// FirstMatchingEventAfter returns the earliest event for (trader,symbol,kind)
// strictly after `after`, used by the auto-trigger reconcile step (C14).
func (r *Repository) FirstMatchingEventAfter(ctx context.Context, traderID, symbol string, kind EventKind, after time.Time) (*Event, error) {
	query := `
		SELECT id, trader_id, symbol, kind, event_time, fetched_at, price, amount, realized_pnl
		FROM events
		WHERE trader_id = $1 AND symbol = $2 AND kind = $3
		AND COALESCE(event_time, fetched_at) > $4
		ORDER BY event_time ASC NULLS LAST, fetched_at ASC
		LIMIT 1
	`
	row := r.db.Pool.QueryRow(ctx, query, traderID, symbol, kind, after)
	e := &Event{}
	err := row.Scan(&e.ID, &e.TraderID, &e.Symbol, &e.Kind, &e.EventTime, &e.FetchedAt, &e.Price, &e.Amount, &e.RealizedPnL)
	if err != nil {
		return nil, translateNotFound(err)
	}
	return e, nil
}

func (r *Repository) queryEvents(ctx context.Context, query string, args ...any) ([]*Event, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.TraderID, &e.Symbol, &e.Kind, &e.EventTime, &e.FetchedAt, &e.Price, &e.Amount, &e.RealizedPnL); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
