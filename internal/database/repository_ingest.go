package database

import (
	"context"
	"encoding/json"
	"time"
)

// ============================================================================
// RAW INGEST (C4)
// ============================================================================

// CreateRawIngest appends a new RawIngest row. Writes are append-only and
// multi-writer safe (spec.md §5): every fetch writes independently with no
// shared mutable state.
func (r *Repository) CreateRawIngest(ctx context.Context, ri *RawIngest) error {
	payload, err := json.Marshal(ri.Payload)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO raw_ingests (trader_id, fetched_at, time_range, start_time, end_time, payload, positions_count, orders_count, parity_pass)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`
	return r.db.Pool.QueryRow(ctx, query,
		ri.TraderID, ri.FetchedAt, ri.TimeRange, ri.StartTime, ri.EndTime, payload,
		ri.PositionsCount, ri.OrdersCount, ri.ParityPass,
	).Scan(&ri.ID, &ri.CreatedAt)
}

// LatestRawIngest returns the record with the greatest fetchedAt for a trader.
func (r *Repository) LatestRawIngest(ctx context.Context, traderID string) (*RawIngest, error) {
	query := `
		SELECT id, trader_id, fetched_at, time_range, start_time, end_time, payload, positions_count, orders_count, parity_pass, created_at
		FROM raw_ingests WHERE trader_id = $1 ORDER BY fetched_at DESC LIMIT 1
	`
	return r.scanRawIngest(r.db.Pool.QueryRow(ctx, query, traderID))
}

// ListRawIngests returns ingests for a trader, most recent first.
func (r *Repository) ListRawIngests(ctx context.Context, traderID string, limit int) ([]*RawIngest, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, trader_id, fetched_at, time_range, start_time, end_time, payload, positions_count, orders_count, parity_pass, created_at
		FROM raw_ingests WHERE trader_id = $1 ORDER BY fetched_at DESC LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, traderID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RawIngest
	for rows.Next() {
		ri := &RawIngest{}
		var payload []byte
		if err := rows.Scan(&ri.ID, &ri.TraderID, &ri.FetchedAt, &ri.TimeRange, &ri.StartTime, &ri.EndTime, &payload, &ri.PositionsCount, &ri.OrdersCount, &ri.ParityPass, &ri.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(payload, &ri.Payload)
		out = append(out, ri)
	}
	return out, rows.Err()
}

// LatestRawIngestPerTrader returns the single most recent ingest for every
// trader that has one, used by the simulation reference price resolver.
func (r *Repository) LatestRawIngestPerTrader(ctx context.Context) ([]*RawIngest, error) {
	query := `
		SELECT DISTINCT ON (trader_id) id, trader_id, fetched_at, time_range, start_time, end_time, payload, positions_count, orders_count, parity_pass, created_at
		FROM raw_ingests
		ORDER BY trader_id, fetched_at DESC
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RawIngest
	for rows.Next() {
		ri := &RawIngest{}
		var payload []byte
		if err := rows.Scan(&ri.ID, &ri.TraderID, &ri.FetchedAt, &ri.TimeRange, &ri.StartTime, &ri.EndTime, &payload, &ri.PositionsCount, &ri.OrdersCount, &ri.ParityPass, &ri.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(payload, &ri.Payload)
		out = append(out, ri)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanRawIngest(row rowScanner) (*RawIngest, error) {
	ri := &RawIngest{}
	var payload []byte
	err := row.Scan(&ri.ID, &ri.TraderID, &ri.FetchedAt, &ri.TimeRange, &ri.StartTime, &ri.EndTime, &payload, &ri.PositionsCount, &ri.OrdersCount, &ri.ParityPass, &ri.CreatedAt)
	if err != nil {
		return nil, translateNotFound(err)
	}
	_ = json.Unmarshal(payload, &ri.Payload)
	return ri, nil
}

// IngestStaleness reports how long it has been since a trader's most recent
// ingest, used by the diagnostic endpoint (spec.md §6/§8 scenario 6).
func (r *Repository) IngestStaleness(ctx context.Context, traderID string, now time.Time) (time.Duration, bool, error) {
	latest, err := r.LatestRawIngest(ctx, traderID)
	if err == ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return now.Sub(latest.FetchedAt), true, nil
}
