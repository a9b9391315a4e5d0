package database

import (
	"context"
	"encoding/json"
	"time"
)

// BacktestRun is a persisted backtest-lite result (C15), stored only when
// the caller asks for persistence and the run produced advanced analytics
// (spec.md §9).
type BacktestRun struct {
	ID          int64          `json:"id"`
	Symbol      string         `json:"symbol"`
	StartTime   time.Time      `json:"startTime"`
	EndTime     time.Time      `json:"endTime"`
	Params      map[string]any `json:"params"`
	Result      map[string]any `json:"result"`
	Analytics   map[string]any `json:"analytics,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// CreateBacktestRun persists a backtest-lite result.
func (r *Repository) CreateBacktestRun(ctx context.Context, b *BacktestRun) error {
	params, err := json.Marshal(b.Params)
	if err != nil {
		return err
	}
	result, err := json.Marshal(b.Result)
	if err != nil {
		return err
	}
	analytics, err := json.Marshal(b.Analytics)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO backtest_runs (symbol, start_time, end_time, params, result, analytics, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, created_at
	`
	return r.db.Pool.QueryRow(ctx, query, b.Symbol, b.StartTime, b.EndTime, params, result, analytics).Scan(&b.ID, &b.CreatedAt)
}

// GetBacktestRun returns a persisted backtest-lite result by id.
func (r *Repository) GetBacktestRun(ctx context.Context, id int64) (*BacktestRun, error) {
	query := `SELECT id, symbol, start_time, end_time, params, result, analytics, created_at FROM backtest_runs WHERE id = $1`
	var params, result, analytics []byte
	b := &BacktestRun{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(&b.ID, &b.Symbol, &b.StartTime, &b.EndTime, &params, &result, &analytics, &b.CreatedAt)
	if err != nil {
		return nil, translateNotFound(err)
	}
	_ = json.Unmarshal(params, &b.Params)
	_ = json.Unmarshal(result, &b.Result)
	_ = json.Unmarshal(analytics, &b.Analytics)
	return b, nil
}

// DeleteBacktestRun removes a persisted backtest-lite result by id.
func (r *Repository) DeleteBacktestRun(ctx context.Context, id int64) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM backtest_runs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBacktestRuns returns persisted runs for a symbol, most recent first.
// An empty symbol returns runs for every symbol.
func (r *Repository) ListBacktestRuns(ctx context.Context, symbol string, limit int) ([]*BacktestRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `
		SELECT id, symbol, start_time, end_time, params, result, analytics, created_at
		FROM backtest_runs WHERE ($1 = '' OR symbol = $1) ORDER BY created_at DESC LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*BacktestRun
	for rows.Next() {
		var params, result, analytics []byte
		b := &BacktestRun{}
		if err := rows.Scan(&b.ID, &b.Symbol, &b.StartTime, &b.EndTime, &params, &result, &analytics, &b.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(params, &b.Params)
		_ = json.Unmarshal(result, &b.Result)
		_ = json.Unmarshal(analytics, &b.Analytics)
		out = append(out, b)
	}
	return out, rows.Err()
}
