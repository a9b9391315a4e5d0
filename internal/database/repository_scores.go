package database

import "context"

// ============================================================================
// TRADER SCORES (C5/C6)
// ============================================================================

// UpsertTraderScore writes the derived score/weight row for a trader,
// replacing whatever was there (scores are fully rebuildable from the event
// log, spec.md §9).
func (r *Repository) UpsertTraderScore(ctx context.Context, s *TraderScore) error {
	query := `
		INSERT INTO trader_scores (trader_id, score_30d, quality_score, confidence, win_rate, sample_size, trader_weight, avg_leverage, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (trader_id) DO UPDATE SET
			score_30d = EXCLUDED.score_30d,
			quality_score = EXCLUDED.quality_score,
			confidence = EXCLUDED.confidence,
			win_rate = EXCLUDED.win_rate,
			sample_size = EXCLUDED.sample_size,
			trader_weight = EXCLUDED.trader_weight,
			avg_leverage = EXCLUDED.avg_leverage,
			updated_at = NOW()
	`
	_, err := r.db.Pool.Exec(ctx, query, s.TraderID, s.Score30D, s.QualityScore, s.Confidence, s.WinRate, s.SampleSize, s.TraderWeight, s.AvgLeverage)
	return err
}

// GetTraderScore returns a trader's derived score row, or ErrNotFound if it
// has never been computed.
func (r *Repository) GetTraderScore(ctx context.Context, traderID string) (*TraderScore, error) {
	query := `
		SELECT trader_id, score_30d, quality_score, confidence, win_rate, sample_size, trader_weight, avg_leverage, updated_at
		FROM trader_scores WHERE trader_id = $1
	`
	s := &TraderScore{}
	err := r.db.Pool.QueryRow(ctx, query, traderID).Scan(
		&s.TraderID, &s.Score30D, &s.QualityScore, &s.Confidence, &s.WinRate, &s.SampleSize, &s.TraderWeight, &s.AvgLeverage, &s.UpdatedAt,
	)
	if err != nil {
		return nil, translateNotFound(err)
	}
	return s, nil
}

// AllTraderScores returns every trader's derived score, used by the
// consensus engine (C10) to look up weights in bulk.
func (r *Repository) AllTraderScores(ctx context.Context) ([]*TraderScore, error) {
	query := `
		SELECT trader_id, score_30d, quality_score, confidence, win_rate, sample_size, trader_weight, avg_leverage, updated_at
		FROM trader_scores
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TraderScore
	for rows.Next() {
		s := &TraderScore{}
		if err := rows.Scan(&s.TraderID, &s.Score30D, &s.QualityScore, &s.Confidence, &s.WinRate, &s.SampleSize, &s.TraderWeight, &s.AvgLeverage, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ============================================================================
// SYMBOL AGGREGATIONS
// ============================================================================

// UpsertSymbolAggregation writes the derived per-symbol open-count counters.
func (r *Repository) UpsertSymbolAggregation(ctx context.Context, a *SymbolAggregation) error {
	query := `
		INSERT INTO symbol_aggregations (symbol, open_long_count, open_short_count, total_opens, latest_event_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (symbol) DO UPDATE SET
			open_long_count = EXCLUDED.open_long_count,
			open_short_count = EXCLUDED.open_short_count,
			total_opens = EXCLUDED.total_opens,
			latest_event_id = EXCLUDED.latest_event_id,
			updated_at = NOW()
	`
	_, err := r.db.Pool.Exec(ctx, query, a.Symbol, a.OpenLongCount, a.OpenShortCount, a.TotalOpens, a.LatestEventID)
	return err
}

// GetSymbolAggregation returns the derived counters for one symbol.
func (r *Repository) GetSymbolAggregation(ctx context.Context, symbol string) (*SymbolAggregation, error) {
	query := `
		SELECT symbol, open_long_count, open_short_count, total_opens, latest_event_id, updated_at
		FROM symbol_aggregations WHERE symbol = $1
	`
	a := &SymbolAggregation{}
	err := r.db.Pool.QueryRow(ctx, query, symbol).Scan(&a.Symbol, &a.OpenLongCount, &a.OpenShortCount, &a.TotalOpens, &a.LatestEventID, &a.UpdatedAt)
	if err != nil {
		return nil, translateNotFound(err)
	}
	return a, nil
}

// AllSymbolAggregations returns every symbol's derived counters.
func (r *Repository) AllSymbolAggregations(ctx context.Context) ([]*SymbolAggregation, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT symbol, open_long_count, open_short_count, total_opens, latest_event_id, updated_at FROM symbol_aggregations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SymbolAggregation
	for rows.Next() {
		a := &SymbolAggregation{}
		if err := rows.Scan(&a.Symbol, &a.OpenLongCount, &a.OpenShortCount, &a.TotalOpens, &a.LatestEventID, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
