package signals

import (
	"context"
	"sort"
	"time"

	"copytrade-signals/internal/database"
)

// RecordStatus classifies how a (trader,symbol,direction) rollup's opened
// amount compares to its closed amount over the window (spec.md §6).
type RecordStatus string

const (
	RecordOpenOnly    RecordStatus = "open_only"
	RecordPartialClose RecordStatus = "partial_close"
	RecordFullClose   RecordStatus = "full_close"
	RecordOverClose   RecordStatus = "over_close"
)

// LatestRecord is one aggregated open/close rollup row.
type LatestRecord struct {
	TraderID      string              `json:"traderId"`
	Symbol        string              `json:"symbol"`
	Direction     database.Direction  `json:"direction"`
	OpenedAmount  float64             `json:"openedAmount"`
	ClosedAmount  float64             `json:"closedAmount"`
	ClosePct      float64             `json:"closePct"`
	Status        RecordStatus        `json:"status"`
	LatestEventAt time.Time           `json:"latestEventAt"`
}

type recordKey struct {
	traderID  string
	symbol    string
	direction database.Direction
}

// directionAndIsOpen maps a normalized EventKind to its direction and
// whether it is an opening (vs closing) event.
func directionAndIsOpen(kind database.EventKind) (database.Direction, bool) {
	switch kind {
	case database.EventOpenLong:
		return database.DirectionLong, true
	case database.EventCloseLong:
		return database.DirectionLong, false
	case database.EventOpenShort:
		return database.DirectionShort, true
	case database.EventCloseShort:
		return database.DirectionShort, false
	default:
		return database.DirectionNeutral, true
	}
}

// statusOf classifies the opened/closed pair per spec.md §6/open-questions:
// OVER_CLOSE is surfaced (possible scraping drift or a genuine over-fill)
// but never acted upon.
func statusOf(opened, closed float64) RecordStatus {
	switch {
	case closed <= 0:
		return RecordOpenOnly
	case closed < opened:
		return RecordPartialClose
	case closed == opened:
		return RecordFullClose
	default:
		return RecordOverClose
	}
}

// LatestRecordsFeed aggregates open/close event amounts per
// (trader,symbol,direction) within the window, returning at most limit rows
// ordered by most recent activity first (spec.md §6's latest-records/feed).
func LatestRecordsFeed(ctx context.Context, repo *database.Repository, timeRange TimeRange, limit int, now time.Time) ([]LatestRecord, error) {
	events, err := repo.AllEventsSince(ctx, timeRange.Cutoff(now))
	if err != nil {
		return nil, err
	}
	return aggregateLatestRecords(events, limit), nil
}

// aggregateLatestRecords is LatestRecordsFeed's pure aggregation step,
// isolated from the repository so it can run against a fixed event slice in
// tests.
func aggregateLatestRecords(events []*database.Event, limit int) []LatestRecord {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	agg := make(map[recordKey]*LatestRecord)
	order := make([]recordKey, 0)

	for _, e := range events {
		direction, isOpen := directionAndIsOpen(e.Kind)
		key := recordKey{traderID: e.TraderID, symbol: e.Symbol, direction: direction}

		rec, ok := agg[key]
		if !ok {
			rec = &LatestRecord{TraderID: e.TraderID, Symbol: e.Symbol, Direction: direction}
			agg[key] = rec
			order = append(order, key)
		}

		if isOpen {
			rec.OpenedAmount += e.Amount
		} else {
			rec.ClosedAmount += e.Amount
		}

		at := e.FetchedAt
		if e.EventTime != nil {
			at = *e.EventTime
		}
		if at.After(rec.LatestEventAt) {
			rec.LatestEventAt = at
		}
	}

	records := make([]LatestRecord, 0, len(order))
	for _, key := range order {
		rec := agg[key]
		rec.Status = statusOf(rec.OpenedAmount, rec.ClosedAmount)
		if rec.OpenedAmount > 0 {
			rec.ClosePct = rec.ClosedAmount / rec.OpenedAmount * 100
		}
		records = append(records, *rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].LatestEventAt.After(records[j].LatestEventAt) })

	if len(records) > limit {
		records = records[:limit]
	}
	return records
}
