// Package diagnostic reports per-trader segment and data-completeness
// issues, surfaced read-only to operators (spec.md §6 "GET
// /signals/diagnostic[/:leadId]").
package diagnostic

import (
	"context"
	"time"

	"copytrade-signals/internal/database"
)

const (
	staleIngestThreshold = 2 * time.Hour
	staleEventsThreshold = 30 * 24 * time.Hour
)

// Report is one trader's diagnostic row.
type Report struct {
	TraderID string   `json:"traderId"`
	Segment  database.Segment `json:"segment"`
	Issues   []string `json:"issues"`
}

// Service computes diagnostic reports from the repository's read-mostly
// state.
type Service struct {
	repo *database.Repository
}

// NewService builds a diagnostic service.
func NewService(repo *database.Repository) *Service {
	return &Service{repo: repo}
}

// ForTrader builds the diagnostic report for a single trader.
func (s *Service) ForTrader(ctx context.Context, traderID string, now time.Time) (Report, error) {
	trader, err := s.repo.GetTrader(ctx, traderID)
	if err != nil {
		return Report{}, err
	}
	return s.build(ctx, trader, now)
}

// All builds the diagnostic report for every known trader.
func (s *Service) All(ctx context.Context, now time.Time) ([]Report, error) {
	traders, err := s.repo.ListTraders(ctx, "")
	if err != nil {
		return nil, err
	}
	reports := make([]Report, 0, len(traders))
	for _, t := range traders {
		report, err := s.build(ctx, t, now)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (s *Service) build(ctx context.Context, trader *database.Trader, now time.Time) (Report, error) {
	report := Report{TraderID: trader.ID, Segment: trader.Segment, Issues: []string{}}

	if trader.PositionShow == nil {
		report.Issues = append(report.Issues, "positionShow never set")
	}

	age, ok, err := s.repo.IngestStaleness(ctx, trader.ID, now)
	if err != nil {
		return Report{}, err
	}
	if !ok || age > staleIngestThreshold {
		report.Issues = append(report.Issues, "stale ingest > 2h")
	}

	events, err := s.repo.EventsForTrader(ctx, trader.ID)
	if err != nil {
		return Report{}, err
	}
	if !hasRecentEvent(events, now) {
		report.Issues = append(report.Issues, "no events in 30d")
	}

	score, err := s.repo.GetTraderScore(ctx, trader.ID)
	if err != nil && err != database.ErrNotFound {
		return Report{}, err
	}
	if score == nil {
		report.Issues = append(report.Issues, "traderWeight not computed")
	}

	return report, nil
}

func hasRecentEvent(events []*database.Event, now time.Time) bool {
	cutoff := now.Add(-staleEventsThreshold)
	for _, e := range events {
		at := e.FetchedAt
		if e.EventTime != nil {
			at = *e.EventTime
		}
		if at.After(cutoff) {
			return true
		}
	}
	return false
}
