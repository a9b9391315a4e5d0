// Package ingest turns an upstream payload into a persisted RawIngest row,
// deriving counts and a parity signal (spec.md §4.3).
package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"copytrade-signals/internal/database"
	"copytrade-signals/internal/events"
	"copytrade-signals/internal/upstream"
)

// Service wraps the raw-ingest repository with derivation and eventing.
type Service struct {
	repo   *database.Repository
	bus    *events.EventBus
	logger zerolog.Logger
}

// NewService builds an ingest service.
func NewService(repo *database.Repository, bus *events.EventBus, logger zerolog.Logger) *Service {
	return &Service{repo: repo, bus: bus, logger: logger}
}

// Accept persists one trader's payload, deriving positionsCount, ordersCount
// and timeRange, and logs the parity signal between the filter's audit count
// and the stored positions count. traderID identifies the owning trader; the
// payload fields themselves never encode it.
func (s *Service) Accept(ctx context.Context, traderID string, payload *upstream.Payload) (*database.RawIngest, error) {
	positionsCount := len(payload.ActivePositions)
	ordersCount := len(payload.OrderHistory.AllOrders)

	raw := &database.RawIngest{
		TraderID:       traderID,
		FetchedAt:      payload.FetchedAt,
		TimeRange:      payload.TimeRange,
		StartTime:      timePtr(payload.StartTime),
		EndTime:        timePtr(payload.EndTime),
		PositionsCount: positionsCount,
		OrdersCount:    ordersCount,
		Payload: map[string]any{
			"fetchedAt":        payload.FetchedAt,
			"timeRange":        payload.TimeRange,
			"startTime":        payload.StartTime,
			"endTime":          payload.EndTime,
			"leadCommon":       payload.LeadCommon,
			"portfolioDetail":  payload.PortfolioDetail,
			"activePositions":  payload.ActivePositions,
			"positionAudit":    payload.PositionAudit,
			"roiSeries":        payload.ROISeries,
			"assetPreferences": payload.AssetPreferences,
			"orderHistory":     payload.OrderHistory,
		},
	}

	parityPass := payload.PositionAudit.FilteredActivePositionsCount == positionsCount
	raw.ParityPass = &parityPass

	if err := s.repo.CreateRawIngest(ctx, raw); err != nil {
		return nil, err
	}

	logEvent := s.logger.Info()
	if !parityPass {
		logEvent = s.logger.Warn()
	}
	logEvent.
		Str("traderId", traderID).
		Int("filteredActivePositionsCount", payload.PositionAudit.FilteredActivePositionsCount).
		Int("positionsCount", positionsCount).
		Bool("parityPass", parityPass).
		Msg("ingest: parity signal")

	if s.bus != nil {
		s.bus.PublishIngestCompleted(traderID, positionsCount, ordersCount, &parityPass)
	}

	return raw, nil
}

// LatestForTrader returns the most recent accepted ingest for a trader.
func (s *Service) LatestForTrader(ctx context.Context, traderID string) (*database.RawIngest, error) {
	return s.repo.LatestRawIngest(ctx, traderID)
}

// History returns a trader's most recent ingests, newest first.
func (s *Service) History(ctx context.Context, traderID string, limit int) ([]*database.RawIngest, error) {
	return s.repo.ListRawIngests(ctx, traderID, limit)
}

// Staleness reports the age of a trader's most recent ingest.
func (s *Service) Staleness(ctx context.Context, traderID string) (time.Duration, bool, error) {
	return s.repo.IngestStaleness(ctx, traderID, time.Now())
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
