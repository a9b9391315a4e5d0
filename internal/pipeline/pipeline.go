// Package pipeline orchestrates one full scrape cycle: fetching every
// trader's upstream snapshot, accepting the raw ingest, normalizing its
// order history into the event log, reconstructing position state, scoring
// the trader, and recomputing consensus across symbols (spec.md §4).
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"copytrade-signals/internal/cache"
	"copytrade-signals/internal/consensus"
	"copytrade-signals/internal/database"
	"copytrade-signals/internal/derive"
	"copytrade-signals/internal/events"
	"copytrade-signals/internal/eventlog"
	"copytrade-signals/internal/ingest"
	"copytrade-signals/internal/scraper"
	"copytrade-signals/internal/upstream"
)

// Service wires the fetch-to-consensus pipeline behind a single entry point
// so cmd/scraper only needs to drive the polling loop.
type Service struct {
	repo          *database.Repository
	orchestrator  *scraper.Orchestrator
	ingestService *ingest.Service
	eventLog      *eventlog.Service
	reconstructor *derive.Reconstructor
	consensus     *consensus.Service
	cache         *cache.CacheService
	bus           *events.EventBus
	logger        zerolog.Logger
}

// NewService assembles a pipeline over already-constructed collaborators.
func NewService(
	repo *database.Repository,
	orchestrator *scraper.Orchestrator,
	ingestService *ingest.Service,
	eventLog *eventlog.Service,
	reconstructor *derive.Reconstructor,
	consensusService *consensus.Service,
	cacheService *cache.CacheService,
	bus *events.EventBus,
	logger zerolog.Logger,
) *Service {
	return &Service{
		repo:          repo,
		orchestrator:  orchestrator,
		ingestService: ingestService,
		eventLog:      eventLog,
		reconstructor: reconstructor,
		consensus:     consensusService,
		cache:         cacheService,
		bus:           bus,
		logger:        logger,
	}
}

// RunCycle fetches every trader in traderIDs, processes each into ingest,
// events, position state and score, then recomputes consensus for every
// symbol touched. A single trader's failure never aborts the cycle.
func (s *Service) RunCycle(ctx context.Context, traderIDs []string, fetchOpts upstream.FetchOptions, scraperCfg scraper.Config) error {
	results := s.orchestrator.Run(ctx, traderIDs, fetchOpts, scraperCfg)

	processed := 0
	for _, res := range results {
		if res.Err != nil {
			s.logger.Warn().Str("traderId", res.TraderID).Err(res.Err).Msg("pipeline: upstream fetch failed")
			if s.bus != nil {
				s.bus.PublishError("scraper", "upstream fetch failed", res.Err)
			}
			continue
		}
		if err := s.processTrader(ctx, res.TraderID, res.Payload); err != nil {
			s.logger.Error().Str("traderId", res.TraderID).Err(err).Msg("pipeline: trader processing failed")
			continue
		}
		processed++
	}

	s.logger.Info().Int("traders", len(traderIDs)).Int("processed", processed).Msg("pipeline: cycle complete")
	return s.recomputeConsensus(ctx)
}

// processTrader runs one trader's payload through ingest, event
// normalization, position-state reconstruction and scoring.
func (s *Service) processTrader(ctx context.Context, traderID string, payload *upstream.Payload) error {
	if _, err := s.ingestService.Accept(ctx, traderID, payload); err != nil {
		return fmt.Errorf("pipeline: ingest accept: %w", err)
	}

	if err := s.eventLog.AppendFromPayload(ctx, traderID, payload); err != nil {
		return fmt.Errorf("pipeline: event normalize: %w", err)
	}

	positions := derive.DecodePositions(payload.ActivePositions)
	if len(positions) > 0 {
		if err := s.reconstructor.ObserveLivePositions(ctx, traderID, positions, payload.FetchedAt); err != nil {
			return fmt.Errorf("pipeline: observe live positions: %w", err)
		}
	} else if err := s.replayFromEventLog(ctx, traderID, payload); err != nil {
		return err
	}

	trader, err := s.repo.GetTrader(ctx, traderID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("pipeline: get trader: %w", err)
	}
	var positionShow *bool
	if trader != nil {
		positionShow = trader.PositionShow
	}

	metrics := derive.ComputeMetrics(traderID, payload)
	score := derive.ComputeWeight(metrics, positionShow)
	if err := s.repo.UpsertTraderScore(ctx, &score); err != nil {
		return fmt.Errorf("pipeline: upsert trader score: %w", err)
	}
	return nil
}

// replayFromEventLog rebuilds position state for a hidden trader (no visible
// positions) by replaying its persisted event log through the same
// open/close state machine used for visible traders (spec.md §4.7).
func (s *Service) replayFromEventLog(ctx context.Context, traderID string, payload *upstream.Payload) error {
	stored, err := s.repo.EventsForTrader(ctx, traderID)
	if err != nil {
		return fmt.Errorf("pipeline: load events for replay: %w", err)
	}
	values := make([]database.Event, len(stored))
	for i, e := range stored {
		values[i] = *e
	}
	if err := s.reconstructor.ReplayOrdersFallback(ctx, traderID, values, payload.FetchedAt); err != nil {
		return fmt.Errorf("pipeline: replay orders fallback: %w", err)
	}
	return nil
}

// recomputeConsensus recomputes every symbol's consensus, publishes a
// ConsensusUpdated event per symbol, and invalidates the cached snapshots so
// the next read rebuilds from the fresh scores.
func (s *Service) recomputeConsensus(ctx context.Context) error {
	bySymbol, err := s.consensus.ComputeAll(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: recompute consensus: %w", err)
	}

	for symbol, sc := range bySymbol {
		if s.bus != nil {
			s.bus.PublishConsensusUpdated(symbol, string(sc.ConsensusDirection), sc.SentimentScore, sc.ConfidenceScore, sc.TotalTraders)
		}
		if s.cache != nil {
			_ = s.cache.Delete(ctx, cache.ConsensusKey(symbol))
		}
	}
	return nil
}
