// Package autotrigger runs the periodic auto-trigger pass: reconcile open
// AUTO positions against the event log, compute consensus, select
// candidates, reverse disagreeing positions, and open new ones (spec.md
// §4.14).
package autotrigger

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"copytrade-signals/internal/apierr"
	"copytrade-signals/internal/cache"
	"copytrade-signals/internal/consensus"
	"copytrade-signals/internal/database"
	"copytrade-signals/internal/signals"
	"copytrade-signals/internal/simulation"
)

const lockTTL = 2 * time.Minute

// Decision records what the pass did (or would do, in dry-run) for one
// symbol, so callers can render a report without re-deriving it.
type Decision struct {
	Symbol      string
	Direction   database.Direction
	Action      string // "reconciled", "reversed", "opened", "skipped_cooldown", "skipped_thresholds"
	Reason      string
	ReferenceID int64 // the affected simulated position id, when applicable
}

// Result summarizes one pass.
type Result struct {
	DryRun    bool
	RanAt     time.Time
	Decisions []Decision
}

// Engine runs auto-trigger passes for the singleton rule.
type Engine struct {
	repo             *database.Repository
	consensusService *consensus.Service
	store            *simulation.Store
	cache            *cache.CacheService
	logger           zerolog.Logger
}

// NewEngine builds an auto-trigger engine.
func NewEngine(repo *database.Repository, consensusService *consensus.Service, store *simulation.Store, cacheService *cache.CacheService, logger zerolog.Logger) *Engine {
	return &Engine{repo: repo, consensusService: consensusService, store: store, cache: cacheService, logger: logger}
}

// Run executes one pass. When dryRun is true, no state is mutated: the
// decisions that would have been made are still computed and returned.
func (e *Engine) Run(ctx context.Context, now time.Time, dryRun bool) (Result, error) {
	rule, err := e.repo.GetOrCreateAutoTriggerRule(ctx)
	if err != nil {
		return Result{}, err
	}
	if !rule.Enabled {
		return Result{DryRun: dryRun, RanAt: now}, nil
	}

	if !dryRun {
		locked, err := e.cache.AcquireLock(ctx, cache.AutoRunLockKey(rule.ID), lockTTL)
		if err != nil {
			return Result{}, err
		}
		if !locked {
			return Result{}, apierr.ErrCooldownActive
		}
		defer e.cache.ReleaseLock(ctx, cache.AutoRunLockKey(rule.ID))
	}

	var decisions []Decision

	// Step 1: reconcile.
	reconciled, err := e.reconcile(ctx, rule, now, dryRun)
	if err != nil {
		return Result{}, err
	}
	decisions = append(decisions, reconciled...)

	// Step 2: compute live consensus over {timeRange, segmentFilter}.
	timeRange := signals.NormalizeTimeRange(rule.TimeRange)
	bySymbol, err := e.consensusService.ComputeAllFiltered(ctx, rule.SegmentFilter, timeRange.Cutoff(now))
	if err != nil {
		return Result{}, err
	}

	// Step 3: select candidates.
	for symbol, sc := range bySymbol {
		if sc.ConsensusDirection == database.DirectionNeutral {
			continue
		}
		if sc.TotalTraders < rule.MinTraders {
			decisions = append(decisions, Decision{Symbol: symbol, Direction: sc.ConsensusDirection, Action: "skipped_thresholds", Reason: "below minTraders"})
			continue
		}
		if sc.ConfidenceScore < rule.MinConfidence {
			decisions = append(decisions, Decision{Symbol: symbol, Direction: sc.ConsensusDirection, Action: "skipped_thresholds", Reason: "below minConfidence"})
			continue
		}
		if absFloat(sc.SentimentScore)*100 < rule.MinSentimentAbs {
			decisions = append(decisions, Decision{Symbol: symbol, Direction: sc.ConsensusDirection, Action: "skipped_thresholds", Reason: "below minSentimentAbs"})
			continue
		}

		// Step 4: reverse a disagreeing open AUTO position.
		opposite := oppositeDirection(sc.ConsensusDirection)
		existingOpposite, err := e.repo.OpenSimulatedPositionForSymbol(ctx, rule.PortfolioID, symbol, opposite)
		if err != nil && err != database.ErrNotFound {
			return Result{}, err
		}
		if existingOpposite != nil && existingOpposite.Source == database.SourceAuto {
			if dryRun {
				decisions = append(decisions, Decision{Symbol: symbol, Direction: sc.ConsensusDirection, Action: "reversed", Reason: "dry-run: would reverse", ReferenceID: existingOpposite.ID})
			} else {
				price, ok, err := simulation.ReferencePrice(ctx, e.repo, symbol)
				if err != nil {
					return Result{}, err
				}
				if ok {
					if _, err := e.store.Close(ctx, existingOpposite.ID, price, database.CloseAutoReverse, nil, nil); err != nil {
						return Result{}, err
					}
					decisions = append(decisions, Decision{Symbol: symbol, Direction: sc.ConsensusDirection, Action: "reversed", ReferenceID: existingOpposite.ID})
				}
			}
		}

		// A position already open in the winning direction needs no action.
		existingSame, err := e.repo.OpenSimulatedPositionForSymbol(ctx, rule.PortfolioID, symbol, sc.ConsensusDirection)
		if err != nil && err != database.ErrNotFound {
			return Result{}, err
		}
		if existingSame != nil {
			continue
		}

		// Step 5: cooldown.
		cooling, err := e.inCooldown(ctx, rule, symbol, now)
		if err != nil {
			return Result{}, err
		}
		if cooling {
			decisions = append(decisions, Decision{Symbol: symbol, Direction: sc.ConsensusDirection, Action: "skipped_cooldown"})
			continue
		}

		// Step 6: open.
		if dryRun {
			decisions = append(decisions, Decision{Symbol: symbol, Direction: sc.ConsensusDirection, Action: "opened", Reason: "dry-run: would open"})
			continue
		}
		position, err := e.store.Open(ctx, simulation.OpenRequest{
			PortfolioID:    rule.PortfolioID,
			Symbol:         symbol,
			Direction:      sc.ConsensusDirection,
			Leverage:       rule.Leverage,
			MarginNotional: rule.MarginNotional,
			Source:         database.SourceAuto,
		})
		if err != nil {
			e.logger.Warn().Err(err).Str("symbol", symbol).Msg("autotrigger: open failed")
			decisions = append(decisions, Decision{Symbol: symbol, Direction: sc.ConsensusDirection, Action: "skipped_thresholds", Reason: err.Error()})
			continue
		}
		decisions = append(decisions, Decision{Symbol: symbol, Direction: sc.ConsensusDirection, Action: "opened", ReferenceID: position.ID})
	}

	if !dryRun {
		if err := e.repo.MarkAutoTriggerRan(ctx, now); err != nil {
			return Result{}, err
		}
	}

	e.logger.Info().Bool("dryRun", dryRun).Int("decisions", len(decisions)).Msg("autotrigger: pass complete")
	return Result{DryRun: dryRun, RanAt: now, Decisions: decisions}, nil
}

// Reconcile runs only step 1 of the pass (closing AUTO positions whose
// counterpart event has already fired) without touching candidate selection,
// for the standalone reconcile endpoint (spec.md §6 "GET/POST
// /signals/simulation/reconcile").
func (e *Engine) Reconcile(ctx context.Context, now time.Time, dryRun bool) (Result, error) {
	rule, err := e.repo.GetOrCreateAutoTriggerRule(ctx)
	if err != nil {
		return Result{}, err
	}

	if !dryRun {
		locked, err := e.cache.AcquireLock(ctx, cache.AutoRunLockKey(rule.ID), lockTTL)
		if err != nil {
			return Result{}, err
		}
		if !locked {
			return Result{}, apierr.ErrCooldownActive
		}
		defer e.cache.ReleaseLock(ctx, cache.AutoRunLockKey(rule.ID))
	}

	decisions, err := e.reconcile(ctx, rule, now, dryRun)
	if err != nil {
		return Result{}, err
	}
	return Result{DryRun: dryRun, RanAt: now, Decisions: decisions}, nil
}

// reconcile implements step 1: for every open AUTO position, look across
// every trader for the first event after its openedAt whose kind is the
// close counterpart of its direction. The earliest such event across all
// traders closes the position.
func (e *Engine) reconcile(ctx context.Context, rule *database.AutoTriggerRule, now time.Time, dryRun bool) ([]Decision, error) {
	open, err := e.repo.OpenSimulatedPositionsForPortfolio(ctx, rule.PortfolioID)
	if err != nil {
		return nil, err
	}
	traders, err := e.repo.ListTraders(ctx, "")
	if err != nil {
		return nil, err
	}

	var decisions []Decision
	for _, position := range open {
		if position.Source != database.SourceAuto {
			continue
		}
		closeKind := closeCounterpart(position.Direction)

		var earliest *database.Event
		var earliestTrader string
		for _, trader := range traders {
			ev, err := e.repo.FirstMatchingEventAfter(ctx, trader.ID, position.Symbol, closeKind, position.OpenedAt)
			if err != nil {
				if err == database.ErrNotFound {
					continue
				}
				return nil, err
			}
			if earliest == nil || eventTimestamp(ev).Before(eventTimestamp(earliest)) {
				earliest = ev
				earliestTrader = trader.ID
			}
		}
		if earliest == nil {
			continue
		}

		price := earliest.Price
		if price <= 0 {
			price = position.EntryPrice
		}

		if dryRun {
			decisions = append(decisions, Decision{Symbol: position.Symbol, Direction: position.Direction, Action: "reconciled", Reason: "dry-run: would close on first_trader_close", ReferenceID: position.ID})
			continue
		}

		trigger := earliestTrader
		kind := earliest.Kind
		if _, err := e.store.Close(ctx, position.ID, price, database.CloseFirstTraderClose, &trigger, &kind); err != nil {
			return nil, err
		}
		decisions = append(decisions, Decision{Symbol: position.Symbol, Direction: position.Direction, Action: "reconciled", ReferenceID: position.ID})
	}
	return decisions, nil
}

func closeCounterpart(direction database.Direction) database.EventKind {
	if direction == database.DirectionShort {
		return database.EventCloseShort
	}
	return database.EventCloseLong
}

func oppositeDirection(direction database.Direction) database.Direction {
	switch direction {
	case database.DirectionLong:
		return database.DirectionShort
	case database.DirectionShort:
		return database.DirectionLong
	default:
		return database.DirectionNeutral
	}
}

func eventTimestamp(e *database.Event) time.Time {
	if e.EventTime != nil {
		return *e.EventTime
	}
	return e.FetchedAt
}

// inCooldown reports whether the most recent AUTO position opened for this
// symbol is within cooldownMinutes of now (spec.md §4.14, step 5).
func (e *Engine) inCooldown(ctx context.Context, rule *database.AutoTriggerRule, symbol string, now time.Time) (bool, error) {
	latest, err := e.repo.LatestPositionForSymbol(ctx, rule.PortfolioID, symbol, database.SourceAuto)
	if err != nil {
		if err == database.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return now.Sub(latest.OpenedAt) < time.Duration(rule.CooldownMinutes)*time.Minute, nil
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
