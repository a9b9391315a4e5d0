package derive

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"copytrade-signals/internal/database"
)

// Reconstructor rebuilds per-trader (symbol,direction) open/close lifecycle
// state, either from live position snapshots (visible traders) or by
// replaying order history through the same state machine (hidden traders,
// spec.md §4.7).
type Reconstructor struct {
	repo   *database.Repository
	logger zerolog.Logger
}

// NewReconstructor builds a position-state reconstructor.
func NewReconstructor(repo *database.Repository, logger zerolog.Logger) *Reconstructor {
	return &Reconstructor{repo: repo, logger: logger}
}

func directionOf(kind database.EventKind) database.Direction {
	switch kind {
	case database.EventOpenLong, database.EventCloseLong:
		return database.DirectionLong
	case database.EventOpenShort, database.EventCloseShort:
		return database.DirectionShort
	default:
		return database.DirectionNeutral
	}
}

func isOpenKind(kind database.EventKind) bool {
	return kind == database.EventOpenLong || kind == database.EventOpenShort
}

// ApplyEvent advances the state machine for one normalized event in
// time order (spec.md §4.7): opens create or refresh the active row, closes
// terminate it. A close with no matching active row is logged and dropped;
// it must never revive a closed row.
func (r *Reconstructor) ApplyEvent(ctx context.Context, event *database.Event) error {
	direction := directionOf(event.Kind)
	if direction == database.DirectionNeutral {
		return nil
	}

	eventTime := event.FetchedAt
	if event.EventTime != nil {
		eventTime = *event.EventTime
	}

	active, err := r.repo.ActivePositionState(ctx, event.TraderID, event.Symbol, direction)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return err
	}

	if isOpenKind(event.Kind) {
		if active != nil {
			active.Amount = event.Amount
			active.LastSeenAt = eventTime
			return r.repo.UpsertPositionState(ctx, active)
		}
		var openingEventID *int64
		if event.ID != 0 {
			id := event.ID
			openingEventID = &id
		}
		ps := &database.PositionState{
			TraderID:          event.TraderID,
			Symbol:            event.Symbol,
			Direction:         direction,
			EntryPrice:        event.Price,
			Amount:            event.Amount,
			FirstSeenAt:       eventTime,
			LastSeenAt:        eventTime,
			EstimatedOpenTime: eventTime,
			OpeningEventID:    openingEventID,
		}
		return r.repo.UpsertPositionState(ctx, ps)
	}

	// Close event.
	if active == nil {
		r.logger.Warn().
			Str("traderId", event.TraderID).
			Str("symbol", event.Symbol).
			Str("direction", string(direction)).
			Msg("position state: close event with no active row")
		return nil
	}

	estimatedClose := midpoint(active.LastSeenAt, eventTime)
	return r.repo.CloseActivePositionState(ctx, active.ID, eventTime, estimatedClose)
}

// ObserveLivePositions reconciles a trader's currently-visible positions
// against reconstructed state: refreshes lastSeenAt for positions still
// present, creates an active row for positions seen for the first time
// without a matching open event, and closes rows for positions that have
// disappeared since the previous snapshot.
func (r *Reconstructor) ObserveLivePositions(ctx context.Context, traderID string, positions []database.LivePosition, observedAt time.Time) error {
	seen := make(map[string]bool, len(positions))

	for _, p := range positions {
		direction := LiveDirection(p)
		if direction == database.DirectionNeutral {
			continue
		}
		key := p.Symbol + "|" + string(direction)
		seen[key] = true

		active, err := r.repo.ActivePositionState(ctx, traderID, p.Symbol, direction)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return err
		}

		var leverage *float64
		if p.Leverage > 0 {
			lv := p.Leverage
			leverage = &lv
		}

		if active == nil {
			ps := &database.PositionState{
				TraderID:          traderID,
				Symbol:            p.Symbol,
				Direction:         direction,
				EntryPrice:        p.EntryPrice,
				Amount:            p.Amount,
				Leverage:          leverage,
				FirstSeenAt:       observedAt,
				LastSeenAt:        observedAt,
				EstimatedOpenTime: observedAt,
			}
			if err := r.repo.UpsertPositionState(ctx, ps); err != nil {
				return err
			}
			continue
		}

		active.Leverage = leverage
		active.LastSeenAt = observedAt
		if err := r.repo.UpsertPositionState(ctx, active); err != nil {
			return err
		}
	}

	active, err := r.repo.ActivePositionStatesForTrader(ctx, traderID)
	if err != nil {
		return err
	}
	for _, ps := range active {
		key := ps.Symbol + "|" + string(ps.Direction)
		if seen[key] {
			continue
		}
		estimatedClose := midpoint(ps.LastSeenAt, observedAt)
		if err := r.repo.CloseActivePositionState(ctx, ps.ID, observedAt, estimatedClose); err != nil {
			return err
		}
	}
	return nil
}

// LiveDirection infers a long/short direction from a live position,
// falling back to the signed amount when positionSide is "both".
func LiveDirection(p database.LivePosition) database.Direction {
	switch p.Side {
	case database.PositionSideLong:
		return database.DirectionLong
	case database.PositionSideShort:
		return database.DirectionShort
	default:
		if p.Amount > 0 {
			return database.DirectionLong
		}
		if p.Amount < 0 {
			return database.DirectionShort
		}
		return database.DirectionNeutral
	}
}

func midpoint(a, b time.Time) time.Time {
	if b.Before(a) {
		a, b = b, a
	}
	return a.Add(b.Sub(a) / 2)
}

type replayTally struct {
	supportingOpens    int
	contradictingOpens int
	unmatchedCloses    int
	lastWasOpen        bool
	lastEventTime      time.Time
}

// ReplayOrdersFallback rebuilds state for a trader whose live positions are
// never visible by replaying its normalized order events through the same
// open/close machine, then assigns each surviving active row a heuristic
// reconstruction confidence (spec.md §4.7).
func (r *Reconstructor) ReplayOrdersFallback(ctx context.Context, traderID string, events []database.Event, now time.Time) error {
	tallies := make(map[string]*replayTally)

	for i := range events {
		event := &events[i]
		direction := directionOf(event.Kind)
		if direction == database.DirectionNeutral {
			continue
		}
		key := event.Symbol + "|" + string(direction)
		oppositeKey := event.Symbol + "|" + string(oppositeDirection(direction))

		tally := tallies[key]
		if tally == nil {
			tally = &replayTally{}
			tallies[key] = tally
		}

		eventTime := event.FetchedAt
		if event.EventTime != nil {
			eventTime = *event.EventTime
		}

		if isOpenKind(event.Kind) {
			existing, err := r.repo.ActivePositionState(ctx, traderID, event.Symbol, direction)
			if err != nil && !errors.Is(err, database.ErrNotFound) {
				return err
			}
			if existing != nil {
				tally.supportingOpens++
			}
			if opp := tallies[oppositeKey]; opp != nil {
				oppActive, err := r.repo.ActivePositionState(ctx, traderID, event.Symbol, oppositeDirection(direction))
				if err != nil && !errors.Is(err, database.ErrNotFound) {
					return err
				}
				if oppActive != nil {
					tally.contradictingOpens++
				}
			}
			tally.lastWasOpen = true
		} else {
			existing, err := r.repo.ActivePositionState(ctx, traderID, event.Symbol, direction)
			if err != nil && !errors.Is(err, database.ErrNotFound) {
				return err
			}
			if existing == nil {
				tally.unmatchedCloses++
			}
			tally.lastWasOpen = false
		}
		tally.lastEventTime = eventTime

		if err := r.ApplyEvent(ctx, event); err != nil {
			return err
		}
	}

	active, err := r.repo.ActivePositionStatesForTrader(ctx, traderID)
	if err != nil {
		return err
	}
	for _, ps := range active {
		key := ps.Symbol + "|" + string(ps.Direction)
		tally := tallies[key]
		if tally == nil {
			continue
		}
		confidence := heuristicConfidence(tally, now)
		ps.ReconstructionConfidence = &confidence
		if err := r.repo.UpsertPositionState(ctx, ps); err != nil {
			return err
		}
	}
	return nil
}

func oppositeDirection(d database.Direction) database.Direction {
	if d == database.DirectionLong {
		return database.DirectionShort
	}
	return database.DirectionLong
}

func heuristicConfidence(t *replayTally, now time.Time) float64 {
	confidence := 0.55

	supporting := t.supportingOpens
	if supporting > 3 {
		supporting = 3
	}
	confidence += 0.08 * float64(supporting)

	contradicting := t.contradictingOpens
	if contradicting > 2 {
		contradicting = 2
	}
	confidence -= 0.12 * float64(contradicting)

	unmatched := t.unmatchedCloses
	if unmatched > 2 {
		unmatched = 2
	}
	confidence -= 0.10 * float64(unmatched)

	if t.lastWasOpen {
		confidence += 0.08
	}

	age := now.Sub(t.lastEventTime)
	switch {
	case age <= time.Hour:
		confidence += 0.12
	case age <= 24*time.Hour:
		confidence += 0.06
	case age > 7*24*time.Hour:
		confidence -= 0.10
	}

	return clamp(confidence, 0.2, 0.95)
}
