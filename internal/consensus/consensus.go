// Package consensus computes per-symbol weighted sentiment, direction, and
// confidence from currently-open trader positions (spec.md §4.9).
package consensus

import (
	"context"
	"math"
	"time"

	"golang.org/x/sync/singleflight"

	"copytrade-signals/internal/database"
	"copytrade-signals/internal/derive"
)

const sentimentEpsilon = 1e-9

// Contribution is one trader's open position in a symbol, carrying its
// derivation weight (C6).
type Contribution struct {
	TraderID  string
	Direction database.Direction
	Weight    float64
	Leverage  *float64
}

// SymbolConsensus is the C10 output for one symbol.
type SymbolConsensus struct {
	Symbol             string
	LongWeight         float64
	ShortWeight        float64
	SumWeights         float64
	SentimentScore     float64
	TotalTraders       int
	TraderCoverage     float64
	WeightCoverage     float64
	ConfidenceScore    float64
	ConsensusDirection database.Direction
	Contributions      []Contribution
}

// Compute implements the exact C10 formula over one symbol's contributions.
func Compute(symbol string, contributions []Contribution) SymbolConsensus {
	sc := SymbolConsensus{Symbol: symbol, Contributions: contributions, TotalTraders: len(contributions)}

	for _, c := range contributions {
		switch c.Direction {
		case database.DirectionLong:
			sc.LongWeight += c.Weight
		case database.DirectionShort:
			sc.ShortWeight += c.Weight
		}
	}
	sc.SumWeights = sc.LongWeight + sc.ShortWeight

	denom := sc.SumWeights
	if denom < sentimentEpsilon {
		denom = sentimentEpsilon
	}
	if sc.SumWeights == 0 {
		sc.SentimentScore = 0
	} else {
		sc.SentimentScore = (sc.LongWeight - sc.ShortWeight) / denom
	}

	sc.TraderCoverage = math.Min(float64(sc.TotalTraders)/3, 1)
	sc.WeightCoverage = math.Min(sc.SumWeights/0.5, 1)
	sc.ConfidenceScore = math.Round(math.Abs(sc.SentimentScore) * sc.TraderCoverage * sc.WeightCoverage * 100)

	switch {
	case sc.SentimentScore > 0.05:
		sc.ConsensusDirection = database.DirectionLong
	case sc.SentimentScore < -0.05:
		sc.ConsensusDirection = database.DirectionShort
	default:
		sc.ConsensusDirection = database.DirectionNeutral
	}

	return sc
}

// Service gathers live contributions from the database and computes
// consensus on demand (§3: "consensus is computed on demand"). Concurrent
// ComputeSymbol calls for the same symbol are collapsed by recomputeGroup;
// ComputeAll and ComputeAllFiltered are not deduplicated.
type Service struct {
	repo           *database.Repository
	recomputeGroup singleflight.Group
}

// NewService builds a consensus service.
func NewService(repo *database.Repository) *Service {
	return &Service{repo: repo}
}

// ComputeAll gathers contributions for every symbol currently open across
// all traders and computes consensus for each.
func (s *Service) ComputeAll(ctx context.Context) (map[string]SymbolConsensus, error) {
	bySymbol, err := s.gatherContributions(ctx, "both", time.Time{})
	if err != nil {
		return nil, err
	}
	out := make(map[string]SymbolConsensus, len(bySymbol))
	for symbol, contributions := range bySymbol {
		out[symbol] = Compute(symbol, contributions)
	}
	return out, nil
}

// ComputeSymbol computes consensus for a single symbol. Concurrent callers
// for the same symbol share one in-flight computation.
func (s *Service) ComputeSymbol(ctx context.Context, symbol string) (SymbolConsensus, error) {
	v, err, _ := s.recomputeGroup.Do(symbol, func() (interface{}, error) {
		bySymbol, err := s.gatherContributions(ctx, "both", time.Time{})
		if err != nil {
			return SymbolConsensus{}, err
		}
		return Compute(symbol, bySymbol[symbol]), nil
	})
	if err != nil {
		return SymbolConsensus{}, err
	}
	return v.(SymbolConsensus), nil
}

// ComputeAllFiltered is ComputeAll restricted to traders matching
// segmentFilter ("visible", "hidden", or "both") and, for hidden traders'
// reconstructed positions, to those opened at or after openedSince. Used by
// the auto-trigger engine to honor its configured {segmentFilter, timeRange}
// (spec.md §4.14). A live trader's currently-open position has no reliable
// open timestamp in the upstream snapshot, so the time bound only narrows
// hidden-trader reconstructions; visible positions are always current.
func (s *Service) ComputeAllFiltered(ctx context.Context, segmentFilter string, openedSince time.Time) (map[string]SymbolConsensus, error) {
	bySymbol, err := s.gatherContributions(ctx, segmentFilter, openedSince)
	if err != nil {
		return nil, err
	}
	out := make(map[string]SymbolConsensus, len(bySymbol))
	for symbol, contributions := range bySymbol {
		out[symbol] = Compute(symbol, contributions)
	}
	return out, nil
}

// gatherContributions combines visible traders' live positions with hidden
// traders' reconstructed PositionState rows, weighted by TraderScore
// (spec.md "Flow": "C10 combines visible positions and C8 reconstructions,
// weighted by C6"). A trader contributes at most once per symbol.
// segmentFilter restricts which traders are scanned: "visible" skips hidden
// traders, "hidden" skips visible/unknown traders, "both" (or empty) scans
// everyone. openedSince, when non-zero, drops hidden-trader reconstructions
// whose EstimatedOpenTime predates it.
func (s *Service) gatherContributions(ctx context.Context, segmentFilter string, openedSince time.Time) (map[string][]Contribution, error) {
	traders, err := s.repo.ListTraders(ctx, "")
	if err != nil {
		return nil, err
	}

	scores, err := s.repo.AllTraderScores(ctx)
	if err != nil {
		return nil, err
	}
	weightByTrader := make(map[string]float64, len(scores))
	for _, sc := range scores {
		weightByTrader[sc.TraderID] = sc.TraderWeight
	}

	result := make(map[string][]Contribution)
	seen := make(map[string]map[string]bool)

	addContribution := func(symbol, traderID string, direction database.Direction, leverage *float64) {
		if direction == database.DirectionNeutral {
			return
		}
		if seen[symbol] == nil {
			seen[symbol] = make(map[string]bool)
		}
		if seen[symbol][traderID] {
			return
		}
		seen[symbol][traderID] = true
		result[symbol] = append(result[symbol], Contribution{
			TraderID:  traderID,
			Direction: direction,
			Weight:    weightByTrader[traderID],
			Leverage:  leverage,
		})
	}

	for _, trader := range traders {
		if trader.Segment == database.SegmentHidden {
			if segmentFilter == "visible" {
				continue
			}
			states, err := s.repo.ActivePositionStatesForTrader(ctx, trader.ID)
			if err != nil {
				return nil, err
			}
			for _, ps := range states {
				if !openedSince.IsZero() && ps.EstimatedOpenTime.Before(openedSince) {
					continue
				}
				addContribution(ps.Symbol, trader.ID, ps.Direction, ps.Leverage)
			}
			continue
		}
		if segmentFilter == "hidden" {
			continue
		}

		ingest, err := s.repo.LatestRawIngest(ctx, trader.ID)
		if err != nil {
			if err == database.ErrNotFound {
				continue
			}
			return nil, err
		}
		rawPositions, _ := ingest.Payload["activePositions"].([]interface{})
		for _, p := range derive.DecodePositions(rawPositions) {
			direction := derive.LiveDirection(p)
			var leverage *float64
			if p.Leverage > 0 {
				lv := p.Leverage
				leverage = &lv
			}
			addContribution(p.Symbol, trader.ID, direction, leverage)
		}
	}

	return result, nil
}
