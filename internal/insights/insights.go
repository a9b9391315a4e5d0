// Package insights produces the anomaly, stability, risk, and leaderboard
// bundle consumed by the dashboard's risk views (spec.md §4.11).
package insights

import (
	"context"
	"math"
	"sort"
	"time"

	"copytrade-signals/internal/consensus"
	"copytrade-signals/internal/database"
)

// AnomalyType enumerates the C12 anomaly triggers.
type AnomalyType string

const (
	AnomalyCrowdedConsensus  AnomalyType = "CROWDED_CONSENSUS"
	AnomalyFragileConsensus  AnomalyType = "FRAGILE_CONSENSUS"
	AnomalyHighLeverage      AnomalyType = "HIGH_LEVERAGE"
	AnomalyExtremeLeverage   AnomalyType = "EXTREME_LEVERAGE"
	AnomalyUnstableDirection AnomalyType = "UNSTABLE_DIRECTION"
	AnomalyDirectionFlipCluster AnomalyType = "DIRECTION_FLIP_CLUSTER"
)

// Severity is the anomaly severity shown to operators.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// Anomaly is one detected condition for a symbol.
type Anomaly struct {
	Type     AnomalyType
	Symbol   string
	Severity Severity
}

// Stability is the per-symbol direction-flip tracking result.
type Stability struct {
	Symbol         string
	Flips          int
	Updates        int
	FlipRate       float64
	StabilityScore float64
}

// RiskOverview is the aggregate risk summary across all symbols.
type RiskOverview struct {
	CrowdedCount      int
	HighLeverageCount int
	UnstableCount     int
	LowConfidenceCount int
	HighSeverityAnomalyCount int
	Score             float64
	Level             string
}

// LeaderboardEntry is one trader's ranked score.
type LeaderboardEntry struct {
	TraderID string
	Score    float64
}

// Bundle is the full C12 output.
type Bundle struct {
	GeneratedAt  time.Time
	Mode         database.InsightsMode
	RiskOverview RiskOverview
	Anomalies    []Anomaly
	Stability    []Stability
	Leaderboard  []LeaderboardEntry
}

// Service computes the insights bundle from consensus, event history, and
// trader scores.
type Service struct {
	repo             *database.Repository
	consensusService *consensus.Service
}

// NewService builds an insights service.
func NewService(repo *database.Repository, consensusService *consensus.Service) *Service {
	return &Service{repo: repo, consensusService: consensusService}
}

// Generate produces the insights bundle for the given mode (spec.md §4.11).
func (s *Service) Generate(ctx context.Context, mode database.InsightsMode, now time.Time) (Bundle, error) {
	rule, err := s.repo.GetOrCreateInsightsRule(ctx)
	if err != nil {
		return Bundle{}, err
	}
	thresholds, ok := rule.Presets[mode]
	if !ok {
		thresholds = database.DefaultInsightsPresets()[database.InsightsBalanced]
	}

	consensusBySymbol, err := s.consensusService.ComputeAll(ctx)
	if err != nil {
		return Bundle{}, err
	}

	anomalies := s.detectAnomalies(consensusBySymbol, thresholds)

	stability, err := s.computeStability(ctx, consensusBySymbol, now)
	if err != nil {
		return Bundle{}, err
	}
	flipCounts := make(map[string]int, len(stability))
	for _, st := range stability {
		flipCounts[st.Symbol] = st.Flips
		anomalies = append(anomalies, flipAnomalies(st, thresholds)...)
	}
	anomalies = dedupeAnomalies(anomalies)

	risk := computeRiskOverview(anomalies, thresholds)

	leaderboard, err := s.leaderboard(ctx, consensusBySymbol)
	if err != nil {
		return Bundle{}, err
	}

	return Bundle{
		GeneratedAt:  now,
		Mode:         mode,
		RiskOverview: risk,
		Anomalies:    anomalies,
		Stability:    stability,
		Leaderboard:  leaderboard,
	}, nil
}

func (s *Service) detectAnomalies(bySymbol map[string]consensus.SymbolConsensus, t database.InsightsThresholds) []Anomaly {
	var out []Anomaly
	for symbol, sc := range bySymbol {
		if sc.TotalTraders >= t.CrowdedMinTraders &&
			sc.ConfidenceScore >= t.CrowdedMinConfidence &&
			math.Abs(sc.SentimentScore)*100 >= t.CrowdedMinSentimentAbs {
			out = append(out, Anomaly{Type: AnomalyCrowdedConsensus, Symbol: symbol, Severity: SeverityHigh})
		}
		if sc.TotalTraders >= t.CrowdedMinTraders && sc.ConfidenceScore < t.LowConfidenceLimit {
			out = append(out, Anomaly{Type: AnomalyFragileConsensus, Symbol: symbol, Severity: SeverityMedium})
		}
	}
	return out
}

// LeverageAnomalies checks a single position's leverage against the
// high/extreme thresholds. Generate does not call it, so the bundle carries
// no leverage anomalies and RiskOverview.HighLeverageCount stays zero.
func LeverageAnomalies(symbol string, leverage float64, t database.InsightsThresholds) []Anomaly {
	var out []Anomaly
	if leverage >= t.ExtremeLeverageThreshold {
		out = append(out, Anomaly{Type: AnomalyExtremeLeverage, Symbol: symbol, Severity: SeverityHigh})
	} else if leverage >= t.HighLeverageThreshold {
		out = append(out, Anomaly{Type: AnomalyHighLeverage, Symbol: symbol, Severity: SeverityMedium})
	}
	return out
}

func flipAnomalies(st Stability, t database.InsightsThresholds) []Anomaly {
	var out []Anomaly
	if st.Flips >= t.ClusterFlipThreshold {
		out = append(out, Anomaly{Type: AnomalyDirectionFlipCluster, Symbol: st.Symbol, Severity: SeverityHigh})
	} else if st.Flips >= t.UnstableFlipThreshold {
		out = append(out, Anomaly{Type: AnomalyUnstableDirection, Symbol: st.Symbol, Severity: SeverityMedium})
	}
	return out
}

// dedupeAnomalies keeps the higher severity for a duplicate (type,symbol)
// pair (spec.md §4.11).
func dedupeAnomalies(anomalies []Anomaly) []Anomaly {
	severityRank := map[Severity]int{SeverityMedium: 1, SeverityHigh: 2}
	best := make(map[[2]string]Anomaly)
	for _, a := range anomalies {
		key := [2]string{string(a.Type), a.Symbol}
		if existing, ok := best[key]; !ok || severityRank[a.Severity] > severityRank[existing.Severity] {
			best[key] = a
		}
	}
	out := make([]Anomaly, 0, len(best))
	for _, a := range best {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// computeStability replays each symbol's event log to count non-neutral
// direction flips (spec.md §4.11).
func (s *Service) computeStability(ctx context.Context, bySymbol map[string]consensus.SymbolConsensus, now time.Time) ([]Stability, error) {
	out := make([]Stability, 0, len(bySymbol))
	for symbol := range bySymbol {
		events, err := s.repo.EventsForSymbolSince(ctx, symbol, now.Add(-30*24*time.Hour))
		if err != nil {
			return nil, err
		}
		out = append(out, stabilityFromEvents(symbol, events))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func stabilityFromEvents(symbol string, events []*database.Event) Stability {
	var flips, updates int
	var lastDirection database.Direction

	for _, e := range events {
		direction := directionOfKind(e.Kind)
		if direction == database.DirectionNeutral {
			continue
		}
		if !isOpenKind(e.Kind) {
			continue
		}
		updates++
		if lastDirection != "" && direction != lastDirection {
			flips++
		}
		lastDirection = direction
	}

	denom := updates - 1
	if denom < 1 {
		denom = 1
	}
	flipRate := float64(flips) / float64(denom)
	stabilityScore := math.Max(0, math.Round((1-math.Min(1, flipRate*1.5))*100))

	return Stability{Symbol: symbol, Flips: flips, Updates: updates, FlipRate: flipRate, StabilityScore: stabilityScore}
}

func directionOfKind(kind database.EventKind) database.Direction {
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

func computeRiskOverview(anomalies []Anomaly, t database.InsightsThresholds) RiskOverview {
	overview := RiskOverview{}
	for _, a := range anomalies {
		switch a.Type {
		case AnomalyCrowdedConsensus:
			overview.CrowdedCount++
		case AnomalyHighLeverage, AnomalyExtremeLeverage:
			overview.HighLeverageCount++
		case AnomalyUnstableDirection, AnomalyDirectionFlipCluster:
			overview.UnstableCount++
		case AnomalyFragileConsensus:
			overview.LowConfidenceCount++
		}
		if a.Severity == SeverityHigh {
			overview.HighSeverityAnomalyCount++
		}
	}

	raw := float64(overview.CrowdedCount)*18 +
		float64(overview.HighLeverageCount)*16 +
		float64(overview.UnstableCount)*14 +
		float64(overview.LowConfidenceCount)*10 +
		float64(overview.HighSeverityAnomalyCount)*6
	overview.Score = math.Min(100, raw*t.ScoreMultiplier)

	switch {
	case overview.Score >= 70:
		overview.Level = "high"
	case overview.Score >= 40:
		overview.Level = "medium"
	default:
		overview.Level = "low"
	}

	return overview
}

// leaderboard implements the C12 per-trader score formula, ranked desc.
func (s *Service) leaderboard(ctx context.Context, bySymbol map[string]consensus.SymbolConsensus) ([]LeaderboardEntry, error) {
	scores, err := s.repo.AllTraderScores(ctx)
	if err != nil {
		return nil, err
	}

	activityBySymbol := make(map[string]int)
	for _, sc := range bySymbol {
		for _, c := range sc.Contributions {
			activityBySymbol[c.TraderID]++
		}
	}
	maxActivity := 0
	for _, n := range activityBySymbol {
		if n > maxActivity {
			maxActivity = n
		}
	}

	out := make([]LeaderboardEntry, 0, len(scores))
	for _, sc := range scores {
		qualityNorm := sc.QualityScore / 100
		winRateNorm := 0.0
		if sc.WinRate != nil {
			winRateNorm = *sc.WinRate
		}
		activityNorm := 0.0
		if maxActivity > 0 {
			activityNorm = float64(activityBySymbol[sc.TraderID]) / float64(maxActivity)
		}

		avgLev := 0.0
		if sc.AvgLeverage != nil {
			avgLev = *sc.AvgLeverage
		}
		penalty := leveragePenalty(avgLev)

		score := 100 * (0.45*sc.TraderWeight + 0.30*qualityNorm + 0.15*winRateNorm + 0.10*activityNorm) * (1 - penalty)
		out = append(out, LeaderboardEntry{TraderID: sc.TraderID, Score: score})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func leveragePenalty(avgLeverage float64) float64 {
	switch {
	case avgLeverage >= 75:
		return 0.15
	case avgLeverage >= 45:
		return 0.08
	case avgLeverage >= 25:
		return 0.04
	default:
		return 0
	}
}

// TopLeaderboard caps the leaderboard to the requested size, clamped to
// spec.md §4.11's [3,50] range.
func TopLeaderboard(entries []LeaderboardEntry, top int) []LeaderboardEntry {
	if top < 3 {
		top = 3
	}
	if top > 50 {
		top = 50
	}
	if top > len(entries) {
		top = len(entries)
	}
	return entries[:top]
}
