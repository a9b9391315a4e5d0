package derive

import (
	"context"
	"time"

	"copytrade-signals/internal/database"
)

// LeverageMethod labels which tier of the C7 priority chain produced an
// estimate.
type LeverageMethod string

const (
	LeverageMethodOwnHistory LeverageMethod = "own_history"
	LeverageMethodPeers      LeverageMethod = "peers"
	LeverageMethodDefault    LeverageMethod = "default"
)

const defaultLeverageEstimate = 10.0

// LeverageEstimate is the C7 result: always carries a value, a method, and a
// confidence bucket.
type LeverageEstimate struct {
	Value      float64
	Method     LeverageMethod
	Confidence database.Confidence
	SampleSize int
}

// EstimateLeverage implements the C7 priority chain for a hidden trader:
// own 7-day PositionSnapshot history, then peer traders within ±10 quality
// score over the last 7 days, then a conservative default (spec.md §4.6).
func EstimateLeverage(ctx context.Context, repo *database.Repository, traderID string, qualityScore float64, now time.Time) (LeverageEstimate, error) {
	own, err := ownHistoryLeverage(ctx, repo, traderID, now)
	if err != nil {
		return LeverageEstimate{}, err
	}
	if own.SampleSize > 0 {
		confidence := database.ConfidenceLow
		switch {
		case own.SampleSize >= 20:
			confidence = database.ConfidenceHigh
		case own.SampleSize >= 10:
			confidence = database.ConfidenceMedium
		}
		return LeverageEstimate{
			Value:      own.Mean,
			Method:     LeverageMethodOwnHistory,
			Confidence: confidence,
			SampleSize: own.SampleSize,
		}, nil
	}

	peers, err := peerLeverage(ctx, repo, traderID, qualityScore, now)
	if err != nil {
		return LeverageEstimate{}, err
	}
	if peers.SampleSize > 0 {
		confidence := database.ConfidenceLow
		if peers.SampleSize >= 50 {
			confidence = database.ConfidenceMedium
		}
		return LeverageEstimate{
			Value:      peers.Mean,
			Method:     LeverageMethodPeers,
			Confidence: confidence,
			SampleSize: peers.SampleSize,
		}, nil
	}

	return LeverageEstimate{
		Value:      defaultLeverageEstimate,
		Method:     LeverageMethodDefault,
		Confidence: database.ConfidenceLow,
	}, nil
}

type leverageSample struct {
	Mean       float64
	SampleSize int
}

// ownHistoryLeverage averages leverage>0 across the positions embedded in a
// trader's raw ingests over the trailing 7 days. Each ingest snapshot may
// contribute multiple positions; the spec names the source "PositionSnapshot
// leverages", which §3's data model folds into RawIngest.activePositions.
func ownHistoryLeverage(ctx context.Context, repo *database.Repository, traderID string, now time.Time) (leverageSample, error) {
	cutoff := now.Add(-7 * 24 * time.Hour)

	ingests, err := repo.ListRawIngests(ctx, traderID, 200)
	if err != nil {
		return leverageSample{}, err
	}

	var sum float64
	var count int
	for _, ingest := range ingests {
		if ingest.FetchedAt.Before(cutoff) {
			continue
		}
		rawPositions, _ := ingest.Payload["activePositions"].([]interface{})
		for _, p := range DecodePositions(rawPositions) {
			if p.Leverage > 0 {
				sum += p.Leverage
				count++
			}
		}
	}

	if count == 0 {
		return leverageSample{}, nil
	}
	return leverageSample{Mean: sum / float64(count), SampleSize: count}, nil
}

// peerLeverage averages the persisted average leverage of peer traders whose
// quality score falls within ±10 of the subject and whose score row was
// refreshed within the last 7 days.
func peerLeverage(ctx context.Context, repo *database.Repository, traderID string, qualityScore float64, now time.Time) (leverageSample, error) {
	cutoff := now.Add(-7 * 24 * time.Hour)

	scores, err := repo.AllTraderScores(ctx)
	if err != nil {
		return leverageSample{}, err
	}

	var sum float64
	var count int
	for _, s := range scores {
		if s.TraderID == traderID {
			continue
		}
		if s.AvgLeverage == nil {
			continue
		}
		if s.UpdatedAt.Before(cutoff) {
			continue
		}
		if diff := s.QualityScore - qualityScore; diff < -10 || diff > 10 {
			continue
		}
		sum += *s.AvgLeverage
		count++
	}

	if count == 0 {
		return leverageSample{}, nil
	}
	return leverageSample{Mean: sum / float64(count), SampleSize: count}, nil
}
