// Package simulation implements the paper-trading position store: open,
// close, reconcile, and portfolio accounting (spec.md §4.12-4.13).
package simulation

import (
	"context"
	"sort"
	"time"

	"copytrade-signals/internal/database"
	"copytrade-signals/internal/derive"
)

const maxReferenceSnapshots = 60

// ReferencePrice resolves a symbol's current reference price by averaging
// up to the 60 most recent position snapshots across all traders
// (preferring markPrice, else entryPrice; both must be positive), falling
// back to the latest Event with a positive price. Returns false when
// neither source yields a price (spec.md §4.13).
func ReferencePrice(ctx context.Context, repo *database.Repository, symbol string) (float64, bool, error) {
	price, ok, err := snapshotAveragePrice(ctx, repo, symbol)
	if err != nil {
		return 0, false, err
	}
	if ok {
		return price, true, nil
	}

	events, err := repo.AllEventsSince(ctx, time.Time{})
	if err != nil {
		return 0, false, err
	}
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.Symbol == symbol && e.Price > 0 {
			return e.Price, true, nil
		}
	}
	return 0, false, nil
}

func snapshotAveragePrice(ctx context.Context, repo *database.Repository, symbol string) (float64, bool, error) {
	ingests, err := repo.LatestRawIngestPerTrader(ctx)
	if err != nil {
		return 0, false, err
	}
	sort.Slice(ingests, func(i, j int) bool { return ingests[i].FetchedAt.After(ingests[j].FetchedAt) })

	var sum float64
	var count int
	for _, ingest := range ingests {
		if count >= maxReferenceSnapshots {
			break
		}
		rawPositions, _ := ingest.Payload["activePositions"].([]interface{})
		for _, p := range derive.DecodePositions(rawPositions) {
			if p.Symbol != symbol {
				continue
			}
			var price float64
			switch {
			case p.MarkPrice > 0:
				price = p.MarkPrice
			case p.EntryPrice > 0:
				price = p.EntryPrice
			default:
				continue
			}
			sum += price
			count++
			if count >= maxReferenceSnapshots {
				break
			}
		}
	}

	if count == 0 {
		return 0, false, nil
	}
	return sum / float64(count), true, nil
}

