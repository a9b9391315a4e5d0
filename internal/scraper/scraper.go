// Package scraper fans the upstream client out over a trader list in
// concurrency-bounded batches (spec.md §4.2).
package scraper

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"copytrade-signals/internal/upstream"
)

const defaultInterBatchPause = 500 * time.Millisecond

// Result is one trader's outcome from a run, success or failure.
type Result struct {
	TraderID string
	Payload  *upstream.Payload
	Err      error
}

// Config tunes the orchestrator's concurrency window and pacing.
type Config struct {
	Concurrency     int
	InterBatchPause time.Duration
}

// Orchestrator drives batched fan-out over the upstream client.
type Orchestrator struct {
	client *upstream.Client
	logger zerolog.Logger
}

// NewOrchestrator builds a scraper bound to client.
func NewOrchestrator(client *upstream.Client, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{client: client, logger: logger}
}

// Run processes traderIDs in batches of cfg.Concurrency (default 5),
// pausing cfg.InterBatchPause (default 500ms) between batches. Every input
// id of a fetched batch appears exactly once in the output, in batch order;
// a per-trader failure is captured as a Result.Err without halting the run.
// If ctx is cancelled during a pause, the remaining batches are not fetched
// and their ids are absent from the output.
func (o *Orchestrator) Run(ctx context.Context, traderIDs []string, opts upstream.FetchOptions, cfg Config) []Result {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	pause := cfg.InterBatchPause
	if pause <= 0 {
		pause = defaultInterBatchPause
	}

	results := make([]Result, 0, len(traderIDs))

	for start := 0; start < len(traderIDs); start += concurrency {
		end := start + concurrency
		if end > len(traderIDs) {
			end = len(traderIDs)
		}
		batch := traderIDs[start:end]

		// Each fetch runs under its own errgroup member but never returns a
		// non-nil error to the group: one trader's failure must not cancel
		// the context shared by its batch siblings (spec.md §5).
		batchResults := make([]Result, len(batch))
		group, groupCtx := errgroup.WithContext(ctx)
		for i, traderID := range batch {
			i, traderID := i, traderID
			group.Go(func() error {
				batchResults[i] = o.fetchOne(groupCtx, traderID, opts)
				return nil
			})
		}
		_ = group.Wait()

		results = append(results, batchResults...)

		if end < len(traderIDs) {
			select {
			case <-ctx.Done():
				return results
			case <-time.After(pause):
			}
		}
	}

	return results
}

func (o *Orchestrator) fetchOne(ctx context.Context, traderID string, opts upstream.FetchOptions) (result Result) {
	result.TraderID = traderID
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().Str("traderId", traderID).Interface("panic", r).Msg("scraper: recovered from panic fetching trader")
			result.Err = errFetchPanicked
			result.Payload = nil
		}
	}()

	result.Payload = o.client.Fetch(ctx, traderID, opts)
	if result.Payload == nil {
		result.Err = errNilPayload
	}
	return result
}
