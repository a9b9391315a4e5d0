// Command rebuild replays a trader's persisted order history back through
// the event log and position-state reconstructor, for use after a bug fix
// to the normalization or state-machine logic (spec.md §4.7-4.8).
//
// Usage: rebuild [traderId]
//
// With no argument, rebuilds every known trader (spec.md §9 "Rebuildable
// derived state" expects a rebuild operation over all traders).
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"copytrade-signals/internal/config"
	"copytrade-signals/internal/database"
	"copytrade-signals/internal/derive"
	"copytrade-signals/internal/eventlog"
	"copytrade-signals/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := logging.Init(cfg.Logging.Level, cfg.Logging.JSONFormat)
	logger = logging.Component(logger, "rebuild")

	db, err := database.NewDB(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("rebuild: database connect failed")
	}
	defer db.Close()

	repo := database.NewRepository(db)
	eventLogService := eventlog.NewService(repo)
	reconstructor := derive.NewReconstructor(repo, logger)

	ctx := context.Background()

	var traderIDs []string
	if len(os.Args) > 1 {
		traderIDs = []string{os.Args[1]}
	} else {
		traders, err := repo.ListTraders(ctx, "")
		if err != nil {
			logger.Fatal().Err(err).Msg("rebuild: list traders failed")
		}
		for _, t := range traders {
			traderIDs = append(traderIDs, t.ID)
		}
		logger.Info().Int("traders", len(traderIDs)).Msg("rebuild: rebuilding all traders")
	}

	for _, traderID := range traderIDs {
		if err := rebuildTrader(ctx, repo, eventLogService, reconstructor, traderID); err != nil {
			logger.Error().Str("traderId", traderID).Err(err).Msg("rebuild: trader failed")
			continue
		}
		logger.Info().Str("traderId", traderID).Msg("rebuild: trader complete")
	}
}

func rebuildTrader(
	ctx context.Context,
	repo *database.Repository,
	eventLogService *eventlog.Service,
	reconstructor *derive.Reconstructor,
	traderID string,
) error {
	latest, err := repo.LatestRawIngest(ctx, traderID)
	if err != nil {
		return fmt.Errorf("load latest raw ingest: %w", err)
	}

	orders := extractOrders(latest.Payload)
	decoded := database.DecodeOrders(orders)

	if err := eventLogService.RebuildForTrader(ctx, traderID, decoded, latest.FetchedAt); err != nil {
		return fmt.Errorf("rebuild event log: %w", err)
	}

	if err := repo.DeletePositionStatesForTrader(ctx, traderID); err != nil {
		return fmt.Errorf("clear position states: %w", err)
	}

	events, err := repo.EventsForTrader(ctx, traderID)
	if err != nil {
		return fmt.Errorf("load rebuilt events: %w", err)
	}
	values := make([]database.Event, len(events))
	for i, e := range events {
		values[i] = *e
	}

	if err := reconstructor.ReplayOrdersFallback(ctx, traderID, values, time.Now().UTC()); err != nil {
		return fmt.Errorf("replay position state: %w", err)
	}
	return nil
}

// extractOrders pulls orderHistory.allOrders back out of a raw ingest's
// stored JSONB payload.
func extractOrders(payload map[string]any) []interface{} {
	orderHistory, ok := payload["orderHistory"].(map[string]interface{})
	if !ok {
		return nil
	}
	orders, _ := orderHistory["allOrders"].([]interface{})
	return orders
}
