// Command scraper polls every known trader's upstream snapshot on an
// interval and drives the fetch-to-consensus pipeline (spec.md §4).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"copytrade-signals/internal/cache"
	"copytrade-signals/internal/config"
	"copytrade-signals/internal/consensus"
	"copytrade-signals/internal/database"
	"copytrade-signals/internal/derive"
	"copytrade-signals/internal/events"
	"copytrade-signals/internal/eventlog"
	"copytrade-signals/internal/ingest"
	"copytrade-signals/internal/logging"
	"copytrade-signals/internal/pipeline"
	"copytrade-signals/internal/scraper"
	"copytrade-signals/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.Init(cfg.Logging.Level, cfg.Logging.JSONFormat)
	logger = logging.Component(logger, "scraper")

	if !cfg.Scraper.Enabled {
		logger.Info().Msg("scraper: disabled, exiting")
		return
	}

	bus := events.NewEventBus()

	db, err := database.NewDB(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("scraper: database connect failed")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.RunMigrations(ctx); err != nil {
		cancel()
		logger.Fatal().Err(err).Msg("scraper: migrations failed")
	}
	cancel()

	repo := database.NewRepository(db)

	var cacheService *cache.CacheService
	if cfg.Redis.Enabled {
		cacheService, err = cache.NewCacheService(cache.Config{
			Enabled:  cfg.Redis.Enabled,
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("scraper: cache connect failed")
		}
		defer cacheService.Close()
	}

	upstreamClient := upstream.NewClient(upstream.Config{
		BaseURL:        cfg.Upstream.BaseURL,
		RequestTimeout: cfg.Upstream.RequestTimeout,
		DefaultRange:   cfg.Upstream.DefaultRange,
	})

	orchestrator := scraper.NewOrchestrator(upstreamClient, logger)
	ingestService := ingest.NewService(repo, bus, logger)
	eventLogService := eventlog.NewService(repo)
	reconstructor := derive.NewReconstructor(repo, logger)
	consensusService := consensus.NewService(repo)

	pipelineService := pipeline.NewService(
		repo, orchestrator, ingestService, eventLogService, reconstructor,
		consensusService, cacheService, bus, logger,
	)

	fetchOpts := upstream.FetchOptions{TimeRange: cfg.Upstream.DefaultRange}
	scraperCfg := scraper.Config{
		Concurrency:     cfg.Scraper.ConcurrencyWindow,
		InterBatchPause: cfg.Scraper.InterBatchPause,
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info().Msg("scraper: shutting down")
		runCancel()
	}()

	runOnce(runCtx, repo, pipelineService, fetchOpts, scraperCfg, logger)

	ticker := time.NewTicker(cfg.Scraper.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			return
		case <-ticker.C:
			runOnce(runCtx, repo, pipelineService, fetchOpts, scraperCfg, logger)
		}
	}
}

func runOnce(
	ctx context.Context,
	repo *database.Repository,
	pipelineService *pipeline.Service,
	fetchOpts upstream.FetchOptions,
	scraperCfg scraper.Config,
	logger zerolog.Logger,
) {
	traders, err := repo.ListTraders(ctx, "")
	if err != nil {
		logger.Error().Err(err).Msg("scraper: list traders failed")
		return
	}
	if len(traders) == 0 {
		return
	}

	traderIDs := make([]string, len(traders))
	for i, t := range traders {
		traderIDs[i] = t.ID
	}

	if err := pipelineService.RunCycle(ctx, traderIDs, fetchOpts, scraperCfg); err != nil {
		logger.Error().Err(err).Msg("scraper: cycle failed")
	}
}
