// Command server runs the HTTP API: signal feeds, simulation, and the
// admin-gated mutation surface (spec.md §6).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"copytrade-signals/internal/api"
	"copytrade-signals/internal/cache"
	"copytrade-signals/internal/config"
	"copytrade-signals/internal/database"
	"copytrade-signals/internal/events"
	"copytrade-signals/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.Init(cfg.Logging.Level, cfg.Logging.JSONFormat)
	logger = logging.Component(logger, "server")

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
		logger.Fatal().Err(err).Msg("server: database connect failed")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.RunMigrations(ctx); err != nil {
		cancel()
		logger.Fatal().Err(err).Msg("server: migrations failed")
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
			logger.Fatal().Err(err).Msg("server: cache connect failed")
		}
		defer cacheService.Close()
	}

	server := api.NewServer(cfg, repo, bus, cacheService, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("server: listen failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("server: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server: graceful shutdown failed")
	}
}
