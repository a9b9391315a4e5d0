package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection pool, following the teacher's
// pgxpool tuning (25 max / 5 min conns, hourly recycle).
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Info().Str("database", cfg.Database).Msg("connected to postgres")

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Info().Msg("database connection closed")
	}
}

// RunMigrations creates the schema described in spec.md §3. Every table is
// created idempotently so this is safe to run on every process start.
func (db *DB) RunMigrations(ctx context.Context) error {
	log.Info().Msg("running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS traders (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT '',
			segment TEXT NOT NULL DEFAULT 'unknown',
			position_show BOOLEAN,
			position_show_changed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_traders_segment ON traders(segment)`,

		`CREATE TABLE IF NOT EXISTS raw_ingests (
			id BIGSERIAL PRIMARY KEY,
			trader_id TEXT NOT NULL REFERENCES traders(id) ON DELETE CASCADE,
			fetched_at TIMESTAMPTZ NOT NULL,
			time_range TEXT,
			start_time TIMESTAMPTZ,
			end_time TIMESTAMPTZ,
			payload JSONB NOT NULL,
			positions_count INT NOT NULL DEFAULT 0,
			orders_count INT NOT NULL DEFAULT 0,
			parity_pass BOOLEAN,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_raw_ingests_trader_fetched ON raw_ingests(trader_id, fetched_at DESC)`,

		`CREATE TABLE IF NOT EXISTS events (
			id BIGSERIAL PRIMARY KEY,
			trader_id TEXT NOT NULL REFERENCES traders(id) ON DELETE CASCADE,
			symbol TEXT NOT NULL,
			kind TEXT NOT NULL,
			event_time TIMESTAMPTZ,
			fetched_at TIMESTAMPTZ NOT NULL,
			price DOUBLE PRECISION NOT NULL DEFAULT 0,
			amount DOUBLE PRECISION NOT NULL DEFAULT 0,
			realized_pnl DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_symbol_time ON events(symbol, event_time, fetched_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_trader_time ON events(trader_id, event_time, fetched_at)`,

		`CREATE TABLE IF NOT EXISTS position_states (
			id BIGSERIAL PRIMARY KEY,
			trader_id TEXT NOT NULL REFERENCES traders(id) ON DELETE CASCADE,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			status TEXT NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			leverage DOUBLE PRECISION,
			first_seen_at TIMESTAMPTZ NOT NULL,
			last_seen_at TIMESTAMPTZ NOT NULL,
			estimated_open_time TIMESTAMPTZ NOT NULL,
			disappeared_at TIMESTAMPTZ,
			estimated_close_time TIMESTAMPTZ,
			opening_event_id BIGINT REFERENCES events(id) ON DELETE SET NULL,
			reconstruction_confidence DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		// at most one active row per (trader,symbol,direction) — spec.md §3 invariant
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_position_states_active_unique
			ON position_states(trader_id, symbol, direction) WHERE status = 'active'`,
		`CREATE INDEX IF NOT EXISTS idx_position_states_symbol ON position_states(symbol, status)`,

		`CREATE TABLE IF NOT EXISTS trader_scores (
			trader_id TEXT PRIMARY KEY REFERENCES traders(id) ON DELETE CASCADE,
			score_30d DOUBLE PRECISION NOT NULL DEFAULT 0,
			quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			confidence TEXT NOT NULL DEFAULT 'low',
			win_rate DOUBLE PRECISION,
			sample_size INT NOT NULL DEFAULT 0,
			trader_weight DOUBLE PRECISION NOT NULL DEFAULT 0,
			avg_leverage DOUBLE PRECISION,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS symbol_aggregations (
			symbol TEXT PRIMARY KEY,
			open_long_count INT NOT NULL DEFAULT 0,
			open_short_count INT NOT NULL DEFAULT 0,
			total_opens INT NOT NULL DEFAULT 0,
			latest_event_id BIGINT REFERENCES events(id) ON DELETE SET NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS portfolios (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			initial_balance DOUBLE PRECISION NOT NULL,
			current_balance DOUBLE PRECISION NOT NULL,
			kelly_fraction DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			min_sample_size INT NOT NULL DEFAULT 20,
			max_risk_per_trade DOUBLE PRECISION NOT NULL DEFAULT 0.02,
			max_portfolio_risk DOUBLE PRECISION NOT NULL DEFAULT 0.2,
			max_open_positions INT NOT NULL DEFAULT 10,
			default_slippage_bps DOUBLE PRECISION NOT NULL DEFAULT 5,
			default_commission_bps DOUBLE PRECISION NOT NULL DEFAULT 4,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS simulated_positions (
			id BIGSERIAL PRIMARY KEY,
			portfolio_id TEXT NOT NULL REFERENCES portfolios(id) ON DELETE CASCADE,
			platform TEXT NOT NULL DEFAULT 'binance',
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			status TEXT NOT NULL,
			leverage DOUBLE PRECISION NOT NULL,
			margin_notional DOUBLE PRECISION NOT NULL,
			position_notional DOUBLE PRECISION NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			effective_entry_price DOUBLE PRECISION NOT NULL,
			exit_price DOUBLE PRECISION,
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ,
			close_reason TEXT,
			close_trigger_trader_id TEXT,
			close_trigger_event_kind TEXT,
			pnl_usdt DOUBLE PRECISION,
			roi_pct DOUBLE PRECISION,
			stop_loss_price DOUBLE PRECISION,
			take_profit_price DOUBLE PRECISION,
			trailing_stop_pct DOUBLE PRECISION,
			slippage_bps DOUBLE PRECISION NOT NULL DEFAULT 0,
			commission_bps DOUBLE PRECISION NOT NULL DEFAULT 0,
			source TEXT NOT NULL DEFAULT 'manual',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sim_positions_portfolio_status ON simulated_positions(portfolio_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_sim_positions_symbol_status ON simulated_positions(symbol, status, source)`,

		`CREATE TABLE IF NOT EXISTS auto_trigger_rules (
			id TEXT PRIMARY KEY,
			enabled BOOLEAN NOT NULL DEFAULT FALSE,
			segment_filter TEXT NOT NULL DEFAULT 'both',
			time_range TEXT NOT NULL DEFAULT '24h',
			min_traders INT NOT NULL DEFAULT 3,
			min_confidence DOUBLE PRECISION NOT NULL DEFAULT 60,
			min_sentiment_abs DOUBLE PRECISION NOT NULL DEFAULT 40,
			leverage DOUBLE PRECISION NOT NULL DEFAULT 5,
			margin_notional DOUBLE PRECISION NOT NULL DEFAULT 100,
			cooldown_minutes INT NOT NULL DEFAULT 60,
			portfolio_id TEXT NOT NULL DEFAULT 'default',
			last_run_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS insights_rules (
			id TEXT PRIMARY KEY,
			default_mode TEXT NOT NULL DEFAULT 'balanced',
			presets JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS backtest_runs (
			id BIGSERIAL PRIMARY KEY,
			symbol TEXT NOT NULL,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ NOT NULL,
			params JSONB NOT NULL,
			result JSONB NOT NULL,
			analytics JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_backtest_runs_symbol ON backtest_runs(symbol, created_at DESC)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Info().Msg("database migrations completed")
	return nil
}

// HealthCheck performs a database health check.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
