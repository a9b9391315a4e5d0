// Package cache provides Redis-based caching and cross-process locking.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Config holds Redis configuration.
type Config struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	PoolSize int
}

// CacheService provides Redis-based caching with graceful degradation. When
// Redis is unavailable, operations return errors that callers should handle
// by falling back to a fresh database read.
type CacheService struct {
	client       *redis.Client
	config       Config
	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures     int
	checkInterval   time.Duration
	recoveryBackoff time.Duration
}

// Key prefixes for the cached response types.
const (
	PrefixHeatmap    = "signals:heatmap:%s"     // time range
	PrefixSymbol     = "signals:symbol:%s:%s"   // symbol, time range
	PrefixConsensus  = "consensus:%s"           // symbol
	PrefixAutoRunLK  = "lock:autotrigger:%s"    // rule id
	PrefixConsensusR = "lock:consensus:%s"      // symbol (singleflight-style recompute guard)
)

// Default TTLs for cached derived responses (spec.md §5: short-lived,
// recomputed well before a client could observe staleness past the
// 2s/10s SLOs).
const (
	HeatmapTTL   = 3 * time.Second
	SymbolTTL    = 3 * time.Second
	ConsensusTTL = 5 * time.Second
)

// NewCacheService creates a new CacheService and verifies connectivity. A
// failed initial ping returns the service in degraded mode rather than an
// error, mirroring the graceful-degradation posture callers rely on.
func NewCacheService(cfg Config) (*CacheService, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	cs := &CacheService{
		client:          client,
		config:          cfg,
		healthy:         false,
		maxFailures:     3,
		checkInterval:   30 * time.Second,
		recoveryBackoff: 5 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("initial redis connection failed, starting in degraded mode")
		return cs, nil
	}

	cs.healthy = true
	cs.lastCheck = time.Now()
	log.Info().Str("address", cfg.Address).Msg("redis connected")

	return cs, nil
}

// IsHealthy returns whether Redis is currently available.
func (cs *CacheService) IsHealthy() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.healthy
}

func (cs *CacheService) recordFailure() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.failureCount++
	if cs.failureCount >= cs.maxFailures {
		if cs.healthy {
			log.Warn().Int("failures", cs.failureCount).Msg("cache circuit breaker open")
		}
		cs.healthy = false
	}
}

func (cs *CacheService) recordSuccess() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.healthy {
		log.Info().Msg("cache circuit breaker closed, redis recovered")
	}
	cs.healthy = true
	cs.failureCount = 0
	cs.lastCheck = time.Now()
}

func (cs *CacheService) checkHealth(ctx context.Context) {
	cs.mu.RLock()
	shouldCheck := !cs.healthy && time.Since(cs.lastCheck) >= cs.checkInterval
	cs.mu.RUnlock()

	if !shouldCheck {
		return
	}

	go func() {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := cs.client.Ping(pingCtx).Err(); err == nil {
			cs.recordSuccess()
		}
	}()
}

// Get retrieves a value from cache.
func (cs *CacheService) Get(ctx context.Context, key string) (string, error) {
	cs.checkHealth(ctx)
	if !cs.IsHealthy() {
		return "", fmt.Errorf("redis unavailable (circuit breaker open)")
	}

	result, err := cs.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", err
		}
		cs.recordFailure()
		return "", fmt.Errorf("redis get failed: %w", err)
	}

	cs.recordSuccess()
	return result, nil
}

// Set stores a value in cache with TTL.
func (cs *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	cs.checkHealth(ctx)
	if !cs.IsHealthy() {
		return fmt.Errorf("redis unavailable (circuit breaker open)")
	}

	var data string
	switch v := value.(type) {
	case string:
		data = v
	case []byte:
		data = string(v)
	default:
		jsonData, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal value: %w", err)
		}
		data = string(jsonData)
	}

	if err := cs.client.Set(ctx, key, data, ttl).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis set failed: %w", err)
	}

	cs.recordSuccess()
	return nil
}

// Delete removes a key from cache.
func (cs *CacheService) Delete(ctx context.Context, key string) error {
	cs.checkHealth(ctx)
	if !cs.IsHealthy() {
		return fmt.Errorf("redis unavailable (circuit breaker open)")
	}

	if err := cs.client.Del(ctx, key).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis delete failed: %w", err)
	}

	cs.recordSuccess()
	return nil
}

// GetJSON retrieves and unmarshals a JSON value from cache.
func (cs *CacheService) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := cs.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return nil
}

// SetJSON marshals and stores a JSON value in cache.
func (cs *CacheService) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return cs.Set(ctx, key, value, ttl)
}

// AcquireLock attempts to take an exclusive, TTL-bounded lock using SETNX.
// Used by the auto-trigger engine (C14) to guarantee single-writer-per-rule
// execution across multiple API process instances.
func (cs *CacheService) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	cs.checkHealth(ctx)
	if !cs.IsHealthy() {
		return false, fmt.Errorf("redis unavailable (circuit breaker open)")
	}

	ok, err := cs.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		cs.recordFailure()
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}

	cs.recordSuccess()
	return ok, nil
}

// ReleaseLock drops a lock acquired via AcquireLock. Best-effort: a lock
// that outlives its TTL self-expires, so a failed release here is not fatal.
func (cs *CacheService) ReleaseLock(ctx context.Context, key string) error {
	return cs.Delete(ctx, key)
}

// Close closes the Redis connection.
func (cs *CacheService) Close() error {
	if cs.client != nil {
		return cs.client.Close()
	}
	return nil
}

// Ping checks Redis connectivity.
func (cs *CacheService) Ping(ctx context.Context) error {
	if err := cs.client.Ping(ctx).Err(); err != nil {
		cs.recordFailure()
		return err
	}
	cs.recordSuccess()
	return nil
}

// Stats reports cache health for the diagnostic endpoint.
type Stats struct {
	Healthy      bool   `json:"healthy"`
	FailureCount int    `json:"failureCount"`
	Address      string `json:"address"`
	PoolSize     int    `json:"poolSize"`
}

// GetStats returns current cache statistics.
func (cs *CacheService) GetStats() Stats {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	return Stats{
		Healthy:      cs.healthy,
		FailureCount: cs.failureCount,
		Address:      cs.config.Address,
		PoolSize:     cs.config.PoolSize,
	}
}

// HeatmapKey generates a cache key for a heatmap response.
func HeatmapKey(timeRange string) string {
	return fmt.Sprintf(PrefixHeatmap, timeRange)
}

// SymbolKey generates a cache key for a per-symbol signal response.
func SymbolKey(symbol, timeRange string) string {
	return fmt.Sprintf(PrefixSymbol, symbol, timeRange)
}

// ConsensusKey generates a cache key for a symbol's consensus snapshot.
func ConsensusKey(symbol string) string {
	return fmt.Sprintf(PrefixConsensus, symbol)
}

// AutoRunLockKey generates the per-rule lock key used by the auto-trigger
// engine to serialize concurrent runs (spec.md §5).
func AutoRunLockKey(ruleID string) string {
	return fmt.Sprintf(PrefixAutoRunLK, ruleID)
}

// ConsensusRecomputeLockKey generates a short-lived lock key guarding
// duplicate concurrent recomputes of the same symbol's consensus.
func ConsensusRecomputeLockKey(symbol string) string {
	return fmt.Sprintf(PrefixConsensusR, symbol)
}
