// Package api exposes the inbound ingest and query/simulation surface over
// Gin, wiring every derivation and simulation service behind HTTP handlers
// (spec.md §6).
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"copytrade-signals/internal/apierr"
	"copytrade-signals/internal/auth"
	"copytrade-signals/internal/autotrigger"
	"copytrade-signals/internal/backtest"
	"copytrade-signals/internal/cache"
	"copytrade-signals/internal/config"
	"copytrade-signals/internal/consensus"
	"copytrade-signals/internal/database"
	"copytrade-signals/internal/diagnostic"
	"copytrade-signals/internal/events"
	"copytrade-signals/internal/ingest"
	"copytrade-signals/internal/insights"
	"copytrade-signals/internal/logging"
	"copytrade-signals/internal/simulation"
	"copytrade-signals/internal/signals"
)

// RateLimiter is an in-memory, per-endpoint request limiter.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

// NewRateLimiter builds a limiter allowing limit requests per window, keyed
// by whatever the caller passes to Allow (typically the request path).
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{requests: make(map[string][]time.Time), limit: limit, window: window}
}

// Allow reports whether another request under key fits within the window.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Server wires every derivation/simulation service behind the Gin engine.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        *config.Config
	logger     zerolog.Logger

	repo  *database.Repository
	bus   *events.EventBus
	cache *cache.CacheService

	rateLimiter *RateLimiter
	portfolioLocks *keyedMutex
	ruleLocks      *keyedMutex
	wsHub          *WSHub

	jwtManager *auth.JWTManager

	ingestService     *ingest.Service
	signalsService    *signals.Service
	insightsService   *insights.Service
	consensusService  *consensus.Service
	simStore          *simulation.Store
	autoEngine        *autotrigger.Engine
	backtestRunner    *backtest.Backtest
	diagnosticService *diagnostic.Service
}

// NewServer assembles the Gin engine and every wired service.
func NewServer(
	cfg *config.Config,
	repo *database.Repository,
	bus *events.EventBus,
	cacheService *cache.CacheService,
	logger zerolog.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestLoggerMiddleware(logger))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.Server.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = []string{cfg.Server.AllowedOrigins}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-API-Key"}
	router.Use(cors.New(corsConfig))

	consensusService := consensus.NewService(repo)

	s := &Server{
		router:            router,
		cfg:               cfg,
		logger:            logger,
		repo:              repo,
		bus:               bus,
		cache:             cacheService,
		rateLimiter:       NewRateLimiter(cfg.RateLimit.RequestsPerMinute, time.Minute),
		portfolioLocks:    newKeyedMutex(),
		ruleLocks:         newKeyedMutex(),
		wsHub:             newWSHub(bus),
		jwtManager:        auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenDuration),
		ingestService:     ingest.NewService(repo, bus, logger),
		signalsService:    signals.NewService(repo, consensusService),
		insightsService:   insights.NewService(repo, consensusService),
		consensusService:  consensusService,
		simStore:          simulation.NewStore(repo, bus, logger),
		autoEngine:        autotrigger.NewEngine(repo, consensusService, simulation.NewStore(repo, bus, logger), cacheService, logger),
		backtestRunner:    backtest.NewBacktest(repo),
		diagnosticService: diagnostic.NewService(repo),
	}

	s.setupRoutes()
	return s
}

func requestLoggerMiddleware(base zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceLogger := logging.WithTraceID(base, "")
		c.Set("logger", traceLogger)

		start := time.Now()
		c.Next()

		traceLogger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("api: request handled")
	}
}

// rateLimitMiddleware rejects requests that exceed the configured
// requests-per-minute budget for the matched route.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.cfg.RateLimit.Enabled {
			c.Next()
			return
		}
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if !s.rateLimiter.Allow(path) {
			errorResponse(c, apierr.ErrRateLimited)
			return
		}
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	root := s.router.Group("/")
	root.Use(s.rateLimitMiddleware())

	ingestGroup := root.Group("/ingest")
	ingestGroup.Use(auth.IngestKeyMiddleware(s.cfg.Auth.IngestAPIKey))
	{
		ingestGroup.POST("/raw", s.handleIngestRaw)
		ingestGroup.GET("/raw/:leadId", s.handleIngestHistory)
	}

	signalsGroup := root.Group("/signals")
	{
		signalsGroup.GET("/heatmap", s.handleHeatmap)
		signalsGroup.GET("/symbol/:symbol", s.handleSymbolDetail)
		signalsGroup.GET("/feed", s.handleSignalsFeed)
		signalsGroup.GET("/events/feed", s.handleEventsFeed)
		signalsGroup.GET("/latest-records/feed", s.handleLatestRecordsFeed)
		signalsGroup.GET("/insights", s.handleInsights)
		signalsGroup.GET("/insights/rule", s.handleGetInsightsRule)
		signalsGroup.PUT("/insights/rule", s.handleUpdateInsightsRule)
		signalsGroup.GET("/metrics/:leadId", s.handleTraderMetrics)
		signalsGroup.GET("/diagnostic", s.handleDiagnosticAll)
		signalsGroup.GET("/diagnostic/:leadId", s.handleDiagnosticTrader)

		signalsGroup.POST("/simulation/open", s.withAdmin(s.handleSimOpen))
		signalsGroup.POST("/simulation/:id/close", s.withAdmin(s.handleSimClose))
		signalsGroup.GET("/simulation/positions", s.handleSimPositions)
		signalsGroup.GET("/simulation/reconcile", s.handleReconcileStatus)
		signalsGroup.POST("/simulation/reconcile", s.withAdmin(s.handleReconcileRun))
		signalsGroup.GET("/simulation/report", s.handleSimReport)
		signalsGroup.GET("/simulation/auto-rule", s.handleGetAutoRule)
		signalsGroup.PUT("/simulation/auto-rule", s.withAdmin(s.handleUpdateAutoRule))
		signalsGroup.POST("/simulation/auto-run", s.withAdmin(s.handleAutoRun))
		signalsGroup.GET("/simulation/backtest-lite", s.handleBacktestLite)
	}

	simGroup := root.Group("/simulation")
	{
		simGroup.POST("/portfolios", s.withAdmin(s.handleCreatePortfolio))
		simGroup.GET("/portfolios", s.handleListPortfolios)
		simGroup.GET("/portfolios/:id", s.handleGetPortfolio)
		simGroup.GET("/portfolios/:id/performance", s.handlePortfolioPerformance)
		simGroup.POST("/positions/calculate-size", s.handleCalculateSize)
		simGroup.POST("/positions/open", s.withAdmin(s.handleRiskManagedOpen))
		simGroup.PATCH("/positions/:id/risk", s.withAdmin(s.handleUpdatePositionRisk))
		simGroup.POST("/positions/monitor", s.withAdmin(s.handleMonitorPositions))
		simGroup.GET("/backtests", s.handleListBacktests)
		simGroup.GET("/backtests/:id", s.handleGetBacktest)
		simGroup.DELETE("/backtests/:id", s.withAdmin(s.handleDeleteBacktest))
	}

	s.router.GET("/signals/stream", s.handleWebsocket)
}

// withAdmin gates a mutating handler behind the optional admin bearer token.
func (s *Server) withAdmin(h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth.RequireAdmin(s.jwtManager, s.cfg.Auth.RequireAdminForMutations)(c)
		if c.IsAborted() {
			return
		}
		h(c)
	}
}

// Start runs the HTTP server until it is shut down or fails to bind.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.logger.Info().Str("addr", addr).Msg("api: starting server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info().Msg("api: shutting down server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	dbHealthy := s.repo.HealthCheck(ctx) == nil
	cacheHealthy := s.cache == nil || s.cache.IsHealthy()

	status := http.StatusOK
	if !dbHealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":   map[bool]string{true: "healthy", false: "unhealthy"}[dbHealthy],
		"database": dbHealthy,
		"cache":    cacheHealthy,
		"time":     time.Now().UTC(),
	})
}

// errorResponse renders {success:false, error, code} and the error's HTTP
// status, per spec.md §6.
func errorResponse(c *gin.Context, err error) {
	apiErr, ok := err.(*apierr.APIError)
	if !ok {
		apiErr = apierr.Internal(err)
	}
	c.AbortWithStatusJSON(apiErr.HTTPStatus, gin.H{
		"success": false,
		"error":   apiErr.Message,
		"code":    apiErr.Code,
	})
}

// successResponse renders {success:true, data}.
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

// successResponseWithMeta renders {success:true, data, meta}.
func successResponseWithMeta(c *gin.Context, data interface{}, meta interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data, "meta": meta})
}
