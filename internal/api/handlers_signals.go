package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"copytrade-signals/internal/apierr"
	"copytrade-signals/internal/database"
	"copytrade-signals/internal/derive"
	"copytrade-signals/internal/insights"
	"copytrade-signals/internal/signals"
)

func parseHeatmapFilter(c *gin.Context) signals.HeatmapFilter {
	minTraders := 1
	if raw := c.Query("minTraders"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			minTraders = parsed
		}
	}
	return signals.HeatmapFilter{
		TimeRange:      signals.NormalizeTimeRange(c.Query("timeRange")),
		Side:           database.Direction(c.Query("side")),
		MinTraders:     minTraders,
		LeverageBucket: signals.LeverageBucket(c.Query("leverage")),
		SegmentFilter:  c.Query("segment"),
		RecentlyOpened: c.Query("recentlyOpened"),
	}
}

// handleHeatmap serves GET /signals/heatmap.
func (s *Server) handleHeatmap(c *gin.Context) {
	filter := parseHeatmapFilter(c)
	entries, err := s.signalsService.Heatmap(c.Request.Context(), filter, time.Now())
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, entries)
}

// handleSymbolDetail serves GET /signals/symbol/:symbol.
func (s *Server) handleSymbolDetail(c *gin.Context) {
	symbol := c.Param("symbol")
	filter := parseHeatmapFilter(c)
	entry, err := s.signalsService.SymbolDetail(c.Request.Context(), symbol, filter, time.Now())
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, entry)
}

// handleSignalsFeed serves GET /signals/feed, merging live position events
// and derived-position-state events depending on the requested source
// (spec.md §6).
func (s *Server) handleSignalsFeed(c *gin.Context) {
	source := c.DefaultQuery("source", "all")
	timeRange := signals.NormalizeTimeRange(c.Query("timeRange"))
	symbol := c.Query("symbol")
	segment := c.Query("segment")
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	now := time.Now()
	cutoff := timeRange.Cutoff(now)

	traders, err := s.repo.ListTraders(c.Request.Context(), "")
	if err != nil {
		errorResponse(c, err)
		return
	}

	type feedItem struct {
		Kind      string    `json:"kind"`
		TraderID  string    `json:"traderId"`
		Symbol    string    `json:"symbol"`
		Direction string    `json:"direction"`
		Detail    any       `json:"detail"`
		At        time.Time `json:"at"`
	}
	var items []feedItem

	if source == "all" || source == "positions" {
		for _, trader := range traders {
			if !signals.SegmentMatches(trader.Segment, segment) {
				continue
			}
			ingest, err := s.repo.LatestRawIngest(c.Request.Context(), trader.ID)
			if err != nil {
				continue
			}
			rawPositions, _ := ingest.Payload["activePositions"].([]interface{})
			for _, p := range derive.DecodePositions(rawPositions) {
				if symbol != "" && p.Symbol != symbol {
					continue
				}
				direction := derive.LiveDirection(p)
				items = append(items, feedItem{
					Kind: "live_position", TraderID: trader.ID, Symbol: p.Symbol,
					Direction: string(direction), Detail: p, At: ingest.FetchedAt,
				})
			}
		}
	}

	if source == "all" || source == "derived" {
		events, err := s.repo.AllEventsSince(c.Request.Context(), cutoff)
		if err != nil {
			errorResponse(c, err)
			return
		}
		for _, e := range events {
			if symbol != "" && e.Symbol != symbol {
				continue
			}
			at := e.FetchedAt
			if e.EventTime != nil {
				at = *e.EventTime
			}
			items = append(items, feedItem{
				Kind: "derived_event", TraderID: e.TraderID, Symbol: e.Symbol,
				Direction: string(e.Kind), Detail: e, At: at,
			})
		}
	}

	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			if items[j].At.After(items[i].At) {
				items[i], items[j] = items[j], items[i]
			}
		}
	}
	if len(items) > limit {
		items = items[:limit]
	}

	successResponse(c, items)
}

// handleEventsFeed serves GET /signals/events/feed.
func (s *Server) handleEventsFeed(c *gin.Context) {
	timeRange := signals.NormalizeTimeRange(c.Query("timeRange"))
	symbol := c.Query("symbol")
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	if limit > 500 {
		limit = 500
	}

	events, err := s.repo.EventsSince(c.Request.Context(), timeRange.Cutoff(time.Now()), symbol, limit)
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, events)
}

// handleLatestRecordsFeed serves GET /signals/latest-records/feed.
func (s *Server) handleLatestRecordsFeed(c *gin.Context) {
	limit := 1000
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	timeRange := signals.NormalizeTimeRange(c.Query("timeRange"))

	records, err := signals.LatestRecordsFeed(c.Request.Context(), s.repo, timeRange, limit, time.Now())
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, records)
}

// handleInsights serves GET /signals/insights.
func (s *Server) handleInsights(c *gin.Context) {
	top := 10
	if raw := c.Query("top"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			top = parsed
		}
	}
	mode := database.InsightsMode(c.DefaultQuery("mode", string(database.InsightsBalanced)))

	bundle, err := s.insightsService.Generate(c.Request.Context(), mode, time.Now())
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponseWithMeta(c, gin.H{
		"generatedAt":  bundle.GeneratedAt,
		"mode":         bundle.Mode,
		"riskOverview": bundle.RiskOverview,
		"anomalies":    bundle.Anomalies,
		"stability":    bundle.Stability,
		"leaderboard":  insights.TopLeaderboard(bundle.Leaderboard, top),
	}, gin.H{"top": top})
}

// handleGetInsightsRule serves GET /signals/insights/rule.
func (s *Server) handleGetInsightsRule(c *gin.Context) {
	rule, err := s.repo.GetOrCreateInsightsRule(c.Request.Context())
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, rule)
}

// handleUpdateInsightsRule serves PUT /signals/insights/rule.
func (s *Server) handleUpdateInsightsRule(c *gin.Context) {
	var body database.InsightsRule
	if err := c.ShouldBindJSON(&body); err != nil {
		errorResponse(c, apierr.Validation("invalid JSON body"))
		return
	}
	unlock := s.ruleLocks.lockFor("insights")
	defer unlock()

	if err := s.repo.UpdateInsightsRule(c.Request.Context(), &body); err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, body)
}

// handleTraderMetrics serves GET /signals/metrics/:leadId.
func (s *Server) handleTraderMetrics(c *gin.Context) {
	leadID := c.Param("leadId")

	score, err := s.repo.GetTraderScore(c.Request.Context(), leadID)
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, score)
}

// handleDiagnosticAll serves GET /signals/diagnostic.
func (s *Server) handleDiagnosticAll(c *gin.Context) {
	reports, err := s.diagnosticService.All(c.Request.Context(), time.Now())
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, reports)
}

// handleDiagnosticTrader serves GET /signals/diagnostic/:leadId.
func (s *Server) handleDiagnosticTrader(c *gin.Context) {
	leadID := c.Param("leadId")
	report, err := s.diagnosticService.ForTrader(c.Request.Context(), leadID, time.Now())
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, report)
}
