package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"copytrade-signals/internal/apierr"
	"copytrade-signals/internal/backtest"
	"copytrade-signals/internal/database"
	"copytrade-signals/internal/simulation"
)

type openPositionBody struct {
	PortfolioID     string   `json:"portfolioId" binding:"required"`
	Symbol          string   `json:"symbol" binding:"required"`
	Direction       string   `json:"direction" binding:"required"`
	Leverage        float64  `json:"leverage" binding:"required"`
	MarginNotional  float64  `json:"marginNotional" binding:"required"`
	EntryPrice      *float64 `json:"entryPrice"`
	StopLossPrice   *float64 `json:"stopLossPrice"`
	TakeProfitPrice *float64 `json:"takeProfitPrice"`
	TrailingStopPct *float64 `json:"trailingStopPct"`
}

// handleSimOpen serves POST /signals/simulation/open.
func (s *Server) handleSimOpen(c *gin.Context) {
	var body openPositionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		errorResponse(c, apierr.Validation("invalid request body"))
		return
	}

	unlock := s.portfolioLocks.lockFor(body.PortfolioID)
	defer unlock()

	position, err := s.simStore.Open(c.Request.Context(), simOpenRequestFrom(body, database.SourceManual))
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(201, gin.H{"success": true, "data": position})
}

type closePositionBody struct {
	ExitPrice *float64 `json:"exitPrice"`
}

// handleSimClose serves POST /signals/simulation/:id/close.
func (s *Server) handleSimClose(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		errorResponse(c, apierr.Validation("invalid position id"))
		return
	}

	var body closePositionBody
	_ = c.ShouldBindJSON(&body)

	position, err := s.repo.GetSimulatedPosition(c.Request.Context(), id)
	if err != nil {
		errorResponse(c, err)
		return
	}

	unlock := s.portfolioLocks.lockFor(position.PortfolioID)
	defer unlock()

	exitPrice := 0.0
	if body.ExitPrice != nil {
		exitPrice = *body.ExitPrice
	} else {
		price, ok, err := simulation.ReferencePrice(c.Request.Context(), s.repo, position.Symbol)
		if err != nil {
			errorResponse(c, err)
			return
		}
		if !ok {
			errorResponse(c, apierr.Validation("no reference price available to close position"))
			return
		}
		exitPrice = price
	}

	closed, err := s.simStore.Close(c.Request.Context(), id, exitPrice, database.CloseManual, nil, nil)
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, closed)
}

// handleSimPositions serves GET /signals/simulation/positions.
func (s *Server) handleSimPositions(c *gin.Context) {
	portfolioID := c.Query("portfolioId")
	status := database.SimulatedPositionStatus(c.Query("status"))
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	positions, err := s.repo.ListSimulatedPositions(c.Request.Context(), portfolioID, status, limit)
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, positions)
}

// handleReconcileStatus serves GET /signals/simulation/reconcile: a dry-run
// preview of what a reconcile pass would do.
func (s *Server) handleReconcileStatus(c *gin.Context) {
	result, err := s.autoEngine.Reconcile(c.Request.Context(), time.Now(), true)
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, result)
}

// handleReconcileRun serves POST /signals/simulation/reconcile: actually
// closes positions whose counterpart close event has fired.
func (s *Server) handleReconcileRun(c *gin.Context) {
	unlock := s.ruleLocks.lockFor("default")
	defer unlock()

	result, err := s.autoEngine.Reconcile(c.Request.Context(), time.Now(), false)
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, result)
}

// handleSimReport serves GET /signals/simulation/report.
func (s *Server) handleSimReport(c *gin.Context) {
	portfolioID := c.Query("portfolioId")
	if portfolioID == "" {
		errorResponse(c, apierr.Validation("portfolioId is required"))
		return
	}

	portfolio, err := s.repo.GetPortfolio(c.Request.Context(), portfolioID)
	if err != nil {
		errorResponse(c, err)
		return
	}
	closed, err := s.repo.ListSimulatedPositions(c.Request.Context(), portfolioID, database.SimPositionClosed, 10000)
	if err != nil {
		errorResponse(c, err)
		return
	}
	open, err := s.repo.OpenSimulatedPositionsForPortfolio(c.Request.Context(), portfolioID)
	if err != nil {
		errorResponse(c, err)
		return
	}

	var totalPnL float64
	var wins int
	for _, p := range closed {
		if p.PnLUSDT != nil {
			totalPnL += *p.PnLUSDT
			if *p.PnLUSDT > 0 {
				wins++
			}
		}
	}
	winRate := 0.0
	if len(closed) > 0 {
		winRate = float64(wins) / float64(len(closed)) * 100
	}

	successResponse(c, gin.H{
		"portfolio":     portfolio,
		"openPositions": len(open),
		"closedTrades":  len(closed),
		"totalPnlUsdt":  totalPnL,
		"winRatePct":    winRate,
		"roiPct":        totalPnL / portfolio.InitialBalance * 100,
	})
}

// handleGetAutoRule serves GET /signals/simulation/auto-rule.
func (s *Server) handleGetAutoRule(c *gin.Context) {
	rule, err := s.repo.GetOrCreateAutoTriggerRule(c.Request.Context())
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, rule)
}

// handleUpdateAutoRule serves PUT /signals/simulation/auto-rule.
func (s *Server) handleUpdateAutoRule(c *gin.Context) {
	var body database.AutoTriggerRule
	if err := c.ShouldBindJSON(&body); err != nil {
		errorResponse(c, apierr.Validation("invalid request body"))
		return
	}
	body.ID = "default"

	unlock := s.ruleLocks.lockFor("default")
	defer unlock()

	if err := s.repo.UpdateAutoTriggerRule(c.Request.Context(), &body); err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, body)
}

// handleAutoRun serves POST /signals/simulation/auto-run?dryRun=.
func (s *Server) handleAutoRun(c *gin.Context) {
	dryRun := c.Query("dryRun") == "true"

	unlock := s.ruleLocks.lockFor("default")
	defer unlock()

	result, err := s.autoEngine.Run(c.Request.Context(), time.Now(), dryRun)
	if err != nil {
		errorResponse(c, err)
		return
	}

	if !dryRun && s.bus != nil {
		opened, reversed := 0, 0
		for _, d := range result.Decisions {
			switch d.Action {
			case "opened":
				opened++
			case "reversed":
				reversed++
			}
		}
		s.bus.PublishAutoRunCompleted("default", len(result.Decisions), opened, reversed, dryRun)
	}

	successResponse(c, result)
}

// handleBacktestLite serves GET /signals/simulation/backtest-lite.
func (s *Server) handleBacktestLite(c *gin.Context) {
	startRaw := c.Query("start")
	endRaw := c.Query("end")

	end := time.Now()
	if endRaw != "" {
		if parsed, err := time.Parse(time.RFC3339, endRaw); err == nil {
			end = parsed
		}
	}
	start := end.Add(-7 * 24 * time.Hour)
	if startRaw != "" {
		if parsed, err := time.Parse(time.RFC3339, startRaw); err == nil {
			start = parsed
		}
	}

	cfg := backtest.Config{
		Start:           start,
		End:             end,
		MinTraders:      queryIntDefault(c, "minTraders", 2),
		MinConfidence:   queryFloatDefault(c, "minConfidence", 60),
		MinSentimentAbs: queryFloatDefault(c, "minSentimentAbs", 20),
		Leverage:        queryFloatDefault(c, "leverage", 10),
		MarginNotional:  queryFloatDefault(c, "marginNotional", 100),
	}

	result, err := s.backtestRunner.Run(c.Request.Context(), cfg)
	if err != nil {
		errorResponse(c, err)
		return
	}

	response := gin.H{"result": result}

	if c.Query("advancedMetrics") == "true" || c.Query("equityCurve") == "true" ||
		c.Query("monteCarlo") == "true" || c.Query("walkForward") == "true" {
		advanced, err := s.computeAdvancedAnalytics(c, result, queryFloatDefault(c, "marginNotional", 100)*10)
		if err != nil {
			errorResponse(c, err)
			return
		}
		response["analytics"] = advanced
	}

	if _, hasAnalytics := response["analytics"]; c.Query("persist") == "true" && hasAnalytics {
		run := &database.BacktestRun{
			Symbol:    c.DefaultQuery("symbol", "ALL"),
			StartTime: start,
			EndTime:   end,
			Params:    map[string]any{"minTraders": cfg.MinTraders, "minConfidence": cfg.MinConfidence, "leverage": cfg.Leverage},
			Result:    map[string]any{"summary": result.Summary, "trades": len(result.Trades)},
		}
		if analytics, ok := response["analytics"]; ok {
			if m, ok := analytics.(map[string]any); ok {
				run.Analytics = m
			}
		}
		if err := s.repo.CreateBacktestRun(c.Request.Context(), run); err != nil {
			errorResponse(c, err)
			return
		}
		response["persistedId"] = run.ID
	}

	successResponse(c, response)
}

func queryIntDefault(c *gin.Context, key string, def int) int {
	if raw := c.Query(key); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			return parsed
		}
	}
	return def
}

func queryFloatDefault(c *gin.Context, key string, def float64) float64 {
	if raw := c.Query(key); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			return parsed
		}
	}
	return def
}

func simOpenRequestFrom(body openPositionBody, source database.PositionSource) simulation.OpenRequest {
	return simulation.OpenRequest{
		PortfolioID:     body.PortfolioID,
		Symbol:          body.Symbol,
		Direction:       database.Direction(body.Direction),
		Leverage:        body.Leverage,
		MarginNotional:  body.MarginNotional,
		EntryPrice:      body.EntryPrice,
		StopLossPrice:   body.StopLossPrice,
		TakeProfitPrice: body.TakeProfitPrice,
		TrailingStopPct: body.TrailingStopPct,
		Source:          source,
	}
}
