package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"copytrade-signals/internal/apierr"
	"copytrade-signals/internal/database"
	"copytrade-signals/internal/simulation"
)

// handleCreatePortfolio serves POST /simulation/portfolios.
func (s *Server) handleCreatePortfolio(c *gin.Context) {
	var body database.Portfolio
	if err := c.ShouldBindJSON(&body); err != nil {
		errorResponse(c, apierr.Validation("invalid request body"))
		return
	}
	if body.ID == "" {
		body.ID = uuid.NewString()
	}
	if body.CurrentBalance == 0 {
		body.CurrentBalance = body.InitialBalance
	}

	if err := s.repo.CreatePortfolio(c.Request.Context(), &body); err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": body})
}

// handleListPortfolios serves GET /simulation/portfolios.
func (s *Server) handleListPortfolios(c *gin.Context) {
	portfolios, err := s.repo.ListPortfolios(c.Request.Context())
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, portfolios)
}

// handleGetPortfolio serves GET /simulation/portfolios/:id.
func (s *Server) handleGetPortfolio(c *gin.Context) {
	portfolio, err := s.repo.GetPortfolio(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, portfolio)
}

// handlePortfolioPerformance serves GET /simulation/portfolios/:id/performance.
func (s *Server) handlePortfolioPerformance(c *gin.Context) {
	portfolioID := c.Param("id")
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

	var totalPnL, grossWin, grossLoss float64
	var wins int
	for _, p := range closed {
		if p.PnLUSDT == nil {
			continue
		}
		totalPnL += *p.PnLUSDT
		if *p.PnLUSDT > 0 {
			wins++
			grossWin += *p.PnLUSDT
		} else {
			grossLoss += *p.PnLUSDT
		}
	}

	winRate := 0.0
	if len(closed) > 0 {
		winRate = float64(wins) / float64(len(closed)) * 100
	}
	profitFactor := 0.0
	if grossLoss != 0 {
		profitFactor = grossWin / -grossLoss
	}

	successResponse(c, gin.H{
		"portfolioId":    portfolioID,
		"initialBalance": portfolio.InitialBalance,
		"currentBalance": portfolio.CurrentBalance,
		"totalPnlUsdt":   totalPnL,
		"roiPct":         totalPnL / portfolio.InitialBalance * 100,
		"closedTrades":   len(closed),
		"winRatePct":     winRate,
		"profitFactor":   profitFactor,
	})
}

type calculateSizeBody struct {
	PortfolioID string               `json:"portfolioId" binding:"required"`
	RiskModel   simulation.RiskModel `json:"riskModel" binding:"required"`
	StopLossPct float64              `json:"stopLossPct"`
	WinRate     *float64             `json:"winRate"`
	SampleSize  int                  `json:"sampleSize"`
	PayoffRatio float64              `json:"payoffRatio"`
}

// handleCalculateSize serves POST /simulation/positions/calculate-size.
func (s *Server) handleCalculateSize(c *gin.Context) {
	var body calculateSizeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		errorResponse(c, apierr.Validation("invalid request body"))
		return
	}

	portfolio, err := s.repo.GetPortfolio(c.Request.Context(), body.PortfolioID)
	if err != nil {
		errorResponse(c, err)
		return
	}

	result, err := simulation.CalculateSize(simulation.SizeRequest{
		Portfolio:   portfolio,
		RiskModel:   body.RiskModel,
		StopLossPct: body.StopLossPct,
		WinRate:     body.WinRate,
		SampleSize:  body.SampleSize,
		PayoffRatio: body.PayoffRatio,
	})
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, result)
}

type riskManagedOpenBody struct {
	PortfolioID     string               `json:"portfolioId" binding:"required"`
	Symbol          string               `json:"symbol" binding:"required"`
	Direction       string               `json:"direction" binding:"required"`
	RiskModel       simulation.RiskModel `json:"riskModel" binding:"required"`
	Leverage        float64              `json:"leverage" binding:"required"`
	StopLossPct     float64              `json:"stopLossPct"`
	WinRate         *float64             `json:"winRate"`
	SampleSize      int                  `json:"sampleSize"`
	PayoffRatio     float64              `json:"payoffRatio"`
	EntryPrice      *float64             `json:"entryPrice"`
	StopLossPrice   *float64             `json:"stopLossPrice"`
	TakeProfitPrice *float64             `json:"takeProfitPrice"`
	TrailingStopPct *float64             `json:"trailingStopPct"`
}

// handleRiskManagedOpen serves POST /simulation/positions/open: sizes the
// position via the requested risk model, then opens it through the same
// path as the plain manual-open endpoint.
func (s *Server) handleRiskManagedOpen(c *gin.Context) {
	var body riskManagedOpenBody
	if err := c.ShouldBindJSON(&body); err != nil {
		errorResponse(c, apierr.Validation("invalid request body"))
		return
	}

	unlock := s.portfolioLocks.lockFor(body.PortfolioID)
	defer unlock()

	portfolio, err := s.repo.GetPortfolio(c.Request.Context(), body.PortfolioID)
	if err != nil {
		errorResponse(c, err)
		return
	}

	sized, err := simulation.CalculateSize(simulation.SizeRequest{
		Portfolio:   portfolio,
		RiskModel:   body.RiskModel,
		StopLossPct: body.StopLossPct,
		WinRate:     body.WinRate,
		SampleSize:  body.SampleSize,
		PayoffRatio: body.PayoffRatio,
	})
	if err != nil {
		errorResponse(c, err)
		return
	}

	position, err := s.simStore.Open(c.Request.Context(), simulation.OpenRequest{
		PortfolioID:     body.PortfolioID,
		Symbol:          body.Symbol,
		Direction:       database.Direction(body.Direction),
		Leverage:        body.Leverage,
		MarginNotional:  sized.MarginNotional,
		EntryPrice:      body.EntryPrice,
		StopLossPrice:   body.StopLossPrice,
		TakeProfitPrice: body.TakeProfitPrice,
		TrailingStopPct: body.TrailingStopPct,
		Source:          database.SourceManual,
	})
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": gin.H{"position": position, "sizing": sized}})
}

type updateRiskBody struct {
	StopLossPrice   *float64 `json:"stopLossPrice"`
	TakeProfitPrice *float64 `json:"takeProfitPrice"`
	TrailingStopPct *float64 `json:"trailingStopPct"`
}

// handleUpdatePositionRisk serves PATCH /simulation/positions/:id/risk.
func (s *Server) handleUpdatePositionRisk(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		errorResponse(c, apierr.Validation("invalid position id"))
		return
	}
	var body updateRiskBody
	if err := c.ShouldBindJSON(&body); err != nil {
		errorResponse(c, apierr.Validation("invalid request body"))
		return
	}

	if err := s.repo.UpdateSimulatedPositionRisk(c.Request.Context(), id, body.StopLossPrice, body.TakeProfitPrice, body.TrailingStopPct); err != nil {
		errorResponse(c, err)
		return
	}
	position, err := s.repo.GetSimulatedPosition(c.Request.Context(), id)
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, position)
}

// handleMonitorPositions serves POST /simulation/positions/monitor: checks
// every open position's stop-loss/take-profit/trailing-stop against the
// latest reference price and closes any that have been triggered.
func (s *Server) handleMonitorPositions(c *gin.Context) {
	portfolioID := c.Query("portfolioId")

	var portfolioIDs []string
	if portfolioID != "" {
		portfolioIDs = []string{portfolioID}
	} else {
		portfolios, err := s.repo.ListPortfolios(c.Request.Context())
		if err != nil {
			errorResponse(c, err)
			return
		}
		for _, p := range portfolios {
			portfolioIDs = append(portfolioIDs, p.ID)
		}
	}

	type closedPosition struct {
		PositionID int64                     `json:"positionId"`
		Symbol     string                    `json:"symbol"`
		Reason     database.CloseReason      `json:"reason"`
		Position   *database.SimulatedPosition `json:"position"`
	}
	var closedPositions []closedPosition
	var checked int

	for _, pid := range portfolioIDs {
		open, err := s.repo.OpenSimulatedPositionsForPortfolio(c.Request.Context(), pid)
		if err != nil {
			errorResponse(c, err)
			return
		}
		for _, position := range open {
			checked++
			price, ok, err := simulation.ReferencePrice(c.Request.Context(), s.repo, position.Symbol)
			if err != nil {
				errorResponse(c, err)
				return
			}
			if !ok {
				continue
			}

			reason, triggered := monitorTrigger(position, price)
			if !triggered {
				continue
			}

			unlock := s.portfolioLocks.lockFor(pid)
			closed, err := s.simStore.Close(c.Request.Context(), position.ID, price, reason, nil, nil)
			unlock()
			if err != nil {
				errorResponse(c, err)
				return
			}
			closedPositions = append(closedPositions, closedPosition{
				PositionID: position.ID, Symbol: position.Symbol, Reason: reason, Position: closed,
			})
		}
	}

	successResponse(c, gin.H{"checked": checked, "closed": closedPositions})
}

// monitorTrigger checks a position's stop-loss, take-profit, and trailing
// stop (treated as a percentage retracement from entry) against the current
// price (spec.md §4.13).
func monitorTrigger(position *database.SimulatedPosition, price float64) (database.CloseReason, bool) {
	isLong := position.Direction == database.DirectionLong

	if position.StopLossPrice != nil {
		if (isLong && price <= *position.StopLossPrice) || (!isLong && price >= *position.StopLossPrice) {
			return database.CloseStopLoss, true
		}
	}
	if position.TakeProfitPrice != nil {
		if (isLong && price >= *position.TakeProfitPrice) || (!isLong && price <= *position.TakeProfitPrice) {
			return database.CloseTakeProfit, true
		}
	}
	if position.TrailingStopPct != nil {
		move := (price - position.EntryPrice) / position.EntryPrice
		if !isLong {
			move = -move
		}
		if move <= -*position.TrailingStopPct {
			return database.CloseTrailingStop, true
		}
	}
	return "", false
}

// handleListBacktests serves GET /simulation/backtests.
func (s *Server) handleListBacktests(c *gin.Context) {
	symbol := c.Query("symbol")
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	runs, err := s.repo.ListBacktestRuns(c.Request.Context(), symbol, limit)
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, runs)
}

// handleGetBacktest serves GET /simulation/backtests/:id.
func (s *Server) handleGetBacktest(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		errorResponse(c, apierr.Validation("invalid backtest id"))
		return
	}
	run, err := s.repo.GetBacktestRun(c.Request.Context(), id)
	if err != nil {
		errorResponse(c, err)
		return
	}
	successResponse(c, run)
}

// handleDeleteBacktest serves DELETE /simulation/backtests/:id.
func (s *Server) handleDeleteBacktest(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		errorResponse(c, apierr.Validation("invalid backtest id"))
		return
	}
	if err := s.repo.DeleteBacktestRun(c.Request.Context(), id); err != nil {
		errorResponse(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
