// Package backtest deterministically replays the event log against the
// consensus confidence formula to produce a trade list and summary
// (spec.md §4.15).
package backtest

import (
	"context"
	"time"

	"copytrade-signals/internal/consensus"
	"copytrade-signals/internal/database"
)

// Config bounds one backtest run.
type Config struct {
	Start           time.Time
	End             time.Time
	MinTraders      int
	MinConfidence   float64
	MinSentimentAbs float64
	Leverage        float64
	MarginNotional  float64
}

// Trade is one virtual position opened and closed during replay.
type Trade struct {
	Symbol         string
	Direction      database.Direction
	EntryTime      time.Time
	EntryPrice     float64
	ExitTime       time.Time
	ExitPrice      float64
	MarginNotional float64
	Leverage       float64
	PnLUSDT        float64
	ROIPct         float64
	ExitReason     string
}

// Summary aggregates a trade list.
type Summary struct {
	Trades     int
	Wins       int
	Losses     int
	Breakeven  int
	WinRatePct float64
	TotalPnl   float64
	AvgPnl     float64
	AvgRoiPct  float64
}

// Result is the full C15 output.
type Result struct {
	Trades   []Trade
	Summary  Summary
	BySymbol map[string]Summary
}

// symbolState tracks the replay state for one symbol.
type symbolState struct {
	openLong  map[string]bool
	openShort map[string]bool
	active    *Trade
	lastPrice float64
}

func newSymbolState() *symbolState {
	return &symbolState{openLong: map[string]bool{}, openShort: map[string]bool{}}
}

// Backtest replays the event log through the same consensus/confidence
// decision the auto-trigger engine uses, producing the trade list a live
// run would have taken (spec.md §4.15).
type Backtest struct {
	repo *database.Repository
}

// NewBacktest builds a backtest runner.
func NewBacktest(repo *database.Repository) *Backtest {
	return &Backtest{repo: repo}
}

// Run replays every event in [cfg.Start, cfg.End] in (eventTime, fetchedAt)
// ascending order.
func (b *Backtest) Run(ctx context.Context, cfg Config) (Result, error) {
	events, err := b.repo.AllEventsSince(ctx, cfg.Start)
	if err != nil {
		return Result{}, err
	}

	scores, err := b.repo.AllTraderScores(ctx)
	if err != nil {
		return Result{}, err
	}
	weightByTrader := make(map[string]float64, len(scores))
	for _, sc := range scores {
		weightByTrader[sc.TraderID] = sc.TraderWeight
	}

	states := make(map[string]*symbolState)
	var trades []Trade

	for _, e := range events {
		ts := eventTimestamp(e)
		if ts.After(cfg.End) {
			break
		}

		st, ok := states[e.Symbol]
		if !ok {
			st = newSymbolState()
			states[e.Symbol] = st
		}
		if e.Price > 0 {
			st.lastPrice = e.Price
		}

		updateOpenSets(st, e)

		if st.active != nil {
			if e.Kind == closeCounterpart(st.active.Direction) {
				exitPrice := resolvePrice(e.Price, st.lastPrice, st.active.EntryPrice)
				closed := closeTrade(st.active, ts, exitPrice, "signal_close")
				trades = append(trades, closed)
				st.active = nil
			}
			continue
		}

		contributions := contributionsFromOpenSets(st, weightByTrader)
		sc := consensus.Compute(e.Symbol, contributions)
		if sc.ConsensusDirection == database.DirectionNeutral {
			continue
		}
		if sc.TotalTraders < cfg.MinTraders || sc.ConfidenceScore < cfg.MinConfidence || absFloat(sc.SentimentScore)*100 < cfg.MinSentimentAbs {
			continue
		}

		entryPrice := resolvePrice(e.Price, st.lastPrice, 0)
		if entryPrice <= 0 {
			continue
		}
		st.active = &Trade{
			Symbol:         e.Symbol,
			Direction:      sc.ConsensusDirection,
			EntryTime:      ts,
			EntryPrice:     entryPrice,
			MarginNotional: cfg.MarginNotional,
			Leverage:       cfg.Leverage,
		}
	}

	// Close any position still open at the end of the window.
	for _, st := range states {
		if st.active == nil {
			continue
		}
		exitPrice := resolvePrice(0, st.lastPrice, st.active.EntryPrice)
		trades = append(trades, closeTrade(st.active, cfg.End, exitPrice, "window_end"))
	}

	summary, bySymbol := summarize(trades)
	return Result{Trades: trades, Summary: summary, BySymbol: bySymbol}, nil
}

func updateOpenSets(st *symbolState, e *database.Event) {
	switch e.Kind {
	case database.EventOpenLong:
		st.openLong[e.TraderID] = true
	case database.EventCloseLong:
		delete(st.openLong, e.TraderID)
	case database.EventOpenShort:
		st.openShort[e.TraderID] = true
	case database.EventCloseShort:
		delete(st.openShort, e.TraderID)
	}
}

func contributionsFromOpenSets(st *symbolState, weightByTrader map[string]float64) []consensus.Contribution {
	out := make([]consensus.Contribution, 0, len(st.openLong)+len(st.openShort))
	for traderID := range st.openLong {
		out = append(out, consensus.Contribution{TraderID: traderID, Direction: database.DirectionLong, Weight: weightByTrader[traderID]})
	}
	for traderID := range st.openShort {
		out = append(out, consensus.Contribution{TraderID: traderID, Direction: database.DirectionShort, Weight: weightByTrader[traderID]})
	}
	return out
}

func closeTrade(t *Trade, exitTime time.Time, exitPrice float64, reason string) Trade {
	var move float64
	if t.EntryPrice > 0 {
		if t.Direction == database.DirectionLong {
			move = (exitPrice - t.EntryPrice) / t.EntryPrice
		} else {
			move = (t.EntryPrice - exitPrice) / t.EntryPrice
		}
	}
	positionNotional := t.MarginNotional * t.Leverage
	pnl := positionNotional * move
	roiPct := 0.0
	if t.MarginNotional > 0 {
		roiPct = pnl / t.MarginNotional * 100
	}

	closed := *t
	closed.ExitTime = exitTime
	closed.ExitPrice = exitPrice
	closed.PnLUSDT = pnl
	closed.ROIPct = roiPct
	closed.ExitReason = reason
	return closed
}

func resolvePrice(eventPrice, lastPrice, fallback float64) float64 {
	if eventPrice > 0 {
		return eventPrice
	}
	if lastPrice > 0 {
		return lastPrice
	}
	return fallback
}

func closeCounterpart(direction database.Direction) database.EventKind {
	if direction == database.DirectionShort {
		return database.EventCloseShort
	}
	return database.EventCloseLong
}

func eventTimestamp(e *database.Event) time.Time {
	if e.EventTime != nil {
		return *e.EventTime
	}
	return e.FetchedAt
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// summarize computes the overall and per-symbol rollups (spec.md §4.15).
func summarize(trades []Trade) (Summary, map[string]Summary) {
	bySymbol := make(map[string]Summary)
	totals := make(map[string][]Trade)
	for _, t := range trades {
		totals[t.Symbol] = append(totals[t.Symbol], t)
	}
	for symbol, ts := range totals {
		bySymbol[symbol] = summarizeTrades(ts)
	}
	return summarizeTrades(trades), bySymbol
}

func summarizeTrades(trades []Trade) Summary {
	s := Summary{Trades: len(trades)}
	if len(trades) == 0 {
		return s
	}
	for _, t := range trades {
		s.TotalPnl += t.PnLUSDT
		switch {
		case t.PnLUSDT > 0:
			s.Wins++
		case t.PnLUSDT < 0:
			s.Losses++
		default:
			s.Breakeven++
		}
	}
	s.WinRatePct = float64(s.Wins) / float64(s.Trades) * 100
	s.AvgPnl = s.TotalPnl / float64(s.Trades)

	var totalRoi float64
	for _, t := range trades {
		totalRoi += t.ROIPct
	}
	s.AvgRoiPct = totalRoi / float64(s.Trades)
	return s
}
