// Package eventlog normalizes upstream order history into the canonical
// Event stream (spec.md §3 Event, §4.8) and persists it.
package eventlog

import (
	"context"
	"time"

	"copytrade-signals/internal/database"
	"copytrade-signals/internal/upstream"
)

// Service normalizes and persists events for a trader.
type Service struct {
	repo *database.Repository
}

// NewService builds an event log service.
func NewService(repo *database.Repository) *Service {
	return &Service{repo: repo}
}

// NormalizeOrders maps a filtered order list into the canonical Event
// mapping (spec.md §3 Event):
//
//	buy+long   -> open_long     sell+long  -> close_long
//	sell+short -> open_short    buy+short  -> close_short
//	positionSide=both: totalPnl≠0 -> close of the opposite of side; else open in the side direction
func NormalizeOrders(traderID string, orders []database.UpstreamOrder, fetchedAt time.Time) []database.Event {
	events := make([]database.Event, 0, len(orders))
	for _, order := range orders {
		kind, ok := classify(order)
		if !ok {
			continue
		}

		var eventTime *time.Time
		if !order.OrderUpdateTime.IsZero() {
			t := order.OrderUpdateTime
			eventTime = &t
		} else if !order.OrderTime.IsZero() {
			t := order.OrderTime
			eventTime = &t
		}

		events = append(events, database.Event{
			TraderID:    traderID,
			Symbol:      order.Symbol,
			Kind:        kind,
			EventTime:   eventTime,
			FetchedAt:   fetchedAt,
			Price:       order.AvgPrice,
			Amount:      order.ExecutedQty,
			RealizedPnL: order.TotalPnL,
		})
	}
	return events
}

func classify(order database.UpstreamOrder) (database.EventKind, bool) {
	side := order.Side
	switch order.PositionSide {
	case database.PositionSideLong:
		if side == "buy" {
			return database.EventOpenLong, true
		}
		if side == "sell" {
			return database.EventCloseLong, true
		}
		return "", false
	case database.PositionSideShort:
		if side == "sell" {
			return database.EventOpenShort, true
		}
		if side == "buy" {
			return database.EventCloseShort, true
		}
		return "", false
	case database.PositionSideBoth:
		hasPnL := order.TotalPnL != nil && *order.TotalPnL != 0
		if hasPnL {
			if side == "buy" {
				return database.EventCloseShort, true
			}
			return database.EventCloseLong, true
		}
		if side == "buy" {
			return database.EventOpenLong, true
		}
		return database.EventOpenShort, true
	default:
		return "", false
	}
}

// RebuildForTrader deletes and re-normalizes a trader's entire event log
// from its filtered order history, used by the derivation rebuild command
// (spec.md §9).
func (s *Service) RebuildForTrader(ctx context.Context, traderID string, orders []database.UpstreamOrder, fetchedAt time.Time) error {
	if err := s.repo.DeleteEventsForTrader(ctx, traderID); err != nil {
		return err
	}
	events := NormalizeOrders(traderID, orders, fetchedAt)
	for i := range events {
		if err := s.repo.CreateEvent(ctx, &events[i]); err != nil {
			return err
		}
	}
	return nil
}

// AppendFromPayload normalizes and persists events from one ingest's raw
// order history, without touching prior events for the trader.
func (s *Service) AppendFromPayload(ctx context.Context, traderID string, payload *upstream.Payload) error {
	orders := database.DecodeOrders(payload.OrderHistory.AllOrders)
	events := NormalizeOrders(traderID, orders, payload.FetchedAt)
	for i := range events {
		if err := s.repo.CreateEvent(ctx, &events[i]); err != nil {
			return err
		}
	}
	return nil
}
