// Package events provides an in-process publish/subscribe bus used to
// decouple derivation, simulation, and the websocket relay.
package events

import (
	"sync"
	"time"
)

// EventType represents a domain event kind.
type EventType string

const (
	EventIngestCompleted        EventType = "INGEST_COMPLETED"
	EventPositionStateOpened    EventType = "POSITION_STATE_OPENED"
	EventPositionStateClosed    EventType = "POSITION_STATE_CLOSED"
	EventConsensusUpdated       EventType = "CONSENSUS_UPDATED"
	EventSimulatedPositionOpened EventType = "SIMULATED_POSITION_OPENED"
	EventSimulatedPositionClosed EventType = "SIMULATED_POSITION_CLOSED"
	EventAutoRunCompleted       EventType = "AUTO_RUN_COMPLETED"
	EventInsightGenerated       EventType = "INSIGHT_GENERATED"
	EventError                  EventType = "ERROR"
)

// Event is a single published occurrence.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber handles a published event.
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type.
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for every event type, used by the
// websocket relay to fan published events out to connected clients.
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all matching subscribers. Each subscriber runs
// in its own goroutine so a slow consumer can't block derivation.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishIngestCompleted announces that a trader's raw ingest + derivation
// pass finished (C3/C4).
func (eb *EventBus) PublishIngestCompleted(traderID string, positionsCount, ordersCount int, parityPass *bool) {
	data := map[string]interface{}{
		"traderId":       traderID,
		"positionsCount": positionsCount,
		"ordersCount":    ordersCount,
	}
	if parityPass != nil {
		data["parityPass"] = *parityPass
	}
	eb.Publish(Event{Type: EventIngestCompleted, Data: data})
}

// PublishPositionStateOpened announces a reconstructed position opening (C8).
func (eb *EventBus) PublishPositionStateOpened(traderID, symbol, direction string, entryPrice, amount float64) {
	eb.Publish(Event{
		Type: EventPositionStateOpened,
		Data: map[string]interface{}{
			"traderId":   traderID,
			"symbol":     symbol,
			"direction":  direction,
			"entryPrice": entryPrice,
			"amount":     amount,
		},
	})
}

// PublishPositionStateClosed announces a reconstructed position closing (C8).
func (eb *EventBus) PublishPositionStateClosed(traderID, symbol, direction string) {
	eb.Publish(Event{
		Type: EventPositionStateClosed,
		Data: map[string]interface{}{
			"traderId":  traderID,
			"symbol":    symbol,
			"direction": direction,
		},
	})
}

// PublishConsensusUpdated announces a recomputed consensus snapshot (C10).
func (eb *EventBus) PublishConsensusUpdated(symbol, direction string, sentimentScore, confidenceScore float64, traderCount int) {
	eb.Publish(Event{
		Type: EventConsensusUpdated,
		Data: map[string]interface{}{
			"symbol":          symbol,
			"direction":       direction,
			"sentimentScore":  sentimentScore,
			"confidenceScore": confidenceScore,
			"traderCount":     traderCount,
		},
	})
}

// PublishSimulatedPositionOpened announces a paper position opening (C13).
func (eb *EventBus) PublishSimulatedPositionOpened(positionID int64, portfolioID, symbol, direction string, source string) {
	eb.Publish(Event{
		Type: EventSimulatedPositionOpened,
		Data: map[string]interface{}{
			"positionId":  positionID,
			"portfolioId": portfolioID,
			"symbol":      symbol,
			"direction":   direction,
			"source":      source,
		},
	})
}

// PublishSimulatedPositionClosed announces a paper position closing (C13).
func (eb *EventBus) PublishSimulatedPositionClosed(positionID int64, portfolioID, symbol string, pnlUSDT, roiPct float64, reason string) {
	eb.Publish(Event{
		Type: EventSimulatedPositionClosed,
		Data: map[string]interface{}{
			"positionId":  positionID,
			"portfolioId": portfolioID,
			"symbol":      symbol,
			"pnlUsdt":     pnlUSDT,
			"roiPct":      roiPct,
			"closeReason": reason,
		},
	})
}

// PublishAutoRunCompleted announces an auto-trigger pass finished (C14).
func (eb *EventBus) PublishAutoRunCompleted(ruleID string, candidatesConsidered, positionsOpened, positionsReversed int, dryRun bool) {
	eb.Publish(Event{
		Type: EventAutoRunCompleted,
		Data: map[string]interface{}{
			"ruleId":               ruleID,
			"candidatesConsidered": candidatesConsidered,
			"positionsOpened":      positionsOpened,
			"positionsReversed":    positionsReversed,
			"dryRun":               dryRun,
		},
	})
}

// PublishInsightGenerated announces a new anomaly/insight from C12.
func (eb *EventBus) PublishInsightGenerated(kind, symbol string, severity float64) {
	eb.Publish(Event{
		Type: EventInsightGenerated,
		Data: map[string]interface{}{
			"kind":     kind,
			"symbol":   symbol,
			"severity": severity,
		},
	})
}

// PublishError publishes a background-job error for observability.
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{Type: EventError, Data: data})
}
