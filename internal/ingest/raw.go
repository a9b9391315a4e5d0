package ingest

import (
	"context"
	"errors"
	"time"

	"copytrade-signals/internal/database"
	"copytrade-signals/internal/upstream"
)

var (
	// ErrMissingLeadID is returned when an inbound raw payload omits leadId.
	ErrMissingLeadID = errors.New("ingest: missing required field leadId")
	// ErrMissingFetchedAt is returned when an inbound raw payload omits fetchedAt.
	ErrMissingFetchedAt = errors.New("ingest: missing or unparseable required field fetchedAt")
)

// AcceptRawPayload accepts an arbitrary, future-proof payload submitted
// directly through the inbound ingest API (spec.md §6 "POST /ingest/raw"),
// as opposed to one produced by the upstream client. Only leadId and
// fetchedAt are required; everything else is stored verbatim.
func (s *Service) AcceptRawPayload(ctx context.Context, body map[string]interface{}) (*database.RawIngest, error) {
	traderID := upstream.SafeString(body["leadId"])
	if traderID == "" {
		return nil, ErrMissingLeadID
	}

	fetchedAtRaw, ok := body["fetchedAt"].(string)
	if !ok || fetchedAtRaw == "" {
		return nil, ErrMissingFetchedAt
	}
	fetchedAt, err := time.Parse(time.RFC3339, fetchedAtRaw)
	if err != nil {
		return nil, ErrMissingFetchedAt
	}

	activePositions := upstream.SafeSlice(body["activePositions"])
	orderHistory := upstream.SafeMap(body["orderHistory"])
	ordersCount := 0
	if allOrders, ok := orderHistory["allOrders"]; ok {
		ordersCount = len(upstream.SafeSlice(allOrders))
	}

	raw := &database.RawIngest{
		TraderID:       traderID,
		FetchedAt:      fetchedAt,
		TimeRange:      upstream.SafeString(body["timeRange"]),
		PositionsCount: len(activePositions),
		OrdersCount:    ordersCount,
		Payload:        body,
	}
	if startTime, ok := parseTimeField(body["startTime"]); ok {
		raw.StartTime = &startTime
	}
	if endTime, ok := parseTimeField(body["endTime"]); ok {
		raw.EndTime = &endTime
	}

	if audit := upstream.SafeMap(body["positionAudit"]); audit != nil {
		filteredCount := int(upstream.SafeNumberOrZero(audit["filteredActivePositionsCount"]))
		parityPass := filteredCount == raw.PositionsCount
		raw.ParityPass = &parityPass

		logEvent := s.logger.Info()
		if !parityPass {
			logEvent = s.logger.Warn()
		}
		logEvent.
			Str("traderId", traderID).
			Int("filteredActivePositionsCount", filteredCount).
			Int("positionsCount", raw.PositionsCount).
			Bool("parityPass", parityPass).
			Msg("ingest: parity signal (inbound raw)")
	}

	if err := s.repo.CreateRawIngest(ctx, raw); err != nil {
		return nil, err
	}

	if s.bus != nil {
		s.bus.PublishIngestCompleted(traderID, raw.PositionsCount, raw.OrdersCount, raw.ParityPass)
	}

	return raw, nil
}

func parseTimeField(v interface{}) (time.Time, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
