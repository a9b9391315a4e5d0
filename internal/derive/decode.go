// Package derive turns raw ingest payloads into trader-level signal inputs:
// metrics (C5), weight (C6), leverage estimation (C7), and position-state
// reconstruction (C8).
package derive

import (
	"copytrade-signals/internal/database"
	"copytrade-signals/internal/upstream"
)

// DecodePositions reads the filtered activePositions slice of a payload into
// typed LivePosition values, tolerating missing fields.
func DecodePositions(raw []interface{}) []database.LivePosition {
	out := make([]database.LivePosition, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		isolated, _ := upstream.SafeBool(m["isolated"])
		out = append(out, database.LivePosition{
			Symbol:         upstream.SafeString(m["symbol"]),
			Side:           database.PositionSide(upstream.SafeString(m["positionSide"])),
			Amount:         upstream.SafeNumberOrZero(m["amount"]),
			EntryPrice:     upstream.SafeNumberOrZero(m["entryPrice"]),
			MarkPrice:      upstream.SafeNumberOrZero(m["markPrice"]),
			BreakEvenPrice: upstream.SafeNumberOrZero(m["breakEvenPrice"]),
			Notional:       upstream.SafeNumberOrZero(m["notional"]),
			Leverage:       upstream.SafeNumberOrZero(m["leverage"]),
			Isolated:       isolated,
			UnrealizedPnL:  unrealizedPnL(m),
			CumRealized:    upstream.SafeNumberOrZero(m["cumRealized"]),
			ADL:            int(upstream.SafeNumberOrZero(m["adl"])),
		})
	}
	return out
}

func unrealizedPnL(m map[string]interface{}) float64 {
	if v := upstream.SafeNumber(m["unrealizedPnl"]); v != nil {
		return *v
	}
	return upstream.SafeNumberOrZero(m["unRealizedProfit"])
}

// DecodeROISeries reads the roiSeries slice into an ascending value series,
// tolerating either bare numbers or {value:...} objects.
func DecodeROISeries(raw []interface{}) []float64 {
	out := make([]float64, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case map[string]interface{}:
			if n := upstream.SafeNumber(v["value"]); n != nil {
				out = append(out, *n)
			} else if n := upstream.SafeNumber(v["roi"]); n != nil {
				out = append(out, *n)
			}
		default:
			if n := upstream.SafeNumber(v); n != nil {
				out = append(out, *n)
			}
		}
	}
	return out
}
