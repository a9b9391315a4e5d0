package database

import "time"

// safeNumber/safeString avoid importing internal/upstream here (it already
// imports database's types indirectly via derive/eventlog); the database
// package stays a leaf.
func safeNumber(v interface{}) *float64 {
	var f float64
	switch val := v.(type) {
	case nil:
		return nil
	case float64:
		f = val
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	default:
		return nil
	}
	return &f
}

func safeNumberOrZero(v interface{}) float64 {
	if n := safeNumber(v); n != nil {
		return *n
	}
	return 0
}

func safeString(v interface{}) string {
	s, _ := v.(string)
	return s
}

// DecodeOrders reads a raw orderHistory.allOrders slice (as decoded from
// JSON into []interface{}) into typed UpstreamOrder values, shared by the
// event normalizer (C9) and the trader metrics derivation (C5).
func DecodeOrders(raw []interface{}) []UpstreamOrder {
	out := make([]UpstreamOrder, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		order := UpstreamOrder{
			Symbol:       safeString(m["symbol"]),
			Side:         safeString(m["side"]),
			PositionSide: PositionSide(safeString(m["positionSide"])),
			ExecutedQty:  safeNumberOrZero(m["executedQty"]),
			AvgPrice:     safeNumberOrZero(m["avgPrice"]),
		}
		if pnl := safeNumber(m["totalPnl"]); pnl != nil {
			order.TotalPnL = pnl
		}
		if ms := safeNumber(m["orderTime"]); ms != nil {
			order.OrderTime = time.UnixMilli(int64(*ms)).UTC()
		}
		if ms := safeNumber(m["orderUpdateTime"]); ms != nil {
			order.OrderUpdateTime = time.UnixMilli(int64(*ms)).UTC()
		}
		out = append(out, order)
	}
	return out
}
