package upstream

import "time"

// Payload is the per-trader record produced by the upstream client (C1),
// spec.md §4.1. Each sub-field degrades to nil independently on partial
// upstream failure; only FetchedAt/TimeRange/StartTime/EndTime are always set.
type Payload struct {
	FetchedAt time.Time `json:"fetchedAt"`
	TimeRange string    `json:"timeRange"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`

	LeadCommon       map[string]interface{} `json:"leadCommon"`
	PortfolioDetail  map[string]interface{} `json:"portfolioDetail"`
	ActivePositions  []interface{}           `json:"activePositions"`
	PositionAudit    PositionAudit           `json:"positionAudit"`
	ROISeries        []interface{}           `json:"roiSeries"`
	AssetPreferences []interface{}           `json:"assetPreferences"`
	OrderHistory     OrderHistory            `json:"orderHistory"`
}

// OrderHistory wraps the upstream order-history sub-payload.
type OrderHistory struct {
	Total     int           `json:"total"`
	AllOrders []interface{} `json:"allOrders"`
}

// PositionAudit is the §4.1 audit block emitted by the active-position filter (C2).
type PositionAudit struct {
	TotalCount                   int `json:"totalCount"`
	FilteredActivePositionsCount int `json:"filteredActivePositionsCount"`
	NonZeroAmountCount           int `json:"nonZeroAmountCount"`
	NonZeroNotionalCount         int `json:"nonZeroNotionalCount"`
	NonZeroUnrealizedPnLCount    int `json:"nonZeroUnrealizedPnlCount"`
	DroppedBecauseAllZeroCount   int `json:"droppedBecauseAllZeroCount"`
}

// FetchOptions overrides the per-fetch time range.
type FetchOptions struct {
	TimeRange string
	StartTime time.Time
	EndTime   time.Time
}

// envelope is the {success, data} shape every upstream call returns.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
}
