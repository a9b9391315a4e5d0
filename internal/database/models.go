package database

import "time"

// Segment classifies a trader by how much of its positions it exposes.
type Segment string

const (
	SegmentVisible Segment = "visible"
	SegmentHidden  Segment = "hidden"
	SegmentUnknown Segment = "unknown"
)

// Confidence is the coarse confidence bucket attached to derived metrics.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Direction is a trade or consensus direction.
type Direction string

const (
	DirectionLong    Direction = "long"
	DirectionShort   Direction = "short"
	DirectionNeutral Direction = "neutral"
)

// PositionSide mirrors the upstream positionSide enum (includes "both").
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
	PositionSideBoth  PositionSide = "both"
)

// Trader is the unique identity behind a lead-trader account.
type Trader struct {
	ID                    string     `json:"id"`
	DisplayName           string     `json:"displayName"`
	AvatarURL             string     `json:"avatarUrl,omitempty"`
	Segment               Segment    `json:"segment"`
	PositionShow          *bool      `json:"positionShow,omitempty"`
	PositionShowChangedAt *time.Time `json:"positionShowChangedAt,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// StalenessOf classifies how recently PositionShowChangedAt was observed.
func (t *Trader) StalenessOf(now time.Time) string {
	if t.PositionShowChangedAt == nil {
		return "never_set"
	}
	age := now.Sub(*t.PositionShowChangedAt)
	switch {
	case age < time.Hour:
		return "fresh"
	case age < 24*time.Hour:
		return "stale_1h"
	default:
		return "stale_24h"
	}
}

// RawIngest is an append-only per-(trader,fetchedAt) record of the opaque
// upstream payload, per spec.md §3/§4.3.
type RawIngest struct {
	ID               int64          `json:"id"`
	TraderID         string         `json:"traderId"`
	FetchedAt        time.Time      `json:"fetchedAt"`
	TimeRange        string         `json:"timeRange,omitempty"`
	StartTime        *time.Time     `json:"startTime,omitempty"`
	EndTime          *time.Time     `json:"endTime,omitempty"`
	Payload          map[string]any `json:"payload"`
	PositionsCount   int            `json:"positionsCount"`
	OrdersCount      int            `json:"ordersCount"`
	ParityPass       *bool          `json:"parityPass,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
}

// LivePosition is a position entry inside RawIngest.activePositions, after
// the active-position filter (spec.md §4.1).
type LivePosition struct {
	Symbol          string       `json:"symbol"`
	Side            PositionSide `json:"side"`
	Amount          float64      `json:"amount"`
	EntryPrice      float64      `json:"entryPrice"`
	MarkPrice       float64      `json:"markPrice"`
	BreakEvenPrice  float64      `json:"breakEvenPrice"`
	Notional        float64      `json:"notional"`
	Leverage        float64      `json:"leverage"`
	Isolated        bool         `json:"isolated"`
	UnrealizedPnL   float64      `json:"unrealizedPnl"`
	CumRealized     float64      `json:"cumRealized"`
	ADL             int          `json:"adl"`
}

// PositionAudit is the §4.1 audit block emitted by the active-position filter.
type PositionAudit struct {
	TotalCount                   int `json:"totalCount"`
	FilteredActivePositionsCount int `json:"filteredActivePositionsCount"`
	NonZeroAmountCount           int `json:"nonZeroAmountCount"`
	NonZeroNotionalCount         int `json:"nonZeroNotionalCount"`
	NonZeroUnrealizedPnLCount    int `json:"nonZeroUnrealizedPnlCount"`
	DroppedBecauseAllZeroCount   int `json:"droppedBecauseAllZeroCount"`
}

// UpstreamOrder is an order entry inside RawIngest.orderHistory.
type UpstreamOrder struct {
	Symbol          string       `json:"symbol"`
	Side            string       `json:"side"` // buy|sell
	PositionSide    PositionSide `json:"positionSide"`
	ExecutedQty     float64      `json:"executedQty"`
	AvgPrice        float64      `json:"avgPrice"`
	TotalPnL        *float64     `json:"totalPnl,omitempty"`
	OrderTime       time.Time    `json:"orderTime"`
	OrderUpdateTime time.Time    `json:"orderUpdateTime"`
}

// EventKind is the normalized event type (spec.md §3 Event).
type EventKind string

const (
	EventOpenLong   EventKind = "open_long"
	EventCloseLong  EventKind = "close_long"
	EventOpenShort  EventKind = "open_short"
	EventCloseShort EventKind = "close_short"
)

// Event is a normalized open/close record derived from order history.
type Event struct {
	ID           int64      `json:"id"`
	TraderID     string     `json:"traderId"`
	Symbol       string     `json:"symbol"`
	Kind         EventKind  `json:"kind"`
	EventTime    *time.Time `json:"eventTime,omitempty"`
	FetchedAt    time.Time  `json:"fetchedAt"`
	Price        float64    `json:"price"`
	Amount       float64    `json:"amount"`
	RealizedPnL  *float64   `json:"realizedPnl,omitempty"`
}

// PositionStateStatus is the lifecycle status of a reconstructed position.
type PositionStateStatus string

const (
	PositionStateActive PositionStateStatus = "active"
	PositionStateClosed PositionStateStatus = "closed"
)

// PositionState is the reconstructed per-(trader,symbol,direction) open/close
// lifecycle (spec.md §3/§4.7).
type PositionState struct {
	ID                 int64                `json:"id"`
	TraderID           string               `json:"traderId"`
	Symbol             string               `json:"symbol"`
	Direction          Direction            `json:"direction"`
	Status             PositionStateStatus  `json:"status"`
	EntryPrice         float64              `json:"entryPrice"`
	Amount             float64              `json:"amount"`
	Leverage           *float64             `json:"leverage,omitempty"`
	FirstSeenAt        time.Time            `json:"firstSeenAt"`
	LastSeenAt         time.Time            `json:"lastSeenAt"`
	EstimatedOpenTime  time.Time            `json:"estimatedOpenTime"`
	DisappearedAt      *time.Time           `json:"disappearedAt,omitempty"`
	EstimatedCloseTime *time.Time           `json:"estimatedCloseTime,omitempty"`
	OpeningEventID     *int64               `json:"openingEventId,omitempty"`
	ReconstructionConfidence *float64       `json:"reconstructionConfidence,omitempty"`
	CreatedAt          time.Time            `json:"createdAt"`
	UpdatedAt          time.Time            `json:"updatedAt"`
}

// UncertaintyRange is the (lower,upper) bound pair for an estimated timestamp.
type UncertaintyRange struct {
	Lower time.Time `json:"lower"`
	Upper time.Time `json:"upper"`
}

// TraderScore is the per-trader derived score/weight row (spec.md §3/§4.4-4.6).
type TraderScore struct {
	TraderID      string     `json:"traderId"`
	Score30D      float64    `json:"score30d"`
	QualityScore  float64    `json:"qualityScore"`
	Confidence    Confidence `json:"confidence"`
	WinRate       *float64   `json:"winRate,omitempty"`
	SampleSize    int        `json:"sampleSize"`
	TraderWeight  float64    `json:"traderWeight"`
	AvgLeverage   *float64   `json:"avgLeverage,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// SymbolAggregation is the derived, rebuildable per-symbol counter row.
type SymbolAggregation struct {
	Symbol         string    `json:"symbol"`
	OpenLongCount  int       `json:"openLongCount"`
	OpenShortCount int       `json:"openShortCount"`
	TotalOpens     int       `json:"totalOpens"`
	LatestEventID  *int64    `json:"latestEventId,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// SimulatedPositionStatus is open or closed.
type SimulatedPositionStatus string

const (
	SimPositionOpen   SimulatedPositionStatus = "open"
	SimPositionClosed SimulatedPositionStatus = "closed"
)

// CloseReason enumerates why a simulated position was closed.
type CloseReason string

const (
	CloseFirstTraderClose CloseReason = "first_trader_close"
	CloseAutoReverse      CloseReason = "auto_reverse_signal"
	CloseManual           CloseReason = "manual_close"
	CloseStopLoss         CloseReason = "stop_loss"
	CloseTakeProfit       CloseReason = "take_profit"
	CloseTrailingStop     CloseReason = "trailing_stop"
)

// PositionSource distinguishes manually opened from auto-triggered positions.
type PositionSource string

const (
	SourceManual PositionSource = "manual"
	SourceAuto   PositionSource = "auto"
)

// SimulatedPosition is a paper position (spec.md §3/§4.12).
type SimulatedPosition struct {
	ID                    int64                   `json:"id"`
	PortfolioID           string                  `json:"portfolioId"`
	Platform              string                  `json:"platform"`
	Symbol                string                  `json:"symbol"`
	Direction             Direction               `json:"direction"`
	Status                SimulatedPositionStatus `json:"status"`
	Leverage              float64                 `json:"leverage"`
	MarginNotional        float64                 `json:"marginNotional"`
	PositionNotional      float64                 `json:"positionNotional"`
	EntryPrice            float64                 `json:"entryPrice"`
	EffectiveEntryPrice   float64                 `json:"effectiveEntryPrice"`
	ExitPrice             *float64                `json:"exitPrice,omitempty"`
	OpenedAt              time.Time               `json:"openedAt"`
	ClosedAt              *time.Time              `json:"closedAt,omitempty"`
	CloseReason           *CloseReason            `json:"closeReason,omitempty"`
	CloseTriggerTraderID  *string                 `json:"closeTriggerTraderId,omitempty"`
	CloseTriggerEventKind *EventKind              `json:"closeTriggerEventKind,omitempty"`
	PnLUSDT               *float64                `json:"pnlUsdt,omitempty"`
	ROIPct                *float64                `json:"roiPct,omitempty"`
	StopLossPrice         *float64                `json:"stopLossPrice,omitempty"`
	TakeProfitPrice       *float64                `json:"takeProfitPrice,omitempty"`
	TrailingStopPct       *float64                `json:"trailingStopPct,omitempty"`
	SlippageBps           float64                 `json:"slippageBps"`
	CommissionBps         float64                 `json:"commissionBps"`
	Source                PositionSource          `json:"source"`
	CreatedAt             time.Time               `json:"createdAt"`
	UpdatedAt             time.Time               `json:"updatedAt"`
}

// Portfolio holds simulated-trading account state and risk limits.
type Portfolio struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	InitialBalance       float64   `json:"initialBalance"`
	CurrentBalance       float64   `json:"currentBalance"`
	KellyFraction        float64   `json:"kellyFraction"`
	MinSampleSize        int       `json:"minSampleSize"`
	MaxRiskPerTrade      float64   `json:"maxRiskPerTrade"`
	MaxPortfolioRisk     float64   `json:"maxPortfolioRisk"`
	MaxOpenPositions     int       `json:"maxOpenPositions"`
	DefaultSlippageBps   float64   `json:"defaultSlippageBps"`
	DefaultCommissionBps float64   `json:"defaultCommissionBps"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// AutoTriggerRule is the singleton (id="default") auto-trigger configuration.
type AutoTriggerRule struct {
	ID               string     `json:"id"`
	Enabled          bool       `json:"enabled"`
	SegmentFilter    string     `json:"segmentFilter"` // visible|hidden|both
	TimeRange        string     `json:"timeRange"`
	MinTraders       int        `json:"minTraders"`
	MinConfidence    float64    `json:"minConfidence"`
	MinSentimentAbs  float64    `json:"minSentimentAbs"`
	Leverage         float64    `json:"leverage"`
	MarginNotional   float64    `json:"marginNotional"`
	CooldownMinutes  int        `json:"cooldownMinutes"`
	PortfolioID      string     `json:"portfolioId"`
	LastRunAt        *time.Time `json:"lastRunAt,omitempty"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// InsightsMode selects a threshold preset bundle.
type InsightsMode string

const (
	InsightsConservative InsightsMode = "conservative"
	InsightsBalanced     InsightsMode = "balanced"
	InsightsAggressive   InsightsMode = "aggressive"
)

// InsightsThresholds is one preset bundle (spec.md §4.11).
type InsightsThresholds struct {
	CrowdedMinTraders       int     `json:"crowdedMinTraders"`
	CrowdedMinConfidence    float64 `json:"crowdedMinConfidence"`
	CrowdedMinSentimentAbs  float64 `json:"crowdedMinSentimentAbs"`
	LowConfidenceLimit      float64 `json:"lowConfidenceLimit"`
	HighLeverageThreshold   float64 `json:"highLeverageThreshold"`
	ExtremeLeverageThreshold float64 `json:"extremeLeverageThreshold"`
	UnstableFlipThreshold   int     `json:"unstableFlipThreshold"`
	ClusterFlipThreshold    int     `json:"clusterFlipThreshold"`
	ScoreMultiplier         float64 `json:"scoreMultiplier"`
}

// InsightsRule is the singleton (id="default") insights configuration.
type InsightsRule struct {
	ID              string                               `json:"id"`
	DefaultMode     InsightsMode                          `json:"defaultMode"`
	Presets         map[InsightsMode]InsightsThresholds   `json:"presets"`
	UpdatedAt       time.Time                             `json:"updatedAt"`
}
