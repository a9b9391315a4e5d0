// Package signals serves the heatmap and per-symbol queries built on top of
// consensus (spec.md §4.10).
package signals

import (
	"regexp"
	"time"

	"copytrade-signals/internal/database"
)

// TimeRange is a named lookback window for the heatmap/symbol queries.
type TimeRange string

const (
	TimeRange1h  TimeRange = "1h"
	TimeRange4h  TimeRange = "4h"
	TimeRange24h TimeRange = "24h"
	TimeRange7d  TimeRange = "7d"
	TimeRangeAll TimeRange = "ALL"
)

// timeRangeMillis is the exact lookback table from spec.md §4.10.
var timeRangeMillis = map[TimeRange]int64{
	TimeRange1h:  3.6e6,
	TimeRange4h:  1.44e7,
	TimeRange24h: 8.64e7,
	TimeRange7d:  6.048e8,
}

// Cutoff returns the cutoff instant for a time range relative to now, or the
// zero time for ALL (no lower bound).
func (tr TimeRange) Cutoff(now time.Time) time.Time {
	ms, ok := timeRangeMillis[tr]
	if !ok {
		return time.Time{}
	}
	return now.Add(-time.Duration(ms) * time.Millisecond)
}

// NormalizeTimeRange defaults to 24h for an unrecognized or empty value.
func NormalizeTimeRange(raw string) TimeRange {
	switch TimeRange(raw) {
	case TimeRange1h, TimeRange4h, TimeRange24h, TimeRange7d, TimeRangeAll:
		return TimeRange(raw)
	default:
		return TimeRange24h
	}
}

// LeverageBucket classifies a leverage value into the spec's buckets.
type LeverageBucket string

const (
	LeverageBucketAll     LeverageBucket = "ALL"
	LeverageBucketUnder20 LeverageBucket = "<20x"
	LeverageBucket20to50  LeverageBucket = "20-50x"
	LeverageBucket50to100 LeverageBucket = "50-100x"
	LeverageBucketOver100 LeverageBucket = ">100x"
)

// ClassifyLeverage buckets a leverage value per spec.md §4.10: <20x, 20-50x
// inclusive, 50-100x inclusive of 100, >100x.
func ClassifyLeverage(leverage float64) LeverageBucket {
	switch {
	case leverage < 20:
		return LeverageBucketUnder20
	case leverage <= 50:
		return LeverageBucket20to50
	case leverage <= 100:
		return LeverageBucket50to100
	default:
		return LeverageBucketOver100
	}
}

// MatchesLeverageBucket reports whether a leverage value belongs to the
// requested bucket filter (ALL always matches).
func MatchesLeverageBucket(leverage float64, bucket LeverageBucket) bool {
	if bucket == "" || bucket == LeverageBucketAll {
		return true
	}
	return ClassifyLeverage(leverage) == bucket
}

// SegmentMatches implements the segment filter semantics of spec.md §4.10:
// unknown is treated as visible when the filter is "both".
func SegmentMatches(segment database.Segment, filter string) bool {
	switch filter {
	case "visible":
		return segment == database.SegmentVisible || segment == database.SegmentUnknown
	case "hidden":
		return segment == database.SegmentHidden
	default: // "both" or empty
		return true
	}
}

var recentlyOpenedPattern = regexp.MustCompile(`^\d+(m|h|d)$`)

// ParseRecentlyOpened parses a "recentlyOpened" filter value like "30m",
// "4h", or "2d" into a duration. Returns false if the value is empty or
// malformed.
func ParseRecentlyOpened(raw string) (time.Duration, bool) {
	if raw == "" || !recentlyOpenedPattern.MatchString(raw) {
		return 0, false
	}
	unit := raw[len(raw)-1]
	amount := raw[:len(raw)-1]

	var n int64
	for _, r := range amount {
		n = n*10 + int64(r-'0')
	}

	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// HeatmapFilter bundles the query parameters accepted by the heatmap and
// symbol-detail endpoints (spec.md §4.10).
type HeatmapFilter struct {
	TimeRange      TimeRange
	Side           database.Direction
	MinTraders     int
	LeverageBucket LeverageBucket
	SegmentFilter  string
	RecentlyOpened string
}
