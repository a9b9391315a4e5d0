package signals

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"copytrade-signals/internal/database"
)

func TestPassesViewFilters_RecentlyOpenedCutoffExactness(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	filter := HeatmapFilter{RecentlyOpened: "10m"}
	recentWindow, recentActive := ParseRecentlyOpened(filter.RecentlyOpened)
	require.True(t, recentActive)
	require.Equal(t, 10*time.Minute, recentWindow)

	openedNineMinutesAgo := now.Add(-9 * time.Minute)
	view := PositionView{OpenTime: &openedNineMinutesAgo}
	require.True(t, passesViewFilters(view, filter, time.Time{}, recentActive, recentWindow, now),
		"a position opened 9m ago must pass a 10m recentlyOpened window")

	openedElevenMinutesAgo := now.Add(-11 * time.Minute)
	view = PositionView{OpenTime: &openedElevenMinutesAgo}
	require.False(t, passesViewFilters(view, filter, time.Time{}, recentActive, recentWindow, now),
		"a position opened 11m ago must fail a 10m recentlyOpened window")

	openedExactlyAtWindow := now.Add(-10 * time.Minute)
	view = PositionView{OpenTime: &openedExactlyAtWindow}
	require.True(t, passesViewFilters(view, filter, time.Time{}, recentActive, recentWindow, now),
		"a position opened exactly at the window boundary must still pass")
}

func TestClassifyLeverage_BucketBoundaries(t *testing.T) {
	require.Equal(t, LeverageBucketUnder20, ClassifyLeverage(19.99))
	require.Equal(t, LeverageBucket20to50, ClassifyLeverage(20))
	require.Equal(t, LeverageBucket20to50, ClassifyLeverage(50))
	require.Equal(t, LeverageBucket50to100, ClassifyLeverage(50.01))
	require.Equal(t, LeverageBucket50to100, ClassifyLeverage(100))
	require.Equal(t, LeverageBucketOver100, ClassifyLeverage(100.01))
}

func TestNormalizeTimeRange_AllNeverTruncates(t *testing.T) {
	tr := NormalizeTimeRange("ALL")
	require.Equal(t, TimeRangeAll, tr)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cutoff := tr.Cutoff(now)
	require.True(t, cutoff.IsZero(), "ALL must produce a zero cutoff so no position is ever filtered out by time")

	veryOldOpenTime := now.AddDate(-10, 0, 0)
	view := PositionView{OpenTime: &veryOldOpenTime}
	require.True(t, passesViewFilters(view, HeatmapFilter{TimeRange: TimeRangeAll}, cutoff, false, 0, now),
		"a position opened 10 years ago must still pass under timeRange=ALL")
}

func TestNormalizeTimeRange_DefaultsToDay(t *testing.T) {
	require.Equal(t, TimeRange24h, NormalizeTimeRange(""))
	require.Equal(t, TimeRange24h, NormalizeTimeRange("not-a-range"))
	require.Equal(t, TimeRange1h, NormalizeTimeRange("1h"))
}

func TestMatchesLeverageBucket_AllAlwaysMatches(t *testing.T) {
	require.True(t, MatchesLeverageBucket(500, LeverageBucketAll))
	require.True(t, MatchesLeverageBucket(500, ""))
	require.False(t, MatchesLeverageBucket(5, LeverageBucketOver100))
}

func TestSegmentMatches_UnknownTreatedAsVisibleUnderBoth(t *testing.T) {
	require.True(t, SegmentMatches(database.SegmentUnknown, "visible"))
	require.False(t, SegmentMatches(database.SegmentUnknown, "hidden"))
	require.True(t, SegmentMatches(database.SegmentUnknown, "both"))
}
