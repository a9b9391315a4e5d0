package signals

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"copytrade-signals/internal/database"
)

func evt(traderID, symbol string, kind database.EventKind, amount float64, at time.Time) *database.Event {
	return &database.Event{TraderID: traderID, Symbol: symbol, Kind: kind, Amount: amount, FetchedAt: at}
}

func TestAggregateLatestRecords_OpenOnly(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	records := aggregateLatestRecords([]*database.Event{
		evt("trader-a", "BTCUSDT", database.EventOpenLong, 10, base),
	}, 100)

	require.Len(t, records, 1)
	require.Equal(t, RecordOpenOnly, records[0].Status)
	require.Equal(t, 10.0, records[0].OpenedAmount)
	require.Zero(t, records[0].ClosedAmount)
}

func TestAggregateLatestRecords_PartialClose(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	records := aggregateLatestRecords([]*database.Event{
		evt("trader-a", "BTCUSDT", database.EventOpenLong, 10, base),
		evt("trader-a", "BTCUSDT", database.EventCloseLong, 4, base.Add(time.Hour)),
	}, 100)

	require.Len(t, records, 1)
	require.Equal(t, RecordPartialClose, records[0].Status)
	require.InDelta(t, 40.0, records[0].ClosePct, 1e-9)
}

func TestAggregateLatestRecords_FullClose(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	records := aggregateLatestRecords([]*database.Event{
		evt("trader-a", "BTCUSDT", database.EventOpenShort, 10, base),
		evt("trader-a", "BTCUSDT", database.EventCloseShort, 10, base.Add(time.Hour)),
	}, 100)

	require.Len(t, records, 1)
	require.Equal(t, RecordFullClose, records[0].Status)
	require.Equal(t, database.DirectionShort, records[0].Direction)
}

func TestAggregateLatestRecords_OverClose(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	records := aggregateLatestRecords([]*database.Event{
		evt("trader-a", "BTCUSDT", database.EventOpenLong, 5, base),
		evt("trader-a", "BTCUSDT", database.EventCloseLong, 8, base.Add(time.Hour)),
	}, 100)

	require.Len(t, records, 1)
	require.Equal(t, RecordOverClose, records[0].Status)
}

func TestAggregateLatestRecords_SeparatesByDirectionAndSymbol(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	records := aggregateLatestRecords([]*database.Event{
		evt("trader-a", "BTCUSDT", database.EventOpenLong, 5, base),
		evt("trader-a", "BTCUSDT", database.EventOpenShort, 3, base),
		evt("trader-a", "ETHUSDT", database.EventOpenLong, 2, base),
	}, 100)

	require.Len(t, records, 3)
}

func TestAggregateLatestRecords_OrderedByRecencyAndLimited(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	records := aggregateLatestRecords([]*database.Event{
		evt("trader-a", "BTCUSDT", database.EventOpenLong, 1, base),
		evt("trader-b", "ETHUSDT", database.EventOpenLong, 1, base.Add(2*time.Hour)),
		evt("trader-c", "SOLUSDT", database.EventOpenLong, 1, base.Add(time.Hour)),
	}, 2)

	require.Len(t, records, 2)
	require.Equal(t, "trader-b", records[0].TraderID)
	require.Equal(t, "trader-c", records[1].TraderID)
}
