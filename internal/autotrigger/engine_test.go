package autotrigger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"copytrade-signals/internal/database"
)

func TestCloseCounterpart(t *testing.T) {
	require.Equal(t, database.EventCloseLong, closeCounterpart(database.DirectionLong))
	require.Equal(t, database.EventCloseShort, closeCounterpart(database.DirectionShort))
}

func TestOppositeDirection(t *testing.T) {
	require.Equal(t, database.DirectionShort, oppositeDirection(database.DirectionLong))
	require.Equal(t, database.DirectionLong, oppositeDirection(database.DirectionShort))
	require.Equal(t, database.DirectionNeutral, oppositeDirection(database.DirectionNeutral))
}

func TestAbsFloat(t *testing.T) {
	require.Equal(t, 0.5, absFloat(-0.5))
	require.Equal(t, 0.5, absFloat(0.5))
}
