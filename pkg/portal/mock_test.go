package portal

import (
	"context"
	"testing"
	"time"

	"github.com/estmeter/estmeter/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockFetchPeriod(t *testing.T) {
	ctx := context.Background()
	m := NewMock()
	earliest := time.Date(2024, time.January, 5, 0, 0, 0, 0, Riga)
	m.SetEarliest(earliest)

	points, err := m.FetchPeriod(ctx, "60000001", PeriodMonth, 2024, time.January, 0, GranularityHour)
	require.NoError(t, err)

	consumed := points[types.DirectionConsumed]
	require.NotEmpty(t, consumed)
	// 27 full days from the 5th through the end of January
	assert.Len(t, consumed, 27*24)
	assert.True(t, consumed[0].TS.Equal(earliest.Add(time.Hour)),
		"the first point should close the first hour of the earliest day")
	assert.True(t, consumed[len(consumed)-1].TS.Equal(time.Date(2024, time.February, 1, 0, 0, 0, 0, Riga)),
		"the last point should close the last hour of January")

	returned := points[types.DirectionReturned]
	require.NotEmpty(t, returned, "the first meter exports around midday")
	for _, p := range returned {
		assert.InDelta(t, 0.4, p.KWH, 0.0001)
	}

	// the second meter consumes half as much and exports nothing
	points2, err := m.FetchPeriod(ctx, "60000002", PeriodMonth, 2024, time.January, 0, GranularityHour)
	require.NoError(t, err)
	assert.Empty(t, points2[types.DirectionReturned])
	require.NotEmpty(t, points2[types.DirectionConsumed])
	assert.InDelta(t, consumed[0].KWH*0.5, points2[types.DirectionConsumed][0].KWH, 0.0001)

	// fetching the same month twice yields identical data
	again, err := m.FetchPeriod(ctx, "60000001", PeriodMonth, 2024, time.January, 0, GranularityHour)
	require.NoError(t, err)
	assert.Equal(t, points, again, "mock data must be deterministic")
}

func TestMockFetchPeriodOutsideHistory(t *testing.T) {
	m := NewMock()
	m.SetEarliest(time.Date(2024, time.January, 5, 0, 0, 0, 0, Riga))

	points, err := m.FetchPeriod(context.Background(), "60000001", PeriodMonth, 2023, time.December, 0, GranularityHour)
	require.NoError(t, err)
	assert.Empty(t, points[types.DirectionConsumed], "months before history began have no points")
	assert.Empty(t, points[types.DirectionReturned])
}

func TestMockSource(t *testing.T) {
	ctx := context.Background()
	m := NewMock()

	cust, err := m.Authenticate(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, cust.FullName)
	assert.NotEmpty(t, cust.EICCode)

	meters, err := m.Meters(ctx)
	require.NoError(t, err)
	require.Len(t, meters, 2)

	earliest, err := m.EarliestData(ctx, meters[0].ID)
	require.NoError(t, err)
	assert.False(t, earliest.IsZero())
	assert.True(t, earliest.Before(time.Now()), "history should begin in the past")
}
