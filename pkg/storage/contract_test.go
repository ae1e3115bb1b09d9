package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estmeter/estmeter/pkg/types"
)

// testDatabase runs a provider through the same scenario the updater
// exercises: empty reads, an initial batch, a replayed batch, and range
// queries. The provider must start out empty.
func testDatabase(t *testing.T, db Database) {
	ctx := context.Background()

	meter := types.Meter{ID: "60123456", Address: "Brīvības iela 1, Rīga"}
	meta := types.MetadataFor(meter, types.DirectionConsumed)
	base := time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC)

	t.Run("EmptySeries", func(t *testing.T) {
		rec, err := db.GetLatestRecord(ctx, meta.StatisticID)
		require.NoError(t, err)
		assert.Nil(t, rec, "latest record of an unknown series should be nil")

		recs, err := db.GetRecords(ctx, meta.StatisticID, base, base.Add(24*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, recs)

		got, err := db.GetSeries(ctx, meta.StatisticID)
		require.NoError(t, err)
		assert.Nil(t, got, "an unknown series has no metadata")

		series, err := db.ListSeries(ctx)
		require.NoError(t, err)
		assert.Empty(t, series)
	})

	batch := []types.CumulativeRecord{
		{StatisticID: meta.StatisticID, Start: base, Sum: 1.5},
		{StatisticID: meta.StatisticID, Start: base.Add(time.Hour), Sum: 2.25},
		{StatisticID: meta.StatisticID, Start: base.Add(2 * time.Hour), Sum: 4.0},
	}

	t.Run("Append", func(t *testing.T) {
		require.NoError(t, db.AppendRecords(ctx, meta, batch))

		latest, err := db.GetLatestRecord(ctx, meta.StatisticID)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.True(t, latest.Start.Equal(base.Add(2*time.Hour)), "latest start should be the last appended record")
		assert.Equal(t, 4.0, latest.Sum)

		got, err := db.GetSeries(ctx, meta.StatisticID)
		require.NoError(t, err)
		require.NotNil(t, got, "appending should register the series in the catalog")
		assert.Equal(t, meta, *got)
	})

	t.Run("Replay", func(t *testing.T) {
		// re-sending an already stored batch must not duplicate anything
		require.NoError(t, db.AppendRecords(ctx, meta, batch))

		recs, err := db.GetRecords(ctx, meta.StatisticID, base, base.Add(3*time.Hour))
		require.NoError(t, err)
		require.Len(t, recs, 3)
		for i, rec := range recs {
			assert.True(t, rec.Start.Equal(batch[i].Start), "record %d start mismatch", i)
			assert.Equal(t, batch[i].Sum, rec.Sum, "record %d sum mismatch", i)
		}
	})

	t.Run("RangeFiltering", func(t *testing.T) {
		recs, err := db.GetRecords(ctx, meta.StatisticID, base.Add(time.Hour), base.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, recs, 1, "range bounds are inclusive")
		assert.Equal(t, 2.25, recs[0].Sum)
	})

	t.Run("SecondSeries", func(t *testing.T) {
		other := types.MetadataFor(meter, types.DirectionReturned)
		require.NoError(t, db.AppendRecords(ctx, other, []types.CumulativeRecord{
			{StatisticID: other.StatisticID, Start: base, Sum: 0.5},
		}))

		series, err := db.ListSeries(ctx)
		require.NoError(t, err)
		require.Len(t, series, 2)
		assert.Equal(t, meta.StatisticID, series[0].StatisticID, "series should be sorted by statistic ID")
		assert.Equal(t, other.StatisticID, series[1].StatisticID)

		// the new series must not leak into the first one
		latest, err := db.GetLatestRecord(ctx, meta.StatisticID)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, 4.0, latest.Sum)
	})

	t.Run("MetadataUpdate", func(t *testing.T) {
		renamed := meta
		renamed.Name = "Renamed series"
		require.NoError(t, db.AppendRecords(ctx, renamed, nil))

		series, err := db.ListSeries(ctx)
		require.NoError(t, err)
		require.Len(t, series, 2)
		assert.Equal(t, "Renamed series", series[0].Name)

		got, err := db.GetSeries(ctx, meta.StatisticID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Renamed series", got.Name)
	})

	t.Run("MissingStatisticID", func(t *testing.T) {
		err := db.AppendRecords(ctx, types.SeriesMetadata{}, nil)
		assert.ErrorContains(t, err, "statistic ID")
	})
}
