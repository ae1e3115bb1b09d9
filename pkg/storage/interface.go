package storage

import (
	"context"
	"time"

	"github.com/estmeter/estmeter/pkg/types"
)

// Database defines the interface for persisting cumulative meter series.
type Database interface {
	// GetLatestRecord returns the newest record of a series, or nil when
	// the series has no records yet.
	GetLatestRecord(ctx context.Context, statisticID string) (*types.CumulativeRecord, error)

	// GetRecords returns the records of a series whose Start falls within
	// [start, end], ascending by Start.
	GetRecords(ctx context.Context, statisticID string, start, end time.Time) ([]types.CumulativeRecord, error)

	// GetSeries returns the catalog metadata of one series, or nil when no
	// records were ever appended under the statistic ID.
	GetSeries(ctx context.Context, statisticID string) (*types.SeriesMetadata, error)

	// AppendRecords upserts the series metadata and writes a batch of
	// records. Records whose Start is already stored are ignored, so a
	// replayed batch is harmless. The metadata is upserted even when the
	// batch is empty.
	AppendRecords(ctx context.Context, meta types.SeriesMetadata, records []types.CumulativeRecord) error

	// ListSeries returns the metadata of every stored series, ascending by
	// statistic ID.
	ListSeries(ctx context.Context) ([]types.SeriesMetadata, error)

	// Lifecycle
	Close() error
}
