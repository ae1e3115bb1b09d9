package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/estmeter/estmeter/pkg/storage"
	"github.com/estmeter/estmeter/pkg/types"
)

// MockDatabase implements storage.Database on top of a testify mock. This is
// primarily used for testing error paths the real providers cannot produce.
type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetLatestRecord(ctx context.Context, statisticID string) (*types.CumulativeRecord, error) {
	args := m.Called(ctx, statisticID)
	val := args.Get(0)
	if val == nil {
		return nil, args.Error(1)
	}
	return val.(*types.CumulativeRecord), args.Error(1)
}

func (m *MockDatabase) GetRecords(ctx context.Context, statisticID string, start, end time.Time) ([]types.CumulativeRecord, error) {
	args := m.Called(ctx, statisticID, start, end)
	val := args.Get(0)
	if val == nil {
		return nil, args.Error(1)
	}
	return val.([]types.CumulativeRecord), args.Error(1)
}

func (m *MockDatabase) GetSeries(ctx context.Context, statisticID string) (*types.SeriesMetadata, error) {
	args := m.Called(ctx, statisticID)
	val := args.Get(0)
	if val == nil {
		return nil, args.Error(1)
	}
	return val.(*types.SeriesMetadata), args.Error(1)
}

func (m *MockDatabase) AppendRecords(ctx context.Context, meta types.SeriesMetadata, records []types.CumulativeRecord) error {
	args := m.Called(ctx, meta, records)
	return args.Error(0)
}

func (m *MockDatabase) ListSeries(ctx context.Context) ([]types.SeriesMetadata, error) {
	args := m.Called(ctx)
	val := args.Get(0)
	if val == nil {
		return nil, args.Error(1)
	}
	return val.([]types.SeriesMetadata), args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
