package portal

import (
	"context"
	"strings"
	"time"

	"github.com/estmeter/estmeter/pkg/types"
)

// Mock implements the Source interface with deterministic synthetic data so
// the whole pipeline can run without real portal credentials.
type Mock struct {
	meters   []types.Meter
	earliest time.Time
}

// NewMock returns a mock portal with two meters and ten days of hourly
// history ending yesterday. The first meter pretends to have solar panels
// and exports around midday.
func NewMock() *Mock {
	return &Mock{
		meters: []types.Meter{
			{ID: "60000001", Address: "Mock street 1, Riga"},
			{ID: "60000002", Address: "Mock street 2, Riga"},
		},
		earliest: Midnight(time.Now()).AddDate(0, 0, -10),
	}
}

// SetEarliest overrides where history begins. This is primarily used for testing.
func (m *Mock) SetEarliest(t time.Time) {
	m.earliest = t
}

// Authenticate implements Source.
func (m *Mock) Authenticate(ctx context.Context) (types.Customer, error) {
	return types.Customer{
		FullName: "Mock Customer",
		EICCode:  "59X1234567890123B",
	}, nil
}

// Meters implements Source.
func (m *Mock) Meters(ctx context.Context) ([]types.Meter, error) {
	return append([]types.Meter(nil), m.meters...), nil
}

// FetchPeriod implements Source. Only month windows produce points, which is
// the one shape the backfill loop requests. Points are stamped at the end of
// each metering interval, so a day spans 01:00 through midnight of the next
// day, exactly like the real portal.
func (m *Mock) FetchPeriod(ctx context.Context, meterID string, period PeriodKind, year int, month time.Month, day int, granularity Granularity) (map[types.Direction][]types.IntervalPoint, error) {
	out := map[types.Direction][]types.IntervalPoint{
		types.DirectionConsumed: {},
		types.DirectionReturned: {},
	}
	if period != PeriodMonth {
		return out, nil
	}

	start := time.Date(year, month, 1, 0, 0, 0, 0, Riga)
	end := start.AddDate(0, 1, 0)
	if today := Midnight(time.Now()); end.After(today) {
		end = today
	}
	if start.Before(m.earliest) {
		start = m.earliest
	}

	for t := start; t.Before(end); t = t.Add(time.Hour) {
		out[types.DirectionConsumed] = append(out[types.DirectionConsumed], types.IntervalPoint{
			TS:  t.Add(time.Hour),
			KWH: mockConsumption(meterID, t),
		})
		if kwh := mockReturn(meterID, t); kwh > 0 {
			out[types.DirectionReturned] = append(out[types.DirectionReturned], types.IntervalPoint{
				TS:  t.Add(time.Hour),
				KWH: kwh,
			})
		}
	}
	return out, nil
}

// EarliestData implements Source.
func (m *Mock) EarliestData(ctx context.Context, meterID string) (time.Time, error) {
	return m.earliest, nil
}

// mockConsumption follows a rough household curve with a morning bump and an
// evening peak.
func mockConsumption(meterID string, t time.Time) float64 {
	kwh := 0.15
	switch hour := t.In(Riga).Hour(); {
	case hour >= 17 && hour <= 21:
		kwh = 0.9
	case hour >= 7 && hour <= 9:
		kwh = 0.6
	case hour >= 10 && hour <= 16:
		kwh = 0.3
	}
	if strings.HasSuffix(meterID, "2") {
		kwh *= 0.5
	}
	return kwh
}

// mockReturn is nonzero only for the first meter, around midday.
func mockReturn(meterID string, t time.Time) float64 {
	if !strings.HasSuffix(meterID, "1") {
		return 0
	}
	if hour := t.In(Riga).Hour(); hour >= 10 && hour <= 15 {
		return 0.4
	}
	return 0
}
