package portal

import (
	"context"
	"errors"
	"time"

	"github.com/estmeter/estmeter/pkg/types"
)

var (
	// ErrAuth means the portal rejected the account credentials. Nothing on
	// the account can be fetched until the credentials are fixed, so
	// callers abort the whole account instead of retrying per meter.
	ErrAuth = errors.New("invalid e-mail or password")

	// ErrFetch covers transport failures and pages whose shape the client
	// could not decode. Only the affected meter or listing is lost.
	ErrFetch = errors.New("portal fetch failed")
)

// PeriodKind selects the window of a consumption-chart request.
type PeriodKind string

const (
	PeriodDay   PeriodKind = "D"
	PeriodMonth PeriodKind = "M"
	PeriodYear  PeriodKind = "Y"
)

// Granularity selects the resolution of the returned points.
type Granularity string

const (
	GranularityNative Granularity = "N"
	GranularityHour   Granularity = "H"
	GranularityDay    Granularity = "D"
)

// Source defines the interface for reading meter data out of one utility
// portal account.
type Source interface {
	// Authenticate verifies the credentials and returns the account holder.
	Authenticate(ctx context.Context) (types.Customer, error)

	// Meters returns every smart meter on the account.
	Meters(ctx context.Context) ([]types.Meter, error)

	// FetchPeriod returns the readings of one meter for the requested
	// window, keyed by direction. Both directions are always present,
	// possibly with no points. Zero year, month or day values anchor the
	// window at yesterday in the portal's zone.
	FetchPeriod(ctx context.Context, meterID string, period PeriodKind, year int, month time.Month, day int, granularity Granularity) (map[types.Direction][]types.IntervalPoint, error)

	// EarliestData returns the first day the portal has data for the
	// meter. The zero time means the portal offered no hint.
	EarliestData(ctx context.Context, meterID string) (time.Time, error)
}
