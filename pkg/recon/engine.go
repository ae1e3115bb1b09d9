package recon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/estmeter/estmeter/pkg/log"
	"github.com/estmeter/estmeter/pkg/metrics"
	"github.com/estmeter/estmeter/pkg/portal"
	"github.com/estmeter/estmeter/pkg/storage"
	"github.com/estmeter/estmeter/pkg/types"
)

// EventSink receives progress events while a run executes.
type EventSink interface {
	Publish(event types.RunEvent)
}

// Engine drives the month-by-month reconciliation of portal interval data
// into cumulative records in the statistics store.
type Engine struct {
	portals  *portal.Map
	db       storage.Database
	registry *Registry

	mu   sync.Mutex
	sink EventSink
}

// NewEngine creates a new Engine.
func NewEngine(portals *portal.Map, db storage.Database) *Engine {
	return &Engine{
		portals:  portals,
		db:       db,
		registry: NewRegistry(),
	}
}

// SetEventSink wires an optional sink for run progress events.
func (e *Engine) SetEventSink(s EventSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = s
}

func (e *Engine) publish(event types.RunEvent) {
	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()
	if sink != nil {
		sink.Publish(event)
	}
}

// RunOnce reconciles every account once. The returned error is non-nil only
// when the context was cancelled; authentication and fetch failures are
// reported per account in the RunReport instead.
func (e *Engine) RunOnce(ctx context.Context, dryRun bool) (types.RunReport, error) {
	report := types.RunReport{
		Started: time.Now(),
		DryRun:  dryRun,
	}
	log.Ctx(ctx).InfoContext(ctx, "run started", slog.Bool("dryRun", dryRun))
	e.publish(types.RunEvent{Type: types.EventRunStarted, Time: report.Started})

	// snapshot the day boundary once so a run crossing midnight cannot
	// chase a moving target
	today := portal.Midnight(time.Now())

	for _, account := range e.portals.Accounts() {
		if err := ctx.Err(); err != nil {
			report.Finished = time.Now()
			return report, err
		}
		src, ok := e.portals.Source(account)
		if !ok {
			continue
		}
		report.Accounts = append(report.Accounts, e.runAccount(ctx, account, src, today, dryRun))
	}

	report.Finished = time.Now()

	result := metrics.ResultSuccess
	if report.Failed() {
		result = metrics.ResultError
	}
	metrics.ObserveRun(result, report.Finished.Sub(report.Started))

	log.Ctx(ctx).InfoContext(ctx, "run finished",
		slog.Bool("failed", report.Failed()),
		slog.Int("records", report.TotalRecords()),
		slog.Duration("took", report.Finished.Sub(report.Started)))
	e.publish(types.RunEvent{Type: types.EventRunFinished, Time: report.Finished, Report: &report})
	return report, nil
}

func (e *Engine) runAccount(ctx context.Context, account string, src portal.Source, today time.Time, dryRun bool) types.AccountReport {
	acct := types.AccountReport{Account: account}
	ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("account", account)))

	customer, err := src.Authenticate(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "authentication failed", slog.Any("err", err))
		acct.Error = err.Error()
		return acct
	}
	acct.Customer = &customer
	log.Ctx(ctx).DebugContext(ctx, "authenticated",
		slog.String("customer", customer.FullName),
		slog.String("eic", customer.EICCode))

	meters, err := e.registry.Refresh(ctx, account, src)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list meters", slog.Any("err", err))
		acct.Error = err.Error()
		return acct
	}

	for _, meter := range meters {
		mr, err := e.runMeter(ctx, src, meter, today, dryRun)
		acct.Meters = append(acct.Meters, mr)
		metrics.IncMeterOutcome(string(mr.Outcome))
		e.publish(types.RunEvent{
			Type:    types.EventMeterDone,
			Time:    time.Now(),
			Account: account,
			Meter:   &mr,
		})
		if err != nil {
			// the session is gone, the remaining meters would all fail the
			// same way
			acct.Error = err.Error()
			break
		}
	}
	return acct
}

// runMeter backfills one meter up to the current day. The returned error is
// non-nil only when the whole account must be abandoned.
func (e *Engine) runMeter(ctx context.Context, src portal.Source, meter types.Meter, today time.Time, dryRun bool) (types.MeterReport, error) {
	ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("meter", meter.ID)))
	mr := types.MeterReport{MeterID: meter.ID, Address: meter.Address}

	consumedState, err := e.loadState(ctx, types.StatisticID(meter.ID, types.DirectionConsumed))
	if err != nil {
		return failMeter(ctx, mr, err), nil
	}
	returnedState, err := e.loadState(ctx, types.StatisticID(meter.ID, types.DirectionReturned))
	if err != nil {
		return failMeter(ctx, mr, err), nil
	}

	last := consumedState.current
	if last.IsZero() && !returnedState.current.IsZero() {
		// consumed series is empty but returned is not; resume from the
		// returned watermark instead of refetching all history
		last = returnedState.current
	}

	if last.IsZero() {
		earliest, err := src.EarliestData(ctx, meter.ID)
		if err != nil {
			mr = failMeter(ctx, mr, fmt.Errorf("failed to find earliest data: %w", err))
			if errors.Is(err, portal.ErrAuth) {
				return mr, err
			}
			return mr, nil
		}
		if earliest.IsZero() {
			log.Ctx(ctx).WarnContext(ctx, "portal has no usage history for meter, skipping")
			mr.Outcome = types.OutcomeSkippedNoHistory
			return mr, nil
		}
		// seed one day before the first data so the first interval is never
		// skipped
		last = portal.Midnight(earliest).AddDate(0, 0, -1)
		log.Ctx(ctx).DebugContext(ctx, "cold start", slog.Time("earliest", earliest))
	}

	// a direction whose stored tail is ahead of the resume point must not
	// re-accept the overlap
	if last.After(consumedState.current) {
		consumedState.current = last
	}
	if last.After(returnedState.current) {
		returnedState.current = last
	}

	for {
		startDate := portal.Midnight(last).AddDate(0, 0, 1)
		if !startDate.Before(today) {
			mr.Outcome = types.OutcomeCaughtUp
			break
		}

		log.Ctx(ctx).DebugContext(ctx, "fetching month",
			slog.Int("year", startDate.Year()),
			slog.Int("month", int(startDate.Month())))
		points, err := src.FetchPeriod(ctx, meter.ID, portal.PeriodMonth, startDate.Year(), startDate.Month(), 0, portal.GranularityHour)
		if err != nil {
			metrics.IncFetch(metrics.ResultError)
			mr = failMeter(ctx, mr, fmt.Errorf("failed to fetch %d-%02d: %w", startDate.Year(), startDate.Month(), err))
			if errors.Is(err, portal.ErrAuth) {
				return mr, err
			}
			return mr, nil
		}
		mr.Fetches++
		metrics.IncFetch(metrics.ResultSuccess)

		consumedPoints := points[types.DirectionConsumed]
		returnedPoints := points[types.DirectionReturned]
		if len(consumedPoints) == 0 && len(returnedPoints) == 0 {
			// ran past the history the portal has
			mr.Outcome = types.OutcomeEmptyFetch
			break
		}

		var batch []types.CumulativeRecord
		consumedState, batch = mergeDirection(consumedState, consumedPoints)
		n, err := e.append(ctx, meter, types.DirectionConsumed, batch, dryRun)
		if err != nil {
			return failMeter(ctx, mr, err), nil
		}
		mr.ConsumedRecords += n

		returnedState, batch = mergeDirection(returnedState, returnedPoints)
		n, err = e.append(ctx, meter, types.DirectionReturned, batch, dryRun)
		if err != nil {
			return failMeter(ctx, mr, err), nil
		}
		mr.ReturnedRecords += n

		if !consumedState.current.After(last) {
			// data came back but consumed made no progress; stop instead of
			// refetching the same month forever
			mr.Outcome = types.OutcomeNoProgress
			break
		}
		last = consumedState.current
	}

	log.Ctx(ctx).InfoContext(ctx, "meter update finished",
		slog.String("outcome", string(mr.Outcome)),
		slog.Int("fetches", mr.Fetches),
		slog.Int("consumedRecords", mr.ConsumedRecords),
		slog.Int("returnedRecords", mr.ReturnedRecords))
	return mr, nil
}

// append writes a merged batch unless dry run is on. It returns how many
// records were, or would have been, appended.
func (e *Engine) append(ctx context.Context, meter types.Meter, direction types.Direction, batch []types.CumulativeRecord, dryRun bool) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	if dryRun {
		log.Ctx(ctx).InfoContext(ctx, "dry run, skipping append",
			slog.String("direction", string(direction)),
			slog.Int("records", len(batch)))
		return len(batch), nil
	}
	meta := types.MetadataFor(meter, direction)
	if err := e.db.AppendRecords(ctx, meta, batch); err != nil {
		return 0, fmt.Errorf("failed to append %d records to %s: %w", len(batch), meta.StatisticID, err)
	}
	metrics.AddRecordsAppended(string(direction), len(batch))
	return len(batch), nil
}

// directionState tracks one direction's cumulative tail while a meter is
// being backfilled.
type directionState struct {
	statisticID string
	current     time.Time
	sum         float64
}

func (e *Engine) loadState(ctx context.Context, statisticID string) (directionState, error) {
	st := directionState{statisticID: statisticID}
	rec, err := e.db.GetLatestRecord(ctx, statisticID)
	if err != nil {
		return st, fmt.Errorf("failed to load watermark for %s: %w", statisticID, err)
	}
	if rec != nil {
		st.current = rec.Start
		st.sum = rec.Sum
	}
	return st, nil
}

// mergeDirection folds hourly interval points into cumulative records. The
// portal timestamps each interval by its end and the stored records by their
// start, so every point shifts back one hour. Points at or before the
// current tail are dropped.
func mergeDirection(st directionState, points []types.IntervalPoint) (directionState, []types.CumulativeRecord) {
	var batch []types.CumulativeRecord
	for _, pt := range points {
		start := pt.TS.Add(-time.Hour)
		if !start.After(st.current) {
			continue
		}
		st.current = start
		st.sum += pt.KWH
		batch = append(batch, types.CumulativeRecord{
			StatisticID: st.statisticID,
			Start:       start,
			Sum:         st.sum,
		})
	}
	return st, batch
}

func failMeter(ctx context.Context, mr types.MeterReport, err error) types.MeterReport {
	log.Ctx(ctx).ErrorContext(ctx, "meter update failed", slog.Any("err", err))
	mr.Outcome = types.OutcomeError
	mr.Error = err.Error()
	return mr
}
