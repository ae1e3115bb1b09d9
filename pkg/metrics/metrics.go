package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "estmeter_"

// Result labels for ObserveRun and IncFetch.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	registerOnce sync.Once

	runTotal    *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	runSkipped  prometheus.Counter

	portalFetches *prometheus.CounterVec

	recordsAppended *prometheus.CounterVec
	meterOutcomes   *prometheus.CounterVec
)

// Init registers the updater metrics.
func Init() {
	registerOnce.Do(func() {
		runTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "runs_total",
				Help: "Total update runs by result",
			},
			[]string{"result"},
		)
		runDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "run_duration_seconds",
				Help:    "Update run duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		runSkipped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "runs_skipped_total",
				Help: "Total run triggers skipped because a run was already in progress",
			},
		)

		portalFetches = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "portal_fetches_total",
				Help: "Total portal chart fetches by result",
			},
			[]string{"result"},
		)

		recordsAppended = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "records_appended_total",
				Help: "Total cumulative records appended by direction",
			},
			[]string{"direction"},
		)
		meterOutcomes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "meter_outcomes_total",
				Help: "Total per-meter update outcomes",
			},
			[]string{"outcome"},
		)

		prometheus.MustRegister(
			runTotal,
			runDuration,
			runSkipped,
			portalFetches,
			recordsAppended,
			meterOutcomes,
		)
	})
}

// ObserveRun records run duration and result.
func ObserveRun(result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if runTotal != nil {
		runTotal.WithLabelValues(result).Inc()
	}
	if runDuration != nil {
		runDuration.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncRunSkipped increments the skipped trigger counter.
func IncRunSkipped() {
	if runSkipped != nil {
		runSkipped.Inc()
	}
}

// IncFetch increments the portal fetch counter.
func IncFetch(result string) {
	if result == "" {
		result = ResultSuccess
	}
	if portalFetches != nil {
		portalFetches.WithLabelValues(result).Inc()
	}
}

// AddRecordsAppended increments the appended record counter by count.
func AddRecordsAppended(direction string, count int) {
	if count <= 0 {
		return
	}
	if recordsAppended != nil {
		recordsAppended.WithLabelValues(direction).Add(float64(count))
	}
}

// IncMeterOutcome increments the per-meter outcome counter.
func IncMeterOutcome(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if meterOutcomes != nil {
		meterOutcomes.WithLabelValues(outcome).Inc()
	}
}
