package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "roomsched"

var (
	once sync.Once

	conversions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Booking conversions by result.",
		},
		[]string{"result"},
	)

	allocationUpgrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocation_upgrades_total",
			Help:      "Allocations that fell through to a larger room size.",
		},
		[]string{"from", "to"},
	)

	partialFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversion_partial_failures_total",
			Help:      "Conversions that failed after writing at least one reservation.",
		},
		[]string{"step"},
	)

	lockAcquire = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_acquire_total",
			Help:      "Booking lock acquisition attempts by outcome.",
		},
		[]string{"result"},
	)

	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_job_runs_total",
			Help:      "Lifecycle job runs by job and result.",
		},
		[]string{"job", "result"},
	)

	jobItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_job_items_total",
			Help:      "Items processed by lifecycle jobs by outcome.",
		},
		[]string{"job", "outcome"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lifecycle_job_duration_seconds",
			Help:      "Lifecycle job run duration.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route and status code.",
		},
		[]string{"route", "code"},
	)

	notifyFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_failures_total",
			Help:      "Failed event deliveries by sink.",
		},
		[]string{"sink"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			conversions,
			allocationUpgrades,
			partialFailures,
			lockAcquire,
			jobRuns,
			jobItems,
			jobDuration,
			httpRequests,
			notifyFailures,
		)
	})
}

func IncConversion(result string) {
	conversions.WithLabelValues(result).Inc()
}

func IncAllocationUpgrade(from, to string) {
	allocationUpgrades.WithLabelValues(from, to).Inc()
}

func IncPartialFailure(step string) {
	partialFailures.WithLabelValues(step).Inc()
}

func IncLockAcquire(result string) {
	lockAcquire.WithLabelValues(result).Inc()
}

func ObserveJobRun(job, result string, d time.Duration) {
	jobRuns.WithLabelValues(job, result).Inc()
	jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func AddJobItems(job, outcome string, n int) {
	if n <= 0 {
		return
	}
	jobItems.WithLabelValues(job, outcome).Add(float64(n))
}

func IncHTTPRequest(route, code string) {
	httpRequests.WithLabelValues(route, code).Inc()
}

func IncNotifyFailure(sink string) {
	notifyFailures.WithLabelValues(sink).Inc()
}
