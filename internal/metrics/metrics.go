package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the scheduler's collectors. A nil *Metrics is valid and
// records nothing, so components can be built without instrumentation.
type Metrics struct {
	// FiresTotal counts fire events enqueued by job timers.
	FiresTotal *prometheus.CounterVec

	// DispatchedTotal counts instances handed to the launcher.
	DispatchedTotal prometheus.Counter

	// LaunchFailuresTotal counts launcher errors and panics.
	LaunchFailuresTotal prometheus.Counter

	// QueueDepth is the number of fire events waiting for the dispatcher.
	QueueDepth prometheus.Gauge

	// ActiveJobs is the number of registered job timers.
	ActiveJobs prometheus.Gauge

	// DispatchLag is the time between a fire and its dispatch.
	DispatchLag prometheus.Histogram
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests
// to keep them isolated from the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FiresTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repeatjob_fires_total",
				Help: "The total number of fire events enqueued.",
			},
			[]string{"job"},
		),
		DispatchedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "repeatjob_dispatched_total",
			Help: "The total number of instances dispatched.",
		}),
		LaunchFailuresTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "repeatjob_launch_failures_total",
			Help: "The total number of launches that returned an error or panicked.",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "repeatjob_queue_depth",
			Help: "The number of fire events waiting to be dispatched.",
		}),
		ActiveJobs: f.NewGauge(prometheus.GaugeOpts{
			Name: "repeatjob_active_jobs",
			Help: "The number of registered job timers.",
		}),
		DispatchLag: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "repeatjob_dispatch_lag_seconds",
			Help:    "Time between an instance firing and being dispatched.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8), // 0.5ms .. ~8s
		}),
	}
}

func (m *Metrics) ObserveFire(job int) {
	if m == nil {
		return
	}
	m.FiresTotal.WithLabelValues(strconv.Itoa(job)).Inc()
}

func (m *Metrics) ObserveDispatch(lag time.Duration) {
	if m == nil {
		return
	}
	m.DispatchedTotal.Inc()
	if lag < 0 {
		lag = 0
	}
	m.DispatchLag.Observe(lag.Seconds())
}

func (m *Metrics) ObserveLaunchFailure() {
	if m == nil {
		return
	}
	m.LaunchFailuresTotal.Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) SetActiveJobs(n int) {
	if m == nil {
		return
	}
	m.ActiveJobs.Set(float64(n))
}
