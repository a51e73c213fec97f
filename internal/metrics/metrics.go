// Package metrics exposes Prometheus collectors for executor activity and
// the bus observer that feeds them.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the daemon's Prometheus collectors.
type Metrics struct {
	goalsReceived  *prometheus.CounterVec
	results        *prometheus.CounterVec
	resultsDropped *prometheus.CounterVec
	hookFaults     *prometheus.CounterVec
	schedulesFired *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	executorState  *prometheus.GaugeVec
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// Default returns the package-level metrics instance registered with the
// global Prometheus registry. The collectors are created only once to avoid
// duplicate registration panics when the daemon is instantiated multiple
// times in one process.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNew(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// runDurationBuckets covers hook runtimes from sub-second descriptor reads
// to multi-minute localization passes.
var runDurationBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// MustNew constructs a Metrics instance using the provided registerer.
// Callers supply a fresh registry when unique collectors are required (for
// example in tests). A registration error other than duplicate registration
// panics, mirroring promauto semantics.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	goalsReceived := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sextant",
			Subsystem: "executor",
			Name:      "goals_received_total",
			Help:      "Goals accepted by a transport, by action.",
		},
		[]string{"executor", "action"},
	)
	results := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sextant",
			Subsystem: "executor",
			Name:      "results_total",
			Help:      "Terminal results emitted, by action and status.",
		},
		[]string{"executor", "action", "status"},
	)
	resultsDropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sextant",
			Subsystem: "executor",
			Name:      "results_dropped_total",
			Help:      "Results discarded because their run was superseded.",
		},
		[]string{"executor"},
	)
	hookFaults := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sextant",
			Subsystem: "executor",
			Name:      "hook_faults_total",
			Help:      "Strategy hook panics recovered at the dispatch boundary.",
		},
		[]string{"executor", "action"},
	)
	schedulesFired := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sextant",
			Subsystem: "scheduler",
			Name:      "fires_total",
			Help:      "Scheduled goal submissions, by entry name.",
		},
		[]string{"entry", "executor"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sextant",
			Subsystem: "executor",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of strategy hook runs.",
			Buckets:   runDurationBuckets,
		},
		[]string{"executor", "action", "status"},
	)
	executorState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sextant",
			Subsystem: "executor",
			Name:      "state",
			Help:      "Executor lifecycle state, one-hot per state label.",
		},
		[]string{"executor", "state"},
	)

	collectors := []prometheus.Collector{
		goalsReceived, results, resultsDropped, hookFaults, schedulesFired,
		runDuration, executorState,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				// Reuse the existing collector when one is already registered.
				switch collector {
				case goalsReceived:
					goalsReceived = already.ExistingCollector.(*prometheus.CounterVec)
				case results:
					results = already.ExistingCollector.(*prometheus.CounterVec)
				case resultsDropped:
					resultsDropped = already.ExistingCollector.(*prometheus.CounterVec)
				case hookFaults:
					hookFaults = already.ExistingCollector.(*prometheus.CounterVec)
				case schedulesFired:
					schedulesFired = already.ExistingCollector.(*prometheus.CounterVec)
				case runDuration:
					runDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case executorState:
					executorState = already.ExistingCollector.(*prometheus.GaugeVec)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		goalsReceived:  goalsReceived,
		results:        results,
		resultsDropped: resultsDropped,
		hookFaults:     hookFaults,
		schedulesFired: schedulesFired,
		runDuration:    runDuration,
		executorState:  executorState,
	}
}

// IncGoalReceived counts an accepted goal.
func (m *Metrics) IncGoalReceived(executor, action string) {
	if m == nil || m.goalsReceived == nil {
		return
	}
	m.goalsReceived.WithLabelValues(executor, action).Inc()
}

// ObserveResult counts a terminal result and records its run duration.
func (m *Metrics) ObserveResult(executor, action, status string, duration time.Duration) {
	if m == nil || m.results == nil {
		return
	}
	m.results.WithLabelValues(executor, action, status).Inc()
	m.runDuration.WithLabelValues(executor, action, status).Observe(duration.Seconds())
}

// IncResultDropped counts a stale result discarded after supersession.
func (m *Metrics) IncResultDropped(executor string) {
	if m == nil || m.resultsDropped == nil {
		return
	}
	m.resultsDropped.WithLabelValues(executor).Inc()
}

// IncHookFault counts a recovered strategy hook panic.
func (m *Metrics) IncHookFault(executor, action string) {
	if m == nil || m.hookFaults == nil {
		return
	}
	m.hookFaults.WithLabelValues(executor, action).Inc()
}

// IncScheduleFired counts a scheduler-submitted goal.
func (m *Metrics) IncScheduleFired(entry, executor string) {
	if m == nil || m.schedulesFired == nil {
		return
	}
	m.schedulesFired.WithLabelValues(entry, executor).Inc()
}

// SetState moves the one-hot state gauge from one state label to another.
func (m *Metrics) SetState(executor, from, to string) {
	if m == nil || m.executorState == nil {
		return
	}
	if from != "" {
		m.executorState.WithLabelValues(executor, from).Set(0)
	}
	if to != "" {
		m.executorState.WithLabelValues(executor, to).Set(1)
	}
}
