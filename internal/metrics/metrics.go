package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	AdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fia_admissions_total",
			Help: "Total number of admission decisions by stage and outcome.",
		},
		[]string{"stage", "outcome"},
	)

	ReservationsReleasedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fia_reservations_released_total",
			Help: "Total number of reservations released with reported usage.",
		},
	)

	ReservationsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fia_reservations_expired_total",
			Help: "Total number of reservations reclaimed by the expiry sweep.",
		},
	)

	ReservationsOutstanding = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fia_reservations_outstanding",
			Help: "Outstanding reservations observed by the most recent admission.",
		},
	)

	TransitionContentionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fia_reservation_transition_contention_total",
			Help: "Guarded reservation transitions lost to a concurrent writer.",
		},
		[]string{"to"},
	)

	CostEstimatedMicros = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fia_cost_estimated_micros_total",
			Help: "Estimated cost granted, in currency micro-units.",
		},
	)

	CostActualMicros = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fia_cost_actual_micros_total",
			Help: "Actual cost reported on release, in currency micro-units.",
		},
	)

	RunsClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fia_runs_closed_total",
			Help: "Total number of runs closed by stage and result.",
		},
		[]string{"stage", "result"},
	)

	RunDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fia_run_duration_seconds",
			Help:    "Duration of closed runs in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"stage", "result"},
	)

	AnomalyEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fia_anomaly_events_total",
			Help: "Total number of anomaly events recorded by kind.",
		},
		[]string{"kind"},
	)

	AnomalyFlushesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fia_anomaly_flushes_total",
			Help: "Total number of anomaly rollup flushes.",
		},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fia_storage_retries_total",
			Help: "Transient storage conflicts retried by operation.",
		},
		[]string{"operation"},
	)

	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fia_events_dropped_total",
			Help: "Events not delivered to a lagging subscriber, by type.",
		},
		[]string{"type"},
	)
)

// All lists every custom collector.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		AdmissionsTotal,
		ReservationsReleasedTotal,
		ReservationsExpiredTotal,
		ReservationsOutstanding,
		TransitionContentionTotal,
		CostEstimatedMicros,
		CostActualMicros,
		RunsClosedTotal,
		RunDurationSeconds,
		AnomalyEventsTotal,
		AnomalyFlushesTotal,
		RetriesTotal,
		EventsDroppedTotal,
	}
}

// Register registers all custom fia metrics with reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(All()...)
}
