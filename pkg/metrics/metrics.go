package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	PollRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatpoll_requests_total",
			Help: "Total number of long-poll requests (count)",
		},
		[]string{"outcome"},
	)

	PollWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatpoll_wait_duration_ms",
			Help:    "Time a poll request spent waiting for events in milliseconds",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 25000, 30000},
		},
		[]string{"outcome"},
	)

	PollEventsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatpoll_events_delivered_total",
			Help: "Total number of events returned to pollers (count)",
		},
		[]string{"event_type"},
	)

	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatpoll_active_connections",
			Help: "Long-poll requests currently held open (count)",
		},
	)

	EventsAppendedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatpoll_events_appended_total",
			Help: "Events appended to the store by producer hooks (count)",
		},
		[]string{"event_type", "status"},
	)

	FastPathHintsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatpoll_fastpath_hints_total",
			Help: "Fast-path cache consultations (count)",
		},
		[]string{"result"},
	)

	SweeperDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatpoll_sweeper_deleted_total",
			Help: "Expired events removed by the retention sweeper (count)",
		},
	)

	SweeperRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatpoll_sweeper_runs_total",
			Help: "Retention sweeper executions (count)",
		},
		[]string{"trigger"},
	)

	RolloutStage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatpoll_rollout_stage",
			Help: "Current rollout stage (0=disabled 1=beta 2=canary 3=gradual 4=full)",
		},
	)

	RolloutPercentage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatpoll_rollout_percentage",
			Help: "Current gradual rollout percentage (0-100)",
		},
	)

	RolloutDegradationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatpoll_rollout_degradations_total",
			Help: "Automatic rollout de-escalations triggered by the health check (count)",
		},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatpoll_ratelimit_requests_total",
			Help: "Admin endpoint requests observed by the rate limiter (count)",
		},
		[]string{"status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatpoll_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed 1=half-open 2=open)",
		},
		[]string{"name"},
	)
)

func Register() {
	prometheus.MustRegister(
		PollRequestsTotal,
		PollWaitDuration,
		PollEventsDelivered,
		ActiveConnections,
		EventsAppendedTotal,
		FastPathHintsTotal,
		SweeperDeletedTotal,
		SweeperRunsTotal,
		RolloutStage,
		RolloutPercentage,
		RolloutDegradationsTotal,
		RateLimitRequestsTotal,
		CircuitBreakerState,
	)
}

func ObservePollWait(d time.Duration, outcome string) {
	PollWaitDuration.WithLabelValues(outcome).Observe(float64(d.Milliseconds()))
}
