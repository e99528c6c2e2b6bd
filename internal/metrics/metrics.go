package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Provider (FPL API) Metrics
var (
	// ProviderRequestsTotal tracks outbound FPL API requests by endpoint and outcome
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fpl_provider_requests_total",
			Help: "Total FPL API requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	// ProviderRequestDuration tracks FPL API latency in seconds
	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fpl_provider_request_duration_seconds",
			Help:    "FPL API request duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint"},
	)

	// ProviderBreakerState is the FPL circuit breaker state (0 closed, 1 half-open, 2 open)
	ProviderBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fpl_provider_breaker_state",
			Help: "FPL API circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)

// Poller Metrics
var (
	// PollsTotal tracks poll cycles by result class
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fpl_polls_total",
			Help: "Total live-score poll cycles by result",
		},
		[]string{"result"},
	)

	// DayRefreshesTotal tracks matchday cache refreshes by result class
	DayRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fpl_day_refreshes_total",
			Help: "Total matchday cache refreshes by result",
		},
		[]string{"result"},
	)

	// GoalSignalsTotal counts polls that reported a new goal
	GoalSignalsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fpl_goal_signals_total",
			Help: "Total polls that raised the new-goal signal",
		},
	)

	// LiveFixtures is the number of tracked fixtures in play at the last poll
	LiveFixtures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fpl_live_fixtures",
			Help: "Tracked fixtures in progress at the last poll",
		},
	)
)

// Host Metrics
var (
	// PublishErrorsTotal counts failed writes of sensor state to Home Assistant
	PublishErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fpl_publish_errors_total",
			Help: "Total failed sensor state publishes to Home Assistant",
		},
	)
)
