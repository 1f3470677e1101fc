package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics (harness surface)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Sync engine metrics
	EventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provchat_feed_events_applied_total",
			Help: "Change-feed events applied to room logs",
		},
		[]string{"type"}, // insert, update, delete
	)

	FeedReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "provchat_feed_reconnects_total",
			Help: "Successful change-feed resubscriptions after a drop",
		},
	)

	CatchUpFetches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "provchat_catchup_fetches_total",
			Help: "Bounded catch-up fetches run after a reconnect",
		},
	)

	Sends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provchat_sends_total",
			Help: "Optimistic sends by outcome",
		},
		[]string{"outcome"}, // ok, error
	)

	PageLoads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "provchat_page_loads_total",
			Help: "History page fetches (initial, older, catch-up pages)",
		},
	)

	PageLoadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "provchat_page_load_duration_seconds",
			Help:    "History page fetch latency",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	OpenSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "provchat_open_sessions",
			Help: "Room sessions currently open",
		},
	)
)
