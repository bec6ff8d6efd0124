package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livechat_websocket_connections_active",
			Help: "Current number of live-query websocket connections",
		},
	)

	SnapshotsBroadcast = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livechat_snapshots_broadcast_total",
			Help: "Number of full collection snapshots fanned out to clients",
		},
	)

	SlowClientsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livechat_slow_clients_dropped_total",
			Help: "Connections closed because their send queue was full",
		},
	)

	AppendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_appends_total",
			Help: "Append requests by result",
		},
		[]string{"result"},
	)

	LoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_logins_total",
			Help: "Sign-in attempts by result",
		},
		[]string{"result"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "livechat_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	MessagesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_messages_persisted_total",
			Help: "Messages written to ScyllaDB by result",
		},
		[]string{"result"},
	)
)
