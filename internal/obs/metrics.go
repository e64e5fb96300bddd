package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectorsOnline       = promauto.NewGauge(prometheus.GaugeOpts{Name: "relaygate_connectors_online", Help: "Connector tunnels currently routed"})
	PendingRequests        = promauto.NewGauge(prometheus.GaugeOpts{Name: "relaygate_pending_requests", Help: "Relayed requests awaiting a terminal frame"})
	RelayRequestsTotal     = promauto.NewCounter(prometheus.CounterOpts{Name: "relaygate_relay_requests_total", Help: "Requests dispatched over tunnels"})
	RelayTimeoutsTotal     = promauto.NewCounter(prometheus.CounterOpts{Name: "relaygate_relay_timeouts_total", Help: "Relayed requests that hit the settlement timeout"})
	RateLimitedTotal       = promauto.NewCounter(prometheus.CounterOpts{Name: "relaygate_rate_limited_total", Help: "Ingress requests rejected by the rate limiter"})
	HeartbeatFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "relaygate_heartbeat_failures_total", Help: "Heartbeats rejected by the control authority"})
	ErrorsTotal            = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relaygate_errors_total", Help: "Errors by type"}, []string{"type"})
	RelayDurationSeconds   = promauto.NewHistogram(prometheus.HistogramOpts{Name: "relaygate_relay_duration_seconds", Help: "Tunnel round-trip seconds per relayed request", Buckets: prometheus.ExponentialBuckets(0.01, 2, 16)})
)
