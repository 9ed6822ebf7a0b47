package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/iEdgir01/aws-ec2-discord-controller/internal/domain"
)

var (
	RemoteCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ec2ctl_remote_calls_total",
			Help: "Remote compute API calls by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	CacheHits = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ec2ctl_cache_hits",
			Help: "Cumulative state cache hits",
		},
	)

	CacheMisses = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ec2ctl_cache_misses",
			Help: "Cumulative state cache misses",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ec2ctl_cache_entries",
			Help: "Live entries currently in the state cache",
		},
	)

	OpenSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ec2ctl_open_sessions",
			Help: "Resources with an open uptime session",
		},
	)

	AlertFirings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ec2ctl_alert_firings_total",
			Help: "Alert firing decisions by kind",
		},
		[]string{"kind"},
	)

	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ec2ctl_poll_tick_seconds",
			Help:    "Time spent in one poll-and-reconcile tick",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// RecordRemoteCall classifies one remote call for the counter vec.
func RecordRemoteCall(op string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case domain.Exhausted(err):
		outcome = "exhausted"
	case domain.IsPermanent(err):
		outcome = "permanent"
	default:
		outcome = "transient"
	}
	RemoteCalls.WithLabelValues(op, outcome).Inc()
}
