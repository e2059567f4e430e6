package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	connectionsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatewire",
			Subsystem: "transport",
			Name:      "connections_accepted_total",
			Help:      "Accepted connections by acceptor.",
		},
		[]string{"acceptor"},
	)
	connectionsRefused = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatewire",
			Subsystem: "transport",
			Name:      "connections_refused_total",
			Help:      "Refused connections by reason (banned, full).",
		},
		[]string{"reason"},
	)
	connectionsLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gatewire",
			Subsystem: "transport",
			Name:      "connections_live",
			Help:      "Connection slots currently in use.",
		},
	)
	framesIn = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gatewire",
			Subsystem: "transport",
			Name:      "frames_in_total",
			Help:      "Complete frames extracted from receive buffers.",
		},
	)
	framesOut = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gatewire",
			Subsystem: "transport",
			Name:      "frames_out_total",
			Help:      "Frames queued for delivery.",
		},
	)
	framesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatewire",
			Subsystem: "security",
			Name:      "frames_rejected_total",
			Help:      "Frames rejected by the security gate, by anomaly kind.",
		},
		[]string{"kind"},
	)
	bansActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gatewire",
			Subsystem: "security",
			Name:      "bans_active",
			Help:      "Active timed IP bans.",
		},
	)
	dblinkCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatewire",
			Subsystem: "dblink",
			Name:      "calls_total",
			Help:      "Correlated DB-link calls by outcome.",
		},
		[]string{"outcome"},
	)
	dblinkInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gatewire",
			Subsystem: "dblink",
			Name:      "calls_inflight",
			Help:      "Correlated calls currently pending.",
		},
	)
	dblinkLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "gatewire",
			Subsystem: "dblink",
			Name:      "call_duration_seconds",
			Help:      "Correlated call round-trip time.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			connectionsAccepted, connectionsRefused, connectionsLive,
			framesIn, framesOut, framesRejected, bansActive,
			dblinkCalls, dblinkInflight, dblinkLatency,
		)
	})
}

func RecordAccept(acceptor string) {
	RegisterMetrics()
	connectionsAccepted.WithLabelValues(acceptor).Inc()
}

func RecordRefusal(reason string) {
	RegisterMetrics()
	connectionsRefused.WithLabelValues(reason).Inc()
}

func SetLiveConnections(n int) {
	RegisterMetrics()
	connectionsLive.Set(float64(n))
}

func RecordFrameIn() {
	RegisterMetrics()
	framesIn.Inc()
}

func RecordFrameOut() {
	RegisterMetrics()
	framesOut.Inc()
}

func RecordRejectedFrame(kind string) {
	RegisterMetrics()
	framesRejected.WithLabelValues(kind).Inc()
}

func SetActiveBans(n int) {
	RegisterMetrics()
	bansActive.Set(float64(n))
}

func RecordDBLinkCall(outcome string, d time.Duration) {
	RegisterMetrics()
	dblinkCalls.WithLabelValues(outcome).Inc()
	dblinkLatency.Observe(d.Seconds())
}

func SetDBLinkInflight(n int) {
	RegisterMetrics()
	dblinkInflight.Set(float64(n))
}
