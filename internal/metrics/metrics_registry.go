package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "antinuke"

var (
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Normalized privileged-action events forwarded to detection, by source.",
		},
		[]string{"source"},
	)

	EventsDeduplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_deduplicated_total",
			Help:      "Events dropped because their source id was already seen, by source.",
		},
		[]string{"source"},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because the detection queue was full.",
		},
	)

	PollFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_failures_total",
			Help:      "Audit-log polls that failed and were skipped.",
		},
	)

	ThreatsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threats_detected_total",
			Help:      "Threat verdicts by verb.",
		},
		[]string{"verb"},
	)

	RaidsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "raids_detected_total",
			Help:      "Join bursts that crossed the raid threshold.",
		},
	)

	TrackedActors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_actors",
			Help:      "Actor histories currently held by the detector.",
		},
	)

	Punishments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "punishments_total",
			Help:      "Remediation actions by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	RecoveryItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_items_total",
			Help:      "Recovery tasks by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	RecoveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recovery_duration_seconds",
			Help:      "Wall time of recovery operations.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"op"},
	)

	SnapshotsCaptured = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_captured_total",
			Help:      "Snapshot captures by completeness.",
		},
		[]string{"complete"},
	)

	SnapshotCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_cache_entries",
			Help:      "Tenants with a current snapshot.",
		},
	)

	PlatformRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "platform_requests_total",
			Help:      "Outbound REST calls by route and outcome.",
		},
		[]string{"route", "outcome"},
	)
)

// Outcome maps an error to the label value used across counters.
func Outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
