package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BucketPuts tracks DHT bucket PUT operations for the direct and
	// group offline stores.
	BucketPuts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "offline",
			Name:      "bucket_puts_total",
			Help:      "Total number of offline bucket PUT operations",
		},
		[]string{"kind", "status"}, // direct/group, success/failure
	)

	// BucketGets tracks DHT bucket GET/poll operations.
	BucketGets = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "offline",
			Name:      "bucket_gets_total",
			Help:      "Total number of offline bucket GET operations",
		},
		[]string{"kind", "status"}, // direct/group, hit/miss/error
	)

	// PendingAckBacklog tracks the number of control-plane messages
	// still awaiting acknowledgement and re-publication.
	PendingAckBacklog = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "offline",
			Name:      "pending_ack_backlog",
			Help:      "Number of pending-ack entries awaiting re-publication",
		},
	)

	// SeqGapsDetected tracks per-sender sequence gaps observed while
	// replaying a group offline epoch bucket.
	SeqGapsDetected = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "offline",
			Name:      "seq_gaps_detected_total",
			Help:      "Total number of per-sender sequence gaps detected",
		},
	)
)
