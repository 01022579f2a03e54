package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DHTOperations tracks raw DHT GET/PUT calls made by the Kademlia
	// collaborator interface, independent of which namespace validator
	// handled them.
	DHTOperations = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dht",
			Name:      "operations_total",
			Help:      "Total number of DHT operations",
		},
		[]string{"operation", "status"}, // get/put, success/failure
	)

	// DHTPeerResponses tracks how many peers responded to a PUT.
	DHTPeerResponses = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dht",
			Name:      "peer_responses",
			Help:      "Number of peers that responded to a DHT PUT",
			Buckets:   prometheus.LinearBuckets(0, 2, 10),
		},
	)

	// ValidatorRejections tracks records rejected by a namespace
	// validator before reaching application code.
	ValidatorRejections = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dht",
			Name:      "validator_rejections_total",
			Help:      "Total number of records rejected by a DHT namespace validator",
		},
		[]string{"namespace", "reason"},
	)
)
