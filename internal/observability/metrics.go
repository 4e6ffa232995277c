package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "trip_allocation"

var (
	AllocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "allocations_total", Help: "Allocation attempts by outcome"},
		[]string{"outcome"},
	)
	AllocationLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "allocation_latency_seconds", Help: "Allocation attempt latency seconds"})
	CancellationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "cancellations_total", Help: "Allocation cancellations by result"},
		[]string{"result"},
	)

	DistanceEstimates = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "distance_estimates_total", Help: "Distance estimates served by source"},
		[]string{"source"},
	)
	ProviderFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "provider_failures_total", Help: "Road distance provider calls that fell back"})

	BatchPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "batch_passes_total", Help: "Batch allocator passes by result"},
		[]string{"result"},
	)
	BatchTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "batch_trips_total", Help: "Trips visited by the batch allocator by outcome"},
		[]string{"outcome"},
	)
	PendingBacklog = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "pending_backlog", Help: "Pending trips seen in the last batch pass"})

	LocationUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "location_updates_total", Help: "Driver location updates by result"},
		[]string{"result"},
	)
	ConsumerDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "consumer_messages_dropped_total", Help: "Kafka location messages the consumer skipped"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
