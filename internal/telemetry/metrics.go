package telemetry

import "github.com/prometheus/client_golang/prometheus"

var CacheOperationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "neocache",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Total number of cache operations by namespace and outcome.",
	},
	[]string{"namespace", "operation", "outcome"},
)

var CacheOperationDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "neocache",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Cache operation duration in seconds.",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
	},
	[]string{"namespace", "operation"},
)

var InvalidationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "neocache",
		Subsystem: "invalidation",
		Name:      "total",
		Help:      "Total number of invalidation operations by kind.",
	},
	[]string{"kind"},
)

var DistributorEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "neocache",
		Subsystem: "distributor",
		Name:      "events_total",
		Help:      "Total number of cluster coordination events by type.",
	},
	[]string{"type"},
)

var TokenValidationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "neocache",
		Subsystem: "tokenvalidator",
		Name:      "validations_total",
		Help:      "Total number of token validations by realm, strategy, and outcome.",
	},
	[]string{"realm", "strategy", "outcome"},
)

var EventsPublishedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "neocache",
		Subsystem: "eventpublisher",
		Name:      "published_total",
		Help:      "Total number of cache lifecycle events successfully published to sinks.",
	},
)

var EventsPublishFailedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "neocache",
		Subsystem: "eventpublisher",
		Name:      "publish_failed_total",
		Help:      "Total number of cache lifecycle events that failed to publish.",
	},
)

// All returns every neocache-specific metric for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		CacheOperationsTotal,
		CacheOperationDuration,
		InvalidationsTotal,
		DistributorEventsTotal,
		TokenValidationsTotal,
		EventsPublishedTotal,
		EventsPublishFailedTotal,
	}
}
