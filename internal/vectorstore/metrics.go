package vectorstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IndexedChunks is the number of chunks held across all tenants.
	IndexedChunks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "indexed_chunks",
			Help:      "Number of chunks currently held across all tenant indexes",
		},
	)

	// TenantIndexes is the number of tenant indexes.
	TenantIndexes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "tenant_indexes",
			Help:      "Number of tenant indexes",
		},
	)

	// Operations counts index operations.
	// Labels: op (insert, search, delete_document, delete_tenant), result (success, error)
	Operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of index operations",
		},
		[]string{"op", "result"},
	)

	// SearchDuration tracks linear-scan search latency.
	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "search_duration_seconds",
			Help:      "Duration of similarity searches in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
	)
)

func recordOp(op string, err error) {
	if err != nil {
		Operations.WithLabelValues(op, "error").Inc()
		return
	}
	Operations.WithLabelValues(op, "success").Inc()
}
