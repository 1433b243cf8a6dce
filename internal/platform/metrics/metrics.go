package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the entity vault.
type Metrics struct {
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	CacheLookups      *prometheus.CounterVec
	ConsistencyGaps   *prometheus.CounterVec
	Repairs           *prometheus.CounterVec
}

// New creates and registers all collectors on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers collectors on reg; tests pass a fresh registry.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "privata_entity_operations_total",
			Help: "Entity operations by type, operation and outcome",
		}, []string{"entity_type", "operation", "outcome"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "privata_entity_operation_duration_seconds",
			Help:    "Latency of entity operations",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"entity_type", "operation"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "privata_entity_cache_lookups_total",
			Help: "Entity cache lookups by result (hit, miss, corrupt)",
		}, []string{"entity_type", "result"}),
		ConsistencyGaps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "privata_entity_consistency_gaps_total",
			Help: "Operations that left identity and clinical stores out of step",
		}, []string{"entity_type", "operation"}),
		Repairs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "privata_entity_journal_repairs_total",
			Help: "Pending journal intents resolved by the reconciler",
		}, []string{"entity_type", "operation", "outcome"}),
	}
}

// ObserveOperation records an operation outcome and its latency.
func (m *Metrics) ObserveOperation(entityType, op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Operations.WithLabelValues(entityType, op, outcome).Inc()
	m.OperationDuration.WithLabelValues(entityType, op).Observe(time.Since(start).Seconds())
}

// RecordCacheLookup counts a cache lookup result.
func (m *Metrics) RecordCacheLookup(entityType, result string) {
	m.CacheLookups.WithLabelValues(entityType, result).Inc()
}

// RecordConsistencyGap counts an operation that left the stores diverged.
func (m *Metrics) RecordConsistencyGap(entityType, op string) {
	m.ConsistencyGaps.WithLabelValues(entityType, op).Inc()
}

// RecordRepair counts a reconciler resolution.
func (m *Metrics) RecordRepair(entityType, op, outcome string) {
	m.Repairs.WithLabelValues(entityType, op, outcome).Inc()
}
