package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mihaimyh/subsync/pkg/billing"
)

// Metrics implements billing.Metrics using Prometheus.
type Metrics struct {
	reconcileTotal     *prometheus.CounterVec
	reconcileDuration  *prometheus.HistogramVec
	tierChangesTotal   *prometheus.CounterVec
	apiCallsTotal      *prometheus.CounterVec
	apiCallDuration    *prometheus.HistogramVec
	storeWriteFailures *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation for reconciliation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		reconcileTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "reconcile_total",
			Help:      "Total number of reconciliations by matching strategy.",
		}, []string{"provider", "strategy", "status"}),

		reconcileDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of reconciliations in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),

		tierChangesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "tier_changes_total",
			Help:      "Total number of tier changes.",
		}, []string{"provider", "from_tier", "to_tier"}),

		apiCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "api_calls_total",
			Help:      "Total number of API calls to billing providers.",
		}, []string{"provider", "endpoint", "status"}),

		apiCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "api_call_duration_seconds",
			Help:      "Duration of API calls to billing providers in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "endpoint"}),

		storeWriteFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "store_write_failures_total",
			Help:      "Total number of subscription record writes that failed.",
		}, []string{"operation"}),
	}
}

func (m *Metrics) RecordReconcile(provider, strategy, status string) {
	m.reconcileTotal.WithLabelValues(provider, strategy, status).Inc()
}

func (m *Metrics) RecordReconcileDuration(provider string, duration time.Duration) {
	m.reconcileDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func (m *Metrics) RecordTierChange(provider, fromTier, toTier string) {
	m.tierChangesTotal.WithLabelValues(provider, fromTier, toTier).Inc()
}

func (m *Metrics) RecordAPICall(provider, endpoint, status string) {
	m.apiCallsTotal.WithLabelValues(provider, endpoint, status).Inc()
}

func (m *Metrics) RecordAPICallDuration(provider, endpoint string, duration time.Duration) {
	m.apiCallDuration.WithLabelValues(provider, endpoint).Observe(duration.Seconds())
}

func (m *Metrics) RecordStoreWriteFailure(operation string) {
	m.storeWriteFailures.WithLabelValues(operation).Inc()
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) billing.Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
