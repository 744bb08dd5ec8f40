package billing

import "time"

// Metrics defines the interface for tracking reconciliation operations.
// All methods are optional - a nil Metrics in Config becomes NoopMetrics.
type Metrics interface {
	// RecordReconcile records a finished reconciliation.
	// strategy: "subscription_id", "customer_id", "email" or "none"
	// status: "success" or "error"
	RecordReconcile(provider, strategy, status string)

	// RecordReconcileDuration records how long a reconciliation took.
	RecordReconcileDuration(provider string, duration time.Duration)

	// RecordTierChange records when a user's tier changes.
	RecordTierChange(provider, fromTier, toTier string)

	// RecordAPICall records an API call to the billing provider.
	// endpoint: The API endpoint called (e.g., "/v1/subscriptions")
	// status: "200" or "error"
	RecordAPICall(provider, endpoint, status string)

	// RecordAPICallDuration records how long an API call took.
	RecordAPICallDuration(provider, endpoint string, duration time.Duration)

	// RecordStoreWriteFailure records an upsert that failed after a successful normalize.
	RecordStoreWriteFailure(operation string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordReconcile(_, _, _ string)                     {}
func (n *NoopMetrics) RecordReconcileDuration(_ string, _ time.Duration)  {}
func (n *NoopMetrics) RecordTierChange(_, _, _ string)                    {}
func (n *NoopMetrics) RecordAPICall(_, _, _ string)                       {}
func (n *NoopMetrics) RecordAPICallDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordStoreWriteFailure(_ string)                   {}
