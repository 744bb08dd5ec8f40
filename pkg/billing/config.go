package billing

import "fmt"

const (
	// DefaultMaxEmailCandidates bounds the customers inspected by the email strategy.
	DefaultMaxEmailCandidates = 5
)

// Config wires a Reconciler to its collaborators.
type Config struct {
	// Store is the local subscription/profile store (required)
	Store Store

	// Ledger is the billing provider (required)
	Ledger Ledger

	// MaxEmailCandidates caps how many customers sharing the profile email are
	// inspected. Defaults to DefaultMaxEmailCandidates.
	MaxEmailCandidates int

	// StrictWrites makes a failed upsert fail the reconciliation.
	// When false (default) the failure is logged and the normalized result is
	// still returned, so the result and the stored row can diverge.
	StrictWrites bool

	// TimeSource stamps UpdatedAt. If nil and Store implements TimeSource the
	// store's clock is used, otherwise the local UTC clock.
	TimeSource TimeSource

	// Logger is optional; nil means NoopLogger.
	Logger Logger

	// Metrics is optional; nil means NoopMetrics.
	Metrics Metrics
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Ledger == nil {
		return fmt.Errorf("ledger is required: %w", ErrProviderNotConfigured)
	}
	if c.MaxEmailCandidates < 0 {
		return fmt.Errorf("max email candidates must not be negative")
	}
	return nil
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxEmailCandidates == 0 {
		out.MaxEmailCandidates = DefaultMaxEmailCandidates
	}
	if out.TimeSource == nil {
		if ts, ok := out.Store.(TimeSource); ok {
			out.TimeSource = ts
		}
	}
	if out.Logger == nil {
		out.Logger = &NoopLogger{}
	}
	if out.Metrics == nil {
		out.Metrics = &NoopMetrics{}
	}
	return out
}
