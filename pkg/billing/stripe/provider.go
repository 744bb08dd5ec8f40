// Package stripe implements billing.Ledger on top of the Stripe API.
// Only read lookups are performed; nothing here mutates Stripe state.
package stripe

import (
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/subsync/pkg/billing"
)

const (
	providerName       = "stripe"
	defaultHTTPTimeout = 10 * time.Second
	statusAll          = "all"

	endpointSubscriptionRetrieve = "/v1/subscriptions/{id}"
	endpointSubscriptionList     = "/v1/subscriptions"
	endpointCustomerList         = "/v1/customers"
)

// Config holds Stripe ledger configuration
type Config struct {
	// StripeAPIKey is the secret key used for read lookups (required)
	StripeAPIKey string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// Metrics is optional; nil means billing.NoopMetrics.
	Metrics billing.Metrics

	// Logger is optional; nil means billing.NoopLogger.
	Logger billing.Logger
}

// Ledger implements billing.Ledger for Stripe
type Ledger struct {
	api     stripeAPI
	metrics billing.Metrics
	logger  billing.Logger
}

// NewLedger creates a new Stripe ledger
func NewLedger(config Config) (*Ledger, error) {
	apiKey := strings.TrimSpace(config.StripeAPIKey)
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: defaultHTTPTimeout,
		}
	}

	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		HTTPClient: httpClient,
	})
	client := stripe.NewClient(apiKey, stripe.WithBackends(backends))

	return newLedger(&clientAPI{client: client}, config), nil
}

func newLedger(api stripeAPI, config Config) *Ledger {
	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	logger := config.Logger
	if logger == nil {
		logger = &billing.NoopLogger{}
	}
	return &Ledger{
		api:     api,
		metrics: metrics,
		logger:  logger,
	}
}

// Name returns the provider name
func (l *Ledger) Name() string {
	return providerName
}
