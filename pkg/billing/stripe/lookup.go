package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/subsync/pkg/billing"
)

// stripeAPI is the slice of the Stripe client the ledger reads from.
type stripeAPI interface {
	RetrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	ListSubscriptions(ctx context.Context, params *stripe.SubscriptionListParams, limit int) ([]*stripe.Subscription, error)
	ListCustomers(ctx context.Context, params *stripe.CustomerListParams, limit int) ([]*stripe.Customer, error)
}

// clientAPI adapts *stripe.Client. List calls stop after limit items so the
// iterator never fetches a second page.
type clientAPI struct {
	client *stripe.Client
}

func (c *clientAPI) RetrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	return c.client.V1Subscriptions.Retrieve(ctx, id, nil)
}

func (c *clientAPI) ListSubscriptions(
	ctx context.Context, params *stripe.SubscriptionListParams, limit int,
) ([]*stripe.Subscription, error) {
	var out []*stripe.Subscription
	for sub, err := range c.client.V1Subscriptions.List(ctx, params) {
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (c *clientAPI) ListCustomers(
	ctx context.Context, params *stripe.CustomerListParams, limit int,
) ([]*stripe.Customer, error) {
	var out []*stripe.Customer
	for cust, err := range c.client.V1Customers.List(ctx, params) {
		if err != nil {
			return nil, err
		}
		out = append(out, cust)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// GetSubscription implements billing.Ledger
func (l *Ledger) GetSubscription(ctx context.Context, subscriptionID string) (*billing.RawSubscription, error) {
	start := time.Now()
	sub, err := l.api.RetrieveSubscription(ctx, subscriptionID)
	l.recordCall(endpointSubscriptionRetrieve, start, err)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", billing.ErrSubscriptionNotFound, subscriptionID)
		}
		return nil, fmt.Errorf("retrieve subscription %s: %w", subscriptionID, classify(err))
	}
	return toRaw(sub), nil
}

// LatestSubscription implements billing.Ledger
func (l *Ledger) LatestSubscription(ctx context.Context, customerID string) (*billing.RawSubscription, error) {
	params := &stripe.SubscriptionListParams{}
	params.Customer = stripe.String(customerID)
	params.Status = stripe.String(statusAll)
	params.Limit = stripe.Int64(1)

	start := time.Now()
	subs, err := l.api.ListSubscriptions(ctx, params, 1)
	l.recordCall(endpointSubscriptionList, start, err)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions for %s: %w", customerID, classify(err))
	}
	if len(subs) == 0 {
		return nil, nil
	}
	return toRaw(subs[0]), nil
}

// FindCustomersByEmail implements billing.Ledger
func (l *Ledger) FindCustomersByEmail(ctx context.Context, email string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	params := &stripe.CustomerListParams{}
	params.Email = stripe.String(email)
	params.Limit = stripe.Int64(int64(limit))

	start := time.Now()
	customers, err := l.api.ListCustomers(ctx, params, limit)
	l.recordCall(endpointCustomerList, start, err)
	if err != nil {
		return nil, fmt.Errorf("list customers by email: %w", classify(err))
	}

	ids := make([]string, 0, len(customers))
	for _, c := range customers {
		if c == nil || c.ID == "" {
			continue
		}
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (l *Ledger) recordCall(endpoint string, start time.Time, err error) {
	status := "200"
	if err != nil {
		status = "error"
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode != 0 {
			status = fmt.Sprintf("%d", stripeErr.HTTPStatusCode)
		}
		l.logger.Warn("stripe API call failed",
			billing.Field{Key: "endpoint", Value: endpoint},
			billing.Field{Key: "error", Value: err.Error()},
		)
	}
	l.metrics.RecordAPICall(providerName, endpoint, status)
	l.metrics.RecordAPICallDuration(providerName, endpoint, time.Since(start))
}

func isNotFound(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripe.ErrorCodeResourceMissing
}

// classify marks 4xx answers about the request itself as billing.ErrRequestRejected.
// Throttling and credential failures are left alone since they affect every call.
func classify(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return err
	}
	switch code := stripeErr.HTTPStatusCode; {
	case code == http.StatusTooManyRequests, code == http.StatusUnauthorized, code == http.StatusForbidden:
		return err
	case code >= 400 && code < 500:
		return fmt.Errorf("%w: %w", billing.ErrRequestRejected, err)
	default:
		return err
	}
}

// toRaw copies the fields the normalizer needs. Since API version 2025-03-31
// the billing period lives on the subscription items, so the latest item
// period end is used.
func toRaw(sub *stripe.Subscription) *billing.RawSubscription {
	raw := &billing.RawSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		raw.CustomerID = sub.Customer.ID
	}
	if sub.TrialEnd > 0 {
		trialEnd := sub.TrialEnd
		raw.TrialEnd = &trialEnd
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item != nil && item.CurrentPeriodEnd > raw.CurrentPeriodEnd {
				raw.CurrentPeriodEnd = item.CurrentPeriodEnd
			}
		}
	}
	return raw
}
