package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidUserID is returned when a user identifier is missing or malformed
	ErrInvalidUserID = errors.New("invalid user id")

	// ErrUnauthorized is returned when the caller could not be authenticated
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the caller asks to reconcile another user
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited is returned when the caller exceeded the sync rate limit
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrStoreUnavailable wraps failures of the local subscription store
	ErrStoreUnavailable = errors.New("subscription store unavailable")

	// ErrProviderAPIError wraps failures of the billing provider's API
	ErrProviderAPIError = errors.New("billing provider API error")

	// ErrSubscriptionNotFound is returned when a subscription id is unknown to the provider
	ErrSubscriptionNotFound = errors.New("subscription not found in billing provider")

	// ErrRequestRejected is returned when the provider refused a request it will never accept as sent
	ErrRequestRejected = errors.New("billing provider rejected the request")

	// ErrCircuitOpen is returned when provider calls are short-circuited
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Kind classifies an error for the transport boundary.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindRateLimited  Kind = "rate_limited"
	KindInternal     Kind = "internal"
)

// ErrorKind maps err to the category the boundary reports to the caller.
// Anything not recognized is internal.
func ErrorKind(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidUserID):
		return KindValidation
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	default:
		return KindInternal
	}
}
