// Package http provides net/http middleware that gates routes on the
// caller's stored subscription tier.
package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mihaimyh/subsync/pkg/billing"
)

// UserIDExtractor extracts the user ID from an HTTP request
// Return empty string if user is not authenticated
type UserIDExtractor func(r *http.Request) string

// ContextKey is the type of context keys set by this package
type ContextKey string

const (
	// UserIDKey is the default context key for the user id
	UserIDKey ContextKey = "user_id"

	// TierKey holds the caller's tier once RequireTier has admitted the request
	TierKey ContextKey = "subscription_tier"
)

// Config holds middleware configuration
type Config struct {
	// Store is read for the caller's current tier (required)
	Store billing.Store

	// GetUserID extracts user ID from request (required)
	GetUserID UserIDExtractor

	// AllowedTiers lists the tiers admitted to the route (required)
	AllowedTiers []string

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnTierDenied is called when the caller's tier is not allowed
	// If nil, returns 403 Forbidden with the current tier
	OnTierDenied func(w http.ResponseWriter, r *http.Request, tier string)

	// OnError is called when the store fails
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// RequireTier creates an HTTP middleware that only admits callers whose
// stored tier is in AllowedTiers
func RequireTier(config Config) func(http.Handler) http.Handler {
	if config.Store == nil {
		panic("subsync/http: Config.Store is required")
	}
	if config.GetUserID == nil {
		panic("subsync/http: Config.GetUserID is required")
	}
	if len(config.AllowedTiers) == 0 {
		panic("subsync/http: Config.AllowedTiers is required")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				}
				return
			}

			tier, err := billing.CurrentTier(r.Context(), config.Store, userID)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
				}
				return
			}

			if !billing.TierAllowed(tier, config.AllowedTiers) {
				if config.OnTierDenied != nil {
					config.OnTierDenied(w, r, tier)
				} else {
					writeJSON(w, http.StatusForbidden, map[string]string{"error": "upgrade required", "tier": tier})
				}
				return
			}

			ctx := context.WithValue(r.Context(), TierKey, tier)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// HandlerFunc creates the RequireTier middleware for http.HandlerFunc
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := RequireTier(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return middleware(next).ServeHTTP
	}
}

// TierFromContext returns the tier stored by RequireTier
func TierFromContext(ctx context.Context) string {
	tier, _ := ctx.Value(TierKey).(string)
	return tier
}

// FromContext returns a UserIDExtractor that reads key from the request context
func FromContext(key ContextKey) UserIDExtractor {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that reads a header
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// WithUserID stores userID under UserIDKey
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
