// Package gin provides Gin handlers for subscription sync and tier gating
package gin

import (
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/subsync/pkg/api"
	"github.com/mihaimyh/subsync/pkg/billing"
)

// TierKey is the Gin context key holding the admitted caller's tier
const TierKey = "subscription_tier"

// UserIDExtractor extracts the user ID from a Gin context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *gongin.Context) string

// Config holds middleware configuration
type Config struct {
	// Store is read for the caller's current tier (required)
	Store billing.Store

	// GetUserID extracts user ID from context (required)
	GetUserID UserIDExtractor

	// AllowedTiers lists the tiers admitted to the route (required)
	AllowedTiers []string

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)

	// OnTierDenied is called when the caller's tier is not allowed
	// If nil, returns 403 Forbidden with the current tier
	OnTierDenied func(c *gongin.Context, tier string)

	// OnError is called when the store fails
	// If nil, returns 500 Internal Server Error
	OnError func(c *gongin.Context, err error)
}

// RequireTier creates a Gin middleware that only admits callers whose
// stored tier is in AllowedTiers
func RequireTier(cfg Config) gongin.HandlerFunc {
	if cfg.Store == nil {
		panic("subsync/gin: Config.Store is required")
	}
	if cfg.GetUserID == nil {
		panic("subsync/gin: Config.GetUserID is required")
	}
	if len(cfg.AllowedTiers) == 0 {
		panic("subsync/gin: Config.AllowedTiers is required")
	}

	return func(c *gongin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gongin.H{"error": "unauthorized"})
			}
			return
		}

		tier, err := billing.CurrentTier(c.Request.Context(), cfg.Store, userID)
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gongin.H{"error": "internal error"})
			}
			return
		}

		if !billing.TierAllowed(tier, cfg.AllowedTiers) {
			if cfg.OnTierDenied != nil {
				cfg.OnTierDenied(c, tier)
			} else {
				c.AbortWithStatusJSON(http.StatusForbidden, gongin.H{"error": "upgrade required", "tier": tier})
			}
			return
		}

		c.Set(TierKey, tier)
		c.Next()
	}
}

// SyncHandler mounts the sync endpoint on a Gin router
func SyncHandler(h *api.Handler) gongin.HandlerFunc {
	return gongin.WrapH(h)
}

// FromContext returns a UserIDExtractor that reads a Gin context value
func FromContext(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		if v, ok := c.Get(key); ok {
			if userID, ok := v.(string); ok {
				return userID
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that reads a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromParam returns a UserIDExtractor that reads a path parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.Param(paramName)
	}
}
