// Package echo provides Echo handlers for subscription sync and tier gating
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/subsync/pkg/api"
	"github.com/mihaimyh/subsync/pkg/billing"
)

// TierKey is the Echo context key holding the admitted caller's tier
const TierKey = "subscription_tier"

// UserIDExtractor extracts the user ID from an Echo context
// Return empty string if user is not authenticated
type UserIDExtractor func(c echo.Context) string

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
	OnUnauthorized func(c echo.Context) error

	// OnTierDenied is called when the caller's tier is not allowed
	// If nil, returns 403 Forbidden with the current tier
	OnTierDenied func(c echo.Context, tier string) error

	// OnError is called when the store fails
	// If nil, returns 500 Internal Server Error
	OnError func(c echo.Context, err error) error
}

// RequireTier creates an Echo middleware that only admits callers whose
// stored tier is in AllowedTiers
func RequireTier(cfg Config) echo.MiddlewareFunc {
	if cfg.Store == nil {
		panic("subsync/echo: Config.Store is required")
	}
	if cfg.GetUserID == nil {
		panic("subsync/echo: Config.GetUserID is required")
	}
	if len(cfg.AllowedTiers) == 0 {
		panic("subsync/echo: Config.AllowedTiers is required")
	}
	if cfg.OnUnauthorized == nil {
		cfg.OnUnauthorized = defaultUnauthorized
	}
	if cfg.OnTierDenied == nil {
		cfg.OnTierDenied = defaultTierDenied
	}
	if cfg.OnError == nil {
		cfg.OnError = defaultError
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := cfg.GetUserID(c)
			if userID == "" {
				return cfg.OnUnauthorized(c)
			}

			tier, err := billing.CurrentTier(c.Request().Context(), cfg.Store, userID)
			if err != nil {
				return cfg.OnError(c, err)
			}

			if !billing.TierAllowed(tier, cfg.AllowedTiers) {
				return cfg.OnTierDenied(c, tier)
			}

			c.Set(TierKey, tier)
			return next(c)
		}
	}
}

// SyncHandler mounts the sync endpoint on an Echo router
func SyncHandler(h *api.Handler) echo.HandlerFunc {
	return echo.WrapHandler(h)
}

func defaultUnauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
}

func defaultTierDenied(c echo.Context, tier string) error {
	return c.JSON(http.StatusForbidden, map[string]string{"error": "upgrade required", "tier": tier})
}

func defaultError(c echo.Context, _ error) error {
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

// FromContext returns a UserIDExtractor that reads an Echo context value
func FromContext(key string) UserIDExtractor {
	return func(c echo.Context) string {
		if userID, ok := c.Get(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that reads a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromParam returns a UserIDExtractor that reads a path parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Param(paramName)
	}
}
