// Package fiber provides Fiber handlers for subscription sync and tier gating
package fiber

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/mihaimyh/subsync/pkg/api"
	"github.com/mihaimyh/subsync/pkg/billing"
)

// TierKey is the Fiber locals key holding the admitted caller's tier
const TierKey = "subscription_tier"

// UserIDExtractor extracts the user ID from a Fiber context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *fiber.Ctx) string

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
	OnUnauthorized func(c *fiber.Ctx) error

	// OnTierDenied is called when the caller's tier is not allowed
	// If nil, returns 403 Forbidden with the current tier
	OnTierDenied func(c *fiber.Ctx, tier string) error

	// OnError is called when the store fails
	// If nil, returns 500 Internal Server Error
	OnError func(c *fiber.Ctx, err error) error
}

// RequireTier creates a Fiber middleware that only admits callers whose
// stored tier is in AllowedTiers
func RequireTier(cfg Config) fiber.Handler {
	if cfg.Store == nil {
		panic("subsync/fiber: Config.Store is required")
	}
	if cfg.GetUserID == nil {
		panic("subsync/fiber: Config.GetUserID is required")
	}
	if len(cfg.AllowedTiers) == 0 {
		panic("subsync/fiber: Config.AllowedTiers is required")
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

	return func(c *fiber.Ctx) error {
		userID := cfg.GetUserID(c)
		if userID == "" {
			return cfg.OnUnauthorized(c)
		}

		tier, err := billing.CurrentTier(c.UserContext(), cfg.Store, userID)
		if err != nil {
			return cfg.OnError(c, err)
		}

		if !billing.TierAllowed(tier, cfg.AllowedTiers) {
			return cfg.OnTierDenied(c, tier)
		}

		c.Locals(TierKey, tier)
		return c.Next()
	}
}

// SyncHandler mounts the sync endpoint on a Fiber app
func SyncHandler(h *api.Handler) fiber.Handler {
	return adaptor.HTTPHandler(h)
}

func defaultUnauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
}

func defaultTierDenied(c *fiber.Ctx, tier string) error {
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "upgrade required", "tier": tier})
}

func defaultError(c *fiber.Ctx, _ error) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}

// FromLocals returns a UserIDExtractor that reads a Fiber local
func FromLocals(key string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		if userID, ok := c.Locals(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that reads a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromParam returns a UserIDExtractor that reads a path parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Params(paramName)
	}
}
