package middleware

import (
	"engagement/internal/cache"
	"engagement/internal/featureflags"
	"engagement/internal/models"
	"engagement/internal/observability"

	"github.com/gofiber/fiber/v2"
)

// ToggleDebounce rejects a second toggle of the same subject by the same
// actor inside the debouncer's window, answering 429. It runs after
// AuthRequired. The kind names the relationship and the subject comes from
// the :id route param. Gated by the toggle_debounce flag; redis failures let
// the request through. A toggle that fails releases its window so the client
// can retry at once.
func ToggleDebounce(d *cache.Debouncer, flags *featureflags.Manager, kind models.Kind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actorID := ActorID(c)
		if actorID == "" || !flags.Enabled(featureflags.ToggleDebounce, actorID) {
			return c.Next()
		}

		key := cache.DebounceKey(string(kind), actorID, c.Params("id"))
		allowed, err := d.Allow(c.UserContext(), key)
		if err != nil {
			observability.Logger.WarnContext(c.UserContext(), "toggle debounce unavailable", "error", err)
		}
		if !allowed {
			observability.ToggleTotal.WithLabelValues(string(kind), "debounced").Inc()
			return models.RespondWithError(c, fiber.StatusTooManyRequests,
				models.NewDebouncedError("Toggle repeated too quickly"))
		}
		claimed := err == nil

		nextErr := c.Next()
		if claimed && (nextErr != nil || c.Response().StatusCode() >= fiber.StatusBadRequest) {
			if relErr := d.Release(c.UserContext(), key); relErr != nil {
				observability.Logger.WarnContext(c.UserContext(), "toggle debounce release failed", "error", relErr)
			}
		}
		return nextErr
	}
}
