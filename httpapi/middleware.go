package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/nimlabs/memoria/config"
	"github.com/nimlabs/memoria/errs"
)

// apiKeyAuth enforces X-API-Key against cfg.APIKey: required in
// production, optional in development when no key is configured.
func apiKeyAuth(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.Environment != config.EnvProduction && cfg.APIKey == "" {
			return c.Next()
		}

		provided := c.Get("X-API-Key")
		if provided == "" {
			return errs.New(errs.KindAuthMissing, "X-API-Key header is required").WriteFiber(c)
		}
		if provided != cfg.APIKey {
			return errs.New(errs.KindAuthInvalid, "X-API-Key header is invalid").WriteFiber(c)
		}
		return c.Next()
	}
}
