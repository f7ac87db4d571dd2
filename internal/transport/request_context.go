package transport

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/reminder-engine/internal/observability"
)

// RequestID assigns X-Request-ID (keeping a caller supplied one) and carries
// it on the request's user context for logging.
func RequestID() fiber.Handler {
	return requestid.New()
}

// RequestContext copies the request id into c.UserContext. Register it after RequestID.
func RequestContext() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
		if value, ok := c.Locals("requestid").(string); ok && strings.TrimSpace(value) != "" {
			id = strings.TrimSpace(value)
		}
		if id != "" {
			c.SetUserContext(observability.WithRequestID(c.UserContext(), id))
		}
		return c.Next()
	}
}
