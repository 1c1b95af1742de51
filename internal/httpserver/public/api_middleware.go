package public

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/voice_gateway/internal/app"
	"github.com/ncecere/voice_gateway/internal/auth"
	"github.com/ncecere/voice_gateway/internal/httpserver/httputil"
	"github.com/ncecere/voice_gateway/internal/requestctx"
)

const headerIdempotencyKey = "Idempotency-Key"

// requestContext injects request metadata for every /api route.
func requestContext() fiber.Handler {
	return func(c *fiber.Ctx) error {
		rc := &requestctx.Context{
			IdempotencyKey: strings.TrimSpace(c.Get(headerIdempotencyKey)),
			ReceivedAt:     time.Now().UTC(),
		}
		if id, ok := c.Locals("requestid").(string); ok {
			rc.RequestID = id
		}
		c.Locals(requestctx.FiberLocalsKey(), rc)
		c.SetUserContext(requestctx.WithContext(userContext(c), rc))
		return c.Next()
	}
}

// apiKeyAuth validates the shared API key header.
func apiKeyAuth(container *app.Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !container.Auth.Enabled() {
			return c.Next()
		}
		presented := strings.TrimSpace(c.Get(container.Auth.Header()))
		if err := container.Auth.Verify(presented); err != nil {
			return httputil.WriteError(c, err)
		}
		if rc, ok := requestctx.FromContext(userContext(c)); ok && rc != nil {
			rc.APIKeyFingerprint = auth.Fingerprint(presented)
		}
		return c.Next()
	}
}

func userContext(c *fiber.Ctx) context.Context {
	if c == nil {
		return context.Background()
	}
	if uc := c.UserContext(); uc != nil {
		return uc
	}
	return context.Background()
}
