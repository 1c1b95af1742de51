package public

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/voice_gateway/internal/app"
	"github.com/ncecere/voice_gateway/internal/cache"
	"github.com/ncecere/voice_gateway/internal/requestctx"
)

const headerIdempotentReplay = "Idempotent-Replayed"

type pipelineHandler struct {
	container *app.Container
}

// streamContext is the parent of a streamed run. It outlives the fiber
// handler, so it is detached from the request and bounded by the configured
// stream duration instead.
func (h *pipelineHandler) streamContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	ctx := userContext(c)
	if limit := h.container.Config.Server.StreamMaxDuration; limit > 0 {
		return context.WithTimeout(ctx, limit)
	}
	return context.WithCancel(ctx)
}

func idempotencyScope(ctx context.Context, route string) (string, string) {
	rc, ok := requestctx.FromContext(ctx)
	if !ok || rc == nil || rc.IdempotencyKey == "" {
		return "", ""
	}
	return route + ":" + rc.APIKeyFingerprint, rc.IdempotencyKey
}

// replay answers from the idempotency cache when the key was seen before.
func (h *pipelineHandler) replay(c *fiber.Ctx, route string) (bool, error) {
	ctx := userContext(c)
	scope, key := idempotencyScope(ctx, route)
	if key == "" {
		return false, nil
	}
	entry, ok := h.container.Idempotency.Get(ctx, scope, key)
	if !ok {
		return false, nil
	}
	c.Set(headerIdempotentReplay, "true")
	c.Set(fiber.HeaderContentType, entry.ContentType)
	return true, c.Status(entry.Status).Send(entry.Body)
}

// respondJSON writes resp and stores it for later replays.
func (h *pipelineHandler) respondJSON(c *fiber.Ctx, route string, resp any) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	ctx := userContext(c)
	if scope, key := idempotencyScope(ctx, route); key != "" {
		entry := cache.Entry{Status: fiber.StatusOK, ContentType: fiber.MIMEApplicationJSON, Body: payload}
		if err := h.container.Idempotency.Set(ctx, scope, key, entry); err != nil {
			h.container.Logger.WarnContext(ctx, "store idempotent response",
				"request_id", requestctx.RequestID(ctx),
				"error", err.Error(),
			)
		}
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(fiber.StatusOK).Send(payload)
}

func acceptsJSON(c *fiber.Ctx) bool {
	return strings.Contains(strings.ToLower(c.Get(fiber.HeaderAccept)), fiber.MIMEApplicationJSON)
}
