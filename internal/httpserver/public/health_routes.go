package public

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/voice_gateway/internal/app"
	"github.com/ncecere/voice_gateway/internal/health"
)

type healthHandler struct {
	container *app.Container
}

type healthResponse struct {
	Status      string                          `json:"status"`
	Version     string                          `json:"version"`
	Backends    map[string]health.BackendStatus `json:"backends"`
	Unreachable []string                        `json:"unreachable"`
	CheckedAt   time.Time                       `json:"checked_at"`
}

// backends reports reachability of the three engines. Degraded answers 503
// so load balancers can act on the status code alone.
func (h *healthHandler) backends(c *fiber.Ctx) error {
	snap := h.container.Health.Snapshot(userContext(c))
	status := fiber.StatusOK
	if !snap.Healthy() {
		status = fiber.StatusServiceUnavailable
	}
	unreachable := snap.Unreachable
	if unreachable == nil {
		unreachable = []string{}
	}
	return c.Status(status).JSON(healthResponse{
		Status:      snap.Status,
		Version:     app.Version,
		Backends:    snap.Backends,
		Unreachable: unreachable,
		CheckedAt:   snap.CheckedAt,
	})
}
