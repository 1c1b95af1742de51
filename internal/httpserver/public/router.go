package public

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/voice_gateway/internal/app"
)

// Register wires up the voice pipeline API routes.
func Register(router fiber.Router, container *app.Container) {
	group := router.Group("/api", requestContext())

	health := &healthHandler{container: container}
	group.Get("/health", health.backends)

	handler := &pipelineHandler{container: container}
	group.Post("/generate", apiKeyAuth(container), handler.generate)
	group.Post("/synthesize", apiKeyAuth(container), handler.synthesize)
	group.Post("/synthesize/stream", apiKeyAuth(container), handler.synthesizeStream)
	group.Post("/transcribe", apiKeyAuth(container), handler.transcribe)
	group.Post("/process", apiKeyAuth(container), handler.process)
}
