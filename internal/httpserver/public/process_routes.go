package public

import (
	"encoding/base64"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/voice_gateway/internal/apierr"
	"github.com/ncecere/voice_gateway/internal/httpserver/httputil"
)

// process runs the full pipeline: optional transcription, generation and
// optional synthesis.
func (h *pipelineHandler) process(c *fiber.Ctx) error {
	var body processRequest
	if err := c.BodyParser(&body); err != nil {
		return httputil.WriteError(c, apierr.Validation("invalid request body"))
	}
	req, err := body.toModel()
	if err != nil {
		return httputil.WriteError(c, err)
	}

	if replayed, err := h.replay(c, "process"); replayed {
		return err
	}

	run, err := h.container.Orchestrator.Process(userContext(c), req)
	if err != nil {
		return httputil.WriteError(c, err)
	}
	c.Set(httputil.HeaderJobID, run.ID)

	resp := processResponse{
		JobID:     run.ID,
		InputText: run.InputText,
		Text:      run.Generation.Text,
	}
	if run.Synthesis != nil {
		resp.AudioBase64 = base64.StdEncoding.EncodeToString(run.Synthesis.Audio)
		resp.Format = run.Synthesis.Format
	}
	return h.respondJSON(c, "process", resp)
}
