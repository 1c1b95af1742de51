package public

import (
	"bufio"
	"encoding/json"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/voice_gateway/internal/apierr"
	"github.com/ncecere/voice_gateway/internal/httpserver/httputil"
	"github.com/ncecere/voice_gateway/internal/models"
	"github.com/ncecere/voice_gateway/internal/requestctx"
)

type textEvent struct {
	Text string `json:"text"`
}

func (h *pipelineHandler) generate(c *fiber.Ctx) error {
	var body generateRequest
	if err := c.BodyParser(&body); err != nil {
		return httputil.WriteError(c, apierr.Validation("invalid request body"))
	}
	req, err := body.toModel()
	if err != nil {
		return httputil.WriteError(c, err)
	}
	if body.Stream {
		return h.generateStream(c, req)
	}

	if replayed, err := h.replay(c, "generate"); replayed {
		return err
	}

	run, err := h.container.Orchestrator.Generate(userContext(c), req)
	if err != nil {
		return httputil.WriteError(c, err)
	}
	c.Set(httputil.HeaderJobID, run.ID)
	gen := run.Generation
	return h.respondJSON(c, "generate", generateResponse{
		JobID: run.ID,
		Text:  gen.Text,
		Model: gen.Model,
		Metadata: generateMetadata{
			PromptTokens:     gen.PromptTokens,
			CompletionTokens: gen.CompletionTokens,
			DurationMS:       gen.Duration.Milliseconds(),
		},
	})
}

// generateStream answers with server-sent events. Errors before the backend
// stream opens get a normal error response; later failures become an
// `event: error` frame.
func (h *pipelineHandler) generateStream(c *fiber.Ctx, req models.GenerateRequest) error {
	ctx, cancel := h.streamContext(c)
	stream, err := h.container.Orchestrator.GenerateStream(ctx, req)
	if err != nil {
		cancel()
		return httputil.WriteError(c, err)
	}

	jobID := stream.Run.ID
	logger := h.container.Logger.With(
		slog.String("request_id", requestctx.RequestID(ctx)),
		slog.String("job_id", jobID),
	)

	c.Set(httputil.HeaderJobID, jobID)
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer stream.Close()

		for chunk := range stream.Chunks() {
			if chunk.Text == "" {
				continue
			}
			if err := writeEvent(w, "", textEvent{Text: chunk.Text}); err != nil {
				logger.Info("client disconnected during generation stream")
				return
			}
		}

		if err := stream.Err(); err != nil {
			_, body := httputil.NewErrorResponse(err)
			logger.Warn("generation stream failed", slog.String("error", err.Error()))
			_ = writeEvent(w, "error", body)
			return
		}

		if _, err := w.WriteString("data: [DONE]\n\n"); err != nil {
			return
		}
		_ = w.Flush()
	})
	return nil
}

func writeEvent(w *bufio.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := w.WriteString("event: " + event + "\n"); err != nil {
			return err
		}
	}
	if _, err := w.WriteString("data: "); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := w.WriteString("\n\n"); err != nil {
		return err
	}
	return w.Flush()
}
