package public

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/voice_gateway/internal/apierr"
	"github.com/ncecere/voice_gateway/internal/httpserver/httputil"
	"github.com/ncecere/voice_gateway/internal/models"
	"github.com/ncecere/voice_gateway/internal/requestctx"
)

// synthesize returns raw audio, or a base64 JSON envelope when the client
// asks for application/json.
func (h *pipelineHandler) synthesize(c *fiber.Ctx) error {
	req, err := parseSynthesis(c)
	if err != nil {
		return httputil.WriteError(c, err)
	}

	run, err := h.container.Orchestrator.Synthesize(userContext(c), req)
	if err != nil {
		return httputil.WriteError(c, err)
	}
	c.Set(httputil.HeaderJobID, run.ID)
	res := run.Synthesis

	if acceptsJSON(c) {
		return c.Status(fiber.StatusOK).JSON(synthesizeResponse{
			JobID:       run.ID,
			AudioBase64: base64.StdEncoding.EncodeToString(res.Audio),
			Format:      res.Format,
		})
	}
	c.Set(fiber.HeaderContentType, res.ContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=speech.%s", res.Format))
	return c.Status(fiber.StatusOK).Send(res.Audio)
}

// synthesizeStream writes audio chunks as they arrive. A failure after the
// first byte truncates the body.
func (h *pipelineHandler) synthesizeStream(c *fiber.Ctx) error {
	req, err := parseSynthesis(c)
	if err != nil {
		return httputil.WriteError(c, err)
	}

	ctx, cancel := h.streamContext(c)
	stream, err := h.container.Orchestrator.SynthesizeStream(ctx, req)
	if err != nil {
		cancel()
		return httputil.WriteError(c, err)
	}

	logger := h.container.Logger.With(
		slog.String("request_id", requestctx.RequestID(ctx)),
		slog.String("job_id", stream.Run.ID),
	)
	c.Set(httputil.HeaderJobID, stream.Run.ID)
	c.Set(fiber.HeaderContentType, stream.ContentType)
	c.Set(fiber.HeaderCacheControl, "no-cache")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer stream.Close()

		for chunk := range stream.Chunks() {
			if len(chunk.Data) == 0 {
				continue
			}
			if _, err := w.Write(chunk.Data); err != nil {
				logger.Info("client disconnected during synthesis stream")
				return
			}
			if err := w.Flush(); err != nil {
				logger.Info("client disconnected during synthesis stream")
				return
			}
		}
		if err := stream.Err(); err != nil {
			logger.Warn("synthesis stream truncated", slog.String("error", err.Error()))
		}
	})
	return nil
}

func parseSynthesis(c *fiber.Ctx) (models.SynthesisRequest, error) {
	var body synthesizeRequest
	if err := c.BodyParser(&body); err != nil {
		return models.SynthesisRequest{}, apierr.Validation("invalid request body")
	}
	return body.toModel()
}

// transcribe accepts either a multipart upload (file, language) or a JSON
// body carrying base64 audio.
func (h *pipelineHandler) transcribe(c *fiber.Ctx) error {
	req, err := parseTranscription(c)
	if err != nil {
		return httputil.WriteError(c, err)
	}

	run, err := h.container.Orchestrator.Transcribe(userContext(c), req)
	if err != nil {
		return httputil.WriteError(c, err)
	}
	c.Set(httputil.HeaderJobID, run.ID)
	res := run.Transcription
	return c.Status(fiber.StatusOK).JSON(transcribeResponse{
		JobID:      run.ID,
		Text:       res.Text,
		Language:   res.Language,
		Confidence: res.Confidence,
	})
}

func parseTranscription(c *fiber.Ctx) (models.TranscriptionRequest, error) {
	if !strings.HasPrefix(strings.ToLower(c.Get(fiber.HeaderContentType)), fiber.MIMEMultipartForm) {
		var body transcribeRequest
		if err := c.BodyParser(&body); err != nil {
			return models.TranscriptionRequest{}, apierr.Validation("invalid request body")
		}
		return body.toModel()
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return models.TranscriptionRequest{}, apierr.Validation("file is required")
	}
	src, err := fh.Open()
	if err != nil {
		return models.TranscriptionRequest{}, apierr.Validation("failed to open file")
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return models.TranscriptionRequest{}, apierr.Validation("failed to read file")
	}
	if len(data) == 0 {
		return models.TranscriptionRequest{}, apierr.Validation("file is empty")
	}

	filename := fh.Filename
	if filename == "" {
		filename = "input.wav"
	}
	return models.TranscriptionRequest{
		Audio:       data,
		Filename:    filename,
		ContentType: fh.Header.Get(fiber.HeaderContentType),
		Language:    strings.TrimSpace(c.FormValue("language")),
	}, nil
}
