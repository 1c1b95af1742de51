package httputil

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/voice_gateway/internal/apierr"
)

// ErrorPayload is the body of every non-2xx response.
type ErrorPayload struct {
	Kind    apierr.Kind `json:"kind"`
	Message string      `json:"message"`
	Stage   string      `json:"stage,omitempty"`
	JobID   string      `json:"job_id,omitempty"`
}

type ErrorResponse struct {
	Error ErrorPayload `json:"error"`
}

// NewErrorResponse converts err into the public error body and its status.
// Errors outside the taxonomy are reported as InternalError.
func NewErrorResponse(err error) (int, ErrorResponse) {
	apiErr, ok := apierr.As(err)
	if !ok {
		apiErr = apierr.Internal(err)
	}
	return apiErr.Status(), ErrorResponse{Error: ErrorPayload{
		Kind:    apiErr.Kind,
		Message: apiErr.PublicMessage(),
		Stage:   apiErr.Stage,
		JobID:   apiErr.JobID,
	}}
}

// WriteError standardizes JSON error responses for the public API.
func WriteError(c *fiber.Ctx, err error) error {
	status, body := NewErrorResponse(err)
	if body.Error.JobID != "" {
		c.Set(HeaderJobID, body.Error.JobID)
	}
	return c.Status(status).JSON(body)
}

// WriteStatus writes an error body for failures raised outside the taxonomy,
// such as unknown routes or oversized bodies.
func WriteStatus(c *fiber.Ctx, status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	kind := apierr.KindValidation
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = apierr.KindAuth
	case status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests:
		kind = apierr.KindBusy
	case status >= 500:
		kind = apierr.KindInternal
	}
	return c.Status(status).JSON(ErrorResponse{Error: ErrorPayload{Kind: kind, Message: msg}})
}

// HeaderJobID carries the pipeline run ID on pipeline responses.
const HeaderJobID = "X-Job-ID"
