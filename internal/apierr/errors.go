package apierr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind is the client-visible error category.
type Kind string

const (
	KindValidation  Kind = "ValidationError"
	KindAuth        Kind = "AuthError"
	KindUnavailable Kind = "BackendUnavailable"
	KindTimeout     Kind = "BackendTimeout"
	KindRejected    Kind = "BackendRejected"
	KindBusy        Kind = "ServiceBusy"
	KindInternal    Kind = "InternalError"
	// KindCanceled marks work abandoned because the caller went away. It is
	// logged and counted but rarely reaches a client.
	KindCanceled Kind = "RequestCanceled"
)

// StatusClientClosedRequest is the de facto status for requests the client abandoned.
const StatusClientClosedRequest = 499

// Status maps the kind to the HTTP status written by the gateway.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindUnavailable, KindRejected:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindBusy:
		return http.StatusServiceUnavailable
	case KindCanceled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is the single error type that crosses package boundaries between
// backends, the orchestrator and the HTTP layer.
type Error struct {
	Kind    Kind
	Stage   string
	Backend string
	// JobID identifies the pipeline run that failed, when there was one.
	JobID   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Stage != "" {
		b.WriteString(e.Stage)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Backend != "" {
		b.WriteString(" (")
		b.WriteString(e.Backend)
		b.WriteString(")")
	}
	if msg := e.message(); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status for the error kind.
func (e *Error) Status() int { return e.Kind.Status() }

// PublicMessage is the message exposed in response bodies.
func (e *Error) PublicMessage() string {
	if e.Kind == KindInternal {
		if e.Message != "" {
			return e.Message
		}
		return "internal error"
	}
	if msg := e.message(); msg != "" {
		return msg
	}
	return http.StatusText(e.Status())
}

func (e *Error) message() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// WithStage returns a copy annotated with the pipeline stage that failed.
func (e *Error) WithStage(stage string) *Error {
	if e == nil {
		return nil
	}
	out := *e
	out.Stage = stage
	return &out
}

// WithJob returns a copy annotated with the run that produced it.
func (e *Error) WithJob(jobID string) *Error {
	if e == nil {
		return nil
	}
	out := *e
	out.JobID = jobID
	return &out
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Auth(msg string) *Error {
	return &Error{Kind: KindAuth, Message: msg}
}

func Busy(backend, msg string) *Error {
	return &Error{Kind: KindBusy, Backend: backend, Message: msg}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Err: err}
}

func Unavailable(backend string, err error) *Error {
	return &Error{Kind: KindUnavailable, Backend: backend, Err: err}
}

func Timeout(backend string, err error) *Error {
	return &Error{Kind: KindTimeout, Backend: backend, Err: err}
}

func Rejected(backend, reason string) *Error {
	return &Error{Kind: KindRejected, Backend: backend, Message: reason}
}

// FromStatus maps an upstream HTTP status to a backend error.
func FromStatus(backend string, status int, detail string) *Error {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		detail = fmt.Sprintf("upstream returned %d %s", status, http.StatusText(status))
	}
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &Error{Kind: KindTimeout, Backend: backend, Message: detail}
	case status == http.StatusTooManyRequests:
		return &Error{Kind: KindBusy, Backend: backend, Message: detail}
	case status >= 500:
		return &Error{Kind: KindUnavailable, Backend: backend, Message: detail}
	default:
		return &Error{Kind: KindRejected, Backend: backend, Message: detail}
	}
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// Classify normalizes a raw backend failure into the taxonomy. Errors that are
// already classified keep their kind.
func Classify(backend string, err error) *Error {
	if err == nil {
		return nil
	}
	if apiErr, ok := As(err); ok {
		if apiErr.Backend == "" && backend != "" {
			out := *apiErr
			out.Backend = backend
			return &out
		}
		return apiErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout(backend, err)
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCanceled, Backend: backend, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout(backend, err)
	}

	// Transport, missing binary and missing model failures land here too.
	return Unavailable(backend, err)
}
