// Package httperr defines the closed error taxonomy used by every pipeline
// stage and the JSON envelope rendered to clients.
//
// Stages return *Error values; the orchestrator converts anything else to
// KindUnknown at the boundary so the wire format never leaks Go error strings
// from third-party libraries. Upstream provider error bodies are exempt from
// this envelope: the forwarder relays them verbatim (the caller is talking to
// OpenAI/Anthropic/Gemini through us, and masking their error JSON would break
// client SDK error handling).
package httperr

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Kind is the closed set of error types carried in the envelope's "type" field.
type Kind string

const (
	KindInvalidProvider     Kind = "INVALID_PROVIDER"
	KindUpstreamError       Kind = "UPSTREAM_ERROR"
	KindNetworkError        Kind = "NETWORK_ERROR"
	KindTimeout             Kind = "TIMEOUT"
	KindInvalidRequest      Kind = "INVALID_REQUEST"
	KindConfigurationError  Kind = "CONFIGURATION_ERROR"
	KindAuthenticationError Kind = "AUTHENTICATION_ERROR"
	KindRateLimitExceeded   Kind = "RATE_LIMIT_EXCEEDED"
	KindQuotaExceeded       Kind = "QUOTA_EXCEEDED"
	KindForbidden           Kind = "FORBIDDEN"
	KindNotFound            Kind = "NOT_FOUND"
	KindConflict            Kind = "CONFLICT"
	KindDatabaseError       Kind = "DATABASE_ERROR"
	KindValidationError     Kind = "VALIDATION_ERROR"
	KindUnknown             Kind = "UNKNOWN_ERROR"
)

// Error is a pipeline-stage error with enough context to render the envelope.
type Error struct {
	Kind        Kind
	Message     string
	Details     any
	Suggestions []string
	// Status overrides the kind's default HTTP status when non-zero
	// (e.g. VALIDATION_ERROR rendered as 413 for oversized payloads).
	Status int
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Message }

// StatusCode maps the error to its HTTP status.
func (e *Error) StatusCode() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Kind {
	case KindInvalidRequest, KindValidationError, KindInvalidProvider:
		return http.StatusBadRequest
	case KindAuthenticationError:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimitExceeded, KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindNetworkError, KindUpstreamError:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// New constructs an Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithDetails attaches a details blob and returns the error for chaining.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// WithSuggestions attaches remediation hints shown in the envelope.
func (e *Error) WithSuggestions(s ...string) *Error {
	e.Suggestions = s
	return e
}

// WithStatus overrides the HTTP status derived from the kind.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// From converts an arbitrary error to *Error, wrapping unknown errors as
// KindUnknown so handlers can call Write unconditionally.
func From(err error) *Error {
	var he *Error
	if errors.As(err, &he) {
		return he
	}
	return &Error{Kind: KindUnknown, Message: err.Error()}
}

// envelope matches the wire format:
//
//	{"error":{"type":...,"message":...,"details":...,"statusCode":...,
//	          "timestamp":...,"path":...,"method":...,"requestId":...,
//	          "suggestions":[...]}}
type envelope struct {
	Error body `json:"error"`
}

type body struct {
	Type        Kind     `json:"type"`
	Message     string   `json:"message"`
	Details     any      `json:"details,omitempty"`
	StatusCode  int      `json:"statusCode"`
	Timestamp   string   `json:"timestamp"`
	Path        string   `json:"path"`
	Method      string   `json:"method"`
	RequestID   string   `json:"requestId,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Write renders err as the JSON envelope on c and aborts the handler chain.
// The request id is read from the gin context (set by the request-id
// middleware) so callers don't need to thread it through.
func Write(c *gin.Context, err error) {
	he := From(err)
	requestID, _ := c.Get("request_id")
	rid, _ := requestID.(string)

	c.AbortWithStatusJSON(he.StatusCode(), envelope{Error: body{
		Type:        he.Kind,
		Message:     he.Message,
		Details:     he.Details,
		StatusCode:  he.StatusCode(),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Path:        c.Request.URL.Path,
		Method:      c.Request.Method,
		RequestID:   rid,
		Suggestions: he.Suggestions,
	}})
}
