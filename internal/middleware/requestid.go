// Package middleware provides the Gin middleware shared by the proxy
// pipeline and the management API: request identifiers, structured request
// logging, Prometheus metrics, and management-plane rate limiting.
//
// Ordering is enforced in router.go:
//
//	Recovery → RequestID → Metrics → Logger → (route-specific middleware)
//
// RequestID runs before everything that logs so every line carries the id.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the HTTP header used to propagate the request identifier.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key under which the request id is stored.
	RequestIDKey = "request_id"
)

// RequestID ensures every request carries a unique identifier. An inbound
// X-Request-ID (from a load balancer or caller) is reused unchanged;
// otherwise a fresh 16-character id is generated. The id is stored in the
// context and echoed in the response header so clients can correlate with
// server-side logs.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = newRequestID()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}

// newRequestID produces a 16-character alphanumeric identifier.
func newRequestID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}
