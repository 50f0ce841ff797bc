// Package ratelimit enforces per-principal sliding-window rate limits for
// the proxy pipeline. Two interchangeable backends implement the same
// contract: a Redis sorted-set window shared across gateway instances
// (preferred when REDIS_URL is configured) and an in-process counter map for
// single-instance deployments.
//
// Backend transport errors fail open: an unreachable Redis must degrade the
// gateway to unlimited, not unavailable. The decision to fail open is safe
// because quota admission still bounds total spend per project.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/ai-guard/ai-guard/internal/db/models"
)

// Window is the sliding-window length for all policies.
const Window = time.Minute

// Tier default limits, requests per Window.
const (
	FreeLimit       = 10
	ProLimit        = 100
	EnterpriseLimit = 1000
)

// Policy is the applicable limit for one request.
type Policy struct {
	// Limit is the maximum number of requests inside the window.
	Limit int
	// Window is the sliding-window length.
	Window time.Duration
}

// Decision is the outcome of a limiter check, carried onto the response
// headers by the pipeline.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is when the oldest counted event leaves the window.
	ResetAt time.Time
}

// Limiter is the backend contract shared by the Redis and local
// implementations.
type Limiter interface {
	// Allow records one event under key and reports whether it fits the
	// policy. Implementations must be safe for concurrent use.
	Allow(ctx context.Context, key string, policy Policy) (*Decision, error)
	// Backend names the implementation for logs and metrics.
	Backend() string
}

// PolicyFor selects the effective policy: project override first, tier
// default otherwise. A nil project gets the free tier (unauthenticated or
// project-less callers).
func PolicyFor(project *models.Project) Policy {
	if project == nil {
		return Policy{Limit: FreeLimit, Window: Window}
	}
	if rl := project.Settings.RateLimit; rl != nil && rl.RequestsPerMinute > 0 {
		return Policy{Limit: rl.RequestsPerMinute, Window: Window}
	}
	switch project.Tier() {
	case models.TierEnterprise:
		return Policy{Limit: EnterpriseLimit, Window: Window}
	case models.TierPro:
		return Policy{Limit: ProLimit, Window: Window}
	default:
		return Policy{Limit: FreeLimit, Window: Window}
	}
}

// KeyFor builds the counter key: the user id when a principal is present,
// the client IP otherwise.
func KeyFor(userID, clientIP string) string {
	if userID != "" {
		return fmt.Sprintf("ratelimit:user:%s", userID)
	}
	return fmt.Sprintf("ratelimit:ip:%s", clientIP)
}
