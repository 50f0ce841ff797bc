// Package telemetry provides application-level observability for the gateway.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started in main.go:
//
//	GET http://<host>:<telemetry.prometheus_port>/metrics
//
// Default port: 9090. The endpoint is deliberately not part of the Gin router:
// keeping the scrape path off the public ingress means it bypasses
// authentication, rate limiting, and the proxy pipeline entirely.
//
// # Label Cardinality
//
// HTTP metrics label by Gin route template (c.FullPath()), never the raw URL.
// Proxied traffic has no route template (it matches the catch-all), so proxy
// metrics label by provider tag instead — a closed three-value set.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.mongodb.org/mongo-driver/mongo"
)

// HTTP metrics for the management plane, labelled by method, route template,
// and status code.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Proxy pipeline metrics.
//
// ProxiedRequestsTotal counts completed proxy requests by provider tag and
// upstream status code ("error" when no upstream response was relayed). UpstreamDuration measures the full forward (including
// retries); for streaming requests the observation covers first-byte to
// stream end as well, so p99 here is dominated by generation length.
var (
	ProxiedRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxied_requests_total",
			Help: "Total number of proxied upstream requests, by provider and status code.",
		},
		[]string{"provider", "status"},
	)

	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Duration of upstream provider calls including retries, by provider.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	RateLimitDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_denials_total",
			Help: "Total number of requests denied by the rate limiter, by backend (redis|local).",
		},
		[]string{"backend"},
	)

	QuotaDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_denials_total",
			Help: "Total number of requests denied by quota admission, by quota type (daily|monthly).",
		},
		[]string{"type"},
	)

	UsageTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_tokens_total",
			Help: "Total tokens accounted by the usage tracker, by provider and direction (prompt|completion).",
		},
		[]string{"provider", "direction"},
	)
)

// MongoPoolCheckedOut tracks sessions the driver currently has checked out of
// its pool, sampled every 30 seconds by StartMongoStatsCollector.
var MongoPoolCheckedOut = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "mongo_sessions_in_progress",
		Help: "Number of in-progress sessions on the MongoDB client.",
	},
)

// StartMongoStatsCollector launches a background goroutine that pings the
// MongoDB client every 30 seconds and updates the pool gauge. The goroutine
// exits when the client becomes unreachable, which happens naturally at
// shutdown after Disconnect.
func StartMongoStatsCollector(client *mongo.Client) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := client.Ping(ctx, nil)
			cancel()
			if err != nil {
				slog.Warn("mongo stats collector: client unreachable, stopping collector", "error", err)
				return
			}
			MongoPoolCheckedOut.Set(float64(client.NumberSessionsInProgress()))
		}
	}()
}
