// Package api wires together all HTTP routes for the gateway.
//
// Route grouping philosophy:
//   - Everything outside /_api is proxy traffic and falls through to the
//     pipeline orchestrator registered on NoRoute. The proxy path performs
//     its own authentication inline because the principal is needed
//     mid-pipeline, not just as a gate.
//   - Management routes live under /_api and use the Auth middleware plus
//     per-resource scope checks.
//   - /_api/admin/* is guarded by the admin scope or the X-Admin-Key
//     process secret.
//   - /health and /ready are unauthenticated.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/ai-guard/ai-guard/internal/api/admin"
	"github.com/ai-guard/ai-guard/internal/audit"
	"github.com/ai-guard/ai-guard/internal/auth"
	"github.com/ai-guard/ai-guard/internal/auth/identity"
	"github.com/ai-guard/ai-guard/internal/config"
	"github.com/ai-guard/ai-guard/internal/crypto"
	"github.com/ai-guard/ai-guard/internal/db/repositories"
	"github.com/ai-guard/ai-guard/internal/jobs"
	"github.com/ai-guard/ai-guard/internal/middleware"
	"github.com/ai-guard/ai-guard/internal/providers"
	"github.com/ai-guard/ai-guard/internal/proxy"
	"github.com/ai-guard/ai-guard/internal/ratelimit"
	"github.com/ai-guard/ai-guard/internal/usage"
	"github.com/ai-guard/ai-guard/internal/validation"
)

// BackgroundServices holds goroutine-owning resources that must be stopped
// during graceful shutdown, after the HTTP server has drained.
type BackgroundServices struct {
	usageResetJob *jobs.UsageResetJob
	localLimiter  *ratelimit.LocalLimiter
	redisClient   *redis.Client
}

// Shutdown stops all background goroutines and closes the Redis client.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.usageResetJob != nil {
		bg.usageResetJob.Stop()
	}
	if bg.localLimiter != nil {
		bg.localLimiter.Stop()
	}
	if bg.redisClient != nil {
		_ = bg.redisClient.Close()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router plus the background
// services it owns. verifier may be nil (PAT-only mode).
func NewRouter(cfg *config.Config, database *mongo.Database, vault *crypto.Vault, verifier identity.Verifier) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	bg := &BackgroundServices{}

	// Repositories
	userRepo := repositories.NewUserRepository(database)
	tokenRepo := repositories.NewTokenRepository(database)
	projectRepo := repositories.NewProjectRepository(database)
	usageRepo := repositories.NewUsageRepository(database)
	auditRepo := repositories.NewAuditRepository(database)

	// Rate-limit backend: shared Redis when configured, in-process otherwise.
	var limiter ratelimit.Limiter
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.Error("invalid REDIS_URL, falling back to local rate limiting", "error", err)
		} else {
			bg.redisClient = redis.NewClient(opts)
			limiter = ratelimit.NewRedisLimiter(bg.redisClient)
			slog.Info("rate limiting backed by redis")
		}
	}
	if limiter == nil {
		bg.localLimiter = ratelimit.NewLocalLimiter()
		limiter = bg.localLimiter
		slog.Info("rate limiting backed by in-process counters")
	}

	validator := auth.NewValidator(userRepo, tokenRepo, verifier)
	auditWriter := audit.NewWriter(auditRepo)
	tracker := usage.NewTracker(usageRepo, projectRepo)

	pipeline := &proxy.Pipeline{
		Validator:   validator,
		Resolver:    proxy.NewResolver(projectRepo, vault, &cfg.Defaults),
		Forwarder:   proxy.NewForwarder(cfg.Forwarder),
		Limiter:     limiter,
		Tracker:     tracker,
		Audit:       auditWriter,
		Projects:    projectRepo,
		Rules:       validation.DefaultRules(),
		MaxBodySize: cfg.Server.MaxRequestSize,
	}

	// Counter rollover job (disable when an external scheduler owns resets).
	if cfg.Quota.ResetJobEnabled {
		loc, err := time.LoadLocation(cfg.Quota.ResetTimezone)
		if err != nil {
			loc = time.UTC
		}
		bg.usageResetJob = jobs.NewUsageResetJob(projectRepo, loc)
		bg.usageResetJob.Start()
	}

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(middleware.Logger())

	// Health endpoints
	router.GET("/health", healthHandler(database))
	router.GET("/ready", readyHandler(database))

	// Management plane
	mgmt := router.Group("/_api")
	mgmt.Use(middleware.ManagementRateLimit(bg.redisClient, 120))

	userHandler := admin.NewUserHandler(userRepo, tokenRepo, auditWriter)
	tokenHandler := admin.NewTokenHandler(tokenRepo, auditWriter)
	projectHandler := admin.NewProjectHandler(projectRepo, userRepo, usageRepo, vault, auditWriter)
	operatorHandler := admin.NewOperatorHandler(userRepo, tokenRepo, projectRepo, auditWriter)

	users := mgmt.Group("/users", middleware.Auth(validator))
	{
		users.GET("/profile", userHandler.Profile)
		users.PUT("/profile", middleware.RequireScope(auth.ScopeUsersWrite), userHandler.UpdateProfile)
		users.DELETE("/account", middleware.RequireScope(auth.ScopeUsersWrite), userHandler.DeleteAccount)

		users.POST("/tokens", middleware.RequireScope(auth.ScopeUsersWrite), tokenHandler.Create)
		users.GET("/tokens", middleware.RequireScope(auth.ScopeUsersRead), tokenHandler.List)
		users.DELETE("/tokens/:id", middleware.RequireScope(auth.ScopeUsersWrite), tokenHandler.Delete)
		users.POST("/tokens/:id/rotate", middleware.RequireScope(auth.ScopeUsersWrite), tokenHandler.Rotate)
	}

	projects := mgmt.Group("/projects", middleware.Auth(validator))
	{
		projects.POST("", middleware.RequireScope(auth.ScopeProjectsWrite), projectHandler.Create)
		projects.GET("", middleware.RequireScope(auth.ScopeProjectsRead), projectHandler.List)
		projects.GET("/:id", middleware.RequireScope(auth.ScopeProjectsRead), projectHandler.Get)
		projects.DELETE("/:id", middleware.RequireScope(auth.ScopeProjectsWrite), projectHandler.Delete)

		projects.POST("/:id/keys", middleware.RequireScope(auth.ScopeProjectsWrite), projectHandler.AddKey)
		projects.GET("/:id/keys", middleware.RequireScope(auth.ScopeProjectsRead), projectHandler.ListKeys)
		projects.DELETE("/:id/keys/:keyId", middleware.RequireScope(auth.ScopeProjectsWrite), projectHandler.RemoveKey)

		projects.POST("/:id/members", middleware.RequireScope(auth.ScopeProjectsWrite), projectHandler.AddMember)
		projects.DELETE("/:id/members/:userId", middleware.RequireScope(auth.ScopeProjectsWrite), projectHandler.RemoveMember)

		projects.GET("/:id/usage", middleware.RequireScope(auth.ScopeProjectsRead), projectHandler.Usage)
		projects.GET("/:id/quota", middleware.RequireScope(auth.ScopeProjectsRead), projectHandler.Quota)
		projects.PUT("/:id/quota", middleware.RequireScope(auth.ScopeProjectsWrite), projectHandler.UpdateQuota)
	}

	operators := mgmt.Group("/admin", middleware.AdminOnly(validator, cfg.Admin.SecretKey))
	{
		operators.GET("/users", operatorHandler.ListUsers)
		operators.PUT("/users/:id/status", operatorHandler.SetUserStatus)
		operators.GET("/projects/:id", operatorHandler.GetProject)
		operators.POST("/projects/:id/keys/:keyId/rotate", operatorHandler.RotateProjectKey)
	}

	// Everything else is proxy traffic.
	router.NoRoute(pipeline.Handle)

	return router, bg
}

// healthHandler reports process liveness plus store reachability.
func healthHandler(database *mongo.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "ok"
		code := http.StatusOK
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := database.Client().Ping(ctx, nil); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status, "time": time.Now().UTC()})
	}
}

// readyHandler lists the registered providers; a gateway with no registry
// entries cannot serve its one purpose.
func readyHandler(database *mongo.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := database.Client().Ping(ctx, nil); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "error": "store unreachable"})
			return
		}
		tags := make([]string, 0, len(providers.All()))
		for _, p := range providers.All() {
			tags = append(tags, string(p))
		}
		c.JSON(http.StatusOK, gin.H{"ready": true, "providers": tags})
	}
}
