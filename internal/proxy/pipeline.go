// pipeline.go is the orchestrator: a single Gin handler that runs every
// proxied request through the full lifecycle — authenticate, validate,
// resolve project, admit (rate + quota), resolve credential, forward, account.
// Stages are ordinary function calls in a fixed order rather than stacked
// middleware; each stage either mutates the request state or returns an
// *httperr.Error that the boundary renders as the JSON envelope.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ai-guard/ai-guard/internal/audit"
	"github.com/ai-guard/ai-guard/internal/auth"
	"github.com/ai-guard/ai-guard/internal/db/models"
	"github.com/ai-guard/ai-guard/internal/db/repositories"
	"github.com/ai-guard/ai-guard/internal/httperr"
	"github.com/ai-guard/ai-guard/internal/middleware"
	"github.com/ai-guard/ai-guard/internal/providers"
	"github.com/ai-guard/ai-guard/internal/quota"
	"github.com/ai-guard/ai-guard/internal/ratelimit"
	"github.com/ai-guard/ai-guard/internal/safego"
	"github.com/ai-guard/ai-guard/internal/telemetry"
	"github.com/ai-guard/ai-guard/internal/usage"
	"github.com/ai-guard/ai-guard/internal/validation"
)

const (
	// ProviderHeader selects the upstream; required on every proxied request.
	ProviderHeader = "X-AI-Guard-Provider"
	// ProjectHeader optionally pins the request to a project the caller is
	// a member of; the "project" query parameter is the equivalent hint.
	ProjectHeader = "X-AI-Guard-Project"
)

// Pipeline holds the injected stage implementations. Everything is
// constructed once in main and passed here; no stage reaches for globals.
type Pipeline struct {
	Validator   *auth.Validator
	Resolver    *Resolver
	Forwarder   *Forwarder
	Limiter     ratelimit.Limiter
	Tracker     *usage.Tracker
	Audit       *audit.Writer
	Projects    repositories.ProjectRepository
	Rules       []validation.Rule
	MaxBodySize int64
	// LookupEntry resolves the forwarding entry for a provider; nil means
	// the static registry. Tests substitute it to point at local upstreams.
	LookupEntry func(providers.Provider) (providers.Entry, bool)
}

// requestState accumulates what the stages learn about one request.
type requestState struct {
	provider   providers.Provider
	entry      providers.Entry
	principal  *auth.Principal
	project    *models.Project
	body       []byte
	parsedBody map[string]any
	credential *Credential
	streaming  bool
	startTime  time.Time
}

// Handle is the catch-all proxy handler registered on NoRoute.
func (p *Pipeline) Handle(c *gin.Context) {
	// /_api is reserved for the management router; an unmatched path under
	// it is a 404, never proxy traffic.
	if strings.HasPrefix(c.Request.URL.Path, "/_api") {
		httperr.Write(c, httperr.New(httperr.KindNotFound, "unknown management endpoint"))
		return
	}

	state := &requestState{startTime: time.Now()}

	if err := p.resolveProvider(c, state); err != nil {
		p.finishRejected(c, state, err)
		return
	}
	if err := p.authenticate(c, state); err != nil {
		p.finishRejected(c, state, err)
		return
	}
	if err := p.readAndValidate(c, state); err != nil {
		p.finishRejected(c, state, err)
		return
	}
	if err := p.resolveProject(c, state); err != nil {
		p.finishRejected(c, state, err)
		return
	}
	if err := p.checkRateLimit(c, state); err != nil {
		p.finishRejected(c, state, err)
		return
	}
	if err := p.checkQuota(c, state); err != nil {
		p.finishRejected(c, state, err)
		return
	}
	if err := p.resolveCredential(c, state); err != nil {
		p.finishRejected(c, state, err)
		return
	}

	p.exposeState(c, state)
	p.forward(c, state)
}

func (p *Pipeline) resolveProvider(c *gin.Context, state *requestState) *httperr.Error {
	tag := c.GetHeader(ProviderHeader)
	if tag == "" {
		return httperr.New(httperr.KindInvalidRequest, "missing required header "+ProviderHeader).
			WithSuggestions("set " + ProviderHeader + " to one of: openai, anthropic, gemini")
	}

	provider, ok := providers.Parse(tag)
	if !ok {
		return httperr.New(httperr.KindInvalidProvider, fmt.Sprintf("unknown provider %q", tag)).
			WithSuggestions("supported providers: openai, anthropic, gemini")
	}

	lookup := p.LookupEntry
	if lookup == nil {
		lookup = providers.Lookup
	}
	entry, _ := lookup(provider)
	state.provider = provider
	state.entry = entry
	return nil
}

func (p *Pipeline) authenticate(c *gin.Context, state *requestState) *httperr.Error {
	principal, err := p.Validator.Validate(c.Request.Context(), c.GetHeader("Authorization"))
	if err != nil {
		if errors.Is(err, auth.ErrAuthenticationFailed) {
			return httperr.New(httperr.KindAuthenticationError, "invalid or missing credentials")
		}
		return httperr.New(httperr.KindDatabaseError, "authentication lookup failed")
	}
	state.principal = principal

	// The proxy path needs api scopes; mutating methods require write.
	required := auth.ScopeAPIRead
	switch c.Request.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		required = auth.ScopeAPIWrite
	}
	if !auth.HasScope(principal.Scopes(), required) {
		return httperr.New(httperr.KindForbidden, fmt.Sprintf("token lacks the %s scope", required))
	}
	return nil
}

func (p *Pipeline) readAndValidate(c *gin.Context, state *requestState) *httperr.Error {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, p.MaxBodySize+1))
	if err != nil {
		return httperr.New(httperr.KindInvalidRequest, "failed to read request body")
	}
	if int64(len(body)) > p.MaxBodySize {
		return httperr.New(httperr.KindValidationError, "request body exceeds the configured maximum size").
			WithStatus(http.StatusRequestEntityTooLarge)
	}
	state.body = body

	if len(body) > 0 && json.Valid(body) {
		_ = json.Unmarshal(body, &state.parsedBody)
	}

	// Safety screen runs over the serialized body regardless of whether it
	// parsed as a JSON object.
	if reason := validation.Screen(body); reason != "" {
		if strings.Contains(reason, "size") {
			return httperr.New(httperr.KindValidationError, reason).
				WithStatus(http.StatusRequestEntityTooLarge)
		}
		return httperr.New(httperr.KindInvalidRequest, reason)
	}

	if violations := validation.Validate(p.Rules, state.provider, c.Request.Method, c.Request.URL.Path, state.parsedBody); len(violations) > 0 {
		return httperr.New(httperr.KindInvalidRequest, "request body failed validation").
			WithDetails(gin.H{"violations": violations})
	}

	state.streaming = DetectStreaming(c.GetHeader("Accept"), state.parsedBody)
	return nil
}

// resolveProject picks the project context: explicit hint first (header,
// then query parameter), then the PAT's project scope, then the caller's
// default project. A dangling default reference is tolerated; an explicit
// hint to a project the caller doesn't belong to is not.
func (p *Pipeline) resolveProject(c *gin.Context, state *requestState) *httperr.Error {
	hint := c.GetHeader(ProjectHeader)
	if hint == "" {
		hint = c.Query("project")
	}

	explicit := hint != ""
	if hint == "" && state.principal.Token != nil && state.principal.Token.ProjectID != nil {
		hint = *state.principal.Token.ProjectID
	}
	if hint == "" && state.principal.User.DefaultProjectID != nil {
		hint = *state.principal.User.DefaultProjectID
	}
	if hint == "" {
		return nil
	}

	project, err := p.Projects.GetByID(c.Request.Context(), hint)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			if explicit {
				return httperr.New(httperr.KindNotFound, "project not found")
			}
			// Dangling weak reference; continue without project context.
			return nil
		}
		return httperr.New(httperr.KindDatabaseError, "project lookup failed")
	}

	if project.MemberRoleOf(state.principal.User.ID) == "" {
		return httperr.New(httperr.KindForbidden, "caller is not a member of the project")
	}

	if !project.AllowsProvider(string(state.provider)) {
		return httperr.New(httperr.KindForbidden,
			fmt.Sprintf("provider %s is not allowed for this project", state.provider))
	}

	state.project = project
	return nil
}

func (p *Pipeline) checkRateLimit(c *gin.Context, state *requestState) *httperr.Error {
	policy := ratelimit.PolicyFor(state.project)
	key := ratelimit.KeyFor(state.principal.User.ID, c.ClientIP())

	decision, err := p.Limiter.Allow(c.Request.Context(), key, policy)
	if err != nil {
		// Fail open: an unreachable backend must not take the gateway down.
		slog.Warn("rate limiter unavailable, failing open",
			"backend", p.Limiter.Backend(), "error", err)
		return nil
	}

	c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

	if !decision.Allowed {
		telemetry.RateLimitDenialsTotal.WithLabelValues(p.Limiter.Backend()).Inc()
		retryAfter := int(time.Until(decision.ResetAt).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		return httperr.New(httperr.KindRateLimitExceeded, "rate limit exceeded").
			WithDetails(gin.H{"limit": decision.Limit, "retryAfter": retryAfter})
	}
	return nil
}

func (p *Pipeline) checkQuota(c *gin.Context, state *requestState) *httperr.Error {
	if state.project == nil {
		return nil
	}

	decision := quota.Check(state.project)

	c.Header("X-Quota-Daily-Used", strconv.FormatInt(decision.Day.Used, 10))
	c.Header("X-Quota-Daily-Limit", strconv.FormatInt(decision.Day.Limit, 10))
	c.Header("X-Quota-Monthly-Used", strconv.FormatInt(decision.Month.Used, 10))
	c.Header("X-Quota-Monthly-Limit", strconv.FormatInt(decision.Month.Limit, 10))
	if decision.Warning() {
		c.Header("X-Quota-Warning", "approaching quota limit")
	}

	if !decision.Allowed {
		telemetry.QuotaDenialsTotal.WithLabelValues(string(decision.DeniedBy)).Inc()
		return httperr.New(httperr.KindQuotaExceeded,
			fmt.Sprintf("%s quota exceeded", decision.DeniedBy)).
			WithDetails(gin.H{"quotaType": decision.DeniedBy})
	}
	return nil
}

func (p *Pipeline) resolveCredential(c *gin.Context, state *requestState) *httperr.Error {
	credential, err := p.Resolver.Resolve(c.Request.Context(), state.principal, state.project, state.provider)
	if err != nil {
		switch {
		case errors.Is(err, ErrProviderForbidden):
			return httperr.New(httperr.KindForbidden,
				fmt.Sprintf("provider %s is not allowed for this project", state.provider))
		case errors.Is(err, ErrCredentialUnavailable):
			return httperr.New(httperr.KindConfigurationError,
				fmt.Sprintf("no credential configured for provider %s", state.provider)).
				WithSuggestions("add a provider key to the project or configure a process default")
		default:
			// Decryption failures fail closed.
			return httperr.New(httperr.KindConfigurationError, "failed to resolve provider credential")
		}
	}
	state.credential = credential
	return nil
}

// exposeState publishes the pipeline state on the gin context for
// downstream middleware, mirroring what the stages resolved.
func (p *Pipeline) exposeState(c *gin.Context, state *requestState) {
	requestID, _ := c.Get(middleware.RequestIDKey)
	c.Set("auth", gin.H{
		"user":     state.principal.User,
		"token":    state.principal.Token,
		"authType": state.principal.AuthType,
	})
	if state.project != nil {
		c.Set("project", state.project)
	}
	c.Set("metadata", gin.H{
		"requestId": requestID,
		"provider":  state.provider,
		"startTime": state.startTime,
		"clientIp":  c.ClientIP(),
		"keySource": state.credential.Source,
		"keyId":     state.credential.KeyID,
	})
}

func (p *Pipeline) forward(c *gin.Context, state *requestState) {
	req := &Request{
		Provider:   state.provider,
		Entry:      state.entry,
		Method:     c.Request.Method,
		Path:       c.Request.URL.Path,
		Query:      c.Request.URL.Query(),
		Header:     c.Request.Header,
		Body:       state.body,
		Credential: state.credential,
		Streaming:  state.streaming,
	}

	outcome, err := p.Forwarder.Forward(c.Request.Context(), c.Writer, req)
	if err != nil {
		var he *httperr.Error
		switch {
		case errors.Is(err, ErrUpstreamTimeout):
			he = httperr.New(httperr.KindTimeout, "upstream request timed out")
		case errors.Is(err, ErrUpstreamUnreachable):
			he = httperr.New(httperr.KindNetworkError, "upstream unreachable")
		default:
			he = httperr.New(httperr.KindUpstreamError, "upstream request failed")
		}
		telemetry.ProxiedRequestsTotal.WithLabelValues(string(state.provider), "error").Inc()
		p.writeAudit(c, state, he.StatusCode(), he.Message)
		httperr.Write(c, he)
		return
	}

	telemetry.ProxiedRequestsTotal.
		WithLabelValues(string(state.provider), strconv.Itoa(outcome.StatusCode)).Inc()
	telemetry.UpstreamDuration.
		WithLabelValues(string(state.provider)).Observe(outcome.Duration.Seconds())

	p.account(c, state, outcome)
	p.writeAudit(c, state, outcome.StatusCode, "")
	c.Abort()
}

// account hands the outcome to the usage tracker on a background goroutine;
// the response is already on the wire.
func (p *Pipeline) account(c *gin.Context, state *requestState, outcome *Outcome) {
	projectID := ""
	if state.project != nil {
		projectID = state.project.ID
	}
	requestID, _ := c.Get(middleware.RequestIDKey)

	obs := &usage.Observation{
		UserID:       state.principal.User.ID,
		ProjectID:    projectID,
		Provider:     state.provider,
		Method:       c.Request.Method,
		Path:         c.Request.URL.Path,
		RequestBody:  state.parsedBody,
		ResponseBody: outcome.ResponseBody,
		Streamed:     outcome.Streamed,
		StatusCode:   outcome.StatusCode,
		Duration:     outcome.Duration,
		Metadata: map[string]any{
			"requestId": requestID,
			"keySource": string(state.credential.Source),
			"streamed":  outcome.Streamed,
		},
	}
	// The request context may already be cancelled (client gone after a
	// stream); accounting gets its own bounded context.
	safego.Run("usage-accounting", 10*time.Second, func(ctx context.Context) {
		p.Tracker.Record(ctx, obs)
	})
}

// finishRejected renders the error envelope and audits the denial.
func (p *Pipeline) finishRejected(c *gin.Context, state *requestState, err *httperr.Error) {
	p.writeAudit(c, state, err.StatusCode(), err.Message)
	httperr.Write(c, err)
}

func (p *Pipeline) writeAudit(c *gin.Context, state *requestState, status int, errMsg string) {
	userID := ""
	if state.principal != nil {
		userID = state.principal.User.ID
	}
	resourceID := ""
	if state.project != nil {
		resourceID = state.project.ID
	}

	auditStatus := models.AuditSuccess
	if status >= 400 {
		auditStatus = models.AuditFailure
	}

	p.Audit.Write(audit.Entry{
		UserID:       userID,
		Action:       "api." + strings.ToLower(c.Request.Method),
		ResourceType: "proxy",
		ResourceID:   resourceID,
		Details: map[string]any{
			"path":     c.Request.URL.Path,
			"provider": string(state.provider),
			"status":   status,
		},
		ClientIP:     c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
		Status:       auditStatus,
		ErrorMessage: errMsg,
	})
}
