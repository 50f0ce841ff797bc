// projects.go serves /_api/projects: lifecycle, membership, embedded
// provider keys, usage reporting, and quota settings.
package admin

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ai-guard/ai-guard/internal/audit"
	"github.com/ai-guard/ai-guard/internal/crypto"
	"github.com/ai-guard/ai-guard/internal/db/models"
	"github.com/ai-guard/ai-guard/internal/db/repositories"
	"github.com/ai-guard/ai-guard/internal/httperr"
	"github.com/ai-guard/ai-guard/internal/middleware"
	"github.com/ai-guard/ai-guard/internal/providers"
	"github.com/ai-guard/ai-guard/internal/quota"
)

// ProjectHandler serves /_api/projects.
type ProjectHandler struct {
	projects repositories.ProjectRepository
	users    repositories.UserRepository
	records  repositories.UsageRepository
	vault    *crypto.Vault
	audit    *audit.Writer
}

// NewProjectHandler creates a ProjectHandler.
func NewProjectHandler(
	projects repositories.ProjectRepository,
	users repositories.UserRepository,
	records repositories.UsageRepository,
	vault *crypto.Vault,
	auditWriter *audit.Writer,
) *ProjectHandler {
	return &ProjectHandler{projects: projects, users: users, records: records, vault: vault, audit: auditWriter}
}

// load fetches the project and checks the caller holds at least the given
// role. Owner satisfies admin, admin satisfies member.
func (h *ProjectHandler) load(c *gin.Context, minRole models.MemberRole) (*models.Project, bool) {
	project, err := h.projects.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			httperr.Write(c, httperr.New(httperr.KindNotFound, "project not found"))
		} else {
			httperr.Write(c, httperr.New(httperr.KindDatabaseError, "project lookup failed"))
		}
		return nil, false
	}

	role := project.MemberRoleOf(middleware.Principal(c).User.ID)
	if !roleSatisfies(role, minRole) {
		httperr.Write(c, httperr.New(httperr.KindForbidden, "insufficient project role"))
		return nil, false
	}
	return project, true
}

func roleSatisfies(have, want models.MemberRole) bool {
	rank := map[models.MemberRole]int{models.RoleMember: 1, models.RoleAdmin: 2, models.RoleOwner: 3}
	return rank[have] >= rank[want]
}

type createProjectRequest struct {
	Name string `json:"name" binding:"required"`
}

// Create creates a project owned by the caller.
func (h *ProjectHandler) Create(c *gin.Context) {
	principal := middleware.Principal(c)

	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.Write(c, httperr.New(httperr.KindValidationError, "name is required"))
		return
	}

	project := &models.Project{Name: req.Name, OwnerID: principal.User.ID}
	if err := h.projects.Create(c.Request.Context(), project); err != nil {
		httperr.Write(c, httperr.New(httperr.KindDatabaseError, "failed to create project"))
		return
	}

	h.writeAudit(c, audit.ActionProjectCreate, project.ID, map[string]any{"name": project.Name})
	c.JSON(http.StatusCreated, gin.H{"project": project})
}

// List returns the projects the caller belongs to.
func (h *ProjectHandler) List(c *gin.Context) {
	principal := middleware.Principal(c)
	list, err := h.projects.ListByMember(c.Request.Context(), principal.User.ID)
	if err != nil {
		httperr.Write(c, httperr.New(httperr.KindDatabaseError, "failed to list projects"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": list})
}

// Get returns one project the caller belongs to.
func (h *ProjectHandler) Get(c *gin.Context) {
	project, ok := h.load(c, models.RoleMember)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": project})
}

// Delete removes the project; owner only. The weak default-project
// references on users are left to dangle and are tolerated at read time.
func (h *ProjectHandler) Delete(c *gin.Context) {
	project, ok := h.load(c, models.RoleOwner)
	if !ok {
		return
	}
	if err := h.projects.Delete(c.Request.Context(), project.ID); err != nil {
		httperr.Write(c, httperr.New(httperr.KindDatabaseError, "failed to delete project"))
		return
	}
	h.writeAudit(c, audit.ActionProjectDelete, project.ID, nil)
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type addMemberRequest struct {
	UserID string            `json:"userId" binding:"required"`
	Role   models.MemberRole `json:"role"`
}

// AddMember adds a member; requires the admin role.
func (h *ProjectHandler) AddMember(c *gin.Context) {
	project, ok := h.load(c, models.RoleAdmin)
	if !ok {
		return
	}

	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.Write(c, httperr.New(httperr.KindValidationError, "userId is required"))
		return
	}
	role := req.Role
	if role == "" {
		role = models.RoleMember
	}
	if role == models.RoleOwner {
		httperr.Write(c, httperr.New(httperr.KindValidationError, "ownership is not transferable through membership"))
		return
	}

	if _, err := h.users.GetByID(c.Request.Context(), req.UserID); err != nil {
		httperr.Write(c, httperr.New(httperr.KindNotFound, "user not found"))
		return
	}

	err := h.projects.AddMember(c.Request.Context(), project.ID, models.Member{
		UserID: req.UserID, Role: role, AddedAt: time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			httperr.Write(c, httperr.New(httperr.KindConflict, "user is already a member"))
			return
		}
		httperr.Write(c, httperr.New(httperr.KindDatabaseError, "failed to add member"))
		return
	}

	h.writeAudit(c, audit.ActionMemberAdd, project.ID, map[string]any{"userId": req.UserID, "role": role})
	c.JSON(http.StatusOK, gin.H{"added": true})
}

// RemoveMember removes a member; requires the admin role. The owner cannot
// be removed.
func (h *ProjectHandler) RemoveMember(c *gin.Context) {
	project, ok := h.load(c, models.RoleAdmin)
	if !ok {
		return
	}
	userID := c.Param("userId")
	if userID == project.OwnerID {
		httperr.Write(c, httperr.New(httperr.KindValidationError, "the owner cannot be removed"))
		return
	}

	if err := h.projects.RemoveMember(c.Request.Context(), project.ID, userID); err != nil {
		httperr.Write(c, httperr.New(httperr.KindDatabaseError, "failed to remove member"))
		return
	}

	h.writeAudit(c, audit.ActionMemberRemove, project.ID, map[string]any{"userId": userID})
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

type addKeyRequest struct {
	Provider string            `json:"provider" binding:"required"`
	APIKey   string            `json:"apiKey" binding:"required"`
	Metadata map[string]string `json:"metadata"`
}

// AddKey seals and stores a provider credential; requires the admin role.
// Any previously active credential for the provider is deactivated.
func (h *ProjectHandler) AddKey(c *gin.Context) {
	project, ok := h.load(c, models.RoleAdmin)
	if !ok {
		return
	}

	var req addKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.Write(c, httperr.New(httperr.KindValidationError, "provider and apiKey are required"))
		return
	}
	if _, ok := providers.Parse(req.Provider); !ok {
		httperr.Write(c, httperr.New(httperr.KindInvalidProvider, "unknown provider "+req.Provider))
		return
	}

	envelope, keyID, err := h.vault.Encrypt(req.APIKey, req.Metadata)
	if err != nil {
		httperr.Write(c, httperr.New(httperr.KindUnknown, "failed to seal credential"))
		return
	}

	cred := models.ProviderCredential{
		Provider: req.Provider,
		Envelope: envelope,
		KeyID:    keyID,
		Active:   true,
		AddedBy:  middleware.Principal(c).User.ID,
		AddedAt:  time.Now().UTC(),
	}
	if err := h.projects.UpsertCredential(c.Request.Context(), project.ID, cred); err != nil {
		httperr.Write(c, httperr.New(httperr.KindDatabaseError, "failed to store credential"))
		return
	}

	h.writeAudit(c, audit.ActionProjectKeyAdd, project.ID, map[string]any{
		"provider": req.Provider, "keyId": keyID,
	})
	c.JSON(http.StatusCreated, gin.H{"keyId": keyID, "provider": req.Provider})
}

// ListKeys returns credential metadata (never envelopes or plaintext).
func (h *ProjectHandler) ListKeys(c *gin.Context) {
	project, ok := h.load(c, models.RoleMember)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": project.Credentials})
}

// RemoveKey deletes a credential by key id; requires the admin role.
func (h *ProjectHandler) RemoveKey(c *gin.Context) {
	project, ok := h.load(c, models.RoleAdmin)
	if !ok {
		return
	}
	keyID := c.Param("keyId")

	if err := h.projects.RemoveCredential(c.Request.Context(), project.ID, keyID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			httperr.Write(c, httperr.New(httperr.KindNotFound, "credential not found"))
			return
		}
		httperr.Write(c, httperr.New(httperr.KindDatabaseError, "failed to remove credential"))
		return
	}

	h.writeAudit(c, audit.ActionProjectKeyRemove, project.ID, map[string]any{"keyId": keyID})
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

// Usage reports the project's counter buckets plus recent usage records.
func (h *ProjectHandler) Usage(c *gin.Context) {
	project, ok := h.load(c, models.RoleMember)
	if !ok {
		return
	}

	since := time.Now().AddDate(0, 0, -7)
	recent, err := h.records.ListByProject(c.Request.Context(), project.ID, since, 100)
	if err != nil {
		httperr.Write(c, httperr.New(httperr.KindDatabaseError, "failed to load usage records"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"usage":  project.Usage,
		"recent": recent,
	})
}

type quotaRequest struct {
	DailyLimit       *int64                    `json:"dailyLimit"`
	MonthlyLimit     *int64                    `json:"monthlyLimit"`
	RateLimit        *models.RateLimitOverride `json:"rateLimit"`
	AllowedProviders []string                  `json:"allowedProviders"`
	WebhookURL       *string                   `json:"webhookUrl"`
}

// UpdateQuota updates quota/rate-limit/allowlist/webhook settings; owner only.
func (h *ProjectHandler) UpdateQuota(c *gin.Context) {
	project, ok := h.load(c, models.RoleOwner)
	if !ok {
		return
	}

	var req quotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.Write(c, httperr.New(httperr.KindValidationError, "malformed request body"))
		return
	}

	settings := project.Settings
	if req.DailyLimit != nil && req.MonthlyLimit != nil {
		if *req.DailyLimit < 1 || *req.MonthlyLimit < 1 {
			httperr.Write(c, httperr.New(httperr.KindValidationError, "quota limits must be positive"))
			return
		}
		settings.Quota = &models.QuotaOverride{DailyLimit: *req.DailyLimit, MonthlyLimit: *req.MonthlyLimit}
	}
	if req.RateLimit != nil {
		if req.RateLimit.RequestsPerMinute < 1 {
			httperr.Write(c, httperr.New(httperr.KindValidationError, "requestsPerMinute must be positive"))
			return
		}
		settings.RateLimit = req.RateLimit
	}
	if req.AllowedProviders != nil {
		for _, tag := range req.AllowedProviders {
			if _, ok := providers.Parse(tag); !ok {
				httperr.Write(c, httperr.New(httperr.KindInvalidProvider, "unknown provider "+tag))
				return
			}
		}
		settings.AllowedProviders = req.AllowedProviders
	}
	if req.WebhookURL != nil {
		if *req.WebhookURL != "" {
			u, err := url.Parse(*req.WebhookURL)
			if err != nil || u.Scheme != "https" || u.Host == "" {
				httperr.Write(c, httperr.New(httperr.KindValidationError, "webhookUrl must be an https URL"))
				return
			}
		}
		settings.WebhookURL = *req.WebhookURL
	}

	if err := h.projects.UpdateSettings(c.Request.Context(), project.ID, settings); err != nil {
		httperr.Write(c, httperr.New(httperr.KindDatabaseError, "failed to update settings"))
		return
	}

	h.writeAudit(c, audit.ActionProjectUpdate, project.ID, map[string]any{"settings": settings})
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

// Quota reports the effective limits and current consumption.
func (h *ProjectHandler) Quota(c *gin.Context) {
	project, ok := h.load(c, models.RoleMember)
	if !ok {
		return
	}
	decision := quota.Check(project)
	c.JSON(http.StatusOK, gin.H{
		"daily":   gin.H{"used": decision.Day.Used, "limit": decision.Day.Limit},
		"monthly": gin.H{"used": decision.Month.Used, "limit": decision.Month.Limit},
		"warning": decision.Warning(),
		"tier":    project.Tier(),
	})
}

func (h *ProjectHandler) writeAudit(c *gin.Context, action, resourceID string, details map[string]any) {
	h.audit.Write(audit.Entry{
		UserID:       middleware.Principal(c).User.ID,
		Action:       action,
		ResourceType: "project",
		ResourceID:   resourceID,
		Details:      details,
		ClientIP:     c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
		Status:       models.AuditSuccess,
	})
}
