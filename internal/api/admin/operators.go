// operators.go serves /_api/admin: the operator surface guarded by the
// admin PAT scope or the X-Admin-Key process secret. It can see and manage
// any user or project, and performs master-key rotation of stored
// credentials.
package admin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ai-guard/ai-guard/internal/audit"
	"github.com/ai-guard/ai-guard/internal/auth"
	"github.com/ai-guard/ai-guard/internal/crypto"
	"github.com/ai-guard/ai-guard/internal/db/models"
	"github.com/ai-guard/ai-guard/internal/db/repositories"
	"github.com/ai-guard/ai-guard/internal/httperr"
	"github.com/ai-guard/ai-guard/internal/middleware"
)

// OperatorHandler serves /_api/admin.
type OperatorHandler struct {
	users    repositories.UserRepository
	tokens   repositories.TokenRepository
	projects repositories.ProjectRepository
	audit    *audit.Writer
}

// NewOperatorHandler creates an OperatorHandler.
func NewOperatorHandler(
	users repositories.UserRepository,
	tokens repositories.TokenRepository,
	projects repositories.ProjectRepository,
	auditWriter *audit.Writer,
) *OperatorHandler {
	return &OperatorHandler{users: users, tokens: tokens, projects: projects, audit: auditWriter}
}

// ListUsers returns the first 100 users as ordered by the repository; it
// reads no paging parameters, so users beyond the first 100 are not listed.
func (h *OperatorHandler) ListUsers(c *gin.Context) {
	users, err := h.users.List(c.Request.Context(), 100, 0)
	if err != nil {
		httperr.Write(c, httperr.New(httperr.KindDatabaseError, "failed to list users"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// SetUserStatus suspends or reactivates an account. Suspension also revokes
// every token the account owns; reactivation does not resurrect them.
func (h *OperatorHandler) SetUserStatus(c *gin.Context) {
	userID := c.Param("id")

	var req struct {
		Status models.UserStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.Write(c, httperr.New(httperr.KindValidationError, "status is required"))
		return
	}
	if req.Status != models.UserActive && req.Status != models.UserSuspended {
		httperr.Write(c, httperr.New(httperr.KindValidationError, "status must be active or suspended"))
		return
	}

	if err := h.users.UpdateStatus(c.Request.Context(), userID, req.Status); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			httperr.Write(c, httperr.New(httperr.KindNotFound, "user not found"))
			return
		}
		httperr.Write(c, httperr.New(httperr.KindDatabaseError, "failed to update user status"))
		return
	}

	action := audit.ActionUserActivate
	if req.Status == models.UserSuspended {
		action = audit.ActionUserSuspend
		if err := h.tokens.RevokeAllForUser(c.Request.Context(), userID); err != nil {
			httperr.Write(c, httperr.New(httperr.KindDatabaseError, "failed to revoke user tokens"))
			return
		}
	}

	h.writeAudit(c, action, "user", userID, nil)
	c.JSON(http.StatusOK, gin.H{"status": req.Status})
}

// GetProject returns any project by id.
func (h *OperatorHandler) GetProject(c *gin.Context) {
	project, err := h.projects.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			httperr.Write(c, httperr.New(httperr.KindNotFound, "project not found"))
			return
		}
		httperr.Write(c, httperr.New(httperr.KindDatabaseError, "project lookup failed"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": project})
}

type rotateKeyRequest struct {
	OldMasterKey string `json:"oldMasterKey" binding:"required"`
	NewMasterKey string `json:"newMasterKey" binding:"required"`
}

// RotateProjectKey re-encrypts one stored credential under a new master
// key. The rotation is a pure function over the envelope and the two keys:
// it never touches the process-wide vault, so concurrent traffic keeps
// decrypting with the configured key until the deployment is restarted with
// the new one.
func (h *OperatorHandler) RotateProjectKey(c *gin.Context) {
	projectID := c.Param("id")
	keyID := c.Param("keyId")

	var req rotateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.Write(c, httperr.New(httperr.KindValidationError, "oldMasterKey and newMasterKey are required"))
		return
	}

	project, err := h.projects.GetByID(c.Request.Context(), projectID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			httperr.Write(c, httperr.New(httperr.KindNotFound, "project not found"))
			return
		}
		httperr.Write(c, httperr.New(httperr.KindDatabaseError, "project lookup failed"))
		return
	}

	var envelope string
	for _, cred := range project.Credentials {
		if cred.KeyID == keyID {
			envelope = cred.Envelope
			break
		}
	}
	if envelope == "" {
		httperr.Write(c, httperr.New(httperr.KindNotFound, "credential not found"))
		return
	}

	rotated, err := crypto.Rotate(envelope, req.OldMasterKey, req.NewMasterKey)
	if err != nil {
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			httperr.Write(c, httperr.New(httperr.KindValidationError, "old master key does not open this credential"))
			return
		}
		httperr.Write(c, httperr.New(httperr.KindUnknown, "rotation failed"))
		return
	}

	if err := h.projects.ReplaceCredentialEnvelope(c.Request.Context(), projectID, keyID, rotated); err != nil {
		httperr.Write(c, httperr.New(httperr.KindDatabaseError, "failed to store rotated credential"))
		return
	}

	h.writeAudit(c, audit.ActionProjectKeyRotate, "project", projectID, map[string]any{"keyId": keyID})
	c.JSON(http.StatusOK, gin.H{"rotated": true, "keyId": keyID})
}

func (h *OperatorHandler) writeAudit(c *gin.Context, action, resourceType, resourceID string, details map[string]any) {
	// X-Admin-Key callers carry no principal; their entries record only
	// the client address.
	userID := ""
	if p, ok := c.Get(middleware.PrincipalKey); ok {
		if principal, ok := p.(*auth.Principal); ok {
			userID = principal.User.ID
		}
	}
	h.audit.Write(audit.Entry{
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		ClientIP:     c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
		Status:       models.AuditSuccess,
	})
}
