// users.go serves /_api/users: the caller's profile and account lifecycle.
package admin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ai-guard/ai-guard/internal/audit"
	"github.com/ai-guard/ai-guard/internal/db/models"
	"github.com/ai-guard/ai-guard/internal/db/repositories"
	"github.com/ai-guard/ai-guard/internal/httperr"
	"github.com/ai-guard/ai-guard/internal/middleware"
)

// UserHandler serves /_api/users.
type UserHandler struct {
	users  repositories.UserRepository
	tokens repositories.TokenRepository
	audit  *audit.Writer
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(users repositories.UserRepository, tokens repositories.TokenRepository, auditWriter *audit.Writer) *UserHandler {
	return &UserHandler{users: users, tokens: tokens, audit: auditWriter}
}

// Profile returns the caller's user document.
func (h *UserHandler) Profile(c *gin.Context) {
	principal := middleware.Principal(c)
	c.JSON(http.StatusOK, gin.H{"user": principal.User})
}

type updateProfileRequest struct {
	Name             *string `json:"name"`
	DefaultProjectID *string `json:"defaultProjectId"`
}

// UpdateProfile updates the caller's display name and default project.
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	principal := middleware.Principal(c)

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.Write(c, httperr.New(httperr.KindValidationError, "malformed request body"))
		return
	}

	if req.DefaultProjectID != nil {
		if err := h.users.UpdateDefaultProject(c.Request.Context(), principal.User.ID, req.DefaultProjectID); err != nil {
			httperr.Write(c, httperr.New(httperr.KindDatabaseError, "failed to update default project"))
			return
		}
	}
	if req.Name != nil && *req.Name != "" {
		if err := h.users.UpdateName(c.Request.Context(), principal.User.ID, *req.Name); err != nil {
			httperr.Write(c, httperr.New(httperr.KindDatabaseError, "failed to update profile"))
			return
		}
		principal.User.Name = *req.Name
	}

	h.audit.Write(audit.Entry{
		UserID:       principal.User.ID,
		Action:       audit.ActionUserUpdate,
		ResourceType: "user",
		ResourceID:   principal.User.ID,
		ClientIP:     c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
		Status:       models.AuditSuccess,
	})

	c.JSON(http.StatusOK, gin.H{"user": principal.User})
}

// DeleteAccount logically deletes the caller's account and revokes every
// token it owns.
func (h *UserHandler) DeleteAccount(c *gin.Context) {
	principal := middleware.Principal(c)

	if err := h.users.Delete(c.Request.Context(), principal.User.ID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			httperr.Write(c, httperr.New(httperr.KindNotFound, "user not found"))
			return
		}
		httperr.Write(c, httperr.New(httperr.KindDatabaseError, "failed to delete account"))
		return
	}
	if err := h.tokens.RevokeAllForUser(c.Request.Context(), principal.User.ID); err != nil {
		httperr.Write(c, httperr.New(httperr.KindDatabaseError, "failed to revoke tokens"))
		return
	}

	h.audit.Write(audit.Entry{
		UserID:       principal.User.ID,
		Action:       audit.ActionUserDelete,
		ResourceType: "user",
		ResourceID:   principal.User.ID,
		ClientIP:     c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
		Status:       models.AuditSuccess,
	})

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
