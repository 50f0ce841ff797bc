// Package admin implements the management API under /_api: user profiles,
// token lifecycle, project lifecycle (members, keys, usage, quota), and the
// operator-guarded admin surface. Handlers speak the same error envelope as
// the proxy pipeline and audit every mutation.
package admin

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ai-guard/ai-guard/internal/audit"
	"github.com/ai-guard/ai-guard/internal/auth"
	"github.com/ai-guard/ai-guard/internal/db/models"
	"github.com/ai-guard/ai-guard/internal/db/repositories"
	"github.com/ai-guard/ai-guard/internal/httperr"
	"github.com/ai-guard/ai-guard/internal/middleware"
)

// TokenHandler serves /_api/users/tokens.
type TokenHandler struct {
	tokens repositories.TokenRepository
	audit  *audit.Writer
}

// NewTokenHandler creates a TokenHandler.
func NewTokenHandler(tokens repositories.TokenRepository, auditWriter *audit.Writer) *TokenHandler {
	return &TokenHandler{tokens: tokens, audit: auditWriter}
}

type createTokenRequest struct {
	Name      string     `json:"name" binding:"required"`
	Scopes    []string   `json:"scopes"`
	ProjectID *string    `json:"projectId"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// Create mints a new PAT. The raw token appears in this response and
// nowhere else, ever.
func (h *TokenHandler) Create(c *gin.Context) {
	principal := middleware.Principal(c)

	var req createTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.Write(c, httperr.New(httperr.KindValidationError, "name is required"))
		return
	}

	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = auth.GetDefaultScopes()
	}
	if err := auth.ValidateScopes(scopes); err != nil {
		httperr.Write(c, httperr.New(httperr.KindValidationError, err.Error()))
		return
	}
	if req.ExpiresAt != nil && req.ExpiresAt.Before(time.Now()) {
		httperr.Write(c, httperr.New(httperr.KindValidationError, "expiresAt must be in the future"))
		return
	}

	gen, err := auth.GeneratePAT()
	if err != nil {
		httperr.Write(c, httperr.New(httperr.KindUnknown, "failed to generate token"))
		return
	}

	token := &models.PersonalAccessToken{
		Identifier: gen.Identifier,
		Hash:       gen.Hash,
		UserID:     principal.User.ID,
		ProjectID:  req.ProjectID,
		Name:       req.Name,
		Scopes:     scopes,
		ExpiresAt:  req.ExpiresAt,
	}
	if err := h.tokens.Create(c.Request.Context(), token); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			httperr.Write(c, httperr.New(httperr.KindConflict, "a token with this name already exists"))
			return
		}
		httperr.Write(c, httperr.New(httperr.KindDatabaseError, "failed to store token"))
		return
	}

	h.audit.Write(audit.Entry{
		UserID:       principal.User.ID,
		Action:       audit.ActionTokenCreate,
		ResourceType: "api_key",
		ResourceID:   token.ID,
		Details:      map[string]any{"name": token.Name, "scopes": token.Scopes},
		ClientIP:     c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
		Status:       models.AuditSuccess,
	})

	c.JSON(http.StatusCreated, gin.H{
		"token":     gen.Token, // shown once
		"id":        token.ID,
		"name":      token.Name,
		"scopes":    token.Scopes,
		"expiresAt": token.ExpiresAt,
	})
}

// List returns the caller's tokens (metadata only, no secrets).
func (h *TokenHandler) List(c *gin.Context) {
	principal := middleware.Principal(c)

	tokens, err := h.tokens.ListByUser(c.Request.Context(), principal.User.ID)
	if err != nil {
		httperr.Write(c, httperr.New(httperr.KindDatabaseError, "failed to list tokens"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

// Delete revokes one of the caller's tokens.
func (h *TokenHandler) Delete(c *gin.Context) {
	principal := middleware.Principal(c)
	tokenID := c.Param("id")

	token, err := h.tokens.GetByID(c.Request.Context(), tokenID)
	if err != nil {
		h.writeLookupError(c, err)
		return
	}
	if token.UserID != principal.User.ID {
		httperr.Write(c, httperr.New(httperr.KindForbidden, "token belongs to another user"))
		return
	}

	if err := h.tokens.Revoke(c.Request.Context(), tokenID); err != nil {
		httperr.Write(c, httperr.New(httperr.KindDatabaseError, "failed to revoke token"))
		return
	}

	h.audit.Write(audit.Entry{
		UserID:       principal.User.ID,
		Action:       audit.ActionTokenRevoke,
		ResourceType: "api_key",
		ResourceID:   tokenID,
		ClientIP:     c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
		Status:       models.AuditSuccess,
	})

	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

// Rotate replaces a token's secret in place: same name, scopes, and
// ownership, new identifier and hash. The old secret stops working
// immediately; the new one is shown once.
func (h *TokenHandler) Rotate(c *gin.Context) {
	principal := middleware.Principal(c)
	tokenID := c.Param("id")

	token, err := h.tokens.GetByID(c.Request.Context(), tokenID)
	if err != nil {
		h.writeLookupError(c, err)
		return
	}
	if token.UserID != principal.User.ID {
		httperr.Write(c, httperr.New(httperr.KindForbidden, "token belongs to another user"))
		return
	}
	if token.Revoked {
		httperr.Write(c, httperr.New(httperr.KindConflict, "cannot rotate a revoked token"))
		return
	}

	gen, err := auth.GeneratePAT()
	if err != nil {
		httperr.Write(c, httperr.New(httperr.KindUnknown, "failed to generate token"))
		return
	}
	if err := h.tokens.ReplaceSecret(c.Request.Context(), tokenID, gen.Identifier, gen.Hash); err != nil {
		httperr.Write(c, httperr.New(httperr.KindDatabaseError, "failed to rotate token"))
		return
	}

	h.audit.Write(audit.Entry{
		UserID:       principal.User.ID,
		Action:       audit.ActionTokenRotate,
		ResourceType: "api_key",
		ResourceID:   tokenID,
		ClientIP:     c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
		Status:       models.AuditSuccess,
	})

	c.JSON(http.StatusOK, gin.H{
		"token": gen.Token, // shown once
		"id":    tokenID,
	})
}

func (h *TokenHandler) writeLookupError(c *gin.Context, err error) {
	if errors.Is(err, repositories.ErrNotFound) {
		httperr.Write(c, httperr.New(httperr.KindNotFound, "token not found"))
		return
	}
	httperr.Write(c, httperr.New(httperr.KindDatabaseError, "token lookup failed"))
}
