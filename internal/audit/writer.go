// Package audit emits the append-only event log: one entry per
// administrative action and one per proxied request. Writes are best-effort
// and asynchronous — an audit outage degrades observability, never
// availability. Retention is 90 days, enforced by the store's TTL index.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/ai-guard/ai-guard/internal/db/models"
	"github.com/ai-guard/ai-guard/internal/db/repositories"
	"github.com/ai-guard/ai-guard/internal/safego"
)

// Action names form a closed taxonomy. Proxied requests use api.<method>
// (lowercase), constructed at the call site.
const (
	ActionAuthLogin        = "auth.login"
	ActionAuthFailed       = "auth.failed"
	ActionTokenCreate      = "api_key.create"
	ActionTokenRevoke      = "api_key.revoke"
	ActionTokenRotate      = "api_key.rotate"
	ActionProjectCreate    = "project.create"
	ActionProjectUpdate    = "project.update"
	ActionProjectDelete    = "project.delete"
	ActionProjectKeyAdd    = "project.key.add"
	ActionProjectKeyRemove = "project.key.remove"
	ActionProjectKeyRotate = "project.key.rotate"
	ActionMemberAdd        = "project.member.add"
	ActionMemberRemove     = "project.member.remove"
	ActionUserUpdate       = "user.update"
	ActionUserSuspend      = "user.suspend"
	ActionUserActivate     = "user.activate"
	ActionUserDelete       = "user.delete"
)

// Entry is one audit event as seen by callers; the writer fills timestamps
// and persists asynchronously.
type Entry struct {
	UserID       string
	Action       string
	ResourceType string
	ResourceID   string
	Details      map[string]any
	ClientIP     string
	UserAgent    string
	Status       models.AuditStatus
	ErrorMessage string
}

// Writer persists audit entries.
type Writer struct {
	repo repositories.AuditRepository
}

// NewWriter creates a Writer.
func NewWriter(repo repositories.AuditRepository) *Writer {
	return &Writer{repo: repo}
}

// Write persists the entry in the background with a bounded timeout.
// Failures are logged and swallowed.
func (w *Writer) Write(entry Entry) {
	if w == nil || w.repo == nil {
		return
	}
	log := &models.AuditLog{
		UserID:       entry.UserID,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Details:      entry.Details,
		ClientIP:     entry.ClientIP,
		UserAgent:    entry.UserAgent,
		Timestamp:    time.Now().UTC(),
		Status:       entry.Status,
		ErrorMessage: entry.ErrorMessage,
	}

	safego.Run("audit-write", 0, func(ctx context.Context) {
		if err := w.repo.Insert(ctx, log); err != nil {
			slog.Error("failed to write audit log", "action", entry.Action, "error", err)
		}
	})
}
