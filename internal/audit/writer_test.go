package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-guard/ai-guard/internal/db/models"
	"github.com/ai-guard/ai-guard/internal/testutil"
)

func waitForEntries(t *testing.T, repo *testutil.AuditRepo, n int) []*models.AuditLog {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if entries := repo.Snapshot(); len(entries) >= n {
			return entries
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d audit entries", n)
	return nil
}

func TestWriterWrite(t *testing.T) {
	repo := testutil.NewAuditRepo()
	w := NewWriter(repo)

	w.Write(Entry{
		UserID:       "u1",
		Action:       ActionTokenCreate,
		ResourceType: "api_key",
		ResourceID:   "t1",
		ClientIP:     "10.0.0.1",
		UserAgent:    "curl/8.0",
		Status:       models.AuditSuccess,
		Details:      map[string]any{"name": "ci"},
	})

	entries := waitForEntries(t, repo, 1)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "api_key.create", e.Action)
	assert.Equal(t, "u1", e.UserID)
	assert.Equal(t, models.AuditSuccess, e.Status)
	assert.Equal(t, "10.0.0.1", e.ClientIP)
	assert.False(t, e.Timestamp.IsZero())
}

func TestWriterNilSafe(t *testing.T) {
	// A nil writer (audit disabled) must be a no-op, not a panic.
	var w *Writer
	assert.NotPanics(t, func() {
		w.Write(Entry{Action: ActionAuthFailed})
	})
}
