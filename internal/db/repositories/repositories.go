// Package repositories defines the data-access contracts the pipeline
// consumes and their MongoDB implementations. Pipeline stages depend on the
// interfaces declared here, never on the driver, so tests substitute
// in-memory fakes without a running database.
//
// Counter updates deserve a note: project usage buckets are the hottest
// write path in the system and every update goes through a single
// server-side $inc (IncrementUsage). Read-modify-write cycles on counters
// are forbidden — racing increments must both be reflected.
package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/ai-guard/ai-guard/internal/db/models"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("repositories: document not found")

// ErrDuplicate is returned when a unique index rejects a write
// (duplicate email, token name, external id).
var ErrDuplicate = errors.New("repositories: duplicate document")

// UserRepository persists User documents.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	// UpsertExternal finds-or-creates the user keyed by external uid,
	// refreshing profile fields on match.
	UpsertExternal(ctx context.Context, externalID, email, name string) (*models.User, error)
	UpdateStatus(ctx context.Context, id string, status models.UserStatus) error
	UpdateName(ctx context.Context, id, name string) error
	UpdateDefaultProject(ctx context.Context, id string, projectID *string) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context, limit, offset int64) ([]*models.User, error)
	// Delete is logical: it flips status to deleted. Revoking the user's
	// tokens is the caller's responsibility (see TokenRepository).
	Delete(ctx context.Context, id string) error
}

// TokenRepository persists PersonalAccessToken documents.
type TokenRepository interface {
	Create(ctx context.Context, token *models.PersonalAccessToken) error
	GetByID(ctx context.Context, id string) (*models.PersonalAccessToken, error)
	GetByIdentifier(ctx context.Context, identifier string) (*models.PersonalAccessToken, error)
	ListByUser(ctx context.Context, userID string) ([]*models.PersonalAccessToken, error)
	Revoke(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string) error
	UpdateLastUsed(ctx context.Context, id string, at time.Time) error
	// ReplaceSecret swaps the identifier and hash in place during rotation,
	// keeping name, scopes, and ownership.
	ReplaceSecret(ctx context.Context, id, identifier, hash string) error
}

// UsageDelta is one request's contribution to the project counters.
type UsageDelta struct {
	Requests int64
	Tokens   int64
	Cost     float64
}

// ProjectRepository persists Project documents including their embedded
// credentials, members, and usage counters.
type ProjectRepository interface {
	Create(ctx context.Context, project *models.Project) error
	GetByID(ctx context.Context, id string) (*models.Project, error)
	ListByMember(ctx context.Context, userID string) ([]*models.Project, error)
	Delete(ctx context.Context, id string) error

	AddMember(ctx context.Context, projectID string, member models.Member) error
	RemoveMember(ctx context.Context, projectID, userID string) error

	// UpsertCredential deactivates any existing active credential for the
	// same provider and appends the new one, atomically per array element.
	UpsertCredential(ctx context.Context, projectID string, cred models.ProviderCredential) error
	RemoveCredential(ctx context.Context, projectID, keyID string) error
	// ReplaceCredentialEnvelope swaps the sealed envelope for a key id
	// (master-key rotation).
	ReplaceCredentialEnvelope(ctx context.Context, projectID, keyID, envelope string) error

	UpdateSettings(ctx context.Context, projectID string, settings models.ProjectSettings) error

	// IncrementUsage applies delta to total, currentMonth, and currentDay in
	// one server-side $inc.
	IncrementUsage(ctx context.Context, projectID string, delta UsageDelta) error
	// ResetDay / ResetMonth zero the respective bucket across all projects.
	ResetDay(ctx context.Context) error
	ResetMonth(ctx context.Context) error
}

// UsageRepository persists UsageRecord documents.
type UsageRepository interface {
	Insert(ctx context.Context, record *models.UsageRecord) error
	ListByProject(ctx context.Context, projectID string, since time.Time, limit int64) ([]*models.UsageRecord, error)
}

// AuditRepository persists AuditLog documents.
type AuditRepository interface {
	Insert(ctx context.Context, entry *models.AuditLog) error
	ListByUser(ctx context.Context, userID string, limit int64) ([]*models.AuditLog, error)
}
