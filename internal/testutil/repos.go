// Package testutil provides in-memory repository implementations for tests.
// They honor the same contracts as the MongoDB repositories — ErrNotFound /
// ErrDuplicate semantics, atomic usage increments under a lock — so pipeline
// and handler tests run without a database.
package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ai-guard/ai-guard/internal/db/models"
	"github.com/ai-guard/ai-guard/internal/db/repositories"
)

// UserRepo is an in-memory repositories.UserRepository.
type UserRepo struct {
	mu    sync.Mutex
	Users map[string]*models.User
}

// NewUserRepo creates an empty UserRepo.
func NewUserRepo() *UserRepo {
	return &UserRepo{Users: make(map[string]*models.User)}
}

// Add stores a user directly, filling defaults, for test setup.
func (r *UserRepo) Add(u *models.User) *models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.Status == "" {
		u.Status = models.UserActive
	}
	r.Users[u.ID] = u
	return u
}

func (r *UserRepo) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.Email = strings.ToLower(user.Email)
	for _, u := range r.Users {
		if u.Email == user.Email && u.Status != models.UserDeleted {
			return repositories.ErrDuplicate
		}
	}
	if user.Status == "" {
		user.Status = models.UserActive
	}
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	r.Users[user.ID] = user
	return nil
}

func (r *UserRepo) GetByID(_ context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.Users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *UserRepo) GetByExternalID(_ context.Context, externalID string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.Users {
		if u.ExternalID != nil && *u.ExternalID == externalID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *UserRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	email = strings.ToLower(email)
	for _, u := range r.Users {
		if u.Email == email && u.Status != models.UserDeleted {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *UserRepo) UpsertExternal(_ context.Context, externalID, email, name string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.Users {
		if u.ExternalID != nil && *u.ExternalID == externalID {
			u.Email = strings.ToLower(email)
			u.Name = name
			u.UpdatedAt = time.Now().UTC()
			cp := *u
			return &cp, nil
		}
	}
	u := &models.User{
		ID:         uuid.New().String(),
		ExternalID: &externalID,
		Email:      strings.ToLower(email),
		Name:       name,
		Status:     models.UserActive,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	r.Users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (r *UserRepo) UpdateStatus(_ context.Context, id string, status models.UserStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.Users[id]
	if !ok {
		return repositories.ErrNotFound
	}
	u.Status = status
	return nil
}

func (r *UserRepo) UpdateName(_ context.Context, id, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.Users[id]
	if !ok {
		return repositories.ErrNotFound
	}
	u.Name = name
	return nil
}

func (r *UserRepo) UpdateDefaultProject(_ context.Context, id string, projectID *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.Users[id]
	if !ok {
		return repositories.ErrNotFound
	}
	u.DefaultProjectID = projectID
	return nil
}

func (r *UserRepo) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.Users[id]
	if !ok {
		return repositories.ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

func (r *UserRepo) List(_ context.Context, limit, offset int64) ([]*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.User
	for _, u := range r.Users {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (r *UserRepo) Delete(_ context.Context, id string) error {
	return r.UpdateStatus(context.Background(), id, models.UserDeleted)
}

// TokenRepo is an in-memory repositories.TokenRepository.
type TokenRepo struct {
	mu     sync.Mutex
	Tokens map[string]*models.PersonalAccessToken
	// LastUsedCalls counts UpdateLastUsed invocations for assertions on the
	// async last-used path.
	LastUsedCalls int
}

// NewTokenRepo creates an empty TokenRepo.
func NewTokenRepo() *TokenRepo {
	return &TokenRepo{Tokens: make(map[string]*models.PersonalAccessToken)}
}

// Add stores a token directly for test setup.
func (r *TokenRepo) Add(t *models.PersonalAccessToken) *models.PersonalAccessToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	r.Tokens[t.ID] = t
	return t
}

func (r *TokenRepo) Create(_ context.Context, token *models.PersonalAccessToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if token.ID == "" {
		token.ID = uuid.New().String()
	}
	for _, t := range r.Tokens {
		if t.UserID == token.UserID && t.Name == token.Name {
			return repositories.ErrDuplicate
		}
	}
	token.CreatedAt = time.Now().UTC()
	token.UpdatedAt = token.CreatedAt
	r.Tokens[token.ID] = token
	return nil
}

func (r *TokenRepo) GetByID(_ context.Context, id string) (*models.PersonalAccessToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.Tokens[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *TokenRepo) GetByIdentifier(_ context.Context, identifier string) (*models.PersonalAccessToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.Tokens {
		if t.Identifier == identifier {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *TokenRepo) ListByUser(_ context.Context, userID string) ([]*models.PersonalAccessToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.PersonalAccessToken
	for _, t := range r.Tokens {
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *TokenRepo) Revoke(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.Tokens[id]
	if !ok {
		return repositories.ErrNotFound
	}
	t.Revoked = true
	return nil
}

func (r *TokenRepo) RevokeAllForUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.Tokens {
		if t.UserID == userID {
			t.Revoked = true
		}
	}
	return nil
}

func (r *TokenRepo) UpdateLastUsed(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.LastUsedCalls++
	t, ok := r.Tokens[id]
	if !ok {
		return repositories.ErrNotFound
	}
	t.LastUsedAt = &at
	return nil
}

func (r *TokenRepo) ReplaceSecret(_ context.Context, id, identifier, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.Tokens[id]
	if !ok || t.Revoked {
		return repositories.ErrNotFound
	}
	t.Identifier = identifier
	t.Hash = hash
	return nil
}

// ProjectRepo is an in-memory repositories.ProjectRepository.
type ProjectRepo struct {
	mu       sync.Mutex
	Projects map[string]*models.Project
	// IncrementCalls counts IncrementUsage invocations for at-most-once
	// accounting assertions.
	IncrementCalls int
}

// NewProjectRepo creates an empty ProjectRepo.
func NewProjectRepo() *ProjectRepo {
	return &ProjectRepo{Projects: make(map[string]*models.Project)}
}

// Add stores a project directly for test setup.
func (r *ProjectRepo) Add(p *models.Project) *models.Project {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	r.Projects[p.ID] = p
	return p
}

func (r *ProjectRepo) Create(_ context.Context, project *models.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if project.ID == "" {
		project.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	project.CreatedAt = now
	project.UpdatedAt = now
	if project.MemberRoleOf(project.OwnerID) == "" {
		project.Members = append(project.Members, models.Member{
			UserID: project.OwnerID, Role: models.RoleOwner, AddedAt: now,
		})
	}
	r.Projects[project.ID] = project
	return nil
}

func (r *ProjectRepo) GetByID(_ context.Context, id string) (*models.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.Projects[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *ProjectRepo) ListByMember(_ context.Context, userID string) ([]*models.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Project
	for _, p := range r.Projects {
		if p.MemberRoleOf(userID) != "" {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *ProjectRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.Projects[id]; !ok {
		return repositories.ErrNotFound
	}
	delete(r.Projects, id)
	return nil
}

func (r *ProjectRepo) AddMember(_ context.Context, projectID string, member models.Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.Projects[projectID]
	if !ok {
		return repositories.ErrNotFound
	}
	if p.MemberRoleOf(member.UserID) != "" {
		return repositories.ErrDuplicate
	}
	if member.AddedAt.IsZero() {
		member.AddedAt = time.Now().UTC()
	}
	p.Members = append(p.Members, member)
	return nil
}

func (r *ProjectRepo) RemoveMember(_ context.Context, projectID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.Projects[projectID]
	if !ok {
		return repositories.ErrNotFound
	}
	out := p.Members[:0]
	for _, m := range p.Members {
		if m.UserID == userID && m.Role != models.RoleOwner {
			continue
		}
		out = append(out, m)
	}
	p.Members = out
	return nil
}

func (r *ProjectRepo) UpsertCredential(_ context.Context, projectID string, cred models.ProviderCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.Projects[projectID]
	if !ok {
		return repositories.ErrNotFound
	}
	for i := range p.Credentials {
		if strings.EqualFold(p.Credentials[i].Provider, cred.Provider) {
			p.Credentials[i].Active = false
		}
	}
	if cred.AddedAt.IsZero() {
		cred.AddedAt = time.Now().UTC()
	}
	p.Credentials = append(p.Credentials, cred)
	return nil
}

func (r *ProjectRepo) RemoveCredential(_ context.Context, projectID, keyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.Projects[projectID]
	if !ok {
		return repositories.ErrNotFound
	}
	out := p.Credentials[:0]
	for _, c := range p.Credentials {
		if c.KeyID != keyID {
			out = append(out, c)
		}
	}
	p.Credentials = out
	return nil
}

func (r *ProjectRepo) ReplaceCredentialEnvelope(_ context.Context, projectID, keyID, envelope string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.Projects[projectID]
	if !ok {
		return repositories.ErrNotFound
	}
	for i := range p.Credentials {
		if p.Credentials[i].KeyID == keyID {
			p.Credentials[i].Envelope = envelope
			return nil
		}
	}
	return repositories.ErrNotFound
}

func (r *ProjectRepo) UpdateSettings(_ context.Context, projectID string, settings models.ProjectSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.Projects[projectID]
	if !ok {
		return repositories.ErrNotFound
	}
	p.Settings = settings
	return nil
}

func (r *ProjectRepo) IncrementUsage(_ context.Context, projectID string, delta repositories.UsageDelta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.IncrementCalls++
	p, ok := r.Projects[projectID]
	if !ok {
		return repositories.ErrNotFound
	}
	for _, b := range []*models.UsageBucket{&p.Usage.Total, &p.Usage.CurrentMonth, &p.Usage.CurrentDay} {
		b.Requests += delta.Requests
		b.Tokens += delta.Tokens
		b.Cost += delta.Cost
	}
	p.Usage.LastUpdated = time.Now().UTC()
	return nil
}

func (r *ProjectRepo) ResetDay(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.Projects {
		p.Usage.CurrentDay = models.UsageBucket{}
	}
	return nil
}

func (r *ProjectRepo) ResetMonth(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.Projects {
		p.Usage.CurrentMonth = models.UsageBucket{}
	}
	return nil
}

// UsageRepo is an in-memory repositories.UsageRepository.
type UsageRepo struct {
	mu      sync.Mutex
	Records []*models.UsageRecord
}

// NewUsageRepo creates an empty UsageRepo.
func NewUsageRepo() *UsageRepo { return &UsageRepo{} }

func (r *UsageRepo) Insert(_ context.Context, record *models.UsageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	cp := *record
	r.Records = append(r.Records, &cp)
	return nil
}

func (r *UsageRepo) ListByProject(_ context.Context, projectID string, since time.Time, limit int64) ([]*models.UsageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.UsageRecord
	for _, rec := range r.Records {
		if rec.ProjectID == projectID && (since.IsZero() || !rec.Timestamp.Before(since)) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Snapshot returns a copy of the stored records for assertions.
func (r *UsageRepo) Snapshot() []*models.UsageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.UsageRecord, len(r.Records))
	copy(out, r.Records)
	return out
}

// AuditRepo is an in-memory repositories.AuditRepository.
type AuditRepo struct {
	mu      sync.Mutex
	Entries []*models.AuditLog
}

// NewAuditRepo creates an empty AuditRepo.
func NewAuditRepo() *AuditRepo { return &AuditRepo{} }

func (r *AuditRepo) Insert(_ context.Context, entry *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	cp := *entry
	r.Entries = append(r.Entries, &cp)
	return nil
}

func (r *AuditRepo) ListByUser(_ context.Context, userID string, limit int64) ([]*models.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditLog
	for _, e := range r.Entries {
		if e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Snapshot returns a copy of the audit entries for assertions.
func (r *AuditRepo) Snapshot() []*models.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.AuditLog, len(r.Entries))
	copy(out, r.Entries)
	return out
}
