// Package proxy contains the request pipeline's forwarding half: credential
// resolution, the upstream forwarder, and the orchestrating handler that
// composes authentication, validation, admission, forwarding, and
// accounting into one request lifecycle.
package proxy

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ai-guard/ai-guard/internal/auth"
	"github.com/ai-guard/ai-guard/internal/config"
	"github.com/ai-guard/ai-guard/internal/crypto"
	"github.com/ai-guard/ai-guard/internal/db/models"
	"github.com/ai-guard/ai-guard/internal/db/repositories"
	"github.com/ai-guard/ai-guard/internal/providers"
)

// KeySource tells which resolution tier supplied the credential.
type KeySource string

const (
	SourceProject KeySource = "project"
	SourceUser    KeySource = "user"
	SourceSystem  KeySource = "system"
)

// Credential is a resolved, decrypted provider API key.
type Credential struct {
	Key    string
	Source KeySource
	// KeyID is the vault handle; empty for process-default credentials.
	KeyID string
}

var (
	// ErrCredentialUnavailable means no tier produced a credential.
	ErrCredentialUnavailable = errors.New("proxy: no credential available for provider")
	// ErrProviderForbidden means the project's allowlist excludes the provider.
	ErrProviderForbidden = errors.New("proxy: provider not allowed for project")
)

// Resolver chooses and decrypts the provider credential for a request using
// three-tier fallback: explicit project, caller's default project, process
// default.
type Resolver struct {
	projects repositories.ProjectRepository
	vault    *crypto.Vault
	defaults *config.DefaultsConfig
}

// NewResolver creates a Resolver.
func NewResolver(projects repositories.ProjectRepository, vault *crypto.Vault, defaults *config.DefaultsConfig) *Resolver {
	return &Resolver{projects: projects, vault: vault, defaults: defaults}
}

// Resolve picks the credential for the request. project may be nil (no
// explicit project context). Decryption failures fail closed: a project with
// an undecryptable credential does not silently fall through to a broader
// tier.
func (r *Resolver) Resolve(ctx context.Context, principal *auth.Principal, project *models.Project, provider providers.Provider) (*Credential, error) {
	if project != nil {
		if !project.AllowsProvider(string(provider)) {
			return nil, ErrProviderForbidden
		}
		if cred, ok := project.ActiveCredential(string(provider)); ok {
			return r.decrypt(cred, SourceProject)
		}
	}

	// Fall back to the caller's default project when no explicit project
	// carried a credential.
	if principal.User.DefaultProjectID != nil && (project == nil || project.ID != *principal.User.DefaultProjectID) {
		defaultProject, err := r.projects.GetByID(ctx, *principal.User.DefaultProjectID)
		switch {
		case errors.Is(err, repositories.ErrNotFound):
			// The default-project reference is weak and may dangle during
			// deletion; tolerate and continue to the system tier.
			slog.Debug("default project reference dangles",
				"user_id", principal.User.ID, "project_id", *principal.User.DefaultProjectID)
		case err != nil:
			return nil, err
		default:
			if !defaultProject.AllowsProvider(string(provider)) {
				return nil, ErrProviderForbidden
			}
			if cred, ok := defaultProject.ActiveCredential(string(provider)); ok {
				return r.decrypt(cred, SourceUser)
			}
		}
	}

	if key := r.defaults.DefaultKeyFor(string(provider)); key != "" {
		return &Credential{Key: key, Source: SourceSystem}, nil
	}

	return nil, ErrCredentialUnavailable
}

func (r *Resolver) decrypt(cred *models.ProviderCredential, source KeySource) (*Credential, error) {
	sealed, err := r.vault.Decrypt(cred.Envelope)
	if err != nil {
		return nil, err
	}
	return &Credential{Key: sealed.APIKey, Source: source, KeyID: cred.KeyID}, nil
}
