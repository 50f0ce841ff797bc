// validator.go dispatches request credentials between the PAT path and the
// external identity path and produces the authenticated principal.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ai-guard/ai-guard/internal/auth/identity"
	"github.com/ai-guard/ai-guard/internal/db/models"
	"github.com/ai-guard/ai-guard/internal/db/repositories"
	"github.com/ai-guard/ai-guard/internal/safego"
)

// AuthType tells downstream stages which scheme authenticated the caller.
type AuthType string

const (
	AuthTypePAT      AuthType = "pat"
	AuthTypeExternal AuthType = "external"
)

// Principal is the authenticated caller: always a user, plus the PAT used
// when the caller authenticated with one.
type Principal struct {
	User     *models.User
	Token    *models.PersonalAccessToken
	AuthType AuthType
}

// Scopes returns the principal's effective scopes. External identity callers
// act with full owner scopes over their own resources; PAT callers are
// limited to the token's scope set.
func (p *Principal) Scopes() []string {
	if p.Token != nil {
		return p.Token.Scopes
	}
	return []string{string(ScopeAdmin)}
}

// ErrAuthenticationFailed is returned when neither authentication path
// accepts the presented credential.
var ErrAuthenticationFailed = errors.New("auth: authentication failed")

// Validator authenticates inbound bearer credentials.
type Validator struct {
	users    repositories.UserRepository
	tokens   repositories.TokenRepository
	verifier identity.Verifier // nil in PAT-only mode
}

// NewValidator creates a Validator. verifier may be nil; the gateway then
// serves PAT-only traffic.
func NewValidator(users repositories.UserRepository, tokens repositories.TokenRepository, verifier identity.Verifier) *Validator {
	return &Validator{users: users, tokens: tokens, verifier: verifier}
}

// Validate authenticates the Authorization header value. The Bearer prefix
// is optional; tokens with the pat_ prefix take the PAT path, everything
// else the identity path.
func (v *Validator) Validate(ctx context.Context, authHeader string) (*Principal, error) {
	token, err := ExtractBearer(authHeader)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}

	if strings.HasPrefix(token, PATPrefix) {
		return v.validatePAT(ctx, token)
	}
	return v.validateExternal(ctx, token)
}

func (v *Validator) validatePAT(ctx context.Context, token string) (*Principal, error) {
	identifier, _, err := ParsePAT(token)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}

	// Lookup by indexed identifier narrows to one candidate, then the
	// expensive bcrypt comparison runs exactly once. Without the identifier
	// every request would bcrypt-scan the whole collection.
	pat, err := v.tokens.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrAuthenticationFailed
		}
		return nil, err
	}

	if !VerifyPAT(token, pat.Hash) {
		return nil, ErrAuthenticationFailed
	}
	if !pat.Usable(time.Now()) {
		return nil, ErrAuthenticationFailed
	}

	user, err := v.users.GetByID(ctx, pat.UserID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrAuthenticationFailed
		}
		return nil, err
	}
	if !user.IsActive() {
		return nil, ErrAuthenticationFailed
	}

	// Last-used tracking is best-effort and must not add a synchronous DB
	// write to every authenticated request.
	tokenID := pat.ID
	safego.Run("token-last-used", 0, func(bg context.Context) {
		if err := v.tokens.UpdateLastUsed(bg, tokenID, time.Now().UTC()); err != nil {
			slog.Debug("failed to update token last-used", "token_id", tokenID, "error", err)
		}
	})

	return &Principal{User: user, Token: pat, AuthType: AuthTypePAT}, nil
}

func (v *Validator) validateExternal(ctx context.Context, token string) (*Principal, error) {
	if v.verifier == nil {
		return nil, ErrAuthenticationFailed
	}

	id, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}

	email := id.Email
	if email == "" {
		// Identity providers may withhold email; synthesize a stable
		// placeholder so the unique index still holds.
		email = id.UID + "@identity.local"
	}
	name := id.DisplayName
	if name == "" {
		name = email
	}

	user, err := v.users.UpsertExternal(ctx, id.UID, email, name)
	if err != nil {
		return nil, err
	}
	if !user.IsActive() {
		return nil, ErrAuthenticationFailed
	}

	userID := user.ID
	safego.Run("user-last-login", 0, func(bg context.Context) {
		if err := v.users.UpdateLastLogin(bg, userID, time.Now().UTC()); err != nil {
			slog.Debug("failed to update last-login", "user_id", userID, "error", err)
		}
	})

	return &Principal{User: user, AuthType: AuthTypeExternal}, nil
}
