package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-guard/ai-guard/internal/auth/identity"
	"github.com/ai-guard/ai-guard/internal/db/models"
	"github.com/ai-guard/ai-guard/internal/testutil"
)

// staticVerifier accepts exactly one token string.
type staticVerifier struct {
	token string
	id    identity.Identity
}

func (s *staticVerifier) Verify(_ context.Context, token string) (*identity.Identity, error) {
	if token != s.token {
		return nil, identity.ErrVerificationFailed
	}
	cp := s.id
	return &cp, nil
}

func setupPAT(t *testing.T, users *testutil.UserRepo, tokens *testutil.TokenRepo, status models.UserStatus) (string, *models.PersonalAccessToken) {
	t.Helper()
	gen, err := GeneratePAT()
	require.NoError(t, err)

	user := users.Add(&models.User{Email: "owner@example.com", Status: status})
	pat := tokens.Add(&models.PersonalAccessToken{
		Identifier: gen.Identifier,
		Hash:       gen.Hash,
		UserID:     user.ID,
		Name:       "ci",
		Scopes:     []string{"api:write"},
	})
	return gen.Token, pat
}

func TestValidatePATHappyPath(t *testing.T) {
	users, tokens := testutil.NewUserRepo(), testutil.NewTokenRepo()
	token, pat := setupPAT(t, users, tokens, models.UserActive)

	v := NewValidator(users, tokens, nil)
	principal, err := v.Validate(context.Background(), "Bearer "+token)
	require.NoError(t, err)

	assert.Equal(t, AuthTypePAT, principal.AuthType)
	assert.Equal(t, pat.UserID, principal.User.ID)
	require.NotNil(t, principal.Token)
	assert.Equal(t, pat.ID, principal.Token.ID)
	assert.Equal(t, []string{"api:write"}, principal.Scopes())
}

func TestValidatePATBareToken(t *testing.T) {
	users, tokens := testutil.NewUserRepo(), testutil.NewTokenRepo()
	token, _ := setupPAT(t, users, tokens, models.UserActive)

	v := NewValidator(users, tokens, nil)
	_, err := v.Validate(context.Background(), token)
	assert.NoError(t, err, "Bearer prefix must be optional")
}

func TestValidatePATFailures(t *testing.T) {
	t.Run("wrong secret", func(t *testing.T) {
		users, tokens := testutil.NewUserRepo(), testutil.NewTokenRepo()
		token, _ := setupPAT(t, users, tokens, models.UserActive)

		v := NewValidator(users, tokens, nil)
		_, err := v.Validate(context.Background(), token[:len(token)-4]+"zzzz")
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	})

	t.Run("unknown identifier", func(t *testing.T) {
		users, tokens := testutil.NewUserRepo(), testutil.NewTokenRepo()
		v := NewValidator(users, tokens, nil)
		_, err := v.Validate(context.Background(), "pat_0123456789abcdef_somesecretvalue")
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	})

	t.Run("revoked token", func(t *testing.T) {
		users, tokens := testutil.NewUserRepo(), testutil.NewTokenRepo()
		token, pat := setupPAT(t, users, tokens, models.UserActive)
		require.NoError(t, tokens.Revoke(context.Background(), pat.ID))

		v := NewValidator(users, tokens, nil)
		_, err := v.Validate(context.Background(), token)
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	})

	t.Run("expired token", func(t *testing.T) {
		users, tokens := testutil.NewUserRepo(), testutil.NewTokenRepo()
		token, pat := setupPAT(t, users, tokens, models.UserActive)
		past := time.Now().Add(-time.Hour)
		pat.ExpiresAt = &past

		v := NewValidator(users, tokens, nil)
		_, err := v.Validate(context.Background(), token)
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	})

	t.Run("suspended owner", func(t *testing.T) {
		users, tokens := testutil.NewUserRepo(), testutil.NewTokenRepo()
		token, _ := setupPAT(t, users, tokens, models.UserSuspended)

		v := NewValidator(users, tokens, nil)
		_, err := v.Validate(context.Background(), token)
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	})

	t.Run("missing header", func(t *testing.T) {
		v := NewValidator(testutil.NewUserRepo(), testutil.NewTokenRepo(), nil)
		_, err := v.Validate(context.Background(), "")
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	})
}

func TestValidateExternal(t *testing.T) {
	users, tokens := testutil.NewUserRepo(), testutil.NewTokenRepo()
	verifier := &staticVerifier{
		token: "ext-token",
		id:    identity.Identity{UID: "uid-42", Email: "Ext@Example.com", DisplayName: "Ext User"},
	}

	v := NewValidator(users, tokens, verifier)

	principal, err := v.Validate(context.Background(), "Bearer ext-token")
	require.NoError(t, err)
	assert.Equal(t, AuthTypeExternal, principal.AuthType)
	assert.Nil(t, principal.Token)
	assert.Equal(t, "ext@example.com", principal.User.Email, "email is lowercased")
	require.NotNil(t, principal.User.ExternalID)
	assert.Equal(t, "uid-42", *principal.User.ExternalID)

	// Second login resolves to the same account.
	again, err := v.Validate(context.Background(), "ext-token")
	require.NoError(t, err)
	assert.Equal(t, principal.User.ID, again.User.ID)
	assert.Equal(t, []string{"admin"}, again.Scopes(), "external principals act with owner scopes")
}

func TestValidateExternalSuspended(t *testing.T) {
	users, tokens := testutil.NewUserRepo(), testutil.NewTokenRepo()
	verifier := &staticVerifier{token: "ext-token", id: identity.Identity{UID: "uid-43"}}
	v := NewValidator(users, tokens, verifier)

	principal, err := v.Validate(context.Background(), "ext-token")
	require.NoError(t, err)
	require.NoError(t, users.UpdateStatus(context.Background(), principal.User.ID, models.UserSuspended))

	_, err = v.Validate(context.Background(), "ext-token")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestValidateNoVerifierPATOnly(t *testing.T) {
	// With no identity verifier configured, non-PAT tokens fail cleanly.
	v := NewValidator(testutil.NewUserRepo(), testutil.NewTokenRepo(), nil)
	_, err := v.Validate(context.Background(), "Bearer some-oidc-token")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}
