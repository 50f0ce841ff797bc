package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-guard/ai-guard/internal/config"
)

const testSecret = "hs256-dev-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestNewVerifierSelection(t *testing.T) {
	t.Run("no configuration", func(t *testing.T) {
		_, err := NewVerifier(context.Background(), &config.IdentityConfig{})
		assert.Error(t, err)
	})

	t.Run("hs256 fallback", func(t *testing.T) {
		v, err := NewVerifier(context.Background(), &config.IdentityConfig{PrivateKey: testSecret})
		require.NoError(t, err)
		assert.IsType(t, &hs256Verifier{}, v)
	})
}

func TestHS256Verify(t *testing.T) {
	v := &hs256Verifier{secret: []byte(testSecret)}

	t.Run("valid token", func(t *testing.T) {
		tok := signToken(t, jwt.MapClaims{
			"sub":   "uid-123",
			"email": "alice@example.com",
			"name":  "Alice",
			"exp":   time.Now().Add(time.Hour).Unix(),
		})

		id, err := v.Verify(context.Background(), tok)
		require.NoError(t, err)
		assert.Equal(t, "uid-123", id.UID)
		assert.Equal(t, "alice@example.com", id.Email)
		assert.Equal(t, "Alice", id.DisplayName)
	})

	t.Run("missing subject", func(t *testing.T) {
		tok := signToken(t, jwt.MapClaims{"email": "x@example.com"})
		_, err := v.Verify(context.Background(), tok)
		assert.ErrorIs(t, err, ErrVerificationFailed)
	})

	t.Run("expired token", func(t *testing.T) {
		tok := signToken(t, jwt.MapClaims{
			"sub": "uid-123",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})
		_, err := v.Verify(context.Background(), tok)
		assert.ErrorIs(t, err, ErrVerificationFailed)
	})

	t.Run("wrong secret", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "uid-123"})
		signed, err := tok.SignedString([]byte("some-other-secret"))
		require.NoError(t, err)
		_, err = v.Verify(context.Background(), signed)
		assert.ErrorIs(t, err, ErrVerificationFailed)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := v.Verify(context.Background(), "not-a-jwt")
		assert.ErrorIs(t, err, ErrVerificationFailed)
	})
}

func TestHS256AudienceCheck(t *testing.T) {
	v := &hs256Verifier{secret: []byte(testSecret), audience: "my-project"}

	t.Run("matching audience", func(t *testing.T) {
		tok := signToken(t, jwt.MapClaims{"sub": "u", "aud": "my-project"})
		_, err := v.Verify(context.Background(), tok)
		assert.NoError(t, err)
	})

	t.Run("wrong audience", func(t *testing.T) {
		tok := signToken(t, jwt.MapClaims{"sub": "u", "aud": "other-project"})
		_, err := v.Verify(context.Background(), tok)
		assert.ErrorIs(t, err, ErrVerificationFailed)
	})
}
