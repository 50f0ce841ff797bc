// Package identity verifies third-party identity tokens. The gateway treats
// the identity provider as an opaque collaborator: given a bearer string it
// either yields a stable uid (plus optional profile fields) or fails.
//
// Two verifier implementations exist. The OIDC verifier performs discovery
// against the configured issuer and validates signatures via the issuer's
// JWKS (go-oidc handles key rotation). The HS256 verifier is a development
// fallback for environments without a reachable issuer; it validates tokens
// signed with a shared secret. Constructor failure is non-fatal to the
// gateway — it continues serving PAT-only traffic.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ai-guard/ai-guard/internal/config"
)

// ErrVerificationFailed is returned for any token the verifier cannot accept.
var ErrVerificationFailed = errors.New("identity: token verification failed")

// Identity is the verified caller profile.
type Identity struct {
	// UID is the provider-stable subject identifier.
	UID string
	// Email and DisplayName are optional profile fields.
	Email       string
	DisplayName string
}

// Verifier validates an external identity token.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// NewVerifier constructs the verifier selected by configuration: OIDC when an
// issuer URL is set, the HS256 fallback when only a shared secret is set, and
// an error otherwise (callers treat that as PAT-only mode).
func NewVerifier(ctx context.Context, cfg *config.IdentityConfig) (Verifier, error) {
	if cfg.IssuerURL != "" {
		return newOIDCVerifier(ctx, cfg.IssuerURL, cfg.ProjectID)
	}
	if cfg.PrivateKey != "" {
		return &hs256Verifier{secret: []byte(cfg.PrivateKey), audience: cfg.ProjectID}, nil
	}
	return nil, errors.New("identity: no verifier configured")
}

// oidcVerifier validates tokens against a discovered OIDC issuer.
type oidcVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func newOIDCVerifier(ctx context.Context, issuerURL, audience string) (*oidcVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("identity: failed to create OIDC provider: %w", err)
	}

	cfg := &oidc.Config{ClientID: audience}
	if audience == "" {
		cfg.SkipClientIDCheck = true
	}
	return &oidcVerifier{verifier: provider.Verifier(cfg)}, nil
}

func (v *oidcVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return nil, ErrVerificationFailed
	}

	var claims struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, ErrVerificationFailed
	}
	if claims.Sub == "" {
		return nil, ErrVerificationFailed
	}

	return &Identity{UID: claims.Sub, Email: claims.Email, DisplayName: claims.Name}, nil
}

// hs256Verifier validates locally signed development tokens.
type hs256Verifier struct {
	secret   []byte
	audience string
}

func (v *hs256Verifier) Verify(_ context.Context, token string) (*Identity, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return nil, ErrVerificationFailed
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrVerificationFailed
	}

	if v.audience != "" {
		if aud, _ := claims.GetAudience(); len(aud) > 0 {
			found := false
			for _, a := range aud {
				if a == v.audience {
					found = true
					break
				}
			}
			if !found {
				return nil, ErrVerificationFailed
			}
		}
	}

	sub, _ := claims.GetSubject()
	if sub == "" {
		return nil, ErrVerificationFailed
	}

	id := &Identity{UID: sub}
	if email, ok := claims["email"].(string); ok {
		id.Email = email
	}
	if name, ok := claims["name"].(string); ok {
		id.DisplayName = name
	}
	return id, nil
}
