// Package auth provides the gateway's authentication primitives: personal
// access token generation/parsing/verification and scope checking. Two caller
// authentication methods exist — PATs (long-lived, bcrypt-hashed) and external
// identity tokens (verified by the identity sub-package). The request-time
// dispatch between them lives in validator.go.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// PATPrefix is the wire prefix of every gateway token.
	PATPrefix = "pat_"

	// patIDBytes produce the 16-hex-char identifier; patSecretBytes produce
	// the 32-char URL-safe base64 secret.
	patIDBytes     = 8
	patSecretBytes = 24

	// BcryptCost is the cost factor for hashing the full token string.
	BcryptCost = 10
)

// ErrMalformedToken is returned when a token string does not match the
// pat_<16 hex>_<secret> shape.
var ErrMalformedToken = errors.New("auth: malformed personal access token")

// GeneratedPAT is the result of minting a new token. Token is the only copy
// of the raw secret that will ever exist; callers must return it to the user
// exactly once and store only Identifier and Hash.
type GeneratedPAT struct {
	// Token is the full pat_<id>_<secret> string.
	Token string
	// Identifier is the indexed lookup handle, wire prefix included
	// (pat_<16 hex>).
	Identifier string
	// Hash is the bcrypt digest of the full token string.
	Hash string
}

// GeneratePAT mints a new personal access token.
func GeneratePAT() (*GeneratedPAT, error) {
	idBytes := make([]byte, patIDBytes)
	if _, err := rand.Read(idBytes); err != nil {
		return nil, fmt.Errorf("failed to generate token identifier: %w", err)
	}
	secretBytes := make([]byte, patSecretBytes)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, fmt.Errorf("failed to generate token secret: %w", err)
	}

	identifier := PATPrefix + hex.EncodeToString(idBytes)
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	token := identifier + "_" + secret

	// The hash covers the FULL token string, identifier included, so a
	// stored hash can never verify against a secret pasted under a
	// different identifier.
	hash, err := bcrypt.GenerateFromPassword([]byte(token), BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash token: %w", err)
	}

	return &GeneratedPAT{Token: token, Identifier: identifier, Hash: string(hash)}, nil
}

// ParsePAT splits a token string into its identifier and secret.
// Accepted shape: pat_<16 lowercase hex>_<secret>.
func ParsePAT(token string) (identifier, secret string, err error) {
	if !strings.HasPrefix(token, PATPrefix) {
		return "", "", ErrMalformedToken
	}
	rest := strings.TrimPrefix(token, PATPrefix)
	id, sec, ok := strings.Cut(rest, "_")
	if !ok || sec == "" {
		return "", "", ErrMalformedToken
	}
	if len(id) != patIDBytes*2 || !isLowerHex(id) {
		return "", "", ErrMalformedToken
	}
	return PATPrefix + id, sec, nil
}

// FormatPAT reassembles a token string from its parts. Identifier must carry
// the wire prefix; the inverse of ParsePAT.
func FormatPAT(identifier, secret string) string {
	return identifier + "_" + secret
}

// VerifyPAT runs the constant-time slow-hash comparison of the provided full
// token string against a stored hash.
func VerifyPAT(token, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(token)) == nil
}

func isLowerHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// ExtractBearer pulls the credential out of an Authorization header value.
// The "Bearer " prefix is optional on the wire; bare tokens are accepted.
func ExtractBearer(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errors.New("authorization token is empty")
	}
	return token, nil
}
