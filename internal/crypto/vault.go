// Package crypto provides AES-256-GCM authenticated encryption for provider
// credentials stored at rest inside project documents. Provider API keys are
// far more sensitive than the gateway's own access tokens: a leaked OpenAI or
// Anthropic key spends someone else's money directly. Gateway PATs, by
// contrast, are bcrypt-hashed and only grant access to the gateway itself.
// AES-256-GCM provides both confidentiality and authenticated integrity, so a
// stored credential cannot be silently tampered with even if the database is
// partially compromised.
//
// The envelope is a single base64 string over IV || TAG || CIPHERTEXT. The
// IV is 12 bytes on encryption; 16-byte IVs are accepted on decryption for
// envelopes produced before the nonce size was standardized.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	gcmTagSize   = 16
	gcmNonceSize = 12

	// deriveIterations and deriveSalt are frozen: changing either makes
	// every stored envelope undecryptable without a data migration.
	deriveIterations = 100000
	deriveSalt       = "ai-guard-vault-salt-v1"
)

var (
	// ErrDecryptionFailed is returned when GCM authentication fails,
	// indicating tampering or a wrong master key.
	ErrDecryptionFailed = errors.New("crypto: decryption operation failed")
	// ErrEnvelopeCorrupted is returned when the envelope fails base64
	// decoding or is too short to contain an IV and tag.
	ErrEnvelopeCorrupted = errors.New("crypto: envelope is corrupted or truncated")
	// ErrEmptyKey is returned when the vault is constructed with no key material.
	ErrEmptyKey = errors.New("crypto: master key material must not be empty")
)

// Sealed is the decrypted contents of a credential envelope.
type Sealed struct {
	APIKey      string            `json:"key"`
	KeyID       string            `json:"keyId"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	EncryptedAt time.Time         `json:"encryptedAt"`
}

// Vault encrypts and decrypts provider credentials under a single master key.
// The key is read-only after construction; rotation never mutates a Vault.
type Vault struct {
	masterKey []byte
}

// NewVault creates a vault from configured key material. Material of 32 bytes
// or longer is used raw (first 32 bytes); shorter material is stretched with
// PBKDF2-SHA256 using frozen parameters.
func NewVault(secret string) (*Vault, error) {
	if secret == "" {
		return nil, ErrEmptyKey
	}

	var key []byte
	if len(secret) >= 32 {
		key = []byte(secret)[:32]
	} else {
		key = pbkdf2.Key([]byte(secret), []byte(deriveSalt), deriveIterations, 32, sha256.New)
	}

	keyCopy := make([]byte, 32)
	copy(keyCopy, key)
	return &Vault{masterKey: keyCopy}, nil
}

// Encrypt seals apiKey plus metadata into an envelope and returns the
// envelope together with the generated key id (16 random bytes, hex), the
// stable handle for the credential.
func (v *Vault) Encrypt(apiKey string, metadata map[string]string) (envelope, keyID string, err error) {
	idBytes := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, idBytes); err != nil {
		return "", "", err
	}
	keyID = hex.EncodeToString(idBytes)

	plaintext, err := json.Marshal(Sealed{
		APIKey:      apiKey,
		KeyID:       keyID,
		Metadata:    metadata,
		EncryptedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", "", err
	}

	block, err := aes.NewCipher(v.masterKey)
	if err != nil {
		return "", "", err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", "", err
	}

	iv := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", "", err
	}

	// aead.Seal appends ciphertext||tag; the envelope layout is IV||TAG||CT,
	// so the tag is moved in front of the ciphertext.
	sealed := aead.Seal(nil, iv, plaintext, nil)
	ct, tag := sealed[:len(sealed)-gcmTagSize], sealed[len(sealed)-gcmTagSize:]

	out := make([]byte, 0, len(iv)+len(tag)+len(ct))
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ct...)

	return base64.StdEncoding.EncodeToString(out), keyID, nil
}

// Decrypt opens an envelope and returns its contents. Fails with
// ErrDecryptionFailed on tag mismatch under this vault's master key.
func (v *Vault) Decrypt(envelope string) (*Sealed, error) {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return nil, ErrEnvelopeCorrupted
	}

	block, err := aes.NewCipher(v.masterKey)
	if err != nil {
		return nil, err
	}

	plaintext, err := v.open(block, raw, gcmNonceSize)
	if err != nil {
		// Legacy envelopes used a 16-byte IV.
		if plaintext, err = v.open(block, raw, 16); err != nil {
			return nil, err
		}
	}

	var sealed Sealed
	if err := json.Unmarshal(plaintext, &sealed); err != nil {
		return nil, ErrEnvelopeCorrupted
	}
	return &sealed, nil
}

func (v *Vault) open(block cipher.Block, raw []byte, nonceSize int) ([]byte, error) {
	if len(raw) < nonceSize+gcmTagSize {
		return nil, ErrEnvelopeCorrupted
	}

	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, err
	}

	iv := raw[:nonceSize]
	tag := raw[nonceSize : nonceSize+gcmTagSize]
	ct := raw[nonceSize+gcmTagSize:]

	// Reassemble ciphertext||tag for aead.Open.
	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Rotate re-encrypts an envelope from oldSecret to newSecret and returns the
// new envelope. It is a pure function over its inputs: both vaults are
// constructed locally, so no master key is ever published process-wide and
// concurrent Encrypt/Decrypt callers are unaffected. The key id and metadata
// are preserved; only the outer encryption changes.
func Rotate(envelope, oldSecret, newSecret string) (string, error) {
	oldVault, err := NewVault(oldSecret)
	if err != nil {
		return "", err
	}
	newVault, err := NewVault(newSecret)
	if err != nil {
		return "", err
	}

	sealed, err := oldVault.Decrypt(envelope)
	if err != nil {
		return "", err
	}

	return newVault.encryptSealed(sealed)
}

// encryptSealed re-seals an existing Sealed document, preserving its key id.
func (v *Vault) encryptSealed(s *Sealed) (string, error) {
	plaintext, err := json.Marshal(s)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(v.masterKey)
	if err != nil {
		return "", err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	iv := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	sealed := aead.Seal(nil, iv, plaintext, nil)
	ct, tag := sealed[:len(sealed)-gcmTagSize], sealed[len(sealed)-gcmTagSize:]

	out := make([]byte, 0, len(iv)+len(tag)+len(ct))
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ct...)

	return base64.StdEncoding.EncodeToString(out), nil
}
