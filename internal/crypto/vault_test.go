package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef" // 32 bytes, used raw

func TestNewVault(t *testing.T) {
	t.Run("empty key rejected", func(t *testing.T) {
		if _, err := NewVault(""); err != ErrEmptyKey {
			t.Errorf("NewVault(\"\") error = %v, want %v", err, ErrEmptyKey)
		}
	})

	t.Run("short key is derived", func(t *testing.T) {
		v, err := NewVault("short-passphrase")
		if err != nil {
			t.Fatalf("NewVault() error: %v", err)
		}
		env, _, err := v.Encrypt("sk-test", nil)
		if err != nil {
			t.Fatalf("Encrypt() error: %v", err)
		}
		// Derivation must be deterministic: a second vault from the same
		// passphrase decrypts the first one's output.
		v2, _ := NewVault("short-passphrase")
		sealed, err := v2.Decrypt(env)
		if err != nil {
			t.Fatalf("Decrypt() under rederived key error: %v", err)
		}
		if sealed.APIKey != "sk-test" {
			t.Errorf("APIKey = %q, want %q", sealed.APIKey, "sk-test")
		}
	})

	t.Run("long key uses first 32 bytes", func(t *testing.T) {
		v1, _ := NewVault(testSecret + "trailing-ignored")
		v2, _ := NewVault(testSecret)
		env, _, _ := v1.Encrypt("sk-test", nil)
		if _, err := v2.Decrypt(env); err != nil {
			t.Errorf("Decrypt() across 32-byte-prefix-equal keys error: %v", err)
		}
	})
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := NewVault(testSecret)
	if err != nil {
		t.Fatalf("NewVault() error: %v", err)
	}

	meta := map[string]string{"provider": "anthropic", "addedBy": "user-1"}
	env, keyID, err := v.Encrypt("sk-ant-secret-key", meta)
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if len(keyID) != 32 {
		t.Errorf("keyID hex length = %d, want 32", len(keyID))
	}

	sealed, err := v.Decrypt(env)
	if err != nil {
		t.Fatalf("Decrypt() error: %v", err)
	}
	if sealed.APIKey != "sk-ant-secret-key" {
		t.Errorf("APIKey = %q", sealed.APIKey)
	}
	if sealed.KeyID != keyID {
		t.Errorf("KeyID = %q, want %q", sealed.KeyID, keyID)
	}
	if sealed.Metadata["provider"] != "anthropic" || sealed.Metadata["addedBy"] != "user-1" {
		t.Errorf("Metadata = %v, want %v", sealed.Metadata, meta)
	}
	if sealed.EncryptedAt.IsZero() || time.Since(sealed.EncryptedAt) > time.Minute {
		t.Errorf("EncryptedAt = %v, not recent", sealed.EncryptedAt)
	}
}

func TestEncryptNonDeterministic(t *testing.T) {
	v, _ := NewVault(testSecret)
	e1, k1, _ := v.Encrypt("same", nil)
	e2, k2, _ := v.Encrypt("same", nil)
	if e1 == e2 {
		t.Error("Encrypt() produced identical envelopes; IV is not random")
	}
	if k1 == k2 {
		t.Error("Encrypt() produced identical key ids")
	}
}

func TestDecryptErrors(t *testing.T) {
	v, _ := NewVault(testSecret)

	tests := []struct {
		name     string
		envelope string
		wantErr  error
	}{
		{"not base64", "!!!not-base64!!!", ErrEnvelopeCorrupted},
		{"too short", base64.StdEncoding.EncodeToString([]byte("tiny")), ErrEnvelopeCorrupted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Decrypt(tt.envelope); err != tt.wantErr {
				t.Errorf("Decrypt(%q) error = %v, want %v", tt.envelope, err, tt.wantErr)
			}
		})
	}

	t.Run("wrong key", func(t *testing.T) {
		env, _, _ := v.Encrypt("secret", nil)
		other, _ := NewVault(strings.Repeat("x", 32))
		if _, err := other.Decrypt(env); err != ErrDecryptionFailed {
			t.Errorf("Decrypt() with wrong key error = %v, want %v", err, ErrDecryptionFailed)
		}
	})

	t.Run("tampered tag", func(t *testing.T) {
		env, _, _ := v.Encrypt("secret", nil)
		raw, _ := base64.StdEncoding.DecodeString(env)
		raw[gcmNonceSize] ^= 0xff // first tag byte
		if _, err := v.Decrypt(base64.StdEncoding.EncodeToString(raw)); err != ErrDecryptionFailed {
			t.Errorf("Decrypt() of tampered envelope error = %v, want %v", err, ErrDecryptionFailed)
		}
	})
}

// TestDecryptLegacy16ByteIV verifies that envelopes written with a 16-byte IV
// still open.
func TestDecryptLegacy16ByteIV(t *testing.T) {
	v, _ := NewVault(testSecret)

	plaintext, _ := json.Marshal(Sealed{APIKey: "sk-legacy", KeyID: "00ff", EncryptedAt: time.Now()})
	block, _ := aes.NewCipher([]byte(testSecret))
	aead, _ := cipher.NewGCMWithNonceSize(block, 16)
	iv := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		t.Fatal(err)
	}
	sealed := aead.Seal(nil, iv, plaintext, nil)
	ct, tag := sealed[:len(sealed)-gcmTagSize], sealed[len(sealed)-gcmTagSize:]

	out := append(append(append([]byte{}, iv...), tag...), ct...)
	got, err := v.Decrypt(base64.StdEncoding.EncodeToString(out))
	if err != nil {
		t.Fatalf("Decrypt() of 16-byte-IV envelope error: %v", err)
	}
	if got.APIKey != "sk-legacy" {
		t.Errorf("APIKey = %q, want %q", got.APIKey, "sk-legacy")
	}
}

func TestRotate(t *testing.T) {
	oldSecret := testSecret
	newSecret := strings.Repeat("n", 32)

	v, _ := NewVault(oldSecret)
	env, keyID, err := v.Encrypt("sk-rotate-me", map[string]string{"env": "prod"})
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}

	rotated, err := Rotate(env, oldSecret, newSecret)
	if err != nil {
		t.Fatalf("Rotate() error: %v", err)
	}

	// Old key must no longer open the rotated envelope.
	if _, err := v.Decrypt(rotated); err != ErrDecryptionFailed {
		t.Errorf("old vault opened rotated envelope, err = %v", err)
	}

	nv, _ := NewVault(newSecret)
	sealed, err := nv.Decrypt(rotated)
	if err != nil {
		t.Fatalf("Decrypt() under new key error: %v", err)
	}
	if sealed.APIKey != "sk-rotate-me" {
		t.Errorf("APIKey = %q, want %q", sealed.APIKey, "sk-rotate-me")
	}
	if sealed.KeyID != keyID {
		t.Errorf("KeyID changed across rotation: %q != %q", sealed.KeyID, keyID)
	}
	if sealed.Metadata["env"] != "prod" {
		t.Errorf("Metadata lost across rotation: %v", sealed.Metadata)
	}

	t.Run("wrong old key", func(t *testing.T) {
		if _, err := Rotate(env, strings.Repeat("z", 32), newSecret); err != ErrDecryptionFailed {
			t.Errorf("Rotate() with wrong old key error = %v, want %v", err, ErrDecryptionFailed)
		}
	})
}
