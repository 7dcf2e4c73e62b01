// Package vault encrypts OAuth tokens and other sensitive profile fields
// before they reach the database.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MinSecretLen is the minimum master secret length in bytes. Startup must
// fail if the configured secret is shorter; the vault never operates with a
// weak or absent key.
const MinSecretLen = 32

const nonceSize = 12

// DecryptionError signals that a ciphertext could not be decrypted: tamper,
// wrong key, or malformed input. Callers must treat it as "credentials
// invalid, require reconnect", never fall back to using the raw value.
type DecryptionError struct {
	Reason string
}

func (e *DecryptionError) Error() string {
	return "decryption failed: " + e.Reason
}

// DeriveKey derives a 256-bit key from the master secret for a given
// context label. Distinct labels yield independent keys, so the same master
// secret can safely back both token encryption and state signing.
func DeriveKey(secret, label string) ([]byte, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("secret must be at least %d bytes, got %d", MinSecretLen, len(secret))
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(label))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}

// Vault performs AES-256-GCM encryption with a random 96-bit nonce per
// call, nonce prepended to the ciphertext before base64 encoding.
type Vault struct {
	aead cipher.AEAD
}

// New builds a vault from the configured master secret.
func New(secret string) (*Vault, error) {
	key, err := DeriveKey(secret, "ledgersync/token-vault")
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init GCM: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt encrypts plaintext and returns base64(nonce || ciphertext).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any malformed or tampered input yields a
// *DecryptionError.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", &DecryptionError{Reason: "invalid base64"}
	}
	if len(raw) < nonceSize {
		return "", &DecryptionError{Reason: "ciphertext too short"}
	}
	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plain, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", &DecryptionError{Reason: "authentication failed"}
	}
	return string(plain), nil
}

// EncryptFields encrypts each present field independently. Absent (empty)
// fields are passed through untouched, so any subset is valid.
func (v *Vault) EncryptFields(fields map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	for name, value := range fields {
		if value == "" {
			out[name] = ""
			continue
		}
		enc, err := v.Encrypt(value)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt field %s: %w", name, err)
		}
		out[name] = enc
	}
	return out, nil
}

// DecryptFields is the inverse of EncryptFields. A failure on any present
// field aborts the whole batch.
func (v *Vault) DecryptFields(fields map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	for name, value := range fields {
		if value == "" {
			out[name] = ""
			continue
		}
		plain, err := v.Decrypt(value)
		if err != nil {
			return nil, err
		}
		out[name] = plain
	}
	return out, nil
}
