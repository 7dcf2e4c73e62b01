// Package state issues and verifies HMAC-signed, time-boxed tokens used as
// the OAuth state parameter. A forged or replayed state would let an
// attacker bind their external accounting organisation to a victim's
// session, so verification fails closed on any mismatch or expiry.
package state

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tradiehq/ledgersync/internal/auth/vault"
)

// TTL is how long a signed state remains valid.
const TTL = 10 * time.Minute

var (
	// ErrInvalidSignature is returned for any signature mismatch.
	ErrInvalidSignature = errors.New("invalid state signature: possible CSRF attack")
	// ErrExpired is returned when the embedded timestamp is outside the
	// accepted window (older than TTL, or in the future).
	ErrExpired = errors.New("state token expired")
	// ErrMalformed is returned for tokens that cannot be decoded at all.
	ErrMalformed = errors.New("malformed state token")
)

// Payload is the data carried inside a signed state token.
type Payload struct {
	UserID    string `json:"user_id"`
	Provider  string `json:"provider"`
	Timestamp int64  `json:"ts"`
}

// Signer signs and verifies state payloads with a key derived from the
// shared master secret under its own context label.
type Signer struct {
	key []byte
	now func() time.Time
}

// NewSigner builds a signer from the configured master secret.
func NewSigner(secret string) (*Signer, error) {
	key, err := vault.DeriveKey(secret, "ledgersync/oauth-state")
	if err != nil {
		return nil, err
	}
	return &Signer{key: key, now: time.Now}, nil
}

// Sign serializes the payload, stamps it with the current time if unset,
// and returns base64url(payload_b64 + "." + hmac_hex).
func (s *Signer) Sign(p Payload) (string, error) {
	if p.Timestamp == 0 {
		p.Timestamp = s.now().Unix()
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state payload: %w", err)
	}
	inner := base64.StdEncoding.EncodeToString(raw)
	sig := s.sign(inner)
	return base64.RawURLEncoding.EncodeToString([]byte(inner + "." + sig)), nil
}

// Verify checks the signature and the age of a token, returning the
// embedded payload only if every check passes.
func (s *Signer) Verify(token string) (*Payload, error) {
	outer, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrMalformed
	}
	inner, sig, ok := strings.Cut(string(outer), ".")
	if !ok {
		return nil, ErrMalformed
	}

	expected := s.sign(inner)
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return nil, ErrInvalidSignature
	}

	raw, err := base64.StdEncoding.DecodeString(inner)
	if err != nil {
		return nil, ErrMalformed
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, ErrMalformed
	}

	age := s.now().Unix() - p.Timestamp
	if age < 0 || age > int64(TTL.Seconds()) {
		return nil, ErrExpired
	}

	return &p, nil
}

func (s *Signer) sign(inner string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(inner))
	return hex.EncodeToString(mac.Sum(nil))
}
