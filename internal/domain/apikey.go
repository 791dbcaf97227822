package domain

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"
)

// ApiKey is a long-lived credential; the plaintext key is never stored,
// only its SHA-256 hash (spec.md §3).
type ApiKey struct {
	ID          string
	KeyHash     string // hex SHA-256 of the plaintext
	Name        string
	Permissions []string
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	Revoked     bool
}

// redactedSentinel replaces KeyHash in the redacted view returned to
// admin-facing callers.
const redactedSentinel = "***redacted***"

// IsValid reports whether the key can still authenticate a request.
func (k ApiKey) IsValid(now time.Time) bool {
	if k.Revoked {
		return false
	}
	if k.ExpiresAt != nil && !now.Before(*k.ExpiresAt) {
		return false
	}
	return true
}

// Redacted returns a copy with KeyHash replaced by a sentinel, suitable for
// display to operators who must not learn the hash.
func (k ApiKey) Redacted() ApiKey {
	k.KeyHash = redactedSentinel
	return k
}

// HashKey returns the hex SHA-256 digest of a plaintext API key.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// MatchesPlaintext reports whether plaintext hashes to this key's KeyHash,
// using a constant-time comparison to avoid timing side channels.
func (k ApiKey) MatchesPlaintext(plaintext string) bool {
	got := HashKey(plaintext)
	return subtle.ConstantTimeCompare([]byte(got), []byte(k.KeyHash)) == 1
}

// ApiKeyRepository is the persistence contract for API keys (spec.md §6).
type ApiKeyRepository interface {
	FindByHash(ctx context.Context, keyHash string) (*ApiKey, error)
	Create(ctx context.Context, key ApiKey) error
	Revoke(ctx context.Context, id string) error
	List(ctx context.Context) ([]ApiKey, error)
}
