package domain

import (
	"context"
	"time"
)

// Session is a server-owned record of an authenticated browser/client
// session (spec.md §3). All mutation goes through session.Manager; this
// struct itself carries no behavior that mutates shared state.
type Session struct {
	ID             string
	UserID         string
	Issuer         string
	Claims         map[string]any
	Permissions    []string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time
	UserAgent      string
	IPAddress      string
}

// IsValid reports whether the session is still usable: not expired, and not
// idle past idleTimeout.
func (s Session) IsValid(now time.Time, idleTimeout time.Duration) bool {
	if !now.Before(s.ExpiresAt) {
		return false
	}
	if idleTimeout > 0 && now.Sub(s.LastAccessedAt) >= idleTimeout {
		return false
	}
	return true
}

// SessionRepository is the persistence contract for sessions (spec.md §6).
type SessionRepository interface {
	SaveIfAbsent(ctx context.Context, s Session) (bool, error)
	FindByID(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, s Session) (Session, error)
	Delete(ctx context.Context, id string) error
	DeleteByUserID(ctx context.Context, userID string) error
}

// FailedAttemptRepository backs the auth-rate-limiter's (brute-force
// lockout) bookkeeping (spec.md §6). Implementations are TTL-backed: a
// failure recorded via RecordFailure expires after the configured window.
type FailedAttemptRepository interface {
	RecordFailure(ctx context.Context, key string, now time.Time, window time.Duration) (count int, err error)
	// GetLockoutCount reports how many times key has been locked out, or 0
	// if it is not currently locked (a lockout entry expires after its ttl,
	// so the zero value also signals "lockout has elapsed").
	GetLockoutCount(ctx context.Context, key string) (int, error)
	// GetLockoutTTL returns how long the current lockout has left, or zero
	// if key is not currently locked out.
	GetLockoutTTL(ctx context.Context, key string) (time.Duration, error)
	// IncrementLockoutCount bumps and returns the lockout counter, setting
	// its TTL to ttl so the lockout itself expires without separate
	// bookkeeping.
	IncrementLockoutCount(ctx context.Context, key string, ttl time.Duration) (int, error)
	Clear(ctx context.Context, key string) error
}
