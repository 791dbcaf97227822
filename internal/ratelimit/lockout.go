package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aussie-gateway/aussie/internal/domain"
)

// LockoutConfig is the auth-rate-limiter's policy (spec.md §4.2), distinct
// from — and configured independently of — the generic rate limiter.
type LockoutConfig struct {
	MaxFailedAttempts      int
	LockoutDuration        time.Duration
	FailedAttemptWindow    time.Duration
	ProgressiveMultiplier  float64
	MaxLockoutDuration     time.Duration
	TrackByIP              bool
	TrackByIdentifier      bool
}

// LockoutGuard is the brute-force lockout auth-rate-limiter. Unlike the
// generic RateLimitStore, it is fail-closed: a repository error denies the
// request instead of permitting it, because security trumps availability
// here (spec.md §4.2).
type LockoutGuard struct {
	repo domain.FailedAttemptRepository
	cfg  LockoutConfig
}

func NewLockoutGuard(repo domain.FailedAttemptRepository, cfg LockoutConfig) *LockoutGuard {
	return &LockoutGuard{repo: repo, cfg: cfg}
}

// CheckLocked reports whether either the IP key or the identifier key
// (hashed credential prefix) is currently locked out, and for how much
// longer. A repository error is treated as locked (fail-closed).
func (g *LockoutGuard) CheckLocked(ctx context.Context, ipKey, identifierKey string) (locked bool, retryAfter time.Duration, err error) {
	check := func(key string) (bool, time.Duration, error) {
		if key == "" {
			return false, 0, nil
		}
		count, err := g.repo.GetLockoutCount(ctx, key)
		if err != nil {
			return true, 0, err
		}
		if count == 0 {
			return false, 0, nil
		}
		ttl, err := g.repo.GetLockoutTTL(ctx, key)
		if err != nil {
			return true, 0, err
		}
		return true, ttl, nil
	}

	if g.cfg.TrackByIP {
		if l, ra, e := check(ipKey); e != nil {
			return true, 0, fmt.Errorf("lockout guard: %w", e)
		} else if l {
			locked, retryAfter = true, maxDuration(retryAfter, ra)
		}
	}
	if g.cfg.TrackByIdentifier {
		if l, ra, e := check(identifierKey); e != nil {
			return true, 0, fmt.Errorf("lockout guard: %w", e)
		} else if l {
			locked, retryAfter = true, maxDuration(retryAfter, ra)
		}
	}
	return locked, retryAfter, nil
}

// RecordFailure records a failed authentication attempt against both the IP
// and identifier keys (per configuration), locking out any key that has
// crossed MaxFailedAttempts within FailedAttemptWindow. Lockout duration is
// lockoutDuration × progressiveMultiplier^lockoutCount, clamped to
// maxLockoutDuration.
func (g *LockoutGuard) RecordFailure(ctx context.Context, ipKey, identifierKey string, now time.Time) error {
	record := func(key string) error {
		if key == "" {
			return nil
		}
		count, err := g.repo.RecordFailure(ctx, key, now, g.cfg.FailedAttemptWindow)
		if err != nil {
			return err
		}
		if count < g.cfg.MaxFailedAttempts {
			return nil
		}
		priorLockouts, err := g.repo.GetLockoutCount(ctx, key)
		if err != nil {
			return err
		}
		duration := g.lockoutDuration(priorLockouts)
		if _, err := g.repo.IncrementLockoutCount(ctx, key, duration); err != nil {
			return err
		}
		return nil
	}

	if g.cfg.TrackByIP {
		if err := record(ipKey); err != nil {
			return fmt.Errorf("lockout guard record ip failure: %w", err)
		}
	}
	if g.cfg.TrackByIdentifier {
		if err := record(identifierKey); err != nil {
			return fmt.Errorf("lockout guard record identifier failure: %w", err)
		}
	}
	return nil
}

// ClearOnSuccess resets the identifier key's recorded failures after a
// successful authentication. Per spec.md §4.2, IP lockout is NOT cleared
// here — it is independent and persists until its window elapses.
func (g *LockoutGuard) ClearOnSuccess(ctx context.Context, identifierKey string) error {
	if identifierKey == "" {
		return nil
	}
	if err := g.repo.Clear(ctx, identifierKey); err != nil {
		return fmt.Errorf("lockout guard clear: %w", err)
	}
	return nil
}

func (g *LockoutGuard) lockoutDuration(priorLockouts int) time.Duration {
	mult := g.cfg.ProgressiveMultiplier
	if mult <= 0 {
		mult = 1
	}
	factor := math.Pow(mult, float64(priorLockouts))
	d := time.Duration(float64(g.cfg.LockoutDuration) * factor)
	if g.cfg.MaxLockoutDuration > 0 && d > g.cfg.MaxLockoutDuration {
		d = g.cfg.MaxLockoutDuration
	}
	return d
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
