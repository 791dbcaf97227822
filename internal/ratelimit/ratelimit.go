package ratelimit

import (
	"context"
	"log/slog"

	"github.com/aussie-gateway/aussie/internal/domain"
)

// Closer is implemented by stores that own a background goroutine or
// connection that must be released at shutdown.
type Closer interface {
	Close() error
}

// FailOpen wraps a domain.RateLimitStore so that a store error (timeout,
// connection refused) permits the request instead of denying it — the
// generic rate limiter is best-effort availability protection, per
// spec.md §4.2, unlike the auth-rate-limiter's fail-closed LockoutGuard.
type FailOpen struct {
	Store  domain.RateLimitStore
	Logger *slog.Logger
}

func (f FailOpen) CheckAndConsume(ctx context.Context, canonicalKey string, limit domain.EffectiveRateLimit, nowMs int64) (domain.RateLimitDecision, error) {
	dec, err := f.Store.CheckAndConsume(ctx, canonicalKey, limit, nowMs)
	if err != nil {
		if f.Logger != nil {
			f.Logger.Warn("rate limit store unavailable, failing open", "key", canonicalKey, "error", err)
		}
		return domain.RateLimitDecision{Allowed: true, Limit: limit.RequestsPerWindow}, nil
	}
	return dec, nil
}
