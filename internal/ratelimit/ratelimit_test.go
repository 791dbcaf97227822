package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aussie-gateway/aussie/internal/domain"
)

func TestMemoryStoreTokenBucketAllowsUpToBurstThenDenies(t *testing.T) {
	s := NewMemoryStore(AlgorithmTokenBucket, time.Minute, time.Minute)
	defer s.Close()

	limit := domain.EffectiveRateLimit{RequestsPerWindow: 5, WindowSeconds: 60, BurstCapacity: 5}
	now := time.Now().UnixMilli()

	allowed := 0
	for i := 0; i < 6; i++ {
		dec, err := s.CheckAndConsume(context.Background(), "k1", limit, now)
		if err != nil {
			t.Fatal(err)
		}
		if dec.Allowed {
			allowed++
		}
	}
	if allowed != 5 {
		t.Fatalf("expected 5 allowed (burst capacity), got %d", allowed)
	}
}

func TestMemoryStoreFixedWindowResetsAtBoundary(t *testing.T) {
	s := NewMemoryStore(AlgorithmFixedWindow, time.Minute, time.Minute)
	defer s.Close()

	limit := domain.EffectiveRateLimit{RequestsPerWindow: 2, WindowSeconds: 1}
	start := time.Now().UnixMilli()

	for i := 0; i < 2; i++ {
		dec, err := s.CheckAndConsume(context.Background(), "k2", limit, start)
		if err != nil || !dec.Allowed {
			t.Fatalf("expected allowed within window, got %#v err=%v", dec, err)
		}
	}
	dec, err := s.CheckAndConsume(context.Background(), "k2", limit, start)
	if err != nil || dec.Allowed {
		t.Fatalf("expected denied after exhausting window, got %#v", dec)
	}

	// Cross the window boundary: should reset.
	dec, err = s.CheckAndConsume(context.Background(), "k2", limit, start+1100)
	if err != nil || !dec.Allowed {
		t.Fatalf("expected allowed after window reset, got %#v err=%v", dec, err)
	}
}

func TestMemoryStoreSlidingWindowBlendsPreviousWindow(t *testing.T) {
	s := NewMemoryStore(AlgorithmSlidingWindow, time.Minute, time.Minute)
	defer s.Close()

	limit := domain.EffectiveRateLimit{RequestsPerWindow: 4, WindowSeconds: 1}
	start := time.Now().UnixMilli()

	for i := 0; i < 4; i++ {
		if dec, err := s.CheckAndConsume(context.Background(), "k3", limit, start); err != nil || !dec.Allowed {
			t.Fatalf("expected allowed, got %#v err=%v", dec, err)
		}
	}
	// Half a window later no window boundary has been crossed, so the four
	// requests still count in full (weighted = 4) and the fifth is denied.
	dec, err := s.CheckAndConsume(context.Background(), "k3", limit, start+500)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Allowed {
		t.Fatalf("expected denied while the current window is full, got %#v", dec)
	}
	// Half a window into the next window, the previous window's four
	// requests are weighted by the remaining overlap (4 * 0.5 = 2).
	dec, err = s.CheckAndConsume(context.Background(), "k3", limit, start+1500)
	if err != nil || !dec.Allowed {
		t.Fatalf("expected allowed with the previous window blended in, got %#v err=%v", dec, err)
	}
	if dec.RequestCount != 3 {
		t.Fatalf("expected weighted count 2 plus this request, got %d", dec.RequestCount)
	}
}

type erroringStore struct{}

func (erroringStore) CheckAndConsume(ctx context.Context, key string, limit domain.EffectiveRateLimit, nowMs int64) (domain.RateLimitDecision, error) {
	return domain.RateLimitDecision{}, errors.New("boom")
}

func TestFailOpenPermitsOnStoreError(t *testing.T) {
	fo := FailOpen{Store: erroringStore{}}
	dec, err := fo.CheckAndConsume(context.Background(), "k", domain.EffectiveRateLimit{RequestsPerWindow: 1, WindowSeconds: 1}, time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("FailOpen must never return an error, got %v", err)
	}
	if !dec.Allowed {
		t.Fatal("expected FailOpen to permit the request on store error")
	}
}

func TestLockoutGuardLocksAfterMaxFailedAttempts(t *testing.T) {
	repo := NewMemoryFailedAttemptRepository()
	guard := NewLockoutGuard(repo, LockoutConfig{
		MaxFailedAttempts:     3,
		LockoutDuration:       time.Minute,
		FailedAttemptWindow:   time.Hour,
		ProgressiveMultiplier: 1.5,
		MaxLockoutDuration:    24 * time.Hour,
		TrackByIP:             true,
		TrackByIdentifier:     true,
	})

	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		if err := guard.RecordFailure(ctx, "ip:1.2.3.4", "id:abc", now); err != nil {
			t.Fatal(err)
		}
	}

	locked, retryAfter, err := guard.CheckLocked(ctx, "ip:1.2.3.4", "id:abc")
	if err != nil {
		t.Fatal(err)
	}
	if !locked {
		t.Fatal("expected locked after 3 failures with max=3")
	}
	if retryAfter <= 0 {
		t.Fatal("expected a positive retry-after duration")
	}
}

func TestLockoutGuardIPLockoutSurvivesIdentifierSuccess(t *testing.T) {
	repo := NewMemoryFailedAttemptRepository()
	guard := NewLockoutGuard(repo, LockoutConfig{
		MaxFailedAttempts:     2,
		LockoutDuration:       time.Minute,
		FailedAttemptWindow:   time.Hour,
		ProgressiveMultiplier: 1,
		MaxLockoutDuration:    time.Hour,
		TrackByIP:             true,
		TrackByIdentifier:     true,
	})
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 2; i++ {
		if err := guard.RecordFailure(ctx, "ip:9.9.9.9", "id:xyz", now); err != nil {
			t.Fatal(err)
		}
	}

	// A successful authentication clears the identifier only.
	if err := guard.ClearOnSuccess(ctx, "id:xyz"); err != nil {
		t.Fatal(err)
	}

	locked, _, err := guard.CheckLocked(ctx, "ip:9.9.9.9", "id:xyz")
	if err != nil {
		t.Fatal(err)
	}
	if !locked {
		t.Fatal("expected IP lockout to persist independently of identifier clearing")
	}
}

func TestFailedAttemptRepositoryWindowTrimsOldFailures(t *testing.T) {
	repo := NewMemoryFailedAttemptRepository()
	ctx := context.Background()
	base := time.Now()

	if _, err := repo.RecordFailure(ctx, "k", base, time.Minute); err != nil {
		t.Fatal(err)
	}
	count, err := repo.RecordFailure(ctx, "k", base.Add(2*time.Minute), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected the first failure to have aged out of the window, count=%d", count)
	}
}
