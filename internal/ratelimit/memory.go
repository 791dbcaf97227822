package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aussie-gateway/aussie/internal/domain"
)

// memEntry holds whichever algorithm's state is live for a key: a
// golang.org/x/time/rate limiter for the token-bucket algorithm (kept
// exactly as the teacher's MemoryLimiter built it), or one of the
// hand-rolled fixed/sliding-window state machines.
type memEntry struct {
	bucket   *rate.Limiter
	fixed    fixedWindowState
	sliding  slidingWindowState
	lastSeen time.Time
}

// MemoryStore is an in-process domain.RateLimitStore, generalizing the
// teacher's MemoryLimiter (which only ever ran the token-bucket algorithm
// via golang.org/x/time/rate) to also run the fixed/sliding window
// algorithms the platform config may select instead.
type MemoryStore struct {
	mu        sync.Mutex
	m         map[string]*memEntry
	algorithm Algorithm
	ttl       time.Duration
	cleanup   time.Duration
	stopCh    chan struct{}
}

// NewMemoryStore constructs a store that evicts idle keys after ttl, swept
// every cleanupEvery.
func NewMemoryStore(algorithm Algorithm, ttl, cleanupEvery time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if cleanupEvery <= 0 {
		cleanupEvery = time.Minute
	}
	s := &MemoryStore{
		m:         make(map[string]*memEntry),
		algorithm: algorithm,
		ttl:       ttl,
		cleanup:   cleanupEvery,
		stopCh:    make(chan struct{}),
	}
	go s.gcLoop()
	return s
}

func (s *MemoryStore) gcLoop() {
	t := time.NewTicker(s.cleanup)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.mu.Lock()
			now := time.Now()
			for k, e := range s.m {
				if now.Sub(e.lastSeen) > s.ttl {
					delete(s.m, k)
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

// Close stops the eviction sweep goroutine.
func (s *MemoryStore) Close() error {
	close(s.stopCh)
	return nil
}

func (s *MemoryStore) CheckAndConsume(ctx context.Context, canonicalKey string, limit domain.EffectiveRateLimit, nowMs int64) (domain.RateLimitDecision, error) {
	s.mu.Lock()
	e, ok := s.m[canonicalKey]
	if !ok {
		e = &memEntry{}
		s.m[canonicalKey] = e
	}
	e.lastSeen = time.Now()

	switch s.algorithm {
	case AlgorithmFixedWindow:
		dec, next := fixedWindow(e.fixed, limit, nowMs)
		e.fixed = next
		s.mu.Unlock()
		return dec, nil
	case AlgorithmSlidingWindow:
		dec, next := slidingWindow(e.sliding, limit, nowMs)
		e.sliding = next
		s.mu.Unlock()
		return dec, nil
	default:
		burst := limit.BurstCapacity
		if burst <= 0 {
			burst = limit.RequestsPerWindow
		}
		if e.bucket == nil {
			rps := float64(limit.RequestsPerWindow) / float64(limit.WindowSeconds)
			e.bucket = rate.NewLimiter(rate.Limit(rps), burst)
		}
		lim := e.bucket
		s.mu.Unlock()

		dec := domain.RateLimitDecision{Limit: limit.RequestsPerWindow}
		if lim.Allow() {
			dec.Allowed = true
			dec.Remaining = lim.Tokens()
		} else {
			dec.Allowed = false
			dec.RetryAfterSeconds = 1
		}
		dec.ResetAtUnix = (nowMs + int64(dec.RetryAfterSeconds)*1000) / 1000
		return dec, nil
	}
}
