// Package ratelimit implements the three rate-limiting algorithms named in
// spec.md §4.2 as pure (state, limit, nowMs) -> (decision, nextState)
// functions, plus the in-memory and Redis stores that apply them. The
// in-memory token-bucket fast path reuses golang.org/x/time/rate exactly as
// the teacher's MemoryLimiter does; fixed/sliding window have no library fit
// for their reset-at-boundary semantics, so they are small hand-rolled
// state machines instead.
package ratelimit

import "github.com/aussie-gateway/aussie/internal/domain"

// Algorithm selects which of the three pure functions a store applies.
type Algorithm string

const (
	AlgorithmTokenBucket    Algorithm = "bucket"
	AlgorithmFixedWindow    Algorithm = "fixed_window"
	AlgorithmSlidingWindow  Algorithm = "sliding_window"
)

// fixedWindowState is the fixed-window algorithm state.
type fixedWindowState struct {
	Count         int64
	WindowStartMs int64
}

func fixedWindow(state fixedWindowState, limit domain.EffectiveRateLimit, nowMs int64) (domain.RateLimitDecision, fixedWindowState) {
	windowMs := int64(limit.WindowSeconds) * 1000
	if windowMs <= 0 {
		windowMs = 1000
	}

	windowStart := state.WindowStartMs
	count := state.Count
	if windowStart == 0 || nowMs-windowStart >= windowMs {
		windowStart = nowMs
		count = 0
	}

	resetAt := (windowStart + windowMs) / 1000
	dec := domain.RateLimitDecision{Limit: limit.RequestsPerWindow, ResetAtUnix: resetAt}
	if count < int64(limit.RequestsPerWindow) {
		count++
		dec.Allowed = true
		dec.Remaining = float64(int64(limit.RequestsPerWindow) - count)
		dec.RequestCount = count
	} else {
		dec.Allowed = false
		dec.RequestCount = count
		remainingMs := windowStart + windowMs - nowMs
		if remainingMs < 0 {
			remainingMs = 0
		}
		dec.RetryAfterSeconds = int((remainingMs + 999) / 1000)
	}
	return dec, fixedWindowState{Count: count, WindowStartMs: windowStart}
}

// slidingWindowState is the sliding-window-counter algorithm state: a
// weighted blend of the previous and current fixed windows.
type slidingWindowState struct {
	PreviousCount    int64
	CurrentCount     int64
	CurrentWindowMs  int64
}

func slidingWindow(state slidingWindowState, limit domain.EffectiveRateLimit, nowMs int64) (domain.RateLimitDecision, slidingWindowState) {
	windowMs := int64(limit.WindowSeconds) * 1000
	if windowMs <= 0 {
		windowMs = 1000
	}

	prev, cur, curStart := state.PreviousCount, state.CurrentCount, state.CurrentWindowMs
	if curStart == 0 {
		curStart = nowMs
		prev, cur = 0, 0
	} else if elapsed := nowMs - curStart; elapsed >= windowMs {
		windows := elapsed / windowMs
		if windows == 1 {
			prev = cur
		} else {
			prev = 0
		}
		cur = 0
		curStart += windows * windowMs
	}

	overlap := float64(windowMs-(nowMs-curStart)) / float64(windowMs)
	if overlap < 0 {
		overlap = 0
	}
	weighted := float64(prev)*overlap + float64(cur)

	resetAt := (curStart + windowMs) / 1000
	dec := domain.RateLimitDecision{Limit: limit.RequestsPerWindow, ResetAtUnix: resetAt}
	if weighted < float64(limit.RequestsPerWindow) {
		cur++
		dec.Allowed = true
		dec.Remaining = float64(limit.RequestsPerWindow) - weighted - 1
		dec.RequestCount = int64(weighted) + 1
	} else {
		dec.Allowed = false
		dec.RequestCount = int64(weighted)
		remainingMs := curStart + windowMs - nowMs
		if remainingMs < 0 {
			remainingMs = 0
		}
		dec.RetryAfterSeconds = int((remainingMs + 999) / 1000)
	}
	return dec, slidingWindowState{PreviousCount: prev, CurrentCount: cur, CurrentWindowMs: curStart}
}

