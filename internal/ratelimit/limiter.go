// Package ratelimit throttles outbound AI calls to a provider's
// requests-per-minute quota.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	window = time.Minute
	// slack pads the computed wait so the oldest stamp is really gone
	// when we wake up.
	slack = 500 * time.Millisecond
)

// Limiter admits requests under a sliding-window requests-per-minute
// ceiling. Admit blocks until a slot is free, so callers needing bounded
// latency must pass a context with a deadline.
type Limiter struct {
	mu         sync.Mutex
	limit      int
	stamps     []time.Time
	dailyCount int
	dailyReset time.Time

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New creates a Limiter allowing requestsPerMinute admissions per sliding
// minute. Values below 1 fall back to 1.
func New(requestsPerMinute int) *Limiter {
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}
	return &Limiter{
		limit: requestsPerMinute,
		now:   time.Now,
		sleep: sleepContext,
	}
}

// Admit blocks until issuing another request is within quota, then records
// it. It returns early with the context's error on cancellation.
func (l *Limiter) Admit(ctx context.Context) error {
	l.mu.Lock()
	for {
		now := l.now()
		l.trim(now)
		if len(l.stamps) < l.limit {
			break
		}

		wait := window - now.Sub(l.stamps[0]) + slack
		l.mu.Unlock()
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
		l.mu.Lock()
	}

	now := l.now()
	l.stamps = append(l.stamps, now)

	if l.dailyReset.IsZero() || now.Sub(l.dailyReset) >= 24*time.Hour {
		l.dailyReset = now
		l.dailyCount = 0
	}
	l.dailyCount++

	l.mu.Unlock()
	return nil
}

// DailyCount returns a best-effort count of admissions since the last
// 24h rollover. Not calendar-aligned.
func (l *Limiter) DailyCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dailyCount
}

// InWindow returns how many admissions are currently inside the sliding
// window.
func (l *Limiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trim(l.now())
	return len(l.stamps)
}

// trim drops stamps older than the window. Caller holds the lock.
func (l *Limiter) trim(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
