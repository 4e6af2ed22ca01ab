package ratelimit

import (
	"context"
	"testing"
	"time"
)

// fakeClock drives the limiter deterministically: sleeps advance the
// clock instead of blocking.
type fakeClock struct {
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLimiter(limit int) (*Limiter, *fakeClock) {
	clock := newFakeClock()
	l := New(limit)
	l.now = clock.Now
	l.sleep = clock.Sleep
	return l, clock
}

func TestAdmitUnderLimitNeverSleeps(t *testing.T) {
	l, clock := newTestLimiter(5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := l.Admit(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(clock.slept) != 0 {
		t.Errorf("expected no sleeps under the limit, got %d", len(clock.slept))
	}
	if l.InWindow() != 5 {
		t.Errorf("expected 5 stamps in window, got %d", l.InWindow())
	}
}

func TestAdmitOverLimitSleepsUntilOldestExpires(t *testing.T) {
	l, clock := newTestLimiter(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l.Admit(ctx)
		clock.Advance(time.Second)
	}

	// Fourth admission: oldest stamp is 3s old, so the wait should be
	// roughly 57s plus slack.
	if err := l.Admit(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(clock.slept) == 0 {
		t.Fatal("expected a sleep over the limit")
	}
	want := time.Minute - 3*time.Second + slack
	if clock.slept[0] != want {
		t.Errorf("expected sleep of %v, got %v", want, clock.slept[0])
	}
}

func TestAdmitAfterWindowElapsed(t *testing.T) {
	l, clock := newTestLimiter(2)
	ctx := context.Background()

	l.Admit(ctx)
	l.Admit(ctx)
	clock.Advance(61 * time.Second)

	l.Admit(ctx)
	if len(clock.slept) != 0 {
		t.Errorf("expected no sleep after window elapsed, got %d", len(clock.slept))
	}
	if l.InWindow() != 1 {
		t.Errorf("expected 1 stamp in window, got %d", l.InWindow())
	}
}

func TestAdmitRespectsCancellation(t *testing.T) {
	l, _ := newTestLimiter(1)
	l.sleep = func(ctx context.Context, _ time.Duration) error {
		return context.Canceled
	}

	ctx := context.Background()
	l.Admit(ctx)
	if err := l.Admit(ctx); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDailyCountResetsAfter24h(t *testing.T) {
	l, clock := newTestLimiter(100)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l.Admit(ctx)
		clock.Advance(time.Minute)
	}
	if l.DailyCount() != 3 {
		t.Errorf("expected daily count 3, got %d", l.DailyCount())
	}

	clock.Advance(25 * time.Hour)
	l.Admit(ctx)
	if l.DailyCount() != 1 {
		t.Errorf("expected daily count reset to 1, got %d", l.DailyCount())
	}
}

func TestNewClampsLimit(t *testing.T) {
	l := New(0)
	if l.limit != 1 {
		t.Errorf("expected limit clamped to 1, got %d", l.limit)
	}
}
