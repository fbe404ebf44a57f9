package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiterAdmitsUpToLimit(t *testing.T) {
	l := New(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if got := l.InFlight(); got != 3 {
		t.Fatalf("InFlight = %d, want 3", got)
	}
	if l.TryAcquire() {
		t.Fatal("TryAcquire succeeded past the limit")
	}
}

func TestLimiterBlocksUntilContextDone(t *testing.T) {
	l := New(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want DeadlineExceeded", err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatal("Acquire returned before the context deadline")
	}
}

func TestLimiterSlidingWindowEviction(t *testing.T) {
	l := New(2)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	if !l.TryAcquire() || !l.TryAcquire() {
		t.Fatal("initial acquisitions failed")
	}
	if l.TryAcquire() {
		t.Fatal("third acquisition admitted within the window")
	}

	// 59s later the window is still full; at 61s the slots free up.
	clock = clock.Add(59 * time.Second)
	if l.TryAcquire() {
		t.Fatal("acquisition admitted at 59s")
	}
	clock = clock.Add(2 * time.Second)
	if !l.TryAcquire() {
		t.Fatal("acquisition rejected after the window slid past")
	}
}

func TestNilLimiterIsUnlimited(t *testing.T) {
	var l *Limiter
	for i := 0; i < 1000; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if !l.TryAcquire() {
		t.Fatal("nil limiter must always admit")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Set("openai", 5)

	if got := r.Get("openai").Limit(); got != 5 {
		t.Fatalf("Limit = %d, want 5", got)
	}
	if r.Get("anthropic") != nil {
		t.Fatal("unknown provider must return a nil (unlimited) limiter")
	}

	r.Set("openai", 0)
	if r.Get("openai") != nil {
		t.Fatal("non-positive limit must remove the limiter")
	}
}
