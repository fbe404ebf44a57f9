package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 3, ResetTimeout: time.Hour})

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: got %v, want errBoom", i, err)
		}
	}
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("got %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Fatal("fn must not run while the breaker is open")
	}
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 3, ResetTimeout: time.Hour})

	cb.Execute(func() error { return errBoom })
	cb.Execute(func() error { return errBoom })
	cb.Execute(func() error { return nil })
	cb.Execute(func() error { return errBoom })
	cb.Execute(func() error { return errBoom })

	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed (success should reset the streak)", got)
	}
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  2,
	})

	cb.Execute(func() error { return errBoom })
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	time.Sleep(20 * time.Millisecond)
	if got := cb.State(); got != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after reset timeout", got)
	}

	// Two successful probes close the breaker.
	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed after successful probes", got)
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
	})

	cb.Execute(func() error { return errBoom })
	time.Sleep(20 * time.Millisecond)

	cb.Execute(func() error { return errBoom })
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %v, want open after half-open failure", got)
	}
}

func TestBreakerSetIsolatesKeys(t *testing.T) {
	bs := NewBreakerSet(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})

	bs.Get("https://a.example.com").Execute(func() error { return errBoom })

	if got := bs.Get("https://a.example.com").State(); got != StateOpen {
		t.Fatalf("a: state = %v, want open", got)
	}
	if got := bs.Get("https://b.example.com").State(); got != StateClosed {
		t.Fatalf("b: state = %v, want closed (breakers must be independent)", got)
	}
	if bs.Get("https://a.example.com") != bs.Get("https://a.example.com") {
		t.Fatal("Get must return the same breaker for the same key")
	}
}
