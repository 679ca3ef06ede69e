package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("service unavailable")

func TestClosedStateAllowsCalls(t *testing.T) {
	b := NewBreaker("ollama", 3, time.Second)
	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Fatal("expected fn to be called")
	}
	if b.Name() != "ollama" {
		t.Fatalf("unexpected name %q", b.Name())
	}
}

func TestOpensAfterMaxFailures(t *testing.T) {
	b := NewBreaker("a", 3, time.Second)

	for range 3 {
		_ = b.Execute(func() error { return errTest })
	}

	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}
}

func TestTransitionsToHalfOpenAfterTimeout(t *testing.T) {
	now := time.Now()
	b := NewBreaker("a", 2, time.Second)
	b.now = func() time.Time { return now }

	for range 2 {
		_ = b.Execute(func() error { return errTest })
	}

	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	now = now.Add(2 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half_open after timeout, got %s", b.State())
	}

	called := false
	err = b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error in half-open, got %v", err)
	}
	if !called {
		t.Fatal("expected fn to be called in half-open")
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after half-open success, got %s", b.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker("a", 2, time.Second)
	b.now = func() time.Time { return now }

	for range 2 {
		_ = b.Execute(func() error { return errTest })
	}
	now = now.Add(2 * time.Second)

	_ = b.Execute(func() error { return errTest })

	if b.State() != StateOpen {
		t.Fatalf("expected open after half-open failure, got %s", b.State())
	}
	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after reopen, got %v", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("a", 3, time.Second)

	_ = b.Execute(func() error { return errTest })
	_ = b.Execute(func() error { return errTest })
	_ = b.Execute(func() error { return nil })
	_ = b.Execute(func() error { return errTest })
	_ = b.Execute(func() error { return errTest })

	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestCallerCancellationDoesNotTrip(t *testing.T) {
	b := NewBreaker("a", 1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.ExecuteContext(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("cancellation must not open the breaker, got %s", b.State())
	}
}

func TestSetReturnsSameBreakerPerName(t *testing.T) {
	s := NewSet(2, time.Second)
	a1, a2, b := s.For("a"), s.For("a"), s.For("b")
	if a1 != a2 {
		t.Fatal("expected the same breaker for the same name")
	}
	if a1 == b {
		t.Fatal("expected distinct breakers per name")
	}

	for range 2 {
		_ = a1.Execute(func() error { return errTest })
	}
	if b.State() != StateClosed {
		t.Fatal("failures on one candidate must not affect another")
	}
}
