package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

func failing() error { return errBackend }
func ok() error      { return nil }

func TestBreakerClosedPassesThrough(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	if err := b.Execute(ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Execute(failing); !errors.Is(err, errBackend) {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	b := NewBreaker(2, time.Minute)

	for range 2 {
		if err := b.Execute(failing); !errors.Is(err, errBackend) {
			t.Fatalf("expected backend error, got %v", err)
		}
	}
	if err := b.Execute(ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b := NewBreaker(2, time.Minute)

	_ = b.Execute(failing)
	_ = b.Execute(ok)
	_ = b.Execute(failing)

	if err := b.Execute(ok); err != nil {
		t.Fatalf("circuit must stay closed, got %v", err)
	}
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	base := time.Now()
	b.now = func() time.Time { return base }

	_ = b.Execute(failing)
	if err := b.Execute(ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	b.now = func() time.Time { return base.Add(time.Minute) }
	if err := b.Execute(ok); err != nil {
		t.Fatalf("half-open probe must pass, got %v", err)
	}
	if err := b.Execute(ok); err != nil {
		t.Fatalf("circuit must close after probe success, got %v", err)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	base := time.Now()
	b.now = func() time.Time { return base }

	_ = b.Execute(failing)
	b.now = func() time.Time { return base.Add(time.Minute) }
	if err := b.Execute(failing); !errors.Is(err, errBackend) {
		t.Fatalf("expected backend error on probe, got %v", err)
	}

	b.now = func() time.Time { return base.Add(time.Minute + time.Second) }
	if err := b.Execute(ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("failed probe must reopen the circuit, got %v", err)
	}
}
