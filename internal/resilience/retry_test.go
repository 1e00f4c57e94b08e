package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestRetryStopsAfterFirstSuccess(t *testing.T) {
	p := NewRetryPolicy(3, time.Second, 40*time.Second)
	p.sleep = noSleep

	calls := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryPropagatesLastError(t *testing.T) {
	p := NewRetryPolicy(3, time.Second, 40*time.Second)
	p.sleep = noSleep

	errA := errors.New("first")
	errB := errors.New("last")
	calls := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errA
		}
		return errB
	})

	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if !errors.Is(err, errB) {
		t.Errorf("Execute() error = %v, want the last error %v", err, errB)
	}
}

func TestRetryRecoversMidway(t *testing.T) {
	p := NewRetryPolicy(3, time.Second, 40*time.Second)
	p.sleep = noSleep

	calls := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetryBackoffBounds(t *testing.T) {
	p := NewRetryPolicy(5, time.Second, 40*time.Second)

	for attempt := 1; attempt < 5; attempt++ {
		d := p.Backoff(attempt)
		min := time.Duration(float64(time.Second) * float64(int(1)<<uint(attempt)))
		max := min + time.Second
		if max > p.MaxDelay {
			max = p.MaxDelay
		}
		if min > p.MaxDelay {
			min = p.MaxDelay
		}
		if d < min || d > max {
			t.Errorf("Backoff(%d) = %v, want within [%v, %v]", attempt, d, min, max)
		}
	}
}

func TestRetryContextCancelledDuringBackoff(t *testing.T) {
	p := NewRetryPolicy(3, time.Second, 40*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	p.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	calls := 0
	err := p.Execute(ctx, func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	})

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
}
