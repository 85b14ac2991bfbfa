package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond}
}

func TestDo_AlwaysFails_ExactAttemptsAndOriginalError(t *testing.T) {
	orig := errors.New("connection refused")
	calls := 0

	_, err := Do(context.Background(), fastPolicy(3), zap.NewNop(), "test", func(context.Context) (int, error) {
		calls++
		return 0, orig
	})

	if calls != 3 {
		t.Fatalf("attempts: got %d want 3", calls)
	}
	if !errors.Is(err, ErrUpstreamChain) {
		t.Errorf("expected ErrUpstreamChain, got %v", err)
	}
	if !errors.Is(err, orig) {
		t.Errorf("original error must stay reachable, got %v", err)
	}
	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.Attempts != 3 || ue.Op != "test" {
		t.Errorf("unexpected UpstreamError: %+v", ue)
	}
}

func TestDo_FailsTwiceThenSucceeds(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastPolicy(3), zap.NewNop(), "test", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("i/o timeout")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("value: got %q want ok", got)
	}
	if calls != 3 {
		t.Errorf("attempts: got %d want 3", calls)
	}
}

func TestDo_SingleAttemptPolicy_NoRetry(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(0), zap.NewNop(), "test", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("boom")
	})
	if err == nil || calls != 1 {
		t.Fatalf("got calls=%d err=%v, want 1 call and an error", calls, err)
	}
}

func TestDo_CancelledMidBackoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	calls := 0
	start := time.Now()
	_, err := Do(ctx, p, zap.NewNop(), "test", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("dial tcp: connection refused")
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if errors.Is(err, ErrUpstreamChain) {
		t.Error("context errors must not be reported as upstream chain errors")
	}
	if calls != 1 {
		t.Errorf("attempts: got %d want 1 (no retry after cancel)", calls)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("backoff not interrupted: took %s", elapsed)
	}
}

func TestDo_AlreadyCancelled_NoRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Do(ctx, fastPolicy(3), zap.NewNop(), "test", func(ctx context.Context) (int, error) {
		calls++
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("attempts: got %d want 1", calls)
	}
}

func TestBackoff_ExponentialWithBoundedJitter(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second}
	for attempt, want := range map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second} {
		if got := p.Backoff(attempt); got != want {
			t.Errorf("Backoff(%d) = %s, want %s", attempt, got, want)
		}
	}

	p.Jitter = 200 * time.Millisecond
	for i := 0; i < 100; i++ {
		got := p.Backoff(2)
		if got < 2*time.Second || got >= 2*time.Second+200*time.Millisecond {
			t.Fatalf("Backoff(2) with jitter out of range: %s", got)
		}
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.MaxAttempts != 3 || p.BaseDelay != time.Second || p.Jitter != 200*time.Millisecond {
		t.Errorf("unexpected default policy: %+v", p)
	}
}
