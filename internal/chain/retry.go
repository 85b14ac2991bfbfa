package chain

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/0gfoundation/agent-paygate/internal/metrics"
)

// ErrUpstreamChain marks a chain call that failed on every attempt of its
// retry budget. The last underlying error stays reachable via errors.Is/As.
var ErrUpstreamChain = errors.New("upstream chain error")

// UpstreamError is returned by Do once the retry budget is spent.
type UpstreamError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s failed after %d attempts: %v", ErrUpstreamChain, e.Op, e.Attempts, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstreamChain }

// RetryPolicy is the declarative backoff applied to every chain call.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Jitter      time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Jitter: 200 * time.Millisecond}
}

// Backoff returns the wait after the given failed attempt (1-based):
// BaseDelay * 2^(attempt-1) + uniform[0, Jitter).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay << (attempt - 1)
	if p.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	return d
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Do runs fn until it succeeds or the policy's attempts are used up.
// Cancelling ctx aborts immediately, including mid-backoff, and the context
// error is returned as-is rather than as an ErrUpstreamChain.
func Do[T any](ctx context.Context, p RetryPolicy, log *zap.Logger, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	start := time.Now()
	defer func() {
		metrics.ChainCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	limit := p.attempts()
	var lastErr error
	for attempt := 1; attempt <= limit; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		if attempt == limit {
			break
		}

		delay := p.Backoff(attempt)
		metrics.ChainRetries.WithLabelValues(op).Inc()
		log.Warn("chain call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", limit),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, &UpstreamError{Op: op, Attempts: limit, Err: lastErr}
}
