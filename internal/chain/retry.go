package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
)

// RetryPolicy bounds retries of read-only contract calls.
type RetryPolicy struct {
	MaxRetries     int // 0 = single attempt
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
	}
}

// withRetry calls fn until it succeeds, fails permanently, exhausts the
// policy or ctx ends. Backoff doubles per attempt with up to 100% jitter.
func withRetry[T any](ctx context.Context, p RetryPolicy, onRetry func(attempt int, err error), fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	backoff := p.InitialBackoff
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}
	maxBackoff := p.MaxBackoff
	if maxBackoff < backoff {
		maxBackoff = backoff
	}

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff + time.Duration(rand.Int63n(int64(backoff)))
			if onRetry != nil {
				onRetry(attempt, lastErr)
			}
			select {
			case <-ctx.Done():
				return zero, fmt.Errorf("context done while retrying: %w", errors.Join(ctx.Err(), lastErr))
			case <-time.After(wait):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil || !isTransient(err) {
			return zero, err
		}
	}

	return zero, fmt.Errorf("failed after %d retries: %w", p.MaxRetries, lastErr)
}

// isTransient classifies RPC failures worth retrying: per-attempt timeouts,
// network errors, 429 and 5xx responses.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}
	return false
}
