package command

import (
	"context"
	"errors"
	"math"
	"slices"
	"time"

	"github.com/jeanpaul/pdbfacts/internal/response"
	"github.com/jeanpaul/pdbfacts/internal/transport"
)

// RetryPolicy controls how a Submitter reacts to failed attempts.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// RetryStatuses are non-5xx statuses PuppetDB uses to ask for a retry,
	// such as 429 when the command queue is full.
	RetryStatuses []int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		RetryStatuses: []int{429, 503},
	}
}

// isRetryable reports whether an attempt error is transient: the server
// could not be reached, it failed with 5xx, or it explicitly asked for a retry.
func (p RetryPolicy) isRetryable(err error) bool {
	var cerr *transport.ConnectionError
	if errors.As(err, &cerr) {
		// A cancelled caller is not a server problem.
		return !errors.Is(err, context.Canceled)
	}
	var rerr *response.RemoteError
	if errors.As(err, &rerr) {
		return rerr.Transient() || slices.Contains(p.RetryStatuses, rerr.StatusCode)
	}
	return false
}

// delay grows exponentially from BaseDelay and is capped at MaxDelay.
func (p RetryPolicy) delay(attempt int) time.Duration {
	// Clamp in float space; the product overflows int64 after ~35 doublings.
	f := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if p.MaxDelay > 0 && f > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if f >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(f)
}

func (p RetryPolicy) backoff(ctx context.Context, attempt int) error {
	d := p.delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
