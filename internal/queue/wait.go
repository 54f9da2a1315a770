package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var ErrTimeout = errors.New("queue drain timed out")

// TimeoutError carries the configured limit so the message can name it.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("queue took longer than allowed %s to empty", e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// SizeFunc reports the current queue depth.
type SizeFunc func(ctx context.Context) (int, error)

// Waiter polls a queue until it drains.
type Waiter struct {
	Timeout      time.Duration
	PollInterval time.Duration
	Logger       *zap.Logger
}

// WaitUntilEmpty polls size every interval until it reports zero. It gives up
// with a *TimeoutError once timeout has elapsed. A failing poll ends the wait
// with that error. ctx may be cancelled to stop early.
func WaitUntilEmpty(ctx context.Context, size SizeFunc, timeout, interval time.Duration) error {
	return Waiter{Timeout: timeout, PollInterval: interval}.Wait(ctx, size)
}

func (w Waiter) Wait(parent context.Context, size SizeFunc) error {
	if w.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", w.PollInterval)
	}
	log := w.Logger
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithTimeout(parent, w.Timeout)
	defer cancel()

	timedOut := func() bool {
		return errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil
	}

	polls := 0
	for {
		n, err := size(ctx)
		polls++
		if err != nil {
			if timedOut() {
				return &TimeoutError{Timeout: w.Timeout}
			}
			return fmt.Errorf("poll queue size: %w", err)
		}
		log.Debug("queue size", zap.Int("size", n), zap.Int("poll", polls))
		if n == 0 {
			return nil
		}

		t := time.NewTimer(w.PollInterval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			if timedOut() {
				return &TimeoutError{Timeout: w.Timeout}
			}
			return ctx.Err()
		}
	}
}
