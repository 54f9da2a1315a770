package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func constant(n int, calls *int) SizeFunc {
	return func(ctx context.Context) (int, error) {
		*calls++
		return n, nil
	}
}

func TestWaitUntilEmpty_AlreadyEmpty(t *testing.T) {
	calls := 0
	err := WaitUntilEmpty(context.Background(), constant(0, &calls), time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWaitUntilEmpty_Timeout(t *testing.T) {
	calls := 0
	interval := 10 * time.Millisecond
	timeout := 3 * interval

	start := time.Now()
	err := WaitUntilEmpty(context.Background(), constant(1, &calls), timeout, interval)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, timeout, terr.Timeout)
	assert.Equal(t, "queue took longer than allowed 30ms to empty", err.Error())

	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.GreaterOrEqual(t, calls, 2)
	assert.LessOrEqual(t, calls, 5)
}

func TestWaitUntilEmpty_Drains(t *testing.T) {
	sizes := []int{5, 2, 0}
	calls := 0
	size := func(ctx context.Context) (int, error) {
		n := sizes[calls]
		calls++
		return n, nil
	}

	err := WaitUntilEmpty(context.Background(), size, time.Second, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWaitUntilEmpty_PollError(t *testing.T) {
	boom := errors.New("metrics unavailable")
	err := WaitUntilEmpty(context.Background(), func(ctx context.Context) (int, error) {
		return 0, boom
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestWaitUntilEmpty_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	size := func(context.Context) (int, error) {
		calls++
		cancel()
		return 1, nil
	}

	err := WaitUntilEmpty(ctx, size, time.Minute, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, calls)
}

func TestWaiter_RejectsZeroInterval(t *testing.T) {
	calls := 0
	err := Waiter{Timeout: time.Second}.Wait(context.Background(), constant(1, &calls))
	assert.Error(t, err)
	assert.Zero(t, calls)
}
