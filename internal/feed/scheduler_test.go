package feed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewSchedulerRejectsBadCron(t *testing.T) {
	_, err := NewScheduler("every five minutes", func(context.Context) error { return nil }, nil)
	assert.Error(t, err)
}

func TestSchedulerNext(t *testing.T) {
	s, err := NewScheduler("*/5 * * * *", func(context.Context) error { return nil }, nil)
	require.NoError(t, err)

	next, err := s.Next(time.Date(2024, 3, 1, 10, 2, 30, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC), next)

	next, err = s.Next(time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 10, 0, 0, time.UTC), next)
}

func TestSchedulerRunsJobUntilCancelled(t *testing.T) {
	var runs atomic.Int32
	s, err := NewScheduler("* * * * *", func(context.Context) error {
		runs.Add(1)
		return errors.New("job errors do not stop the loop")
	}, nil)
	require.NoError(t, err)
	// pin the clock just before a minute boundary so every tick is 5ms away
	s.now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 59, 995_000_000, time.UTC) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
