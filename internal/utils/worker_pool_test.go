package utils

import (
	"context"
	"errors"
	"sync"
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

func TestSerialDispatcherRunsInOrderOneAtATime(t *testing.T) {
	p := NewSerialDispatcher(64, nil)
	defer p.Stop()

	var (
		mu      sync.Mutex
		order   []int
		running int32
		overlap bool
	)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		i := i
		require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
			defer wg.Done()
			if atomic.AddInt32(&running, 1) > 1 {
				overlap = true
			}
			time.Sleep(100 * time.Microsecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			atomic.AddInt32(&running, -1)
			return nil
		}))
	}
	wg.Wait()

	assert.False(t, overlap)
	require.Len(t, order, 50)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestDoReturnsJobResult(t *testing.T) {
	p := NewSerialDispatcher(1, nil)
	defer p.Stop()

	boom := errors.New("boom")
	assert.ErrorIs(t, p.Do(context.Background(), func(ctx context.Context) error { return boom }), boom)
	assert.NoError(t, p.Do(context.Background(), func(ctx context.Context) error { return nil }))
}

func TestPanicDoesNotKillWorker(t *testing.T) {
	p := NewSerialDispatcher(1, nil)
	defer p.Stop()

	err := p.Do(context.Background(), func(ctx context.Context) error { panic("bad event") })
	assert.Error(t, err)
	assert.NoError(t, p.Do(context.Background(), func(ctx context.Context) error { return nil }))
}

func TestCancelledContextSkipsJob(t *testing.T) {
	p := NewSerialDispatcher(1, nil)
	defer p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	err := p.Do(ctx, func(ctx context.Context) error { ran = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
}

func TestSubmitAfterStop(t *testing.T) {
	p := NewSerialDispatcher(1, nil)
	p.Stop()
	p.Stop()

	assert.ErrorIs(t, p.Submit(context.Background(), func(ctx context.Context) error { return nil }), ErrPoolStopped)
	assert.ErrorIs(t, p.Do(context.Background(), func(ctx context.Context) error { return nil }), ErrPoolStopped)
}
