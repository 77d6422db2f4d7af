package throttle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type recordingSink struct {
	exhausted int32
	lastErr   error
}

func (s *recordingSink) RecordExhausted(ctx context.Context, callErr error, retries int) {
	atomic.AddInt32(&s.exhausted, 1)
	s.lastErr = callErr
}

func fastConfig() Config {
	return Config{
		RPS:        1000,
		Burst:      100,
		Tick:       2 * time.Millisecond,
		RetryBase:  time.Millisecond,
		MaxRetries: 2,
	}
}

func TestDo_RunsCallAndReturnsNil(t *testing.T) {
	th := New(fastConfig(), nil, testLogger())
	assert.NoError(t, th.Start(context.Background()))
	defer th.Stop(context.Background())

	var ran int32
	err := th.Do(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestDo_NonRateLimitErrorSurfacesWithoutRetry(t *testing.T) {
	th := New(fastConfig(), nil, testLogger())
	assert.NoError(t, th.Start(context.Background()))
	defer th.Stop(context.Background())

	var attempts int32
	wantErr := errors.New("contact not found")
	err := th.Do(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return wantErr
	})

	assert.Equal(t, wantErr, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestDo_BurstCapHoldsExcessCallsInQueue(t *testing.T) {
	cfg := fastConfig()
	cfg.RPS = 0
	cfg.Burst = 2
	th := New(cfg, nil, testLogger())
	assert.NoError(t, th.Start(context.Background()))

	var ran int32
	call := func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for i := 0; i < 3; i++ {
		go func() { _ = th.Do(ctx, call) }()
	}

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&ran) == 2 && th.QueueDepth() == 1
	}, time.Second, 5*time.Millisecond)

	// No refill at RPS 0, so the third call never runs.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&ran))

	assert.NoError(t, th.Stop(context.Background()))
}

func TestDo_RateLimitRetriesThenSurfacesOriginalError(t *testing.T) {
	sink := &recordingSink{}
	cfg := fastConfig()
	cfg.MaxRetries = 2
	th := New(cfg, sink, testLogger())
	assert.NoError(t, th.Start(context.Background()))
	defer th.Stop(context.Background())

	downstream := errors.New("429 too many requests")
	var attempts int32
	err := th.Do(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return &RateLimitError{Err: downstream}
	})

	assert.Equal(t, downstream, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.Equal(t, int32(1), atomic.LoadInt32(&sink.exhausted))
}

func TestDo_RateLimitRecoversBeforeRetryCap(t *testing.T) {
	th := New(fastConfig(), nil, testLogger())
	assert.NoError(t, th.Start(context.Background()))
	defer th.Stop(context.Background())

	var attempts int32
	err := th.Do(context.Background(), func(ctx context.Context) error {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return &RateLimitError{}
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestDo_CallerContextCancellationUnblocks(t *testing.T) {
	cfg := fastConfig()
	cfg.RPS = 0
	cfg.Burst = 1
	th := New(cfg, nil, testLogger())
	assert.NoError(t, th.Start(context.Background()))
	defer th.Stop(context.Background())

	// Consume the only token.
	assert.NoError(t, th.Do(context.Background(), func(ctx context.Context) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- th.Do(ctx, func(ctx context.Context) error { return nil })
	}()

	assert.Eventually(t, func() bool { return th.QueueDepth() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.Equal(t, context.Canceled, err)
	case <-time.After(time.Second):
		t.Fatal("caller never unblocked after cancellation")
	}
}

func TestStop_FlushesQueuedCalls(t *testing.T) {
	cfg := fastConfig()
	cfg.RPS = 0
	cfg.Burst = 1
	th := New(cfg, nil, testLogger())
	assert.NoError(t, th.Start(context.Background()))

	assert.NoError(t, th.Do(context.Background(), func(ctx context.Context) error { return nil }))

	errCh := make(chan error, 1)
	go func() {
		errCh <- th.Do(context.Background(), func(ctx context.Context) error { return nil })
	}()
	assert.Eventually(t, func() bool { return th.QueueDepth() == 1 }, time.Second, 5*time.Millisecond)

	assert.NoError(t, th.Stop(context.Background()))

	select {
	case err := <-errCh:
		assert.Equal(t, ErrThrottleStopped, err)
	case <-time.After(time.Second):
		t.Fatal("queued call was never flushed")
	}
}

func TestStop_RateLimitedRetryInFlightDoesNotStrandCaller(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 1000
	th := New(cfg, nil, testLogger())
	assert.NoError(t, th.Start(context.Background()))

	var attempts int32
	errCh := make(chan error, 1)
	go func() {
		errCh <- th.Do(context.Background(), func(ctx context.Context) error {
			atomic.AddInt32(&attempts, 1)
			return &RateLimitError{}
		})
	}()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&attempts) >= 1
	}, time.Second, time.Millisecond)

	assert.NoError(t, th.Stop(context.Background()))

	select {
	case err := <-errCh:
		assert.Equal(t, ErrThrottleStopped, err)
	case <-time.After(time.Second):
		t.Fatal("retrying call was never released after stop")
	}
}

func TestDo_AfterStopFailsFast(t *testing.T) {
	th := New(fastConfig(), nil, testLogger())
	assert.NoError(t, th.Start(context.Background()))
	assert.True(t, th.IsRunning())
	assert.NoError(t, th.Stop(context.Background()))
	assert.False(t, th.IsRunning())

	err := th.Do(context.Background(), func(ctx context.Context) error { return nil })
	assert.Equal(t, ErrThrottleStopped, err)
}

func TestIsRateLimit(t *testing.T) {
	assert.True(t, IsRateLimit(&RateLimitError{}))
	assert.True(t, IsRateLimit(&RateLimitError{Err: errors.New("x")}))
	assert.False(t, IsRateLimit(errors.New("plain")))
	assert.False(t, IsRateLimit(nil))
}

func TestParseRetryAfter(t *testing.T) {
	d, err := ParseRetryAfter("30")
	assert.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	_, err = ParseRetryAfter("not-a-value")
	assert.Error(t, err)
}
