// Package throttle gates every outbound write behind an in-process token
// bucket with FIFO queueing and exponential-backoff retries for rate-limited
// calls, protecting the downstream CRM API from overload.
package throttle

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/c7lavinder/gunner-backend/pkg/metrics"
)

const (
	// DefaultTick is the default drain loop interval
	DefaultTick = 100 * time.Millisecond

	// DefaultRetryBase is the default base delay for rate-limit backoff
	DefaultRetryBase = time.Second

	// DefaultMaxRetries is the default retry cap for rate-limited calls
	DefaultMaxRetries = 5
)

// Call is an opaque outbound operation. Timeouts on the call itself are the
// wrapped client's responsibility, not the throttle's.
type Call func(ctx context.Context) error

// FailureSink receives calls that exhausted their retries, for offline
// inspection.
type FailureSink interface {
	RecordExhausted(ctx context.Context, callErr error, retries int)
}

// Config holds throttle configuration
type Config struct {
	// RPS is the steady-state token refill rate per second
	RPS float64

	// Burst is the bucket capacity; the bucket starts full
	Burst int

	// Tick is the drain loop interval
	Tick time.Duration

	// RetryBase is the base delay for exponential backoff
	RetryBase time.Duration

	// MaxRetries caps requeues before the original error surfaces
	MaxRetries int
}

// DefaultConfig returns the default throttle configuration
func DefaultConfig() Config {
	return Config{
		RPS:        10,
		Burst:      20,
		Tick:       DefaultTick,
		RetryBase:  DefaultRetryBase,
		MaxRetries: DefaultMaxRetries,
	}
}

type pendingCall struct {
	ctx       context.Context
	fn        Call
	done      chan error
	retries   int
	notBefore time.Time
	lastErr   error
}

// Throttle is a token-bucket rate limiter with a FIFO queue and a background
// drain loop. The queue and token count are the only shared mutable state in
// the outbound path; both mutate as one atomic step per drain tick.
type Throttle struct {
	config Config
	logger ectologger.Logger
	sink   FailureSink

	mu         sync.Mutex
	queue      []*pendingCall
	tokens     float64
	lastRefill time.Time
	stopped    bool

	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	runMu    sync.Mutex
}

// New creates a new throttle. sink may be nil.
func New(config Config, sink FailureSink, logger ectologger.Logger) *Throttle {
	if config.Tick <= 0 {
		config.Tick = DefaultTick
	}
	if config.RetryBase <= 0 {
		config.RetryBase = DefaultRetryBase
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}

	return &Throttle{
		config:     config,
		logger:     logger,
		sink:       sink,
		tokens:     float64(config.Burst),
		lastRefill: time.Now(),
		stopCh:     make(chan struct{}),
		stoppedC:   make(chan struct{}),
	}
}

// Start starts the background drain loop.
func (t *Throttle) Start(ctx context.Context) error {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if t.running {
		return errors.New("throttle already running")
	}
	t.running = true

	go t.drainLoop(ctx)

	t.logger.WithContext(ctx).Infof("Throttle started: rps=%.2f burst=%d tick=%s max_retries=%d",
		t.config.RPS, t.config.Burst, t.config.Tick, t.config.MaxRetries)
	return nil
}

// Stop stops the drain loop and fails all queued calls with
// ErrThrottleStopped.
func (t *Throttle) Stop(ctx context.Context) error {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if !t.running {
		return nil
	}
	t.running = false

	close(t.stopCh)
	select {
	case <-t.stoppedC:
	case <-ctx.Done():
		return ctx.Err()
	}

	t.mu.Lock()
	t.stopped = true
	flushed := t.queue
	t.queue = nil
	t.mu.Unlock()

	for _, call := range flushed {
		call.done <- ErrThrottleStopped
	}
	metrics.ThrottleQueueDepth.Set(0)

	t.logger.WithContext(ctx).Infof("Throttle stopped, flushed %d queued calls", len(flushed))
	return nil
}

// Do enqueues fn and blocks until it has eventually run and finished, or ctx
// is cancelled. The caller's wait is decoupled from the drain tick: a
// cancelled caller abandons the handle, the queued call itself still runs.
func (t *Throttle) Do(ctx context.Context, fn Call) error {
	call := &pendingCall{
		ctx:  ctx,
		fn:   fn,
		done: make(chan error, 1),
	}

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return ErrThrottleStopped
	}
	t.queue = append(t.queue, call)
	depth := len(t.queue)
	t.mu.Unlock()
	metrics.ThrottleQueueDepth.Set(float64(depth))

	select {
	case err := <-call.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepth returns the number of calls waiting to run.
func (t *Throttle) QueueDepth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

func (t *Throttle) drainLoop(ctx context.Context) {
	defer close(t.stoppedC)

	ticker := time.NewTicker(t.config.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.drainOnce(ctx)
		}
	}
}

// drainOnce consumes available tokens and starts queued calls FIFO. The
// refill is computed lazily from elapsed wall clock.
func (t *Throttle) drainOnce(ctx context.Context) {
	now := time.Now()

	t.mu.Lock()
	elapsed := now.Sub(t.lastRefill).Seconds()
	t.tokens = math.Min(float64(t.config.Burst), t.tokens+elapsed*t.config.RPS)
	t.lastRefill = now

	var ready []*pendingCall
	remaining := t.queue[:0]
	for _, call := range t.queue {
		if t.tokens >= 1 && !call.notBefore.After(now) {
			t.tokens--
			ready = append(ready, call)
			continue
		}
		remaining = append(remaining, call)
	}
	t.queue = remaining
	depth := len(t.queue)
	tokens := t.tokens
	t.mu.Unlock()

	metrics.ThrottleQueueDepth.Set(float64(depth))
	metrics.ThrottleTokens.Set(tokens)

	for _, call := range ready {
		go t.run(ctx, call)
	}
}

func (t *Throttle) run(ctx context.Context, call *pendingCall) {
	err := call.fn(call.ctx)
	if err == nil {
		call.done <- nil
		return
	}

	if !IsRateLimit(err) {
		call.done <- err
		return
	}

	if call.retries >= t.config.MaxRetries {
		t.logger.WithContext(call.ctx).WithError(err).Errorf(
			"Outbound call exhausted %d retries, surfacing error", call.retries)
		if t.sink != nil {
			t.sink.RecordExhausted(call.ctx, err, call.retries)
		}
		// Surface the original downstream error, not the retry wrapper.
		var rle *RateLimitError
		if errors.As(err, &rle) && rle.Err != nil {
			call.done <- rle.Err
			return
		}
		call.done <- err
		return
	}

	delay := t.backoffDelay(call.retries, err)
	call.lastErr = err
	call.retries++
	call.notBefore = time.Now().Add(delay)

	metrics.ThrottleRetries.Inc()
	t.logger.WithContext(call.ctx).WithError(err).Warnf(
		"Outbound call rate limited, retry %d/%d in %s", call.retries, t.config.MaxRetries, delay)

	// Stop may have flushed the queue while this call was in flight. Requeueing
	// now would strand the caller, so fail it the same way a flush would.
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		call.done <- ErrThrottleStopped
		return
	}
	t.queue = append(t.queue, call)
	t.mu.Unlock()
}

// IsRunning returns whether the drain loop is running.
func (t *Throttle) IsRunning() bool {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	return t.running
}

// backoffDelay computes base * 2^retry with 0.8-1.2 jitter, honoring a
// downstream Retry-After when it is longer.
func (t *Throttle) backoffDelay(retries int, err error) time.Duration {
	jitter := 0.8 + rand.Float64()*0.4
	delay := time.Duration(float64(t.config.RetryBase) * math.Pow(2, float64(retries)) * jitter)

	var rle *RateLimitError
	if errors.As(err, &rle) && rle.RetryAfter > delay {
		delay = rle.RetryAfter
	}
	return delay
}
