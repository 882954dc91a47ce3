// Package reconnect schedules reconnection attempts with exponential
// backoff and additive jitter. The exponential step itself is computed
// by cenkalti/backoff's ExponentialBackOff (library jitter disabled —
// RandomizationFactor 0 — so the controller applies its own uniform
// additive jitter and the delay bounds stay exact). A sony/gobreaker
// circuit breaker wraps each connect attempt so an endpoint that keeps
// refusing trips open independently of maxAttempts, instead of being
// hammered every backoff interval.
package reconnect

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker/v2"
)

// ErrAttemptsExhausted is reported to OnFailure once maxAttempts is reached.
var ErrAttemptsExhausted = errors.New("reconnect: max attempts exhausted")

// Config governs the retry schedule; zero fields fall back to defaults.
type Config struct {
	Enabled bool
	// Delay is the base delay for attempt 0.
	Delay time.Duration
	// MaxDelay caps the exponential step before jitter is applied.
	MaxDelay time.Duration
	// MaxAttempts is the attempt ceiling; 0 means unbounded.
	MaxAttempts int
	// Factor is the exponential growth multiplier.
	Factor float64
	// Jitter is the jitter fraction applied to the capped delay.
	Jitter float64
}

func (c Config) normalized() Config {
	if c.Delay <= 0 {
		c.Delay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Factor <= 0 {
		c.Factor = 2
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	return c
}

// ConnectFunc performs a single connect attempt. It is the client's
// full connect path, not the adapter directly, so every subsystem
// re-initializes on a successful retry.
type ConnectFunc func(ctx context.Context) error

// Controller drives reconnection attempts against ConnectFunc.
type Controller struct {
	mu      sync.Mutex
	cfg     Config
	attempt int
	timer   *time.Timer
	cancel  context.CancelFunc

	backoff *backoff.ExponentialBackOff
	breaker *gobreaker.CircuitBreaker[any]

	rng *rand.Rand

	onAttempt func(attempt, maxAttempts int, delay time.Duration)
	onSuccess func(attempts int, duration time.Duration)
	onFailure func(attempts int, reason error)
}

// Callbacks bundles the Facade hooks the controller invokes while
// scheduling attempts.
type Callbacks struct {
	// OnAttempt fires before each attempt's delay elapses, mapping to
	// the "reconnecting" event.
	OnAttempt func(attempt, maxAttempts int, delay time.Duration)
	// OnSuccess fires once ConnectFunc succeeds, mapping to "reconnected".
	OnSuccess func(attempts int, duration time.Duration)
	// OnFailure fires once maxAttempts is exhausted, mapping to "reconnect-failed".
	OnFailure func(attempts int, reason error)
}

// New builds a Controller. cfg is normalized with sensible defaults
// for any zero field.
func New(cfg Config, cb Callbacks) *Controller {
	cfg = cfg.normalized()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.Delay
	eb.MaxInterval = cfg.MaxDelay
	eb.Multiplier = cfg.Factor
	eb.RandomizationFactor = 0 // jitter is applied explicitly in delayForAttempt

	st := gobreaker.Settings{
		Name:        "reconnect",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.MaxDelay * 2,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &Controller{
		cfg:       cfg,
		backoff:   eb,
		breaker:   gobreaker.NewCircuitBreaker[any](st),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		onAttempt: orNoopAttempt(cb.OnAttempt),
		onSuccess: orNoopSuccess(cb.OnSuccess),
		onFailure: orNoopFailure(cb.OnFailure),
	}
}

func orNoopAttempt(f func(int, int, time.Duration)) func(int, int, time.Duration) {
	if f != nil {
		return f
	}
	return func(int, int, time.Duration) {}
}
func orNoopSuccess(f func(int, time.Duration)) func(int, time.Duration) {
	if f != nil {
		return f
	}
	return func(int, time.Duration) {}
}
func orNoopFailure(f func(int, error)) func(int, error) {
	if f != nil {
		return f
	}
	return func(int, error) {}
}

// delayForAttempt computes the attempt's delay: the exponential step
// from the backoff primitive, then ± jitter uniformly drawn from
// [-j, j] with j = cappedDelay * jitterFraction, clamped to
// non-negative and never exceeding maxDelay*(1+jitter).
func (c *Controller) delayForAttempt() time.Duration {
	result := c.backoff.NextBackOff()
	if result == backoff.Stop {
		result = c.cfg.MaxDelay
	}
	capped := result
	if capped > c.cfg.MaxDelay {
		capped = c.cfg.MaxDelay
	}

	j := time.Duration(float64(capped) * c.cfg.Jitter)
	if j <= 0 {
		return capped
	}
	offset := time.Duration((c.rng.Float64()*2 - 1) * float64(j))
	delay := capped + offset
	if delay < 0 {
		delay = 0
	}
	max := time.Duration(float64(c.cfg.MaxDelay) * (1 + c.cfg.Jitter))
	if delay > max {
		delay = max
	}
	return delay
}

// Start begins the reconnect loop: it schedules attempts until
// ConnectFunc succeeds, the controller is cancelled, or maxAttempts
// (if nonzero) is exhausted.
func (c *Controller) Start(ctx context.Context, connect ConnectFunc) {
	c.mu.Lock()
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(runCtx, connect)
}

func (c *Controller) run(ctx context.Context, connect ConnectFunc) {
	start := time.Now()
	for {
		c.mu.Lock()
		attempt := c.attempt
		maxAttempts := c.cfg.MaxAttempts
		c.mu.Unlock()

		if maxAttempts > 0 && attempt >= maxAttempts {
			c.onFailure(attempt, ErrAttemptsExhausted)
			return
		}

		delay := c.delayForAttempt()
		c.onAttempt(attempt, maxAttempts, delay)

		c.mu.Lock()
		c.timer = time.NewTimer(delay)
		timer := c.timer
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		_, err := c.breaker.Execute(func() (any, error) {
			return nil, connect(ctx)
		})

		c.mu.Lock()
		c.attempt++
		nextAttempt := c.attempt
		c.mu.Unlock()

		if err == nil {
			c.Reset()
			c.onSuccess(nextAttempt, time.Since(start))
			return
		}

		if ctx.Err() != nil {
			return
		}
	}
}

// Cancel aborts any pending timer without resetting the attempt
// counter; call Reset separately to do that.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	if c.timer != nil {
		c.timer.Stop()
	}
}

// Reset cancels any pending attempt and zeroes the attempt counter and
// backoff state, so the next Start begins again at attempt 0.
func (c *Controller) Reset() {
	c.Cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempt = 0
	c.backoff.Reset()
}

// UpdateConfig cancels any pending attempt and rebuilds the backoff
// and circuit-breaker primitives from cfg. The update suspends the
// controller: the caller must call Start again to resume scheduling
// under the new config.
func (c *Controller) UpdateConfig(cfg Config) {
	c.Cancel()
	cfg = cfg.normalized()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.Delay
	eb.MaxInterval = cfg.MaxDelay
	eb.Multiplier = cfg.Factor
	eb.RandomizationFactor = 0

	st := gobreaker.Settings{
		Name:        "reconnect",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.MaxDelay * 2,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	c.mu.Lock()
	c.cfg = cfg
	c.attempt = 0
	c.backoff = eb
	c.breaker = gobreaker.NewCircuitBreaker[any](st)
	c.mu.Unlock()
}

// Attempt reports the current attempt counter.
func (c *Controller) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}
