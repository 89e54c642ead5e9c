package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goodtune/shibasync/internal/metrics"
	"github.com/rs/zerolog"
)

// ErrRateLimited marks an error as a rate-limit signal from a remote service.
var ErrRateLimited = errors.New("rate limited")

// rateLimiter is implemented by typed HTTP errors that know their status.
type rateLimiter interface {
	RateLimited() bool
}

// IsRateLimited reports whether err (or anything it wraps) signals that the
// remote side asked us to slow down.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var rl rateLimiter
	if errors.As(err, &rl) {
		return rl.RateLimited()
	}
	return false
}

// Config controls retry behaviour.
type Config struct {
	MaxRetries int           // retries after the first attempt
	BaseDelay  time.Duration // wait before the first retry; doubles each time
}

// Executor retries operations that fail with a rate-limit signal using
// exponential backoff. Other errors are returned immediately.
type Executor struct {
	config Config
	timer  backoff.Timer
	logger zerolog.Logger
}

// Option customises an Executor.
type Option func(*Executor)

// WithTimer replaces the timer used between attempts.
func WithTimer(t backoff.Timer) Option {
	return func(e *Executor) {
		e.timer = t
	}
}

// NewExecutor creates a new retry executor
func NewExecutor(cfg Config, logger zerolog.Logger, opts ...Option) *Executor {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	e := &Executor{
		config: cfg,
		logger: logger.With().Str("component", "retry").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// newBackOff builds a fresh policy so attempt counters are never shared
// between calls.
func (e *Executor) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = e.config.BaseDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxInterval = time.Duration(math.MaxInt64)
	eb.MaxElapsedTime = 0
	eb.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(e.config.MaxRetries)), ctx)
}

// Do runs op, retrying on rate-limit errors. target names the remote service
// for logs and metrics.
func (e *Executor) Do(ctx context.Context, target string, op func(ctx context.Context) error) error {
	attempt := 0
	operation := func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !IsRateLimited(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		attempt++
		metrics.RateLimitRetries.WithLabelValues(target).Inc()
		e.logger.Warn().
			Err(err).
			Str("target", target).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Rate limited, backing off")
	}

	return backoff.RetryNotifyWithTimer(operation, e.newBackOff(ctx), notify, e.timer)
}

// Value runs op through the executor and returns its result.
func Value[T any](ctx context.Context, e *Executor, target string, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Do(ctx, target, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
