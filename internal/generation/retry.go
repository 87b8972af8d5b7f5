package generation

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/ajitpratap0/docbreak/internal/metrics"
)

const (
	// DefaultMaxRetries is the retry cap: a call is attempted at most
	// DefaultMaxRetries+1 times.
	DefaultMaxRetries = 3

	// DefaultBackoffBase is the delay before the first retry.
	DefaultBackoffBase = 2 * time.Second
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Retrying wraps a Client with bounded exponential backoff and an optional
// request rate limit. It is safe for concurrent use.
type Retrying struct {
	client      Client
	retry       bool
	maxRetries  int
	backoffBase time.Duration
	limiter     *rate.Limiter
	sleep       Sleeper
	logger      *slog.Logger
}

// RetryOption configures a Retrying generator.
type RetryOption func(*Retrying)

// WithRetry enables or disables retries. Retries are disabled by default.
func WithRetry(enabled bool) RetryOption {
	return func(r *Retrying) { r.retry = enabled }
}

// WithMaxRetries sets the retry cap.
func WithMaxRetries(n int) RetryOption {
	return func(r *Retrying) {
		if n >= 0 {
			r.maxRetries = n
		}
	}
}

// WithBackoffBase sets the first retry delay.
func WithBackoffBase(d time.Duration) RetryOption {
	return func(r *Retrying) {
		if d >= 0 {
			r.backoffBase = d
		}
	}
}

// WithRateLimit limits calls to rps per second. Zero disables limiting.
func WithRateLimit(rps float64) RetryOption {
	return func(r *Retrying) {
		if rps > 0 {
			r.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithLimiter shares an existing limiter, so several Retrying wrappers draw
// from one request budget.
func WithLimiter(l *rate.Limiter) RetryOption {
	return func(r *Retrying) { r.limiter = l }
}

// WithSleeper replaces the backoff sleep, mainly for tests.
func WithSleeper(s Sleeper) RetryOption {
	return func(r *Retrying) {
		if s != nil {
			r.sleep = s
		}
	}
}

// NewRetrying wraps client.
func NewRetrying(client Client, logger *slog.Logger, opts ...RetryOption) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Retrying{
		client:      client,
		maxRetries:  DefaultMaxRetries,
		backoffBase: DefaultBackoffBase,
		sleep:       sleepContext,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Generate calls the wrapped client. On a transient failure with retries
// enabled it sleeps backoffBase * 2^(attempt-1) and tries again while the
// attempt count is within the cap. Every failure is returned as *Error.
func (r *Retrying) Generate(ctx context.Context, req Request) (*Response, error) {
	attempts := 1
	for {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, r.fail(attempts, err)
			}
		}

		metrics.Inc(metrics.GenerationCalls)
		resp, err := r.client.Generate(ctx, req)
		if err == nil {
			metrics.InputTokens.Add(resp.InputTokens)
			metrics.OutputTokens.Add(resp.OutputTokens)
			return resp, nil
		}

		if !r.retry || !IsTransient(err) || attempts > r.maxRetries {
			return nil, r.fail(attempts, err)
		}

		delay := r.backoffBase * time.Duration(1<<(attempts-1))
		r.logger.Warn("generation: transient failure, retrying", "attempt", attempts, "delay", delay, "error", err)
		metrics.Inc(metrics.GenerationRetries)
		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			return nil, r.fail(attempts, sleepErr)
		}
		attempts++
	}
}

func (r *Retrying) fail(attempts int, err error) error {
	metrics.Inc(metrics.GenerationFailures)
	return &Error{Attempts: attempts, Retryable: IsTransient(err), Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
