package retrier

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
)

const (
	defaultInitialInterval = 1 * time.Second
	defaultMaxInterval     = 30 * time.Second
	defaultMultiplier      = 2.0
	defaultMaxRetries      = 5
)

// Unlimited disables the retry count limit; pair it with WithTimeout or a context deadline.
const Unlimited = -1

// ErrTimeout is returned when the overall retry budget set by WithTimeout is exhausted.
var ErrTimeout = errors.New("retry timeout exceeded")

// Retrier implements exponential backoff with optional jitter.
type Retrier struct {
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
	maxRetries      int
	jitter          bool
	timeout         time.Duration
	retryIf         func(error) bool
}

// Option defines a function to configure the Retrier.
type Option func(*Retrier)

// WithInitialInterval sets the initial retry interval.
func WithInitialInterval(d time.Duration) Option {
	return func(r *Retrier) {
		r.initialInterval = d
	}
}

// WithMaxInterval sets the maximum retry interval.
func WithMaxInterval(d time.Duration) Option {
	return func(r *Retrier) {
		r.maxInterval = d
	}
}

// WithMaxRetries sets the maximum number of retries. Unlimited removes the limit.
func WithMaxRetries(n int) Option {
	return func(r *Retrier) {
		r.maxRetries = n
	}
}

// WithJitter randomizes every interval between the previous one and the next.
func WithJitter(enabled bool) Option {
	return func(r *Retrier) {
		r.jitter = enabled
	}
}

// WithTimeout bounds the total time spent in Do, including the attempts themselves.
func WithTimeout(d time.Duration) Option {
	return func(r *Retrier) {
		r.timeout = d
	}
}

// WithRetryIf stops retrying as soon as fn reports an error as permanent.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Retrier) {
		r.retryIf = fn
	}
}

// New creates a new Retrier with default values and optional overrides.
func New(opts ...Option) *Retrier {
	r := &Retrier{
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
		multiplier:      defaultMultiplier,
		maxRetries:      defaultMaxRetries,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Do executes the given function with retries.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	parent := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	b := &backoff.Backoff{
		Min:    r.initialInterval,
		Max:    r.maxInterval,
		Factor: r.multiplier,
		Jitter: r.jitter,
	}

	var err error
	for attempt := 0; r.maxRetries < 0 || attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(b.Duration())
			select {
			case <-ctx.Done():
				timer.Stop()
				return r.stopErr(parent, err)
			case <-timer.C:
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return r.stopErr(parent, err)
		}
		if r.retryIf != nil && !r.retryIf(err) {
			return err
		}
	}

	return err
}

// stopErr tells a caller cancellation apart from the retry budget running out.
func (r *Retrier) stopErr(parent context.Context, last error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if last == nil {
		return ErrTimeout
	}
	return errors.Wrapf(ErrTimeout, "last error: %v", last)
}

// DoWithData executes the given function with retries and returns a value.
func DoWithData[T any](r *Retrier, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var e error
		result, e = fn(ctx)
		return e
	})
	return result, err
}
