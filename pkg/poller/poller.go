// Package poller runs a task repeatedly until its result is terminal, a timeout elapses, or it is stopped.
package poller

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
)

const (
	DefaultInterval = 3 * time.Second
	DefaultTimeout  = 5 * time.Minute
	MaxBackoff      = 10 * time.Second

	backoffFactor = 1.5
)

var (
	ErrStopped = errors.New("poller stopped")
	ErrTimeout = errors.New("poller timed out")
	ErrReused  = errors.New("poller already started")

	errNotTerminal = errors.New("result not terminal")
)

// Strategy selects how the delay between ticks grows.
type Strategy string

const (
	Fixed       Strategy = "fixed"
	Exponential Strategy = "exponential"
)

type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	Strategy Strategy
	Logger   zerolog.Logger
}

type Option func(*Options)

func WithInterval(d time.Duration) Option {
	return func(o *Options) { o.Interval = d }
}

func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

func WithStrategy(s Strategy) Option {
	return func(o *Options) { o.Strategy = s }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Poller is single-use: once started or stopped it cannot be started again.
type Poller[T any] struct {
	opts Options

	mu       sync.Mutex
	started  bool
	stopped  bool
	cancel   context.CancelCauseFunc
	attempts int
}

func New[T any](opts ...Option) *Poller[T] {
	o := Options{
		Interval: DefaultInterval,
		Timeout:  DefaultTimeout,
		Strategy: Fixed,
		Logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return &Poller[T]{opts: o}
}

// Start invokes task immediately and then once per delay until isTerminal accepts a result.
// Task errors are logged and retried. It returns ErrTimeout or ErrStopped when the run ends
// without a terminal result, or the parent context's cause if ctx is cancelled.
func (p *Poller[T]) Start(ctx context.Context, task func(context.Context) (T, error), isTerminal func(T) bool) (T, error) {
	var zero T

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return zero, ErrStopped
	}
	if p.started {
		p.mu.Unlock()
		return zero, ErrReused
	}
	p.started = true
	runCtx, cancel := context.WithCancelCause(ctx)
	p.cancel = cancel
	p.mu.Unlock()
	defer cancel(nil)

	runCtx, cancelTimeout := context.WithTimeoutCause(runCtx, p.opts.Timeout, ErrTimeout)
	defer cancelTimeout()

	result, err := retry.DoWithData(
		func() (T, error) {
			res, err := task(runCtx)
			if err != nil {
				p.opts.Logger.Warn().Err(err).Msg("Poll task failed, retrying")
				return zero, err
			}
			p.mu.Lock()
			p.attempts++
			p.mu.Unlock()
			if isTerminal(res) {
				return res, nil
			}
			return zero, errNotTerminal
		},
		retry.Context(runCtx),
		retry.Attempts(0),
		retry.DelayType(p.delay),
		retry.LastErrorOnly(true),
	)

	if p.Stopped() {
		return zero, ErrStopped
	}
	if err != nil {
		if cause := context.Cause(runCtx); cause != nil {
			return zero, cause
		}
		return zero, err
	}
	return result, nil
}

// Stop cancels the run and any pending delay. It is safe to call repeatedly.
func (p *Poller[T]) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	if p.cancel != nil {
		p.cancel(ErrStopped)
	}
}

func (p *Poller[T]) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Attempts returns how many task invocations completed without error.
func (p *Poller[T]) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func (p *Poller[T]) delay(_ uint, _ error, _ *retry.Config) time.Duration {
	return NextDelay(p.opts.Strategy, p.opts.Interval, p.Attempts())
}

// NextDelay computes the wait after attempt completed ticks.
// Exponential delay is min(interval * 1.5^attempt, MaxBackoff).
func NextDelay(strategy Strategy, interval time.Duration, attempt int) time.Duration {
	if strategy != Exponential {
		return interval
	}
	d := float64(interval) * math.Pow(backoffFactor, float64(attempt))
	if d > float64(MaxBackoff) {
		return MaxBackoff
	}
	return time.Duration(d)
}
