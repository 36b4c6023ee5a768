package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zeusync/entitysync/internal/client"
	"github.com/zeusync/entitysync/internal/entity"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

// Mode decides where a retried operation waits.
type Mode string

const (
	// ModeHead waits inline and re-inserts the operation at the queue head.
	ModeHead Mode = "head"
	// ModeDeferred parks the operation and lets later operations drain meanwhile.
	ModeDeferred Mode = "deferred"
)

// ParseMode validates a configured mode. Empty selects ModeHead.
func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case "", ModeHead:
		return ModeHead, nil
	case ModeDeferred:
		return ModeDeferred, nil
	default:
		return "", fmt.Errorf("unknown retry mode %q", raw)
	}
}

// Decision is the outcome of classifying one failure.
type Decision struct {
	Retry  bool
	Delay  time.Duration
	Reason string
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Controller classifies failures and computes linear backoff.
type Controller struct {
	maxRetries int
	baseDelay  time.Duration
	mode       Mode
	retryable  func(error) bool
	sleep      SleepFunc
}

// Option configures a Controller.
type Option func(*Controller)

func WithMaxRetries(n int) Option {
	return func(c *Controller) { c.maxRetries = n }
}

func WithBaseDelay(d time.Duration) Option {
	return func(c *Controller) { c.baseDelay = d }
}

func WithMode(m Mode) Option {
	return func(c *Controller) { c.mode = m }
}

// WithClassifier replaces the retryable predicate.
func WithClassifier(fn func(error) bool) Option {
	return func(c *Controller) { c.retryable = fn }
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(c *Controller) { c.sleep = fn }
}

func New(opts ...Option) *Controller {
	c := &Controller{
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		mode:       ModeHead,
		retryable:  client.IsRetryable,
		sleep:      WaitWithContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) MaxRetries() int          { return c.maxRetries }
func (c *Controller) BaseDelay() time.Duration { return c.baseDelay }
func (c *Controller) Mode() Mode               { return c.mode }

// Delay returns the wait before attempt number retryCount (1-based).
func (c *Controller) Delay(retryCount int) time.Duration {
	if retryCount < 1 {
		return 0
	}
	return c.baseDelay * time.Duration(retryCount)
}

// Decide classifies err for op. It does not mutate op; on a retry the caller
// increments RetryCount and waits Delay.
func (c *Controller) Decide(op *entity.Operation, err error) Decision {
	switch {
	case err == nil:
		return Decision{Reason: "succeeded"}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Decision{Reason: "cancelled"}
	case !c.retryable(err):
		return Decision{Reason: "not retryable"}
	case !op.RetryOnFailure:
		return Decision{Reason: "retry disabled"}
	case op.RetryCount >= c.maxRetries:
		return Decision{Reason: "retries exhausted"}
	default:
		return Decision{Retry: true, Delay: c.Delay(op.RetryCount + 1), Reason: "retryable"}
	}
}

// Wait sleeps for d using the configured sleep function.
func (c *Controller) Wait(ctx context.Context, d time.Duration) error {
	return c.sleep(ctx, d)
}

// WaitWithContext blocks for delay or until ctx is done.
func WaitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
