// Package retry runs calls to external services with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"CitySense/internal/domain"
)

// Policy bounds the attempts made against one external service within one task.
type Policy struct {
	MaxAttempts     int           `yaml:"maxAttempts"`
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
	Multiplier      float64       `yaml:"multiplier"`
	AttemptTimeout  time.Duration `yaml:"attemptTimeout"`
}

// DefaultPolicy allows four attempts over roughly fifteen seconds of backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     4,
		InitialInterval: 1 * time.Second,
		MaxInterval:     8 * time.Second,
		Multiplier:      2,
		AttemptTimeout:  30 * time.Second,
	}
}

// Observer is told about every failed attempt that will be retried.
type Observer func(attempt int, err error, wait time.Duration)

// Do calls op until it succeeds, returns a non-transient error, or the attempt budget is spent.
// Each attempt gets its own timeout; an attempt that hits it while ctx is still live counts as
// transient. The last error is returned unchanged so callers can inspect it.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error, observe Observer) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	if p.Multiplier > 0 {
		eb.Multiplier = p.Multiplier
	}
	eb.MaxElapsedTime = 0

	var b backoff.BackOff = backoff.WithMaxRetries(eb, uint64(attempts-1))
	b = backoff.WithContext(b, ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := runAttempt(ctx, p.AttemptTimeout, op)
		if err == nil {
			return nil
		}
		if !domain.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		if observe != nil {
			observe(attempt, err, wait)
		}
	}

	return backoff.RetryNotify(operation, b, notify)
}

func runAttempt(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := op(attemptCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) && !domain.IsTransient(err) {
		return domain.Transient("attempt", err)
	}
	return err
}
