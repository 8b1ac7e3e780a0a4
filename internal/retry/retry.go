package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Strategy selects how the delay between attempts evolves
type Strategy string

const (
	Constant    Strategy = "constant"
	Exponential Strategy = "exponential"
)

// Policy is a bounded, strictly sequential retry policy
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Strategy    Strategy
	// MaxDelay caps exponential growth; zero means 8x Delay
	MaxDelay time.Duration
}

// Immediate is a zero-delay policy, handy for tests
func Immediate(attempts int) Policy {
	return Policy{MaxAttempts: attempts}
}

// Operation is one attempt; attempt numbers start at 1
type Operation func(attempt int) error

// NotifyFunc is called after a failed attempt that will be retried
type NotifyFunc func(attempt int, err error, next time.Duration)

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a permanent error, the attempts are
// exhausted or ctx is done. The first attempt always runs and ctx is only
// consulted between attempts. It returns the number of attempts made and the
// last error.
func Do(ctx context.Context, p Policy, op Operation, notify NotifyFunc) (int, error) {
	attempts := 0
	var last error
	err := backoff.RetryNotify(
		func() error {
			attempts++
			last = op(attempts)
			return last
		},
		backoff.WithContext(p.backOff(), ctx),
		func(err error, next time.Duration) {
			if notify != nil {
				notify(attempts, err, next)
			}
		},
	)

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	if err != nil && last != nil && err == ctx.Err() && !errors.Is(last, err) {
		err = fmt.Errorf("stopped after attempt %d: %w: %w", attempts, err, last)
	}
	return attempts, err
}

func (p Policy) backOff() backoff.BackOff {
	limit := p.MaxAttempts
	if limit < 1 {
		limit = 1
	}

	var b backoff.BackOff
	switch {
	case p.Delay <= 0:
		b = &backoff.ZeroBackOff{}
	case p.Strategy == Exponential:
		maxDelay := p.MaxDelay
		if maxDelay <= 0 {
			maxDelay = 8 * p.Delay
		}
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.Delay
		eb.RandomizationFactor = 0
		eb.Multiplier = 2
		eb.MaxInterval = maxDelay
		eb.MaxElapsedTime = 0
		eb.Reset()
		b = eb
	default:
		b = backoff.NewConstantBackOff(p.Delay)
	}

	return backoff.WithMaxRetries(b, uint64(limit-1))
}
