package advert

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// RetryPolicy describes an exponential backoff for transient publisher
// failures.
type RetryPolicy struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Initial:     100 * time.Millisecond,
		Max:         2 * time.Second,
		MaxAttempts: 4,
	}
}

// Delay returns the wait before the given retry (1-based).
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry <= 0 || p.Initial <= 0 {
		return 0
	}

	d := p.Initial
	for i := 1; i < retry; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}

	if p.Max > 0 && d > p.Max {
		return p.Max
	}

	return d
}

// Do runs fn until it succeeds, the attempts are exhausted or ctx is done.
// The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := max(p.MaxAttempts, 1)

	var err error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.Delay(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Wrap(ctx.Err(), err.Error())
			case <-timer.C:
			}
		}

		if err = fn(); err == nil {
			return nil
		}
	}

	return err
}
