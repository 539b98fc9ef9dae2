// Package retry runs fallible operations a bounded number of times.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// Default covers the window in which the kernel materialises a freshly
// exported pin's control files (about one second).
var Default = Policy{Attempts: 100, Delay: 10 * time.Millisecond}

// Do runs op until it succeeds, the attempts are used up, or ctx is done.
// The last error is returned wrapped so errors.Is still matches it.
func Do(ctx context.Context, p Policy, op func() error) error {
	_, err := DoValue(ctx, p, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, p Policy, op func() (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	var last error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := sleep(ctx, p.Delay); err != nil {
				return zero, errors.Join(err, last)
			}
		}
		v, err := op()
		if err == nil {
			return v, nil
		}
		last = err
	}
	return zero, fmt.Errorf("gave up after %d attempts: %w", attempts, last)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
