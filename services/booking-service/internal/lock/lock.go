// Package lock serializes the check-then-create section of booking creation.
// Locks are keyed per (resource, window start), so different slots of the
// same resource can be booked in parallel, and are TTL-bounded so a crashed
// holder can never block a slot for good.
package lock

import (
	"context"
	"time"
)

const (
	// DefaultTTL must exceed the conflict re-check + persist section by a
	// comfortable margin while keeping a crashed holder's damage short.
	DefaultTTL = 30 * time.Second
)

// Manager is the distributed mutual-exclusion primitive. Acquire has
// set-if-not-exists semantics: at most one caller may hold a key within
// overlapping TTL windows. Release is idempotent and token-checked, so
// releasing an expired or re-acquired lock is a no-op, never an error.
type Manager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// RetryPolicy bounds Acquire retries under contention. Backoff is linear:
// attempt n sleeps n*Backoff before the next try.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: 100 * time.Millisecond}
}

// AcquireWithRetry attempts to take the lock up to policy.Attempts times.
// The sleep func is injectable so tests run without real timers. A store
// error aborts immediately: the caller must fail closed rather than proceed
// unlocked.
func AcquireWithRetry(ctx context.Context, m Manager, key string, ttl time.Duration, policy RetryPolicy, sleep func(time.Duration)) (string, bool, error) {
	if policy.Attempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	if sleep == nil {
		sleep = time.Sleep
	}
	for attempt := 1; ; attempt++ {
		token, ok, err := m.Acquire(ctx, key, ttl)
		if err != nil {
			return "", false, err
		}
		if ok {
			return token, true, nil
		}
		if attempt >= policy.Attempts {
			return "", false, nil
		}
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		sleep(time.Duration(attempt) * policy.Backoff)
	}
}
