package lock

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"
)

// memoryManager is an in-process Manager with the same semantics as the
// Redis one: token-checked release, at most one holder per key.
type memoryManager struct {
	mu     sync.Mutex
	held   map[string]string
	serial int

	acquireErr error
}

func newMemoryManager() *memoryManager {
	return &memoryManager{held: map[string]string{}}
}

func (m *memoryManager) Acquire(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquireErr != nil {
		return "", false, m.acquireErr
	}
	if _, taken := m.held[key]; taken {
		return "", false, nil
	}
	m.serial++
	token := "tok-" + strconv.Itoa(m.serial)
	m.held[key] = token
	return token, true, nil
}

func (m *memoryManager) Release(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] == token {
		delete(m.held, key)
	}
	return nil
}

func TestAcquireWithRetry_FirstTry(t *testing.T) {
	m := newMemoryManager()
	var slept []time.Duration
	token, ok, err := AcquireWithRetry(context.Background(), m, "k", DefaultTTL, DefaultRetryPolicy(), func(d time.Duration) { slept = append(slept, d) })
	if err != nil || !ok {
		t.Fatalf("acquire = (%v, %v), want held", ok, err)
	}
	if token == "" {
		t.Fatal("expected a token")
	}
	if len(slept) != 0 {
		t.Fatalf("no sleeps expected on first-try success, got %v", slept)
	}
}

func TestAcquireWithRetry_LinearBackoffThenGiveUp(t *testing.T) {
	m := newMemoryManager()
	if _, ok, _ := m.Acquire(context.Background(), "k", DefaultTTL); !ok {
		t.Fatal("setup acquire failed")
	}

	var slept []time.Duration
	policy := RetryPolicy{Attempts: 3, Backoff: 100 * time.Millisecond}
	_, ok, err := AcquireWithRetry(context.Background(), m, "k", DefaultTTL, policy, func(d time.Duration) { slept = append(slept, d) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("lock is held elsewhere; acquire must fail")
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(slept) != len(want) {
		t.Fatalf("slept %v, want %v", slept, want)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("sleep %d = %v, want %v", i, slept[i], want[i])
		}
	}
}

func TestAcquireWithRetry_SucceedsAfterContention(t *testing.T) {
	m := newMemoryManager()
	tok, _, _ := m.Acquire(context.Background(), "k", DefaultTTL)

	attempts := 0
	sleep := func(time.Duration) {
		attempts++
		if attempts == 1 {
			_ = m.Release(context.Background(), "k", tok)
		}
	}
	_, ok, err := AcquireWithRetry(context.Background(), m, "k", DefaultTTL, DefaultRetryPolicy(), sleep)
	if err != nil || !ok {
		t.Fatalf("acquire after release = (%v, %v), want held", ok, err)
	}
}

func TestAcquireWithRetry_ErrorAbortsImmediately(t *testing.T) {
	m := newMemoryManager()
	storeDown := errors.New("store down")
	m.acquireErr = storeDown

	calls := 0
	_, ok, err := AcquireWithRetry(context.Background(), m, "k", DefaultTTL, DefaultRetryPolicy(), func(time.Duration) { calls++ })
	if ok {
		t.Fatal("must not report held on store error")
	}
	if !errors.Is(err, storeDown) {
		t.Fatalf("err = %v, want store error", err)
	}
	if calls != 0 {
		t.Fatalf("store errors must not be retried, slept %d times", calls)
	}
}

func TestRelease_TokenChecked(t *testing.T) {
	m := newMemoryManager()
	ctx := context.Background()
	tok, _, _ := m.Acquire(ctx, "k", DefaultTTL)

	// Wrong token: no-op, lock still held.
	if err := m.Release(ctx, "k", "stale-token"); err != nil {
		t.Fatalf("release with wrong token errored: %v", err)
	}
	if _, ok, _ := m.Acquire(ctx, "k", DefaultTTL); ok {
		t.Fatal("lock must still be held after a wrong-token release")
	}

	// Right token releases; a second release is an idempotent no-op.
	if err := m.Release(ctx, "k", tok); err != nil {
		t.Fatalf("release errored: %v", err)
	}
	if err := m.Release(ctx, "k", tok); err != nil {
		t.Fatalf("double release errored: %v", err)
	}
	if _, ok, _ := m.Acquire(ctx, "k", DefaultTTL); !ok {
		t.Fatal("lock must be free after release")
	}
}
