package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeStore is an in-memory CounterStore with a switchable failure mode.
type fakeStore struct {
	mu     sync.Mutex
	counts map[string]int64
	fail   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{counts: make(map[string]int64)}
}

func (f *fakeStore) IncrementWindow(ctx context.Context, key string, windowStart int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return 0, errors.New("store down")
	}
	k := key + ":" + time.Unix(windowStart, 0).UTC().String()
	f.counts[k]++
	return f.counts[k], nil
}

func (f *fakeStore) PruneWindowsBefore(ctx context.Context, cutoff int64) error {
	return nil
}

func TestStoreLimiter_DeniesOverLimit(t *testing.T) {
	store := newFakeStore()
	l := NewStoreLimiter(store, Config{Limit: 3, Window: time.Minute})

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		res := l.CheckAndIncrement(ctx, "ip:1.2.3.4")
		if !res.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if res.Current != int64(i) {
			t.Errorf("expected current %d, got %d", i, res.Current)
		}
	}

	res := l.CheckAndIncrement(ctx, "ip:1.2.3.4")
	if res.Allowed {
		t.Error("request 4 of limit 3 should be denied")
	}
	if res.ResetAt.IsZero() {
		t.Error("denied result should carry ResetAt")
	}

	if res := l.CheckAndIncrement(ctx, "ip:5.6.7.8"); !res.Allowed {
		t.Error("separate key should have its own window")
	}
}

func TestStoreLimiter_WindowReset(t *testing.T) {
	store := newFakeStore()
	l := NewStoreLimiter(store, Config{Limit: 1, Window: time.Minute})

	base := time.Date(2025, 3, 10, 12, 0, 30, 0, time.UTC)
	l.now = func() time.Time { return base }

	ctx := context.Background()
	if res := l.CheckAndIncrement(ctx, "k"); !res.Allowed {
		t.Fatal("first request should be allowed")
	}
	if res := l.CheckAndIncrement(ctx, "k"); res.Allowed {
		t.Fatal("second request in window should be denied")
	}

	// Advance past the window boundary: count effectively resets.
	l.now = func() time.Time { return base.Add(time.Minute) }
	res := l.CheckAndIncrement(ctx, "k")
	if !res.Allowed {
		t.Error("request in new window should be allowed")
	}
	if res.Current != 1 {
		t.Errorf("expected count restart at 1, got %d", res.Current)
	}
}

func TestStoreLimiter_FailClosed(t *testing.T) {
	store := newFakeStore()
	store.fail = true
	l := NewStoreLimiter(store, Config{Limit: 5, Window: time.Minute, Policy: FailClosed})

	res := l.CheckAndIncrement(context.Background(), "k")
	if res.Allowed {
		t.Error("fail-closed limiter should deny when store is down")
	}
	if !res.Unavailable {
		t.Error("result should be marked unavailable")
	}
}

func TestStoreLimiter_FailOpen(t *testing.T) {
	store := newFakeStore()
	store.fail = true
	l := NewStoreLimiter(store, Config{Limit: 5, Window: time.Minute, Policy: FailOpen})

	res := l.CheckAndIncrement(context.Background(), "k")
	if !res.Allowed {
		t.Error("fail-open limiter should allow when store is down")
	}
	if !res.Unavailable {
		t.Error("result should be marked unavailable")
	}
}

func TestLocalLimiter_FixedWindow(t *testing.T) {
	l := NewLocalLimiter(Config{Limit: 2, Window: time.Minute})

	base := time.Date(2025, 3, 10, 12, 0, 10, 0, time.UTC)
	l.now = func() time.Time { return base }

	ctx := context.Background()
	if res := l.CheckAndIncrement(ctx, "k"); !res.Allowed {
		t.Fatal("first request should be allowed")
	}
	if res := l.CheckAndIncrement(ctx, "k"); !res.Allowed {
		t.Fatal("second request should be allowed")
	}
	if res := l.CheckAndIncrement(ctx, "k"); res.Allowed {
		t.Error("third request of limit 2 should be denied")
	}

	l.now = func() time.Time { return base.Add(time.Minute) }
	if res := l.CheckAndIncrement(ctx, "k"); !res.Allowed || res.Current != 1 {
		t.Errorf("expected fresh window, got %+v", l.CheckAndIncrement(ctx, "k"))
	}
}

func TestLocalLimiter_ConcurrentCounts(t *testing.T) {
	l := NewLocalLimiter(Config{Limit: 1000, Window: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.CheckAndIncrement(context.Background(), "k")
		}()
	}
	wg.Wait()

	res := l.CheckAndIncrement(context.Background(), "k")
	if res.Current != 101 {
		t.Errorf("expected count 101 after 100 concurrent increments, got %d", res.Current)
	}
}
