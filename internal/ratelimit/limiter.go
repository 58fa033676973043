// Package ratelimit implements fixed-window request counting. The store
// backed limiter counts in the shared SQL database, so the limit holds
// across service instances; the local limiter is an in-process fallback
// for single-instance deployments only and does not coordinate between
// instances.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Policy controls what happens when the shared counter store is
// unreachable: deny the request (abuse protection first) or allow it
// (availability first, for emergency-alert triggering).
type Policy int

const (
	FailClosed Policy = iota
	FailOpen
)

type Result struct {
	Allowed bool
	Current int64
	Limit   int64
	ResetAt time.Time

	// Unavailable marks results produced while the shared store was
	// unreachable; Allowed then reflects the configured policy, not a
	// real count.
	Unavailable bool
}

type Limiter interface {
	CheckAndIncrement(ctx context.Context, key string) Result
}

// CounterStore is the atomic shared counter (implemented by the
// repository): increment (key, windowStart) and return the new count.
type CounterStore interface {
	IncrementWindow(ctx context.Context, key string, windowStart int64) (int64, error)
	PruneWindowsBefore(ctx context.Context, cutoff int64) error
}

type Config struct {
	Limit  int64
	Window time.Duration
	Policy Policy
}

type StoreLimiter struct {
	store CounterStore
	cfg   Config
	now   func() time.Time
	wg    sync.WaitGroup
}

func NewStoreLimiter(store CounterStore, cfg Config) *StoreLimiter {
	return &StoreLimiter{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
}

func (l *StoreLimiter) CheckAndIncrement(ctx context.Context, key string) Result {
	now := l.now()
	windowStart := now.Truncate(l.cfg.Window).Unix()
	resetAt := time.Unix(windowStart, 0).Add(l.cfg.Window)

	count, err := l.store.IncrementWindow(ctx, key, windowStart)
	if err != nil {
		slog.Warn("rate limit store unavailable", "key", key, "error", err)
		return Result{
			Allowed:     l.cfg.Policy == FailOpen,
			Limit:       l.cfg.Limit,
			ResetAt:     resetAt,
			Unavailable: true,
		}
	}

	return Result{
		Allowed: count <= l.cfg.Limit,
		Current: count,
		Limit:   l.cfg.Limit,
		ResetAt: resetAt,
	}
}

// StartPruning periodically drops counters for elapsed windows. Stops when
// ctx is cancelled; Wait blocks until the loop has exited.
func (l *StoreLimiter) StartPruning(ctx context.Context, interval time.Duration) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := l.now().Add(-2 * l.cfg.Window).Unix()
				if err := l.store.PruneWindowsBefore(ctx, cutoff); err != nil && ctx.Err() == nil {
					slog.Warn("rate limit prune failed", "error", err)
				}
			}
		}
	}()
}

func (l *StoreLimiter) Wait() {
	l.wg.Wait()
}

type localWindow struct {
	start int64
	count int64
}

// LocalLimiter is the in-process fixed-window fallback, used only when
// the shared store is intentionally disabled.
type LocalLimiter struct {
	cfg     Config
	mu      sync.Mutex
	windows map[string]*localWindow
	now     func() time.Time
}

func NewLocalLimiter(cfg Config) *LocalLimiter {
	return &LocalLimiter{
		cfg:     cfg,
		windows: make(map[string]*localWindow),
		now:     time.Now,
	}
}

func (l *LocalLimiter) CheckAndIncrement(ctx context.Context, key string) Result {
	now := l.now()
	windowStart := now.Truncate(l.cfg.Window).Unix()
	resetAt := time.Unix(windowStart, 0).Add(l.cfg.Window)

	l.mu.Lock()
	w, ok := l.windows[key]
	if !ok || w.start != windowStart {
		w = &localWindow{start: windowStart}
		l.windows[key] = w
	}
	w.count++
	count := w.count

	// Opportunistic cleanup of stale windows while the lock is held.
	if len(l.windows) > 1024 {
		for k, win := range l.windows {
			if win.start != windowStart {
				delete(l.windows, k)
			}
		}
	}
	l.mu.Unlock()

	return Result{
		Allowed: count <= l.cfg.Limit,
		Current: count,
		Limit:   l.cfg.Limit,
		ResetAt: resetAt,
	}
}
