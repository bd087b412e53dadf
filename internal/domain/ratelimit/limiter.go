package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"time"
)

// Limiter implements exact sliding-window counting over a CounterStore.
//
// The limiter holds no state of its own and takes no locks; correctness
// under concurrent access comes entirely from the store's atomic
// ApplyWindow operation.
//
// Failure policy: when the store is unreachable or returns an error the
// limiter fails OPEN — the request is allowed and the fault is logged.
// Availability of the primary service takes precedence over throttling
// precision. This is a deliberate contract, the opposite of the access
// control registry's fail-closed policy.
type Limiter struct {
	store  CounterStore
	logger *slog.Logger
	now    func() time.Time
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithClock overrides the limiter's clock. Used in tests.
func WithClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a sliding-window limiter backed by store.
func NewLimiter(store CounterStore, logger *slog.Logger, opts ...LimiterOption) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Limiter{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// epochSeconds returns the current time as floating-point seconds since
// epoch. Sub-second resolution disambiguates same-second bursts.
func (l *Limiter) epochSeconds() float64 {
	return float64(l.now().UnixNano()) / float64(time.Second)
}

// memberFor returns the unique ordered-set member for a timestamp. The
// timestamp string itself is used rather than a separate nonce; two
// events rounding to an identical timestamp collapse into one entry,
// which is benign.
func memberFor(ts float64) string {
	return strconv.FormatFloat(ts, 'f', -1, 64)
}

// Check reports whether one more event fits inside the key's window.
//
// The prune, count, insert and expire steps execute as one atomic unit
// against the store. A rejected attempt does not count toward future
// windows: its just-inserted entry is removed again.
func (l *Limiter) Check(ctx context.Context, key string, limit int, window time.Duration) Result {
	now := l.epochSeconds()
	windowStart := now - window.Seconds()
	member := memberFor(now)

	countBefore, err := l.store.ApplyWindow(ctx, key, windowStart, now, member, window+time.Second)
	if err != nil {
		l.logger.Error("rate limit check failed, failing open",
			"key", key, "error", err)
		return Result{Allowed: true, Count: 0, ResetIn: window}
	}

	allowed := countBefore < int64(limit)
	resetIn := window

	if !allowed {
		// The rejected attempt must not consume a window slot.
		if err := l.store.Remove(ctx, key, member); err != nil {
			l.logger.Error("failed to remove rejected entry",
				"key", key, "error", err)
		}
		if oldest, ok, err := l.store.OldestScore(ctx, key); err == nil && ok {
			resetIn = window - time.Duration((now-oldest)*float64(time.Second))
			if resetIn < 0 {
				resetIn = 0
			}
		}
	}

	l.logger.Debug("rate limit check",
		"key", key, "count", countBefore, "limit", limit, "allowed", allowed)

	return Result{Allowed: allowed, Count: int(countBefore), ResetIn: resetIn}
}

// Increment unconditionally records one event for the key and returns
// the new count. Used for bookkeeping windows that never reject on
// their own. Returns 0 when the store is unavailable.
func (l *Limiter) Increment(ctx context.Context, key string, window time.Duration) int {
	now := l.epochSeconds()
	count, err := l.store.Record(ctx, key, now, memberFor(now), window+time.Second)
	if err != nil {
		l.logger.Error("rate limit increment failed", "key", key, "error", err)
		return 0
	}
	return int(count)
}

// Remaining returns the number of slots left in the key's window
// without recording an event. Fails open to the full limit.
func (l *Limiter) Remaining(ctx context.Context, key string, limit int, window time.Duration) int {
	now := l.epochSeconds()
	if err := l.store.Prune(ctx, key, now-window.Seconds()); err != nil {
		l.logger.Error("rate limit prune failed", "key", key, "error", err)
		return limit
	}
	count, err := l.store.Count(ctx, key)
	if err != nil {
		l.logger.Error("rate limit count failed", "key", key, "error", err)
		return limit
	}
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Reset deletes all entries for the key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.store.Delete(ctx, key); err != nil {
		l.logger.Error("rate limit reset failed", "key", key, "error", err)
		return err
	}
	l.logger.Info("rate limit reset", "key", key)
	return nil
}

// Stats returns a diagnostic snapshot of the key.
func (l *Limiter) Stats(ctx context.Context, key string) Stats {
	stats := Stats{Key: key, TTL: -1}

	count, err := l.store.Count(ctx, key)
	if err != nil {
		l.logger.Error("rate limit stats failed", "key", key, "error", err)
		return stats
	}
	stats.Count = count

	if ttl, err := l.store.TTL(ctx, key); err == nil {
		stats.TTL = ttl
	}
	if entries, err := l.store.Entries(ctx, key); err == nil {
		stats.Entries = entries
	}
	return stats
}
