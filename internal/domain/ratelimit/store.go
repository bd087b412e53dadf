package ratelimit

import (
	"context"
	"time"
)

// CounterStore is the outbound port to the shared, atomic, expiring
// key-value store that backs the sliding window.
//
// Implementations must make ApplyWindow indivisible as seen by all
// concurrent callers: two callers applying the window for the same key
// must each observe a cardinality that reflects the other's completed
// application, never a partial one. The Redis implementation uses a
// transactional pipeline; the in-memory implementation a critical section.
//
// Interface owned by the domain per hexagonal architecture.
type CounterStore interface {
	// ApplyWindow atomically removes all entries with a score below
	// windowStart, reads the remaining cardinality, inserts member at
	// score, and refreshes the key's TTL. It returns the cardinality
	// observed before the insert.
	ApplyWindow(ctx context.Context, key string, windowStart, score float64, member string, ttl time.Duration) (int64, error)

	// Record inserts member at score and refreshes the TTL without
	// pruning, returning the cardinality after the insert. Used for
	// unconditional bookkeeping.
	Record(ctx context.Context, key string, score float64, member string, ttl time.Duration) (int64, error)

	// Remove deletes a single member from the key's ordered set.
	Remove(ctx context.Context, key, member string) error

	// Prune removes all entries with a score below windowStart.
	Prune(ctx context.Context, key string, windowStart float64) error

	// Count returns the key's current cardinality.
	Count(ctx context.Context, key string) (int64, error)

	// OldestScore returns the lowest score in the key's ordered set.
	// The second return value is false when the set is empty.
	OldestScore(ctx context.Context, key string) (float64, bool, error)

	// Entries returns all entries in score order.
	Entries(ctx context.Context, key string) ([]Entry, error)

	// TTL returns the key's remaining time to live.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Delete removes the key and all its entries.
	Delete(ctx context.Context, key string) error
}
