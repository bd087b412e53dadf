// Package redis implements the shared counter, block and activity
// stores on a Redis-compatible server. It is the production backing for
// the sliding window: atomicity comes from transactional pipelines, so
// the prune/count/insert/expire sequence is linearizable per key
// without any in-process locking.
package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bastion-gate/bastion/internal/domain/guard"
	"github.com/bastion-gate/bastion/internal/domain/ratelimit"
)

// DefaultTimeout bounds each store round-trip. Kept short so a slow
// store degrades into the limiter's fail-open path instead of stalling
// request handling.
const DefaultTimeout = 250 * time.Millisecond

// Store implements ratelimit.CounterStore, guard.BlockStore and
// guard.ActivityStore over one Redis client. All keys live under a
// common prefix; components stay in separate namespaces via their own
// key segments.
type Store struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// NewStore creates a store over client. prefix namespaces every key;
// pass the service name.
func NewStore(client *redis.Client, prefix string, opts ...Option) *Store {
	s := &Store{
		client:  client,
		prefix:  prefix,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(k string) string {
	return s.prefix + ":" + k
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

// ApplyWindow executes the prune/count/insert/expire sequence in one
// transactional pipeline. The returned cardinality excludes the entry
// inserted by this call.
func (s *Store) ApplyWindow(ctx context.Context, key string, windowStart, score float64, member string, ttl time.Duration) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rk := s.key(key)
	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rk, "0", formatScore(windowStart))
	card := pipe.ZCard(ctx, rk)
	pipe.ZAdd(ctx, rk, redis.Z{Score: score, Member: member})
	pipe.Expire(ctx, rk, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return card.Val(), nil
}

// Record inserts without pruning and returns the post-insert cardinality.
func (s *Store) Record(ctx context.Context, key string, score float64, member string, ttl time.Duration) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rk := s.key(key)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, rk, redis.Z{Score: score, Member: member})
	pipe.Expire(ctx, rk, ttl)
	card := pipe.ZCard(ctx, rk)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return card.Val(), nil
}

// Remove deletes one member from the key's sorted set.
func (s *Store) Remove(ctx context.Context, key, member string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.ZRem(ctx, s.key(key), member).Err()
}

// Prune removes all entries below windowStart.
func (s *Store) Prune(ctx context.Context, key string, windowStart float64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.ZRemRangeByScore(ctx, s.key(key), "0", formatScore(windowStart)).Err()
}

// Count returns the key's cardinality.
func (s *Store) Count(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.ZCard(ctx, s.key(key)).Result()
}

// OldestScore returns the lowest score in the key's sorted set.
func (s *Store) OldestScore(ctx context.Context, key string) (float64, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	entries, err := s.client.ZRangeWithScores(ctx, s.key(key), 0, 0).Result()
	if err != nil {
		return 0, false, err
	}
	if len(entries) == 0 {
		return 0, false, nil
	}
	return entries[0].Score, true, nil
}

// Entries returns all entries in score order.
func (s *Store) Entries(ctx context.Context, key string) ([]ratelimit.Entry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	raw, err := s.client.ZRangeWithScores(ctx, s.key(key), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]ratelimit.Entry, 0, len(raw))
	for _, z := range raw {
		member, _ := z.Member.(string)
		entries = append(entries, ratelimit.Entry{Timestamp: z.Score, Member: member})
	}
	return entries, nil
}

// TTL returns the key's remaining time to live.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.TTL(ctx, s.key(key)).Result()
}

// Delete removes the key.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Del(ctx, s.key(key)).Err()
}

// blockKey namespaces block records away from window keys.
func blockKey(principal string) string {
	return "blocked:" + principal
}

// SetBlock writes the principal's block record with the given TTL.
// SET with expiry is idempotent, so concurrent escalations are harmless.
func (s *Store) SetBlock(ctx context.Context, principal string, duration time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Set(ctx, s.key(blockKey(principal)), "1", duration).Err()
}

// IsBlocked reports whether a live block record exists and its TTL.
func (s *Store) IsBlocked(ctx context.Context, principal string) (bool, time.Duration, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ttl, err := s.client.TTL(ctx, s.key(blockKey(principal))).Result()
	if err != nil {
		return false, 0, err
	}
	if ttl <= 0 {
		return false, 0, nil
	}
	return true, ttl, nil
}

// ClearBlock removes the principal's block record.
func (s *Store) ClearBlock(ctx context.Context, principal string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Del(ctx, s.key(blockKey(principal))).Err()
}

func activityKey(principal string) string {
	return "activity:" + principal
}

// RecordActivity stores the principal's last-seen activity as a hash
// with a bounded TTL.
func (s *Store) RecordActivity(ctx context.Context, principal string, rec guard.ActivityRecord, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rk := s.key(activityKey(principal))
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, rk, map[string]any{
		"kind":      rec.Kind,
		"summary":   rec.Summary,
		"digest":    rec.Digest,
		"timestamp": rec.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, rk, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// LastActivity returns the principal's last-seen activity.
func (s *Store) LastActivity(ctx context.Context, principal string) (guard.ActivityRecord, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	fields, err := s.client.HGetAll(ctx, s.key(activityKey(principal))).Result()
	if err != nil {
		return guard.ActivityRecord{}, false, err
	}
	if len(fields) == 0 {
		return guard.ActivityRecord{}, false, nil
	}
	rec := guard.ActivityRecord{
		Kind:    fields["kind"],
		Summary: fields["summary"],
		Digest:  fields["digest"],
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields["timestamp"]); err == nil {
		rec.Timestamp = ts
	}
	return rec, true, nil
}

// Ping reports store health.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Ping(ctx).Err()
}
