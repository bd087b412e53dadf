// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bastion-gate/bastion/internal/domain/ratelimit"
)

// windowSet holds one key's ordered entries and expiry.
type windowSet struct {
	entries   []ratelimit.Entry // sorted by score ascending
	expiresAt time.Time
}

// CounterStore implements ratelimit.CounterStore with in-memory maps.
// Thread-safe for concurrent access. For development/testing only; state
// is local to the process, so it does not enforce a shared budget across
// multiple instances.
type CounterStore struct {
	sets map[string]*windowSet
	mu   sync.Mutex

	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
}

// NewCounterStore creates a new in-memory counter store.
func NewCounterStore() *CounterStore {
	return &CounterStore{
		sets:            make(map[string]*windowSet),
		stopChan:        make(chan struct{}),
		cleanupInterval: 5 * time.Minute,
	}
}

// live returns the key's set, dropping it first if its TTL has lapsed.
// Caller must hold mu.
func (s *CounterStore) live(key string) *windowSet {
	set, ok := s.sets[key]
	if !ok {
		return nil
	}
	if !set.expiresAt.IsZero() && time.Now().After(set.expiresAt) {
		delete(s.sets, key)
		return nil
	}
	return set
}

// insert adds an entry keeping score order, suppressing duplicate members.
// Caller must hold mu.
func (set *windowSet) insert(e ratelimit.Entry) {
	for _, existing := range set.entries {
		if existing.Member == e.Member {
			return
		}
	}
	i := sort.Search(len(set.entries), func(i int) bool {
		return set.entries[i].Timestamp > e.Timestamp
	})
	set.entries = append(set.entries, ratelimit.Entry{})
	copy(set.entries[i+1:], set.entries[i:])
	set.entries[i] = e
}

// prune drops entries below windowStart. Caller must hold mu.
func (set *windowSet) prune(windowStart float64) {
	i := 0
	for i < len(set.entries) && set.entries[i].Timestamp < windowStart {
		i++
	}
	set.entries = set.entries[i:]
}

// ApplyWindow implements the atomic prune/count/insert/expire compound
// operation inside a single critical section.
func (s *CounterStore) ApplyWindow(ctx context.Context, key string, windowStart, score float64, member string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.live(key)
	if set == nil {
		set = &windowSet{}
		s.sets[key] = set
	}
	set.prune(windowStart)
	count := int64(len(set.entries))
	set.insert(ratelimit.Entry{Timestamp: score, Member: member})
	set.expiresAt = time.Now().Add(ttl)
	return count, nil
}

// Record inserts without pruning and returns the new cardinality.
func (s *CounterStore) Record(ctx context.Context, key string, score float64, member string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.live(key)
	if set == nil {
		set = &windowSet{}
		s.sets[key] = set
	}
	set.insert(ratelimit.Entry{Timestamp: score, Member: member})
	set.expiresAt = time.Now().Add(ttl)
	return int64(len(set.entries)), nil
}

// Remove deletes a single member.
func (s *CounterStore) Remove(ctx context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.live(key)
	if set == nil {
		return nil
	}
	for i, e := range set.entries {
		if e.Member == member {
			set.entries = append(set.entries[:i], set.entries[i+1:]...)
			break
		}
	}
	return nil
}

// Prune drops entries below windowStart.
func (s *CounterStore) Prune(ctx context.Context, key string, windowStart float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set := s.live(key); set != nil {
		set.prune(windowStart)
	}
	return nil
}

// Count returns the key's cardinality.
func (s *CounterStore) Count(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.live(key)
	if set == nil {
		return 0, nil
	}
	return int64(len(set.entries)), nil
}

// OldestScore returns the lowest score, or false when the set is empty.
func (s *CounterStore) OldestScore(ctx context.Context, key string) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.live(key)
	if set == nil || len(set.entries) == 0 {
		return 0, false, nil
	}
	return set.entries[0].Timestamp, true, nil
}

// Entries returns a copy of all entries in score order.
func (s *CounterStore) Entries(ctx context.Context, key string) ([]ratelimit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.live(key)
	if set == nil {
		return nil, nil
	}
	out := make([]ratelimit.Entry, len(set.entries))
	copy(out, set.entries)
	return out, nil
}

// TTL returns the key's remaining time to live, or -1 when absent.
func (s *CounterStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.live(key)
	if set == nil {
		return -1, nil
	}
	return time.Until(set.expiresAt), nil
}

// Delete removes the key and all its entries.
func (s *CounterStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sets, key)
	return nil
}

// Ping reports store health. Always healthy for the in-memory store.
func (s *CounterStore) Ping(ctx context.Context) error {
	return nil
}

// StartCleanup starts the background goroutine that drops expired keys.
// It stops when ctx is cancelled or Stop() is called.
func (s *CounterStore) StartCleanup(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.cleanup()
			}
		}
	}()
}

// cleanup removes all keys whose TTL has lapsed.
func (s *CounterStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, set := range s.sets {
		if !set.expiresAt.IsZero() && now.After(set.expiresAt) {
			delete(s.sets, key)
		}
	}
}

// Stop terminates the cleanup goroutine and waits for it to exit.
func (s *CounterStore) Stop() {
	s.once.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}
