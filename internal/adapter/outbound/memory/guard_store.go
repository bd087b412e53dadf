package memory

import (
	"context"
	"sync"
	"time"

	"github.com/bastion-gate/bastion/internal/domain/guard"
)

// blockEntry is one live block record.
type blockEntry struct {
	expiresAt time.Time
}

// GuardStore implements guard.BlockStore and guard.ActivityStore with
// in-memory maps. Thread-safe. For development/testing only.
type GuardStore struct {
	mu       sync.Mutex
	blocks   map[string]blockEntry
	activity map[string]guard.ActivityRecord
}

// NewGuardStore creates an in-memory block/activity store.
func NewGuardStore() *GuardStore {
	return &GuardStore{
		blocks:   make(map[string]blockEntry),
		activity: make(map[string]guard.ActivityRecord),
	}
}

// SetBlock creates or refreshes a block record.
func (s *GuardStore) SetBlock(ctx context.Context, principal string, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[principal] = blockEntry{expiresAt: time.Now().Add(duration)}
	return nil
}

// IsBlocked reports whether a live block record exists.
func (s *GuardStore) IsBlocked(ctx context.Context, principal string) (bool, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.blocks[principal]
	if !ok {
		return false, 0, nil
	}
	remaining := time.Until(entry.expiresAt)
	if remaining <= 0 {
		delete(s.blocks, principal)
		return false, 0, nil
	}
	return true, remaining, nil
}

// ClearBlock removes a block record.
func (s *GuardStore) ClearBlock(ctx context.Context, principal string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, principal)
	return nil
}

// RecordActivity stores the principal's latest activity. The TTL is
// ignored; the map holds one record per principal.
func (s *GuardStore) RecordActivity(ctx context.Context, principal string, rec guard.ActivityRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity[principal] = rec
	return nil
}

// LastActivity returns the principal's latest activity.
func (s *GuardStore) LastActivity(ctx context.Context, principal string) (guard.ActivityRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.activity[principal]
	return rec, ok, nil
}
