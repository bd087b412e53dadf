package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestCounterStore_ApplyWindowCountsBeforeInsert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCounterStore()

	base := 1700000000.0
	for i := 0; i < 3; i++ {
		score := base + float64(i)
		count, err := store.ApplyWindow(ctx, "k", base-60, score, member(score), time.Minute)
		if err != nil {
			t.Fatalf("ApplyWindow() error: %v", err)
		}
		if count != int64(i) {
			t.Errorf("ApplyWindow() #%d count = %d, want %d (pre-insert cardinality)", i, count, i)
		}
	}
}

func TestCounterStore_ApplyWindowPrunesOldEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCounterStore()

	base := 1700000000.0
	// Two entries that will fall outside the next window.
	store.ApplyWindow(ctx, "k", base-60, base, "a", time.Minute)
	store.ApplyWindow(ctx, "k", base-60, base+1, "b", time.Minute)

	// Window start moves past both: they must not be counted.
	count, err := store.ApplyWindow(ctx, "k", base+30, base+90, "c", time.Minute)
	if err != nil {
		t.Fatalf("ApplyWindow() error: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0 after prune", count)
	}

	entries, err := store.Entries(ctx, "k")
	if err != nil {
		t.Fatalf("Entries() error: %v", err)
	}
	if len(entries) != 1 || entries[0].Member != "c" {
		t.Errorf("entries = %v, want only the new member", entries)
	}
}

func TestCounterStore_DuplicateMemberCollapses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCounterStore()

	base := 1700000000.0
	store.Record(ctx, "k", base, "same", time.Minute)
	count, err := store.Record(ctx, "k", base, "same", time.Minute)
	if err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1 (duplicate member suppressed)", count)
	}
}

func TestCounterStore_RemoveAndOldest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCounterStore()

	base := 1700000000.0
	store.Record(ctx, "k", base+2, "late", time.Minute)
	store.Record(ctx, "k", base, "early", time.Minute)

	oldest, ok, err := store.OldestScore(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("OldestScore() = %v, %v, %v", oldest, ok, err)
	}
	if oldest != base {
		t.Errorf("oldest = %f, want %f (score order, not insert order)", oldest, base)
	}

	if err := store.Remove(ctx, "k", "early"); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	oldest, ok, _ = store.OldestScore(ctx, "k")
	if !ok || oldest != base+2 {
		t.Errorf("oldest after remove = %f, %v, want %f", oldest, ok, base+2)
	}
}

func TestCounterStore_TTLExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCounterStore()

	store.Record(ctx, "k", 1700000000.0, "m", 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	count, err := store.Count(ctx, "k")
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0 after TTL expiry", count)
	}
	if ttl, _ := store.TTL(ctx, "k"); ttl != -1 {
		t.Errorf("TTL() = %v, want -1 for absent key", ttl)
	}
}

func TestCounterStore_Delete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCounterStore()

	store.Record(ctx, "k", 1700000000.0, "m", time.Minute)
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	count, _ := store.Count(ctx, "k")
	if count != 0 {
		t.Errorf("count = %d, want 0 after delete", count)
	}
}

func TestCounterStore_ConcurrentApplyWindow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCounterStore()

	// 50 goroutines racing on one key; the final cardinality must equal
	// the number of unique members.
	var wg sync.WaitGroup
	base := 1700000000.0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			score := base + float64(i)
			if _, err := store.ApplyWindow(ctx, "k", base-60, score, member(score), time.Minute); err != nil {
				t.Errorf("ApplyWindow() error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	count, err := store.Count(ctx, "k")
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != 50 {
		t.Errorf("count = %d, want 50", count)
	}
}

func TestCounterStore_CleanupLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewCounterStore()
	store.cleanupInterval = 10 * time.Millisecond
	store.StartCleanup(ctx)

	store.Record(context.Background(), "k", 1700000000.0, "m", 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	store.mu.Lock()
	_, exists := store.sets["k"]
	store.mu.Unlock()
	if exists {
		t.Error("expired key should have been swept by cleanup")
	}

	store.Stop()
	// Stop is idempotent.
	store.Stop()
}

func member(score float64) string {
	return time.Unix(int64(score), 0).UTC().Format(time.RFC3339Nano)
}
