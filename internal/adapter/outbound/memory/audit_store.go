package memory

import (
	"context"
	"sync"

	"github.com/bastion-gate/bastion/internal/domain/audit"
)

// AuditSink implements audit.Sink by collecting events in memory.
// Thread-safe. For development/testing only.
type AuditSink struct {
	mu     sync.Mutex
	events []audit.Event
}

// NewAuditSink creates an empty in-memory audit sink.
func NewAuditSink() *AuditSink {
	return &AuditSink{}
}

// Append stores events.
func (s *AuditSink) Append(ctx context.Context, events ...audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

// Flush is a no-op for the in-memory sink.
func (s *AuditSink) Flush(ctx context.Context) error { return nil }

// Close is a no-op for the in-memory sink.
func (s *AuditSink) Close() error { return nil }

// Events returns a copy of all collected events.
func (s *AuditSink) Events() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Event, len(s.events))
	copy(out, s.events)
	return out
}
