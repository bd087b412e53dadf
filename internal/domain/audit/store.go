package audit

import "context"

// Sink consumes security events. Implementations handle persistence;
// producers treat Append as best effort and never block request
// handling on sink failures.
//
// Interface owned by the domain per hexagonal architecture.
type Sink interface {
	// Append stores events.
	Append(ctx context.Context, events ...Event) error

	// Flush forces pending events to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}
