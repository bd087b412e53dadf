// Package audit contains domain types for security audit events.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Decision constants for audit events.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Kind constants categorize security events.
const (
	// KindBlocked records a principal crossing the spam threshold into
	// a temporary block.
	KindBlocked = "limit.blocked"
	// KindPermissionDenied records a failed permission check on a
	// governed operation.
	KindPermissionDenied = "access.denied"
	// KindPermissionGrant and KindPermissionRevoke record ad-hoc
	// permission changes.
	KindPermissionGrant  = "access.permission_grant"
	KindPermissionRevoke = "access.permission_revoke"
	// KindSignatureFailed records a webhook that failed signature
	// verification.
	KindSignatureFailed = "webhook.signature_failed"
	// KindReplayDetected records a webhook with a stale timestamp.
	// Separate from KindSignatureFailed for observability.
	KindReplayDetected = "webhook.replay"
)

// Event is one structured security event emitted to the audit sink.
// The sink owns long-term schema concerns; this is the producer-side
// shape only.
type Event struct {
	// ID is a unique event identifier.
	ID string `json:"id"`
	// Timestamp when the event occurred (UTC).
	Timestamp time.Time `json:"timestamp"`
	// Kind categorizes the event.
	Kind string `json:"kind"`
	// Principal is the affected principal, when known.
	Principal string `json:"principal,omitempty"`
	// Provider is the webhook provider, for webhook events.
	Provider string `json:"provider,omitempty"`
	// SourceIP is the caller's address, when known.
	SourceIP string `json:"source_ip,omitempty"`
	// Operation is the governed operation key, for interactive events.
	Operation string `json:"operation,omitempty"`
	// Decision is "allow" or "deny".
	Decision string `json:"decision"`
	// Reason is the machine-readable reason code for the decision.
	Reason string `json:"reason,omitempty"`
}

// NewEvent creates an event with a fresh ID and UTC timestamp.
func NewEvent(kind string) Event {
	return Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Decision:  DecisionDeny,
	}
}
