// Package guard contains the security coordinator that composes rate
// limiting, webhook authentication and access control into one
// request-admission policy.
package guard

import (
	"context"
	"fmt"
	"time"
)

// Outcome is the machine-readable classification of a decision.
type Outcome string

const (
	OutcomeAllowed          Outcome = "allowed"
	OutcomeRateLimited      Outcome = "rate_limited"
	OutcomeBlocked          Outcome = "blocked"
	OutcomeForbidden        Outcome = "forbidden"
	OutcomeInvalidSignature Outcome = "invalid_signature"
	OutcomeReplayDetected   Outcome = "replay_detected"
	OutcomeIPNotAllowed     Outcome = "ip_not_allowed"
	OutcomeMalformedPayload Outcome = "malformed_payload"
	OutcomeUnknownProvider  Outcome = "unknown_provider"
)

// Decision is the result handed back to business handlers and
// transports. Handlers must not bypass the coordinator for any
// rate-limited or permission-gated action.
type Decision struct {
	// Allowed indicates the request may proceed.
	Allowed bool
	// Outcome classifies the decision.
	Outcome Outcome
	// Reason is extra detail for logs and audit, never for end users.
	Reason string
	// RetryAfter is set for rate-limited and blocked outcomes.
	RetryAfter time.Duration
}

// allowed is the one successful decision.
func allowed() Decision {
	return Decision{Allowed: true, Outcome: OutcomeAllowed}
}

// SafeMessage returns a user-visible message for a decision. Internal
// reasons stay in logs; in particular a forbidden decision never
// reveals which permission was missing.
func SafeMessage(d Decision) string {
	switch d.Outcome {
	case OutcomeAllowed:
		return "OK"
	case OutcomeRateLimited:
		return fmt.Sprintf("Too many requests. Try again in %d seconds.",
			int(d.RetryAfter.Seconds()))
	case OutcomeBlocked:
		return "You are temporarily blocked. Try again later."
	case OutcomeForbidden:
		return "Access denied."
	case OutcomeInvalidSignature, OutcomeReplayDetected:
		return "Invalid signature."
	case OutcomeIPNotAllowed:
		return "Source address not allowed."
	case OutcomeMalformedPayload:
		return "Malformed request."
	case OutcomeUnknownProvider:
		return "Unknown provider."
	default:
		return "Request rejected."
	}
}

// ActivityRecord is the last-seen activity snapshot kept per principal
// for diagnostics, independent of the throttling decision.
type ActivityRecord struct {
	// Kind is the event kind (operation key or "webhook:<provider>").
	Kind string
	// Summary is a truncated payload summary.
	Summary string
	// Digest is a 64-bit content fingerprint of the full payload.
	Digest string
	// Timestamp when the activity was recorded.
	Timestamp time.Time
}

// BlockStore is the outbound port for temporary block records. A live
// block record rejects every request from the principal regardless of
// window state. Writes are idempotent; two concurrent "last straw"
// requests may both set the same block harmlessly.
type BlockStore interface {
	// SetBlock creates or refreshes the principal's block record.
	SetBlock(ctx context.Context, principal string, duration time.Duration) error

	// IsBlocked reports whether a live block record exists and its
	// remaining TTL.
	IsBlocked(ctx context.Context, principal string) (bool, time.Duration, error)

	// ClearBlock removes the principal's block record.
	ClearBlock(ctx context.Context, principal string) error
}

// ActivityStore is the outbound port for last-seen activity bookkeeping.
type ActivityStore interface {
	// RecordActivity stores the principal's latest activity with a
	// bounded TTL.
	RecordActivity(ctx context.Context, principal string, rec ActivityRecord, ttl time.Duration) error

	// LastActivity returns the principal's latest activity, with false
	// when none is recorded.
	LastActivity(ctx context.Context, principal string) (ActivityRecord, bool, error)
}

// Metrics is the narrow egress for decision counters. Schemas belong
// to the metrics collaborator, not this package.
type Metrics interface {
	// RecordDecision counts one authorization decision.
	RecordDecision(operation string, outcome Outcome)

	// RecordWebhook counts one webhook admission by provider.
	RecordWebhook(provider string, outcome Outcome)
}

// nopMetrics is used when no metrics sink is wired.
type nopMetrics struct{}

func (nopMetrics) RecordDecision(string, Outcome) {}
func (nopMetrics) RecordWebhook(string, Outcome)  {}
