// Package ratelimit provides sliding-window rate limiting domain types.
package ratelimit

import (
	"fmt"
	"time"
)

// Config defines the parameters of one throttling bucket.
type Config struct {
	// Limit is the maximum number of events allowed inside the window.
	Limit int

	// Window is the length of the rolling time window.
	Window time.Duration
}

// Result contains the outcome of a rate limit check.
type Result struct {
	// Allowed indicates whether the request fits inside the window.
	Allowed bool

	// Count is the number of events already recorded in the window,
	// not including the request being checked.
	Count int

	// ResetIn is the time until the oldest window entry falls out of
	// the window. Only meaningful when Allowed is false.
	ResetIn time.Duration
}

// Entry is one counted event inside a key's window.
type Entry struct {
	// Timestamp is the event time in floating-point seconds since epoch.
	Timestamp float64

	// Member is the unique member recorded in the ordered set.
	Member string
}

// Stats is a diagnostic snapshot of one key.
type Stats struct {
	Key     string
	Count   int64
	TTL     time.Duration
	Entries []Entry
}

// KeyType identifies the type of rate limit key.
type KeyType string

const (
	// KeyTypePrincipal throttles a single principal across operations.
	KeyTypePrincipal KeyType = "user"

	// KeyTypeSpam is the wider bookkeeping window used for abuse escalation.
	KeyTypeSpam KeyType = "spam"

	// KeyTypeOperation throttles a principal on one specific operation.
	KeyTypeOperation KeyType = "op"

	// KeyTypeWebhook throttles webhook callers by provider and source address.
	KeyTypeWebhook KeyType = "webhook"
)

// FormatKey returns a structured rate limit key.
// Format: "{type}:{value}"
// Examples:
//   - FormatKey(KeyTypePrincipal, "42") -> "user:42"
//   - FormatKey(KeyTypeSpam, "42") -> "spam:42"
func FormatKey(keyType KeyType, value string) string {
	return fmt.Sprintf("%s:%s", keyType, value)
}

// FormatOperationKey returns a per-operation key for a principal.
// Format: "op:{operation}:{principal}"
func FormatOperationKey(operation, principal string) string {
	return fmt.Sprintf("%s:%s:%s", KeyTypeOperation, operation, principal)
}
