package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/bastion-gate/bastion/internal/domain/access"
	"github.com/bastion-gate/bastion/internal/domain/audit"
	"github.com/bastion-gate/bastion/internal/domain/ratelimit"
	"github.com/bastion-gate/bastion/internal/domain/webhook"
)

// activitySummaryLimit bounds the stored payload summary.
const activitySummaryLimit = 100

// Config holds the coordinator's escalation parameters.
type Config struct {
	// Primary is the default per-principal limit and window.
	Primary ratelimit.Config

	// Spam is the wider bookkeeping window whose exhaustion escalates
	// a rate-limited principal into a temporary block.
	Spam ratelimit.Config

	// Operations overrides the primary limit for specific operation keys.
	Operations map[string]ratelimit.Config

	// BlockDuration is the TTL of a block record.
	BlockDuration time.Duration

	// ActivityTTL bounds how long last-seen activity is kept.
	ActivityTTL time.Duration
}

// DefaultConfig returns the stock escalation parameters.
func DefaultConfig() Config {
	return Config{
		Primary:       ratelimit.Config{Limit: 20, Window: time.Minute},
		Spam:          ratelimit.Config{Limit: 100, Window: time.Hour},
		BlockDuration: time.Hour,
		ActivityTTL:   24 * time.Hour,
	}
}

// Coordinator is the single entry point external handlers call before
// executing privileged or high-frequency operations. It composes the
// rate limiter, webhook validator, IP allowlist and access registry
// into the escalating abuse response: warn, rate-limit, temporary block.
//
// Per-principal states: Clear -> Throttled -> Blocked -> Clear. A block
// expires back to Clear by TTL; there is no partial unblock.
type Coordinator struct {
	limiter   *ratelimit.Limiter
	validator *webhook.Validator
	allowlist *webhook.Allowlist
	registry  *access.Registry
	blocks    BlockStore
	activity  ActivityStore
	sink      audit.Sink
	metrics   Metrics
	cfg       Config
	logger    *slog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithMetrics wires a decision counter sink.
func WithMetrics(m Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// WithActivityStore wires last-seen activity bookkeeping.
func WithActivityStore(s ActivityStore) CoordinatorOption {
	return func(c *Coordinator) { c.activity = s }
}

// NewCoordinator creates the coordinator. sink may be nil when no audit
// egress is configured; activity and metrics are optional.
func NewCoordinator(
	limiter *ratelimit.Limiter,
	validator *webhook.Validator,
	allowlist *webhook.Allowlist,
	registry *access.Registry,
	blocks BlockStore,
	sink audit.Sink,
	cfg Config,
	logger *slog.Logger,
	opts ...CoordinatorOption,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		limiter:   limiter,
		validator: validator,
		allowlist: allowlist,
		registry:  registry,
		blocks:    blocks,
		sink:      sink,
		metrics:   nopMetrics{},
		cfg:       cfg,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// primaryFor returns the limit/window pair governing an operation.
func (c *Coordinator) primaryFor(operation string) ratelimit.Config {
	if cfg, ok := c.cfg.Operations[operation]; ok {
		return cfg
	}
	return c.cfg.Primary
}

// primaryKeyFor returns the throttling key for a principal+operation.
// Operations without an override share the principal-wide bucket.
func (c *Coordinator) primaryKeyFor(principal, operation string) string {
	if _, ok := c.cfg.Operations[operation]; ok {
		return ratelimit.FormatOperationKey(operation, principal)
	}
	return ratelimit.FormatKey(ratelimit.KeyTypePrincipal, principal)
}

// Authorize admits or rejects one governed interactive request.
//
// Order is fixed: block record first (a blocked principal never touches
// window counters), then the primary window, then - only on rejection -
// the spam window, and only after full admission the permission gate.
// A permission failure is not counted against the rate limiter a
// second time.
func (c *Coordinator) Authorize(ctx context.Context, principal, operation string, required ...access.Permission) Decision {
	d := c.admit(ctx, c.primaryKeyFor(principal, operation), operation, principal)
	if !d.Allowed {
		c.metrics.RecordDecision(operation, d.Outcome)
		return d
	}

	for _, perm := range required {
		if !c.registry.HasPermission(ctx, principal, perm) {
			c.logger.Warn("permission denied",
				"principal", principal, "operation", operation, "permission", perm)
			c.emit(ctx, func(e *audit.Event) {
				e.Kind = audit.KindPermissionDenied
				e.Principal = principal
				e.Operation = operation
				e.Reason = string(OutcomeForbidden)
			})
			d = Decision{Outcome: OutcomeForbidden, Reason: "missing permission"}
			c.metrics.RecordDecision(operation, d.Outcome)
			return d
		}
	}

	c.metrics.RecordDecision(operation, d.Outcome)
	return d
}

// admit runs the block/window/spam pipeline. primaryKey is the
// throttling bucket; escalationID names the principal for block
// records, spam bookkeeping and audit - it equals the principal for
// interactive traffic and a provider+address compound for webhooks.
func (c *Coordinator) admit(ctx context.Context, primaryKey, operation, escalationID string) Decision {
	blocked, remaining, err := c.blocks.IsBlocked(ctx, escalationID)
	if err != nil {
		// Same availability trade as the limiter: a store fault must
		// not wedge the service.
		c.logger.Error("block check failed, failing open",
			"principal", escalationID, "error", err)
		blocked = false
	}
	if blocked {
		c.logger.Warn("blocked principal rejected",
			"principal", escalationID, "remaining", remaining)
		return Decision{Outcome: OutcomeBlocked, Reason: "temporary block active", RetryAfter: remaining}
	}

	primary := c.primaryFor(operation)
	spamKey := ratelimit.FormatKey(ratelimit.KeyTypeSpam, escalationID)

	res := c.limiter.Check(ctx, primaryKey, primary.Limit, primary.Window)
	if res.Allowed {
		// Wider-window bookkeeping happens only on admitted requests;
		// the spam budget is re-checked only on rejection below. A
		// principal who stays under the primary limit is never blocked
		// regardless of cumulative volume.
		c.limiter.Increment(ctx, spamKey, c.cfg.Spam.Window)
		c.recordActivity(ctx, escalationID, operation)
		return allowed()
	}

	spamRes := c.limiter.Check(ctx, spamKey, c.cfg.Spam.Limit, c.cfg.Spam.Window)
	if !spamRes.Allowed {
		if err := c.blocks.SetBlock(ctx, escalationID, c.cfg.BlockDuration); err != nil {
			c.logger.Error("failed to write block record",
				"principal", escalationID, "error", err)
		}
		c.logger.Warn("principal blocked for spam",
			"principal", escalationID, "operation", operation,
			"spam_count", spamRes.Count, "spam_limit", c.cfg.Spam.Limit,
			"duration", c.cfg.BlockDuration)
		c.emit(ctx, func(e *audit.Event) {
			e.Kind = audit.KindBlocked
			e.Principal = escalationID
			e.Operation = operation
			e.Reason = fmt.Sprintf("spam threshold exceeded: %d/%d in %s",
				spamRes.Count, c.cfg.Spam.Limit, c.cfg.Spam.Window)
		})
		return Decision{Outcome: OutcomeBlocked, Reason: "spam threshold exceeded", RetryAfter: c.cfg.BlockDuration}
	}

	c.logger.Warn("rate limit exceeded",
		"principal", escalationID, "operation", operation,
		"count", res.Count, "retry_after", res.ResetIn)
	return Decision{Outcome: OutcomeRateLimited, Reason: "primary window exhausted", RetryAfter: res.ResetIn}
}

// AdmitWebhook authenticates and throttles one inbound webhook: source
// allowlist, then signature (with replay check), then the same
// block/window/spam pipeline keyed by provider and source address.
func (c *Coordinator) AdmitWebhook(ctx context.Context, provider webhook.Provider, sourceIP string, payload []byte, signature string) Decision {
	if !provider.IsValid() || !c.validator.Configured(provider) {
		d := Decision{Outcome: OutcomeUnknownProvider, Reason: "provider not configured"}
		c.metrics.RecordWebhook(string(provider), d.Outcome)
		return d
	}

	if !c.allowlist.Allowed(provider, sourceIP) {
		d := Decision{Outcome: OutcomeIPNotAllowed, Reason: "source address not allowlisted"}
		c.metrics.RecordWebhook(string(provider), d.Outcome)
		return d
	}

	if err := c.validator.Validate(provider, payload, signature); err != nil {
		d := c.webhookFailure(ctx, provider, sourceIP, err)
		c.metrics.RecordWebhook(string(provider), d.Outcome)
		return d
	}

	caller := fmt.Sprintf("%s:%s", provider, sourceIP)
	primaryKey := ratelimit.FormatKey(ratelimit.KeyTypeWebhook, caller)
	d := c.admit(ctx, primaryKey, "webhook:"+string(provider), caller)
	c.metrics.RecordWebhook(string(provider), d.Outcome)
	return d
}

// webhookFailure maps a validation error to a decision and emits the
// matching audit event.
func (c *Coordinator) webhookFailure(ctx context.Context, provider webhook.Provider, sourceIP string, err error) Decision {
	switch {
	case errors.Is(err, webhook.ErrMalformedPayload):
		return Decision{Outcome: OutcomeMalformedPayload, Reason: err.Error()}
	case errors.Is(err, webhook.ErrUnknownProvider):
		return Decision{Outcome: OutcomeUnknownProvider, Reason: err.Error()}
	case errors.Is(err, webhook.ErrReplayDetected):
		c.emit(ctx, func(e *audit.Event) {
			e.Kind = audit.KindReplayDetected
			e.Provider = string(provider)
			e.SourceIP = sourceIP
			e.Reason = err.Error()
		})
		return Decision{Outcome: OutcomeReplayDetected, Reason: err.Error()}
	default:
		// Missing secret, missing header and MAC mismatch all surface
		// as an invalid signature to the caller.
		c.emit(ctx, func(e *audit.Event) {
			e.Kind = audit.KindSignatureFailed
			e.Provider = string(provider)
			e.SourceIP = sourceIP
			e.Reason = err.Error()
		})
		return Decision{Outcome: OutcomeInvalidSignature, Reason: err.Error()}
	}
}

// RecordActivity stores a payload summary for an already-admitted
// request. Transports call this when they have the raw payload at hand.
func (c *Coordinator) RecordActivity(ctx context.Context, principal, kind string, payload []byte) {
	if c.activity == nil {
		return
	}
	summary := string(payload)
	if len(summary) > activitySummaryLimit {
		summary = summary[:activitySummaryLimit]
	}
	rec := ActivityRecord{
		Kind:      kind,
		Summary:   summary,
		Digest:    strconv.FormatUint(xxhash.Sum64(payload), 16),
		Timestamp: time.Now().UTC(),
	}
	if err := c.activity.RecordActivity(ctx, principal, rec, c.cfg.ActivityTTL); err != nil {
		c.logger.Error("failed to record activity",
			"principal", principal, "error", err)
	}
}

// recordActivity is the admission-path variant without payload.
func (c *Coordinator) recordActivity(ctx context.Context, principal, kind string) {
	if c.activity == nil {
		return
	}
	rec := ActivityRecord{Kind: kind, Timestamp: time.Now().UTC()}
	if err := c.activity.RecordActivity(ctx, principal, rec, c.cfg.ActivityTTL); err != nil {
		c.logger.Error("failed to record activity",
			"principal", principal, "error", err)
	}
}

// Unblock removes a principal's block record ahead of its TTL.
func (c *Coordinator) Unblock(ctx context.Context, principal string) error {
	if err := c.blocks.ClearBlock(ctx, principal); err != nil {
		c.logger.Error("failed to clear block", "principal", principal, "error", err)
		return err
	}
	c.logger.Info("principal unblocked", "principal", principal)
	return nil
}

// PrincipalStats is the diagnostic snapshot served to operators.
type PrincipalStats struct {
	Principal    string          `json:"principal"`
	Primary      ratelimit.Stats `json:"primary"`
	Spam         ratelimit.Stats `json:"spam"`
	Blocked      bool            `json:"blocked"`
	BlockTTL     time.Duration   `json:"block_ttl"`
	LastActivity *ActivityRecord `json:"last_activity,omitempty"`
}

// Stats gathers the principal's window, block and activity state.
func (c *Coordinator) Stats(ctx context.Context, principal string) PrincipalStats {
	stats := PrincipalStats{
		Principal: principal,
		Primary:   c.limiter.Stats(ctx, ratelimit.FormatKey(ratelimit.KeyTypePrincipal, principal)),
		Spam:      c.limiter.Stats(ctx, ratelimit.FormatKey(ratelimit.KeyTypeSpam, principal)),
	}
	if blocked, ttl, err := c.blocks.IsBlocked(ctx, principal); err == nil {
		stats.Blocked = blocked
		stats.BlockTTL = ttl
	}
	if c.activity != nil {
		if rec, ok, err := c.activity.LastActivity(ctx, principal); err == nil && ok {
			stats.LastActivity = &rec
		}
	}
	return stats
}

// ResetKey clears one rate-limit key. Operator surface.
func (c *Coordinator) ResetKey(ctx context.Context, key string) error {
	return c.limiter.Reset(ctx, key)
}

// SignatureHeader exposes the provider's signature header name to
// transports.
func (c *Coordinator) SignatureHeader(provider webhook.Provider) string {
	return c.validator.SignatureHeader(provider)
}

// Registry exposes the access registry for handlers that manage grants.
func (c *Coordinator) Registry() *access.Registry {
	return c.registry
}

// GrantPermission records an ad-hoc permission grant and audits the
// change. Operator surface.
func (c *Coordinator) GrantPermission(ctx context.Context, principal string, perm access.Permission) {
	c.registry.Grant(ctx, principal, perm)
	c.emit(ctx, func(e *audit.Event) {
		e.Kind = audit.KindPermissionGrant
		e.Principal = principal
		e.Operation = string(perm)
		e.Decision = audit.DecisionAllow
	})
}

// RevokePermission removes an ad-hoc permission grant and audits the
// change. Operator surface.
func (c *Coordinator) RevokePermission(ctx context.Context, principal string, perm access.Permission) {
	c.registry.Revoke(ctx, principal, perm)
	c.emit(ctx, func(e *audit.Event) {
		e.Kind = audit.KindPermissionRevoke
		e.Principal = principal
		e.Operation = string(perm)
		e.Decision = audit.DecisionAllow
	})
}

// emit sends one audit event, best effort.
func (c *Coordinator) emit(ctx context.Context, fill func(*audit.Event)) {
	if c.sink == nil {
		return
	}
	e := audit.NewEvent("")
	fill(&e)
	if err := c.sink.Append(ctx, e); err != nil {
		c.logger.Error("failed to append audit event", "kind", e.Kind, "error", err)
	}
}
