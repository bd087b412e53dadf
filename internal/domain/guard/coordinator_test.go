package guard_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/bastion-gate/bastion/internal/adapter/outbound/memory"
	"github.com/bastion-gate/bastion/internal/domain/access"
	"github.com/bastion-gate/bastion/internal/domain/audit"
	"github.com/bastion-gate/bastion/internal/domain/guard"
	"github.com/bastion-gate/bastion/internal/domain/ratelimit"
	"github.com/bastion-gate/bastion/internal/domain/webhook"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// harness bundles a coordinator with its in-memory collaborators.
type harness struct {
	coordinator *guard.Coordinator
	counters    *memory.CounterStore
	guardStore  *memory.GuardStore
	sink        *memory.AuditSink
	identities  *memory.IdentityStore
}

func newHarness(t *testing.T, cfg guard.Config) *harness {
	t.Helper()

	counters := memory.NewCounterStore()
	guardStore := memory.NewGuardStore()
	sink := memory.NewAuditSink()
	identities := memory.NewIdentityStore(map[string]access.Role{
		"mod-1":   access.RoleModerator,
		"admin-1": access.RoleAdmin,
	})

	limiter := ratelimit.NewLimiter(counters, testLogger())
	validator, err := webhook.NewValidator(map[webhook.Provider]string{
		webhook.ProviderStars:   "stars-token",
		webhook.ProviderTribute: "tribute-secret",
	}, testLogger())
	if err != nil {
		t.Fatalf("NewValidator() error: %v", err)
	}
	allowlist, err := webhook.NewAllowlist(nil, testLogger())
	if err != nil {
		t.Fatalf("NewAllowlist() error: %v", err)
	}
	registry := access.NewRegistry(identities, memory.NewGrantStore(), testLogger())

	return &harness{
		coordinator: guard.NewCoordinator(
			limiter, validator, allowlist, registry, guardStore, sink, cfg, testLogger(),
			guard.WithActivityStore(guardStore),
		),
		counters:   counters,
		guardStore: guardStore,
		sink:       sink,
		identities: identities,
	}
}

func escalationConfig() guard.Config {
	return guard.Config{
		Primary:       ratelimit.Config{Limit: 5, Window: time.Minute},
		Spam:          ratelimit.Config{Limit: 7, Window: time.Hour},
		BlockDuration: time.Hour,
		ActivityTTL:   time.Hour,
	}
}

func TestCoordinator_EscalationSequence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, escalationConfig())

	// Primary 5/min, spam 7/hour. Every admitted request feeds the spam
	// window; every rejection re-checks it. The ninth request lands on
	// an existing block record.
	wantOutcomes := []guard.Outcome{
		guard.OutcomeAllowed, guard.OutcomeAllowed, guard.OutcomeAllowed,
		guard.OutcomeAllowed, guard.OutcomeAllowed,
		guard.OutcomeRateLimited, guard.OutcomeRateLimited,
		guard.OutcomeBlocked,
		guard.OutcomeBlocked,
	}

	for i, want := range wantOutcomes {
		d := h.coordinator.Authorize(ctx, "mod-1", "send_message")
		if d.Outcome != want {
			t.Fatalf("request %d outcome = %s, want %s", i+1, d.Outcome, want)
		}
		if want == guard.OutcomeAllowed && !d.Allowed {
			t.Fatalf("request %d Allowed = false for allowed outcome", i+1)
		}
		if want != guard.OutcomeAllowed && d.Allowed {
			t.Fatalf("request %d Allowed = true for outcome %s", i+1, want)
		}
		if (want == guard.OutcomeRateLimited || want == guard.OutcomeBlocked) && d.RetryAfter <= 0 {
			t.Fatalf("request %d RetryAfter = %v, want > 0", i+1, d.RetryAfter)
		}
	}

	// The escalation produced exactly one block audit event.
	var blockEvents int
	for _, e := range h.sink.Events() {
		if e.Kind == audit.KindBlocked {
			blockEvents++
			if e.Principal != "mod-1" {
				t.Errorf("block event principal = %q, want mod-1", e.Principal)
			}
		}
	}
	if blockEvents != 1 {
		t.Errorf("block audit events = %d, want 1", blockEvents)
	}
}

func TestCoordinator_UnderPrimaryNeverBlocked(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := escalationConfig()
	cfg.Primary = ratelimit.Config{Limit: 1000, Window: time.Minute}
	cfg.Spam = ratelimit.Config{Limit: 3, Window: time.Hour}
	h := newHarness(t, cfg)

	// The spam window fills far past its limit, but the spam budget is
	// only consulted on primary rejection. A principal under the primary
	// limit is never escalated regardless of cumulative volume.
	for i := 0; i < 20; i++ {
		d := h.coordinator.Authorize(ctx, "mod-1", "send_message")
		if d.Outcome != guard.OutcomeAllowed {
			t.Fatalf("request %d outcome = %s, want allowed", i+1, d.Outcome)
		}
	}

	blocked, _, err := h.guardStore.IsBlocked(ctx, "mod-1")
	if err != nil {
		t.Fatalf("IsBlocked() error: %v", err)
	}
	if blocked {
		t.Error("principal under the primary limit must never be blocked")
	}
}

func TestCoordinator_PermissionGate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, escalationConfig())

	d := h.coordinator.Authorize(ctx, "mod-1", "refund", access.PermRefundPayments)
	if d.Allowed || d.Outcome != guard.OutcomeForbidden {
		t.Fatalf("Authorize() = %+v, want forbidden", d)
	}
	// The safe message must not reveal which permission was missing.
	if msg := guard.SafeMessage(d); msg != "Access denied." {
		t.Errorf("SafeMessage() = %q, want generic denial", msg)
	}

	d = h.coordinator.Authorize(ctx, "admin-1", "ban", access.PermBanUsers)
	if !d.Allowed {
		t.Fatalf("Authorize() admin with held permission = %+v, want allowed", d)
	}

	var denied int
	for _, e := range h.sink.Events() {
		if e.Kind == audit.KindPermissionDenied {
			denied++
		}
	}
	if denied != 1 {
		t.Errorf("permission-denied audit events = %d, want 1", denied)
	}
}

func TestCoordinator_OperationOverride(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := escalationConfig()
	cfg.Operations = map[string]ratelimit.Config{
		"broadcast": {Limit: 1, Window: time.Minute},
	}
	h := newHarness(t, cfg)

	// The override applies to its own bucket only.
	if d := h.coordinator.Authorize(ctx, "mod-1", "broadcast"); d.Outcome != guard.OutcomeAllowed {
		t.Fatalf("first broadcast = %s, want allowed", d.Outcome)
	}
	if d := h.coordinator.Authorize(ctx, "mod-1", "broadcast"); d.Outcome != guard.OutcomeRateLimited {
		t.Fatalf("second broadcast = %s, want rate_limited", d.Outcome)
	}
	if d := h.coordinator.Authorize(ctx, "mod-1", "send_message"); d.Outcome != guard.OutcomeAllowed {
		t.Errorf("send_message = %s, want allowed (separate bucket)", d.Outcome)
	}
}

func TestCoordinator_UnblockRestoresAccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := escalationConfig()
	cfg.Primary = ratelimit.Config{Limit: 1, Window: time.Minute}
	cfg.Spam = ratelimit.Config{Limit: 1, Window: time.Hour}
	h := newHarness(t, cfg)

	h.coordinator.Authorize(ctx, "mod-1", "op")
	h.coordinator.Authorize(ctx, "mod-1", "op")
	if d := h.coordinator.Authorize(ctx, "mod-1", "op"); d.Outcome != guard.OutcomeBlocked {
		t.Fatalf("outcome = %s, want blocked", d.Outcome)
	}

	if err := h.coordinator.Unblock(ctx, "mod-1"); err != nil {
		t.Fatalf("Unblock() error: %v", err)
	}
	if blocked, _, _ := h.guardStore.IsBlocked(ctx, "mod-1"); blocked {
		t.Fatal("block record should be gone after Unblock")
	}

	// Unblock lifts only the block; the exhausted windows re-block on
	// the next rejection until they are reset as well.
	if err := h.coordinator.ResetKey(ctx, ratelimit.FormatKey(ratelimit.KeyTypePrincipal, "mod-1")); err != nil {
		t.Fatalf("ResetKey(primary) error: %v", err)
	}
	if err := h.coordinator.ResetKey(ctx, ratelimit.FormatKey(ratelimit.KeyTypeSpam, "mod-1")); err != nil {
		t.Fatalf("ResetKey(spam) error: %v", err)
	}
	if d := h.coordinator.Authorize(ctx, "mod-1", "op"); d.Outcome != guard.OutcomeAllowed {
		t.Errorf("outcome after unblock and reset = %s, want allowed", d.Outcome)
	}
}

func signStarsWebhook() (payload []byte, signature string) {
	return []byte(`{"update_id": 1}`), "stars-token"
}

func TestCoordinator_AdmitWebhook(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, escalationConfig())
	payload, sig := signStarsWebhook()

	// Telegram's published network.
	d := h.coordinator.AdmitWebhook(ctx, webhook.ProviderStars, "149.154.167.220", payload, sig)
	if !d.Allowed || d.Outcome != guard.OutcomeAllowed {
		t.Fatalf("AdmitWebhook() = %+v, want allowed", d)
	}

	// Allowlist runs before the signature check.
	d = h.coordinator.AdmitWebhook(ctx, webhook.ProviderStars, "8.8.8.8", payload, sig)
	if d.Outcome != guard.OutcomeIPNotAllowed {
		t.Errorf("outcome from foreign address = %s, want ip_not_allowed", d.Outcome)
	}

	d = h.coordinator.AdmitWebhook(ctx, webhook.ProviderStars, "149.154.167.220", payload, "wrong-token")
	if d.Outcome != guard.OutcomeInvalidSignature {
		t.Errorf("outcome with wrong token = %s, want invalid_signature", d.Outcome)
	}

	// Unconfigured and unknown providers are indistinguishable.
	d = h.coordinator.AdmitWebhook(ctx, webhook.ProviderYooKassa, "185.71.76.5", payload, sig)
	if d.Outcome != guard.OutcomeUnknownProvider {
		t.Errorf("outcome for unconfigured provider = %s, want unknown_provider", d.Outcome)
	}
	d = h.coordinator.AdmitWebhook(ctx, webhook.Provider("bogus"), "1.2.3.4", payload, sig)
	if d.Outcome != guard.OutcomeUnknownProvider {
		t.Errorf("outcome for unknown provider = %s, want unknown_provider", d.Outcome)
	}

	var sigFailures int
	for _, e := range h.sink.Events() {
		if e.Kind == audit.KindSignatureFailed {
			sigFailures++
			if e.Provider != string(webhook.ProviderStars) {
				t.Errorf("signature-failure event provider = %q, want stars", e.Provider)
			}
		}
	}
	if sigFailures != 1 {
		t.Errorf("signature-failure audit events = %d, want 1", sigFailures)
	}
}

func TestCoordinator_WebhookEscalatesPerCaller(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := escalationConfig()
	cfg.Primary = ratelimit.Config{Limit: 2, Window: time.Minute}
	h := newHarness(t, cfg)

	canonical, _ := webhook.CanonicalJSON([]byte(`{"a": 1}`))
	mac := hmac.New(sha256.New, []byte("tribute-secret"))
	mac.Write(canonical)
	sig := hex.EncodeToString(mac.Sum(nil))
	payload := []byte(`{"a": 1}`)

	// Tribute admits any source address; throttling is per provider+IP.
	for i := 0; i < 2; i++ {
		d := h.coordinator.AdmitWebhook(ctx, webhook.ProviderTribute, "203.0.113.7", payload, sig)
		if d.Outcome != guard.OutcomeAllowed {
			t.Fatalf("webhook %d outcome = %s, want allowed", i+1, d.Outcome)
		}
	}
	d := h.coordinator.AdmitWebhook(ctx, webhook.ProviderTribute, "203.0.113.7", payload, sig)
	if d.Outcome != guard.OutcomeRateLimited {
		t.Errorf("third webhook from same address = %s, want rate_limited", d.Outcome)
	}

	// A different source address gets a fresh bucket.
	d = h.coordinator.AdmitWebhook(ctx, webhook.ProviderTribute, "203.0.113.8", payload, sig)
	if d.Outcome != guard.OutcomeAllowed {
		t.Errorf("webhook from new address = %s, want allowed", d.Outcome)
	}
}

// failingBlockStore always errors; exercises the fail-open path.
type failingBlockStore struct{}

func (failingBlockStore) SetBlock(ctx context.Context, principal string, d time.Duration) error {
	return errors.New("store down")
}

func (failingBlockStore) IsBlocked(ctx context.Context, principal string) (bool, time.Duration, error) {
	return false, 0, errors.New("store down")
}

func (failingBlockStore) ClearBlock(ctx context.Context, principal string) error {
	return errors.New("store down")
}

func TestCoordinator_BlockCheckFailsOpen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	counters := memory.NewCounterStore()
	limiter := ratelimit.NewLimiter(counters, testLogger())
	validator, _ := webhook.NewValidator(nil, testLogger())
	allowlist, _ := webhook.NewAllowlist(nil, testLogger())
	identities := memory.NewIdentityStore(nil)
	registry := access.NewRegistry(identities, nil, testLogger())

	c := guard.NewCoordinator(
		limiter, validator, allowlist, registry, failingBlockStore{}, nil,
		escalationConfig(), testLogger(),
	)

	// A block-store fault must not wedge the service; the window checks
	// still apply.
	if d := c.Authorize(ctx, "u-1", "op"); d.Outcome != guard.OutcomeAllowed {
		t.Errorf("Authorize() with failing block store = %s, want allowed", d.Outcome)
	}
}

func TestCoordinator_StatsSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, escalationConfig())

	h.coordinator.Authorize(ctx, "mod-1", "send_message")
	h.coordinator.Authorize(ctx, "mod-1", "send_message")

	stats := h.coordinator.Stats(ctx, "mod-1")
	if stats.Principal != "mod-1" {
		t.Errorf("Principal = %q, want mod-1", stats.Principal)
	}
	if stats.Primary.Count != 2 {
		t.Errorf("Primary.Count = %d, want 2", stats.Primary.Count)
	}
	if stats.Spam.Count != 2 {
		t.Errorf("Spam.Count = %d, want 2", stats.Spam.Count)
	}
	if stats.Blocked {
		t.Error("Blocked = true, want false")
	}
	if stats.LastActivity == nil || stats.LastActivity.Kind != "send_message" {
		t.Errorf("LastActivity = %+v, want send_message record", stats.LastActivity)
	}
}

func TestCoordinator_RecordActivityDigest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, escalationConfig())

	payload := []byte(`{"text": "hello"}`)
	h.coordinator.RecordActivity(ctx, "mod-1", "message", payload)

	rec, ok, err := h.guardStore.LastActivity(ctx, "mod-1")
	if err != nil || !ok {
		t.Fatalf("LastActivity() = %v, %v", ok, err)
	}
	if rec.Kind != "message" || rec.Summary != string(payload) {
		t.Errorf("record = %+v, want kind/summary from payload", rec)
	}
	if rec.Digest == "" {
		t.Error("Digest should be populated")
	}

	// Identical payloads share a digest; different payloads do not.
	h.coordinator.RecordActivity(ctx, "admin-1", "message", payload)
	other, _, _ := h.guardStore.LastActivity(ctx, "admin-1")
	if other.Digest != rec.Digest {
		t.Error("same payload should produce the same digest")
	}
	h.coordinator.RecordActivity(ctx, "admin-1", "message", []byte("different"))
	other, _, _ = h.guardStore.LastActivity(ctx, "admin-1")
	if other.Digest == rec.Digest {
		t.Error("different payloads should produce different digests")
	}
}

func TestCoordinator_GrantRevokeAudited(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, escalationConfig())

	h.coordinator.GrantPermission(ctx, "mod-1", access.PermRefundPayments)
	if !h.coordinator.Registry().HasPermission(ctx, "mod-1", access.PermRefundPayments) {
		t.Fatal("grant should take effect immediately")
	}

	h.coordinator.RevokePermission(ctx, "mod-1", access.PermRefundPayments)
	if h.coordinator.Registry().HasPermission(ctx, "mod-1", access.PermRefundPayments) {
		t.Fatal("revoke should take effect immediately")
	}

	var grants, revokes int
	for _, e := range h.sink.Events() {
		switch e.Kind {
		case audit.KindPermissionGrant:
			grants++
			if e.Principal != "mod-1" || e.Operation != string(access.PermRefundPayments) {
				t.Errorf("grant event = %+v", e)
			}
		case audit.KindPermissionRevoke:
			revokes++
		}
	}
	if grants != 1 || revokes != 1 {
		t.Errorf("audit events: %d grants, %d revokes, want 1 each", grants, revokes)
	}
}
