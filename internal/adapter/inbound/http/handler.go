package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bastion-gate/bastion/internal/domain/access"
	"github.com/bastion-gate/bastion/internal/domain/guard"
	"github.com/bastion-gate/bastion/internal/domain/webhook"
)

// maxWebhookBody bounds how much payload is read per webhook request.
const maxWebhookBody = 1 << 20 // 1 MiB

// Pinger reports backing-store health for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler is the inbound HTTP surface: webhook admission, health,
// metrics and the operator API.
type Handler struct {
	coordinator *guard.Coordinator
	store       Pinger
	metrics     *Metrics
	logger      *slog.Logger
	mux         *http.ServeMux
}

// NewHandler wires the routes. adminTokenHash may be empty, which
// disables the operator API. registry selects the metrics registry,
// usually prometheus.DefaultRegisterer's backing registry.
func NewHandler(
	coordinator *guard.Coordinator,
	store Pinger,
	metrics *Metrics,
	registry *prometheus.Registry,
	adminTokenHash string,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		coordinator: coordinator,
		store:       store,
		metrics:     metrics,
		logger:      logger,
		mux:         http.NewServeMux(),
	}

	h.mux.Handle("POST /webhook/{provider}",
		withDuration(metrics, "webhook", http.HandlerFunc(h.handleWebhook)))
	h.mux.HandleFunc("GET /healthz", h.handleHealth)
	h.mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	admin := http.NewServeMux()
	admin.HandleFunc("GET /admin/principals/{id}/stats", h.handlePrincipalStats)
	admin.HandleFunc("POST /admin/principals/{id}/unblock", h.handleUnblock)
	admin.HandleFunc("PUT /admin/principals/{id}/grants/{permission}", h.handleGrant)
	admin.HandleFunc("DELETE /admin/principals/{id}/grants/{permission}", h.handleRevoke)
	admin.HandleFunc("POST /admin/ratelimit/{key}/reset", h.handleRateLimitReset)
	h.mux.Handle("/admin/", adminAuth(adminTokenHash, logger, admin))

	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// handleWebhook admits one provider webhook through the coordinator.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := webhook.Provider(r.PathValue("provider"))
	sourceIP := clientIP(r)

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Warn("failed to read webhook body",
			"provider", provider, "source_ip", sourceIP, "error", err)
		writeDecision(w, guard.Decision{Outcome: guard.OutcomeMalformedPayload})
		return
	}

	signature := r.Header.Get(h.coordinator.SignatureHeader(provider))
	decision := h.coordinator.AdmitWebhook(r.Context(), provider, sourceIP, payload, signature)

	if decision.Allowed {
		h.coordinator.RecordActivity(r.Context(),
			string(provider)+":"+sourceIP, "webhook:"+string(provider), payload)
	}
	writeDecision(w, decision)
}

// statusFor maps decision outcomes to HTTP status codes.
func statusFor(d guard.Decision) int {
	switch d.Outcome {
	case guard.OutcomeAllowed:
		return http.StatusOK
	case guard.OutcomeMalformedPayload:
		return http.StatusBadRequest
	case guard.OutcomeInvalidSignature, guard.OutcomeReplayDetected:
		return http.StatusUnauthorized
	case guard.OutcomeIPNotAllowed:
		return http.StatusForbidden
	case guard.OutcomeUnknownProvider:
		return http.StatusNotFound
	case guard.OutcomeRateLimited, guard.OutcomeBlocked:
		return http.StatusTooManyRequests
	default:
		return http.StatusForbidden
	}
}

// writeDecision renders a decision. Bodies carry only the safe message;
// internal reasons stay in logs and audit.
func writeDecision(w http.ResponseWriter, d guard.Decision) {
	if d.RetryAfter > 0 {
		w.Header().Set("Retry-After", retryAfterSeconds(d.RetryAfter))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(d))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  string(d.Outcome),
		"message": guard.SafeMessage(d),
	})
}

// handleHealth pings the backing store.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Error("health check failed", "error", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handlePrincipalStats returns the principal's throttling diagnostics.
func (h *Handler) handlePrincipalStats(w http.ResponseWriter, r *http.Request) {
	stats := h.coordinator.Stats(r.Context(), r.PathValue("id"))
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		h.logger.Error("failed to encode principal stats", "error", err)
	}
}

// handleUnblock lifts a principal's temporary block.
func (h *Handler) handleUnblock(w http.ResponseWriter, r *http.Request) {
	principal := r.PathValue("id")
	if err := h.coordinator.Unblock(r.Context(), principal); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"unblocked"}`))
}

// handleGrant records an ad-hoc permission grant for a principal.
func (h *Handler) handleGrant(w http.ResponseWriter, r *http.Request) {
	perm := access.Permission(r.PathValue("permission"))
	if !perm.IsValid() {
		http.Error(w, "unknown permission", http.StatusBadRequest)
		return
	}
	h.coordinator.GrantPermission(r.Context(), r.PathValue("id"), perm)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"granted"}`))
}

// handleRevoke removes an ad-hoc permission grant.
func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	perm := access.Permission(r.PathValue("permission"))
	if !perm.IsValid() {
		http.Error(w, "unknown permission", http.StatusBadRequest)
		return
	}
	h.coordinator.RevokePermission(r.Context(), r.PathValue("id"), perm)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"revoked"}`))
}

// handleRateLimitReset clears one rate-limit key.
func (h *Handler) handleRateLimitReset(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := h.coordinator.ResetKey(r.Context(), key); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"reset"}`))
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
