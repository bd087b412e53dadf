package http

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
)

// clientIP extracts the caller's address. When the request was relayed,
// the first hop of X-Forwarded-For is taken as the true client;
// otherwise the connection's remote address is used.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// withDuration records the request duration under the given route label.
func withDuration(metrics *Metrics, route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// adminAuth gates the operator API behind a bearer token verified
// against the configured argon2id hash. An empty hash disables the
// endpoints entirely rather than leaving them open.
//
// Verification cost is dominated by argon2id, so timing reveals nothing
// about how close a guess was.
func adminAuth(tokenHash string, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tokenHash == "" {
			http.NotFound(w, r)
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		match, err := argon2id.ComparePasswordAndHash(token, tokenHash)
		if err != nil || !match {
			logger.Warn("admin authentication failed",
				"source_ip", clientIP(r), "path", r.URL.Path)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}
