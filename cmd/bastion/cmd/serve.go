package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdhttp "net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/bastion-gate/bastion/internal/adapter/inbound/http"
	auditsink "github.com/bastion-gate/bastion/internal/adapter/outbound/audit"
	"github.com/bastion-gate/bastion/internal/adapter/outbound/memory"
	redisstore "github.com/bastion-gate/bastion/internal/adapter/outbound/redis"
	"github.com/bastion-gate/bastion/internal/adapter/outbound/sqlite"
	"github.com/bastion-gate/bastion/internal/config"
	"github.com/bastion-gate/bastion/internal/domain/access"
	"github.com/bastion-gate/bastion/internal/domain/audit"
	"github.com/bastion-gate/bastion/internal/domain/guard"
	"github.com/bastion-gate/bastion/internal/domain/ratelimit"
	"github.com/bastion-gate/bastion/internal/domain/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the perimeter service",
	Long: `Start the Bastion perimeter service.

The service exposes webhook admission on POST /webhook/{provider},
health on GET /healthz, Prometheus metrics on GET /metrics, and the
operator API under /admin/ when admin.token_hash is configured.

Counters live in Redis so multiple instances share one view of every
principal's rate. With --dev and no redis.addr configured, an
in-memory store is used instead.

Examples:
  # Production, Redis configured in bastion.yaml
  bastion serve

  # Local development, in-memory store
  bastion serve --dev`,
	RunE: runServe,
}

var devMode bool

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, in-memory store fallback)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	return run(ctx, cfg, logger)
}

// run wires all components together and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.DevMode {
		logger.Warn("development mode enabled; do not use in production")
	}

	reg := prometheus.NewRegistry()
	metrics := http.NewMetrics(reg)

	// Backing stores: Redis in production, in-memory in dev mode.
	var (
		counters ratelimit.CounterStore
		blocks   guard.BlockStore
		activity guard.ActivityStore
		pinger   http.Pinger
	)
	switch {
	case cfg.Redis.Addr != "":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = client.Close() }()

		store := redisstore.NewStore(client, cfg.Redis.KeyPrefix,
			redisstore.WithTimeout(cfg.Redis.Timeout()))
		counters, blocks, activity, pinger = store, store, store, store

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := store.Ping(pingCtx)
		cancel()
		if err != nil {
			// Not fatal: the limiter fails open and Redis may come up later.
			logger.Warn("redis unreachable at startup", "addr", cfg.Redis.Addr, "error", err)
		} else {
			logger.Info("counter store: redis", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.KeyPrefix)
		}

	case cfg.DevMode:
		counterStore := memory.NewCounterStore()
		counterStore.StartCleanup(ctx)
		defer counterStore.Stop()
		guardStore := memory.NewGuardStore()
		counters, blocks, activity, pinger = counterStore, guardStore, guardStore, counterStore
		logger.Info("counter store: in-memory (dev mode)")

	default:
		return errors.New("redis.addr is required outside dev mode")
	}

	limiter := ratelimit.NewLimiter(counters, logger)

	// Webhook validation and allowlists from provider config.
	secrets := make(map[webhook.Provider]string, len(cfg.Providers))
	allowRules := make(map[webhook.Provider][]string)
	for name, pc := range cfg.Providers {
		secrets[webhook.Provider(name)] = pc.Secret
		if len(pc.Allowlist) > 0 {
			allowRules[webhook.Provider(name)] = pc.Allowlist
		}
	}
	validator, err := webhook.NewValidator(secrets, logger)
	if err != nil {
		return fmt.Errorf("failed to create webhook validator: %w", err)
	}
	allowlist, err := webhook.NewAllowlist(allowRules, logger)
	if err != nil {
		return fmt.Errorf("failed to create allowlist: %w", err)
	}
	logger.Info("webhook providers configured", "count", len(secrets))

	// Access registry: roles from config, ad-hoc grants from SQLite.
	roles := make(map[string]access.Role, len(cfg.Identities))
	for principal, role := range cfg.Identities {
		roles[principal] = access.Role(role)
	}
	identityStore := memory.NewIdentityStore(roles)

	var grants access.GrantStore
	if cfg.GrantsDB != "" {
		grantStore, err := sqlite.Open(cfg.GrantsDB)
		if err != nil {
			return fmt.Errorf("failed to open grant store: %w", err)
		}
		defer func() { _ = grantStore.Close() }()
		grants = grantStore
		logger.Info("grant store: sqlite", "path", cfg.GrantsDB)
	} else {
		grants = memory.NewGrantStore()
		logger.Info("grant store: in-memory")
	}
	registry := access.NewRegistry(identityStore, grants, logger)

	sink, err := createAuditSink(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create audit sink: %w", err)
	}
	defer func() { _ = sink.Close() }()

	coordinator := guard.NewCoordinator(
		limiter, validator, allowlist, registry, blocks, sink,
		guardConfig(cfg), logger,
		guard.WithMetrics(metrics),
		guard.WithActivityStore(activity),
	)

	handler := http.NewHandler(coordinator, pinger, metrics, reg, cfg.Admin.TokenHash, logger)

	server := &stdhttp.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("bastion starting",
		"version", Version,
		"dev_mode", cfg.DevMode,
		"http_addr", cfg.Server.HTTPAddr,
		"providers", len(secrets),
		"identities", len(roles),
		"audit_output", cfg.Audit.Output,
		"admin_api", cfg.Admin.TokenHash != "",
	)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
	if err := sink.Flush(shutdownCtx); err != nil {
		logger.Error("audit flush failed", "error", err)
	}
	logger.Info("bastion stopped")
	return nil
}

// guardConfig converts the second-granularity config into coordinator
// parameters.
func guardConfig(cfg *config.Config) guard.Config {
	gc := guard.Config{
		Primary: ratelimit.Config{
			Limit:  cfg.RateLimit.DefaultLimit,
			Window: time.Duration(cfg.RateLimit.DefaultWindowSeconds) * time.Second,
		},
		Spam: ratelimit.Config{
			Limit:  cfg.RateLimit.SpamLimit,
			Window: time.Duration(cfg.RateLimit.SpamWindowSeconds) * time.Second,
		},
		BlockDuration: time.Duration(cfg.RateLimit.BlockDurationSeconds) * time.Second,
		ActivityTTL:   time.Duration(cfg.RateLimit.ActivityTTLSeconds) * time.Second,
	}
	if len(cfg.RateLimit.Operations) > 0 {
		gc.Operations = make(map[string]ratelimit.Config, len(cfg.RateLimit.Operations))
		for _, op := range cfg.RateLimit.Operations {
			gc.Operations[op.Operation] = ratelimit.Config{
				Limit:  op.Limit,
				Window: time.Duration(op.WindowSeconds) * time.Second,
			}
		}
	}
	return gc
}

// createAuditSink creates an audit sink based on configuration.
func createAuditSink(cfg *config.Config, logger *slog.Logger) (audit.Sink, error) {
	switch {
	case cfg.Audit.Output == "stdout":
		logger.Debug("audit output: stdout")
		return auditsink.NewWriterSink(os.Stdout), nil

	case cfg.Audit.Output == "log":
		logger.Debug("audit output: service logger")
		return auditsink.NewLogSink(logger), nil

	case strings.HasPrefix(cfg.Audit.Output, "file://"):
		dir := parseFileURI(cfg.Audit.Output)
		if dir == "" {
			return nil, fmt.Errorf("invalid audit file URI: %s", cfg.Audit.Output)
		}
		logger.Debug("audit output: file", "dir", dir, "retention_days", cfg.Audit.RetentionDays)
		return auditsink.NewFileSink(auditsink.FileSinkConfig{
			Dir:           dir,
			RetentionDays: cfg.Audit.RetentionDays,
		}, logger)

	default:
		return nil, fmt.Errorf("invalid audit output: %s (must be 'stdout', 'log' or 'file://dir')", cfg.Audit.Output)
	}
}

// parseFileURI extracts the path from a file:// URI.
func parseFileURI(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
