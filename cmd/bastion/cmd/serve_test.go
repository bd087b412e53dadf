package cmd

import (
	"log/slog"
	"os"
	"testing"
	"time"

	auditsink "github.com/bastion-gate/bastion/internal/adapter/outbound/audit"
	"github.com/bastion-gate/bastion/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.input); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestGuardConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.RateLimit.Operations = []config.OperationLimit{
		{Operation: "send_broadcast", Limit: 3, WindowSeconds: 300},
	}

	gc := guardConfig(&cfg)

	if gc.Primary.Limit != 20 || gc.Primary.Window != time.Minute {
		t.Errorf("Primary = %+v, want limit 20 window 1m", gc.Primary)
	}
	if gc.Spam.Limit != 100 || gc.Spam.Window != time.Hour {
		t.Errorf("Spam = %+v, want limit 100 window 1h", gc.Spam)
	}
	if gc.BlockDuration != time.Hour {
		t.Errorf("BlockDuration = %v, want 1h", gc.BlockDuration)
	}
	if gc.ActivityTTL != 24*time.Hour {
		t.Errorf("ActivityTTL = %v, want 24h", gc.ActivityTTL)
	}

	op, ok := gc.Operations["send_broadcast"]
	if !ok {
		t.Fatal("send_broadcast override missing")
	}
	if op.Limit != 3 || op.Window != 5*time.Minute {
		t.Errorf("override = %+v, want limit 3 window 5m", op)
	}
}

func TestCreateAuditSink(t *testing.T) {
	t.Parallel()

	t.Run("stdout", func(t *testing.T) {
		cfg := config.Default()
		sink, err := createAuditSink(&cfg, testLogger())
		if err != nil {
			t.Fatalf("createAuditSink() error: %v", err)
		}
		defer sink.Close()
		if _, ok := sink.(*auditsink.WriterSink); !ok {
			t.Errorf("sink = %T, want *audit.WriterSink", sink)
		}
	})

	t.Run("log", func(t *testing.T) {
		cfg := config.Default()
		cfg.Audit.Output = "log"
		sink, err := createAuditSink(&cfg, testLogger())
		if err != nil {
			t.Fatalf("createAuditSink() error: %v", err)
		}
		defer sink.Close()
		if _, ok := sink.(*auditsink.LogSink); !ok {
			t.Errorf("sink = %T, want *audit.LogSink", sink)
		}
	})

	t.Run("file", func(t *testing.T) {
		cfg := config.Default()
		cfg.Audit.Output = "file://" + t.TempDir()
		sink, err := createAuditSink(&cfg, testLogger())
		if err != nil {
			t.Fatalf("createAuditSink() error: %v", err)
		}
		defer sink.Close()
		if _, ok := sink.(*auditsink.FileSink); !ok {
			t.Errorf("sink = %T, want *audit.FileSink", sink)
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		cfg := config.Default()
		cfg.Audit.Output = "syslog"
		if _, err := createAuditSink(&cfg, testLogger()); err == nil {
			t.Error("createAuditSink() should reject unsupported outputs")
		}
	})
}

func TestParseFileURI(t *testing.T) {
	t.Parallel()

	if got := parseFileURI("file:///var/log/bastion"); got != "/var/log/bastion" {
		t.Errorf("parseFileURI() = %q, want /var/log/bastion", got)
	}
	if got := parseFileURI("file://"); got != "" {
		t.Errorf("parseFileURI() on empty path = %q, want empty", got)
	}
}
