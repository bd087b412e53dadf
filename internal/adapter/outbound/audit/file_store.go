// Package audit provides file-based audit persistence in JSON Lines
// format with daily rotation and retention cleanup.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/bastion-gate/bastion/internal/domain/audit"
)

// auditFilePattern matches rotated audit files: audit-2024-01-02.jsonl
var auditFilePattern = regexp.MustCompile(`^audit-(\d{4}-\d{2}-\d{2})\.jsonl$`)

// FileSinkConfig holds configuration for the file sink.
type FileSinkConfig struct {
	// Dir is the directory audit files are written to.
	Dir string
	// RetentionDays is how many days of files to keep (default 7).
	RetentionDays int
}

// FileSink writes security events as JSON Lines, one file per UTC day,
// deleting files older than the retention window on rotation.
type FileSink struct {
	cfg    FileSinkConfig
	logger *slog.Logger

	mu   sync.Mutex
	file *os.File
	day  string
}

// NewFileSink creates the sink and its directory.
func NewFileSink(cfg FileSinkConfig, logger *slog.Logger) (*FileSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &FileSink{cfg: cfg, logger: logger}, nil
}

// Append writes events to the current day's file, rotating first when
// the UTC day has changed.
func (s *FileSink) Append(ctx context.Context, events ...audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := time.Now().UTC().Format("2006-01-02")
	if s.file == nil || day != s.day {
		if err := s.rotate(day); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(s.file)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("append audit event: %w", err)
		}
	}
	return nil
}

// rotate opens the new day's file and sweeps expired ones.
// Caller must hold mu.
func (s *FileSink) rotate(day string) error {
	if s.file != nil {
		s.file.Close()
	}
	path := filepath.Join(s.cfg.Dir, "audit-"+day+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	s.file = f
	s.day = day
	s.sweep()
	return nil
}

// sweep deletes audit files older than the retention window.
// Caller must hold mu.
func (s *FileSink) sweep() {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.RetentionDays).Format("2006-01-02")
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		s.logger.Error("audit retention sweep failed", "error", err)
		return
	}
	for _, entry := range entries {
		m := auditFilePattern.FindStringSubmatch(entry.Name())
		if m == nil || m[1] >= cutoff {
			continue
		}
		path := filepath.Join(s.cfg.Dir, entry.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Error("failed to remove expired audit file",
				"file", path, "error", err)
		} else {
			s.logger.Info("expired audit file removed", "file", path)
		}
	}
}

// Flush syncs the current file to disk.
func (s *FileSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	return s.file.Sync()
}

// Close releases the current file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// WriterSink writes events as JSON Lines to an arbitrary writer,
// typically stdout. No rotation or retention.
type WriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriterSink creates a sink over w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{enc: json.NewEncoder(w)}
}

// Append writes events to the writer.
func (s *WriterSink) Append(ctx context.Context, events ...audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		if err := s.enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

// Flush is a no-op; the encoder writes through.
func (s *WriterSink) Flush(ctx context.Context) error { return nil }

// Close is a no-op; the sink does not own the writer.
func (s *WriterSink) Close() error { return nil }
