// Package handoff delivers escalation packages to human operators. The file
// sink appends NDJSON, one package per line, to a per-session file and
// optionally to a single global feed that downstream tooling can tail.
package handoff

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/careline/concierge/internal/domain"
)

// Config controls the file sink.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// FileSink writes handoff packages asynchronously. Emit never blocks the
// conversational turn: a full queue drops the package and logs the loss.
type FileSink struct {
	cfg       Config
	logger    *slog.Logger
	queue     chan *domain.HandoffPackage
	done      chan struct{}
	closeOnce sync.Once
}

var fileNameSanitizer = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// NewFileSink creates the sink and starts its writer goroutine.
func NewFileSink(cfg Config, logger *slog.Logger) (*FileSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating handoff dir: %w", err)
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating global handoff dir: %w", err)
		}
	}

	s := &FileSink{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan *domain.HandoffPackage, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Emit implements orchestrator.HandoffSink.
func (s *FileSink) Emit(pkg *domain.HandoffPackage) {
	select {
	case s.queue <- pkg:
	default:
		s.logger.Warn("handoff queue full, dropping package",
			"handoff_id", pkg.ID, "session_id", pkg.SessionID)
	}
}

// Close drains the queue and stops the writer.
func (s *FileSink) Close() error {
	s.closeOnce.Do(func() { close(s.queue) })
	<-s.done
	return nil
}

func (s *FileSink) run() {
	defer close(s.done)
	for pkg := range s.queue {
		s.write(pkg)
	}
}

func (s *FileSink) write(pkg *domain.HandoffPackage) {
	line, err := json.Marshal(pkg)
	if err != nil {
		s.logger.Error("failed to marshal handoff package",
			"handoff_id", pkg.ID, "error", err)
		return
	}
	line = append(line, '\n')

	path := filepath.Join(s.cfg.Dir, sanitizeFileName(pkg.SessionID)+".ndjson")
	if err := appendLine(path, line); err != nil {
		s.logger.Error("failed to write handoff package",
			"handoff_id", pkg.ID, "path", path, "error", err)
	}
	if s.cfg.GlobalEnabled {
		if err := appendLine(s.cfg.GlobalPath, line); err != nil {
			s.logger.Error("failed to write global handoff feed",
				"handoff_id", pkg.ID, "path", s.cfg.GlobalPath, "error", err)
		}
	}
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = f.Write(line)
	return err
}

// sanitizeFileName keeps session-derived file names safe for the filesystem.
func sanitizeFileName(name string) string {
	clean := fileNameSanitizer.ReplaceAllString(name, "_")
	if clean == "" || clean == "." || clean == ".." {
		return "session"
	}
	return clean
}

// NoopSink discards packages. Used when file delivery is disabled.
type NoopSink struct{}

// Emit implements orchestrator.HandoffSink.
func (NoopSink) Emit(*domain.HandoffPackage) {}
