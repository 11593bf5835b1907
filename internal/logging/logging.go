// Package logging configures the run logger: a leveled, timestamped
// slog text handler writing to stderr and to a per-run log file under
// OUTPUT/logs/, with the file sink size-capped by lumberjack.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures Setup.
type Options struct {
	// OutputDir is the run output root; the log file is created in
	// OutputDir/logs/.
	OutputDir string

	// Verbose lowers the level from Info to Debug.
	Verbose bool

	// MaxSizeMB and MaxBackups bound the file sink.
	MaxSizeMB  int
	MaxBackups int

	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// Setup creates the run logger. Returns the logger and the log file path.
func Setup(opts Options) (*slog.Logger, string, error) {
	logDir := filepath.Join(opts.OutputDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, "", err
	}

	now := time.Now
	if opts.Clock != nil {
		now = opts.Clock
	}
	logFile := filepath.Join(logDir, "mriqc-nidm-"+now().Format("20060102-150405")+".log")

	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 50
	}
	sink := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    maxSize,
		MaxBackups: opts.MaxBackups,
	}

	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(io.MultiWriter(os.Stderr, sink), &slog.HandlerOptions{Level: level})
	return slog.New(handler), logFile, nil
}
