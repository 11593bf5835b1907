package nidm

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// DefaultTimeout bounds one csv2nidm invocation.
const DefaultTimeout = 300 * time.Second

// Converter wraps the external csv2nidm command-line tool.
type Converter struct {
	// Command is the executable name or path, normally "csv2nidm".
	Command string

	// DictionaryCSV maps metric column names to semantic labels. The
	// same dictionary is passed to every invocation.
	DictionaryCSV string

	// Timeout is the per-invocation ceiling; DefaultTimeout when zero.
	Timeout time.Duration

	Logger *slog.Logger
}

// NewConverter builds a Converter.
func NewConverter(command, dictionaryCSV string, timeout time.Duration, logger *slog.Logger) *Converter {
	if command == "" {
		command = "csv2nidm"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Converter{Command: command, DictionaryCSV: dictionaryCSV, Timeout: timeout, Logger: logger}
}

// Available reports whether the csv2nidm binary resolves on the
// execution path.
func (c *Converter) Available() bool {
	_, err := exec.LookPath(c.Command)
	return err == nil
}

// Request describes one CSV→NIDM conversion.
//
// Exactly one of the two modes applies: when ExistingNIDM is set the
// tool augments that graph in place; otherwise it creates OutputTTL.
type Request struct {
	// CSVFile is the reshaped metric row.
	CSVFile string

	// SoftwareCSV is the single-row derivative provenance table.
	SoftwareCSV string

	// OutputTTL is the graph file to create (create mode only).
	OutputTTL string

	// ExistingNIDM is the graph file to augment (augment mode only).
	ExistingNIDM string
}

// Convert runs one csv2nidm invocation. Nonzero exit, timeout, and
// launch failure all surface as ErrToolFailure (with ErrTimeout also
// matching for the timeout case). There are no retries.
func (c *Converter) Convert(ctx context.Context, req Request) error {
	if !c.Available() {
		return fmt.Errorf("%w: %s", ErrToolNotAvailable, c.Command)
	}

	for _, in := range []struct{ path, desc string }{
		{req.CSVFile, "CSV file"},
		{c.DictionaryCSV, "dictionary CSV"},
		{req.SoftwareCSV, "software metadata CSV"},
	} {
		if _, err := os.Stat(in.path); err != nil {
			return fmt.Errorf("%s not found: %s", in.desc, in.path)
		}
	}
	if req.ExistingNIDM != "" {
		if _, err := os.Stat(req.ExistingNIDM); err != nil {
			return fmt.Errorf("existing NIDM file not found: %s", req.ExistingNIDM)
		}
	}

	args := make([]string, 0, 10)
	if req.ExistingNIDM != "" {
		args = append(args, "-nidm", req.ExistingNIDM)
		c.Logger.Info("augmenting existing NIDM", "path", req.ExistingNIDM)
	} else {
		if err := os.MkdirAll(filepath.Dir(req.OutputTTL), 0o755); err != nil {
			return err
		}
		args = append(args, "-out", req.OutputTTL)
		c.Logger.Info("creating new NIDM", "path", req.OutputTTL)
	}
	args = append(args,
		"-csv", req.CSVFile,
		"-csv_map", c.DictionaryCSV,
		"-derivative", req.SoftwareCSV,
		"-no_concepts",
	)

	c.Logger.Debug("executing command", "command", c.Command, "args", strings.Join(args, " "))

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		c.Logger.Error("csv2nidm timed out", "timeout", c.Timeout)
		return fmt.Errorf("%w after %s: %w", ErrTimeout, c.Timeout, ErrToolFailure)
	}
	if err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		c.Logger.Error("csv2nidm failed", "error", err, "stderr", detail)
		if detail != "" {
			return fmt.Errorf("%w: %v: %s", ErrToolFailure, err, detail)
		}
		return fmt.Errorf("%w: %v", ErrToolFailure, err)
	}

	if req.ExistingNIDM != "" {
		c.Logger.Info("augmented NIDM with MRIQC data", "path", req.ExistingNIDM)
	} else {
		c.Logger.Info("created NIDM", "path", req.OutputTTL)
	}
	if out := strings.TrimSpace(stdout.String()); out != "" {
		c.Logger.Debug("csv2nidm output", "stdout", out)
	}
	return nil
}
