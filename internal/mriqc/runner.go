// Package mriqc wraps the external MRIQC quality-control tool: command
// construction, blocking execution, output discovery, and per-subject
// result tracking.
package mriqc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sensein/mriqc-nidm/internal/bids"
)

// ErrNotAvailable is returned when the MRIQC binary cannot be resolved
// on the execution path. This is fatal for the whole run.
var ErrNotAvailable = errors.New("mriqc binary not available")

// Runner executes MRIQC participant-level analyses for one BIDS dataset.
//
// Runs are blocking and sequential; the only state shared across
// subjects is the results map feeding the processing summary.
type Runner struct {
	// Command is the MRIQC executable name or path.
	Command string

	// BIDSDir is the input dataset root.
	BIDSDir string

	// MRIQCDir receives MRIQC's own output tree.
	MRIQCDir string

	// WorkDir holds MRIQC's intermediate files.
	WorkDir string

	// Datatypes are the output subdirectories scanned for IQM JSONs.
	Datatypes []string

	// Version is the probed MRIQC version string.
	Version string

	Logger *slog.Logger

	results *Results
}

// Options configures one participant-level invocation.
type Options struct {
	// SubjectID is the subject to process, without the sub- prefix.
	SubjectID string

	// SessionID restricts the run to one session (optional).
	SessionID string

	// Modalities restricts processing to the given modalities, e.g.
	// T1w or bold (optional).
	Modalities []string

	// NProcs and MemGB bound MRIQC's resource usage when positive.
	NProcs int
	MemGB  int

	// FDRadius overrides the framewise displacement radius when
	// positive; MRIQC's own default is 50mm.
	FDRadius float64

	// SubmitMetrics re-enables MRIQC's anonymized metrics submission.
	// The wrapper passes --no-sub by default.
	SubmitMetrics bool

	// VerboseCount adds that many -v flags.
	VerboseCount int

	// SkipExisting short-circuits when output JSONs already exist for
	// the subject, recording the subject as skipped.
	SkipExisting bool

	// ExtraArgs are forwarded verbatim to the MRIQC command line.
	ExtraArgs []string
}

// NewRunner builds a Runner and probes the MRIQC version. A missing
// binary is a constructor error: nothing can run without the tool.
func NewRunner(command, bidsDir, mriqcDir, workDir string, datatypes []string, logger *slog.Logger) (*Runner, error) {
	if command == "" {
		command = "mriqc"
	}
	if _, err := exec.LookPath(command); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotAvailable, command)
	}

	for _, dir := range []string{mriqcDir, workDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	r := &Runner{
		Command:   command,
		BIDSDir:   bidsDir,
		MRIQCDir:  mriqcDir,
		WorkDir:   workDir,
		Datatypes: datatypes,
		Logger:    logger,
		results:   NewResults(),
	}
	r.Version = r.probeVersion()
	logger.Info("using MRIQC", "version", r.Version)
	return r, nil
}

// probeVersion runs `mriqc --version` and parses the trailing token
// ("MRIQC v24.0.2" → "24.0.2"). Returns "unknown" when the probe fails.
func (r *Runner) probeVersion() string {
	out, err := exec.Command(r.Command, "--version").Output()
	if err != nil {
		r.Logger.Warn("unable to determine MRIQC version", "error", err)
		return "unknown"
	}
	fields := strings.Fields(strings.TrimSpace(string(out)))
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.TrimPrefix(fields[len(fields)-1], "v")
}

// buildCommand assembles the MRIQC argument list for one invocation.
func (r *Runner) buildCommand(opts Options) []string {
	args := []string{r.BIDSDir, r.MRIQCDir, "participant", "-w", r.WorkDir}

	if opts.SubjectID != "" {
		args = append(args, "--participant-label", opts.SubjectID)
	}
	if opts.SessionID != "" {
		args = append(args, "--session-id", opts.SessionID)
	}
	for _, m := range opts.Modalities {
		args = append(args, "-m", m)
	}
	if opts.NProcs > 0 {
		args = append(args, "--nprocs", strconv.Itoa(opts.NProcs))
	}
	if opts.MemGB > 0 {
		args = append(args, "--mem", strconv.Itoa(opts.MemGB))
	}
	if opts.FDRadius > 0 {
		args = append(args, "--fd_radius", strconv.FormatFloat(opts.FDRadius, 'f', -1, 64))
	}
	if !opts.SubmitMetrics {
		args = append(args, "--no-sub")
	}
	for i := 0; i < opts.VerboseCount; i++ {
		args = append(args, "-v")
	}
	args = append(args, opts.ExtraArgs...)
	return args
}

// ProcessParticipant runs MRIQC for one subject (optionally one
// session) and records the outcome. A zero exit code without any
// discoverable output JSON is recorded as a failure. No timeout, no
// retries: one subprocess failure is terminal for the subject.
func (r *Runner) ProcessParticipant(ctx context.Context, opts Options) error {
	participantID := bids.ParticipantID(opts.SubjectID, opts.SessionID)
	r.Logger.Info("processing subject with MRIQC", "participant", participantID, "output", r.MRIQCDir)

	if opts.SkipExisting {
		existing, err := r.FindOutputs(opts.SubjectID, opts.SessionID, "", "")
		if err == nil && len(existing) > 0 {
			r.Logger.Info("already processed, skipping", "participant", participantID)
			r.results.Record(participantID, StatusSkipped)
			return nil
		}
	}

	args := r.buildCommand(opts)
	r.Logger.Info("running command", "command", r.Command+" "+strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, r.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		r.Logger.Error("MRIQC failed", "participant", participantID,
			"error", err, "stderr", strings.TrimSpace(stderr.String()))
		r.results.Record(participantID, StatusFailure)
		return fmt.Errorf("mriqc failed for %s: %w", participantID, err)
	}

	outputs, err := r.FindOutputs(opts.SubjectID, opts.SessionID, "", "")
	if err != nil || len(outputs) == 0 {
		r.Logger.Warn("MRIQC completed but no outputs found", "participant", participantID)
		r.results.Record(participantID, StatusFailure)
		return fmt.Errorf("mriqc produced no outputs for %s", participantID)
	}

	r.results.Record(participantID, StatusSuccess)
	r.Logger.Info("successfully processed", "participant", participantID, "outputs", len(outputs))
	return nil
}

// WriteDatasetDescription writes the derivatives metadata for the MRIQC
// output tree, keeping an existing file untouched.
func (r *Runner) WriteDatasetDescription(appVersion string) (string, error) {
	path := filepath.Join(r.MRIQCDir, bids.DatasetDescriptionName)
	if _, err := os.Stat(path); err == nil {
		r.Logger.Info("dataset description already exists", "path", path)
		return path, nil
	}

	desc := bids.DatasetDescription{
		Name:        "MRIQC - MRI Quality Control",
		BIDSVersion: "1.6.0",
		DatasetType: "derivative",
		GeneratedBy: []bids.GeneratedBy{
			{
				Name:        "MRIQC",
				Version:     r.Version,
				Description: "MRI Quality Control tool for BIDS datasets",
				CodeURL:     "https://github.com/nipreps/mriqc",
			},
			{
				Name:        "mriqc-nidm",
				Version:     appVersion,
				Description: "MRIQC to NIDM BIDS App",
			},
		},
		HowToAcknowledge: "Please cite MRIQC (https://doi.org/10.1371/journal.pone.0184661)",
	}
	return bids.WriteDatasetDescription(r.MRIQCDir, desc, r.Logger)
}
