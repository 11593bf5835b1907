// Package pipeline sequences the per-subject MRIQC→NIDM conversion:
// locate any pre-existing NIDM graph, discover MRIQC JSON outputs,
// reshape each into CSV, feed each CSV to csv2nidm against one
// accumulating canonical graph file, and finalize that file into both
// Turtle and JSON-LD.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/sensein/mriqc-nidm/internal/bids"
	"github.com/sensein/mriqc-nidm/internal/config"
	"github.com/sensein/mriqc-nidm/internal/iqm"
	"github.com/sensein/mriqc-nidm/internal/nidm"
)

// Outcome is the terminal state of one subject's conversion.
type Outcome string

const (
	// OutcomeSuccess means every discovered scan converted and the
	// canonical graph was finalized.
	OutcomeSuccess Outcome = "success"

	// OutcomePartialFailure means at least one scan failed conversion;
	// remaining scans were still attempted.
	OutcomePartialFailure Outcome = "partial-failure"

	// OutcomeNotFound means no MRIQC output directory or no IQM JSON
	// files existed for the subject.
	OutcomeNotFound Outcome = "not-found"
)

// timeseriesSuffix marks confounds sidecar files that carry metadata,
// not IQM values; they are excluded from discovery.
const timeseriesSuffix = "_timeseries.json"

// Pipeline converts one subject at a time. Subjects are independent;
// the only file shared within a subject is its canonical NIDM graph,
// which is created once and augmented thereafter.
type Pipeline struct {
	Config config.Config

	// BIDSDir is the input dataset root (used for the convention-based
	// NIDM input location).
	BIDSDir string

	// OutputDir is the run output root.
	OutputDir string

	// MRIQCDir is the MRIQC output tree scanned for IQM JSONs.
	MRIQCDir string

	// NIDMInputDir optionally overrides the convention-based location
	// of pre-existing NIDM graphs.
	NIDMInputDir string

	// SkipNIDM stops each subject after discovery (MRIQC-only runs).
	SkipNIDM bool

	Locator   *nidm.Locator
	Converter *nidm.Converter
	Logger    *slog.Logger
}

// New wires a Pipeline from the run configuration. The embedded MRIQC
// data dictionary is materialized under the NIDM derivatives root and
// shared by every csv2nidm invocation.
func New(cfg config.Config, bidsDir, outputDir, mriqcDir, nidmInputDir string, skipNIDM bool, logger *slog.Logger) (*Pipeline, error) {
	dictionary, err := nidm.WriteDictionary(filepath.Join(outputDir, cfg.AppDirName, "nidm"))
	if err != nil {
		return nil, fmt.Errorf("materializing data dictionary: %w", err)
	}

	return &Pipeline{
		Config:       cfg,
		BIDSDir:      bidsDir,
		OutputDir:    outputDir,
		MRIQCDir:     mriqcDir,
		NIDMInputDir: nidmInputDir,
		SkipNIDM:     skipNIDM,
		Locator:      &nidm.Locator{Extensions: cfg.NIDMExtensions, Logger: logger},
		Converter:    nidm.NewConverter(cfg.CSV2NIDMCommand, dictionary, cfg.CSV2NIDMTimeout, logger),
		Logger:       logger,
	}, nil
}

// DiscoverJSONFiles returns the subject's MRIQC IQM JSON files via a
// recursive glob, sorted lexicographically so that processing order,
// and therefore which scan creates versus augments the canonical graph,
// is deterministic across filesystems. Non-metric sidecars
// (*_timeseries.json) are excluded.
func (p *Pipeline) DiscoverJSONFiles(subjectDir string) ([]string, error) {
	matches, err := doublestar.FilepathGlob(filepath.Join(subjectDir, "**", "*.json"))
	if err != nil {
		return nil, err
	}

	files := matches[:0]
	for _, m := range matches {
		if strings.HasSuffix(filepath.Base(m), timeseriesSuffix) {
			continue
		}
		files = append(files, m)
	}
	sort.Strings(files)
	return files, nil
}

// sessionForRun derives the session for the whole subject run from the
// first discovered filename. The caller batches one session per run, so
// all files are expected to share it; mixed sessions are flagged, not
// guessed at.
func (p *Pipeline) sessionForRun(jsonFiles []string) string {
	session := bids.Entity(filepath.Base(jsonFiles[0]), "ses")
	if session == "" {
		return ""
	}

	for _, f := range jsonFiles[1:] {
		if other := bids.Entity(filepath.Base(f), "ses"); other != "" && other != session {
			p.Logger.Warn("mixed sessions discovered in one run; canonical file is named after the first",
				"session", session, "other", other, "file", filepath.Base(f))
		}
	}
	return session
}

// ProcessSubject runs the conversion sequence for one subject.
//
// The canonical per-subject/session graph file is created exactly once,
// either by copying a pre-existing graph before the scan loop or by the
// first csv2nidm invocation, and every later invocation augments it.
// Violating this ordering duplicates or drops triples.
func (p *Pipeline) ProcessSubject(ctx context.Context, subjectID string) (Outcome, error) {
	p.Logger.Info("processing subject", "subject", bids.SubjectPrefix+subjectID)

	existingNIDM, err := p.Locator.LocateExisting(subjectID, p.NIDMInputDir, p.BIDSDir)
	if err != nil && !errors.Is(err, nidm.ErrNotFound) {
		return OutcomeNotFound, err
	}

	subjectMRIQCDir := filepath.Join(p.MRIQCDir, bids.SubjectPrefix+subjectID)
	if _, err := os.Stat(subjectMRIQCDir); err != nil {
		p.Logger.Warn("no MRIQC output directory for subject", "dir", subjectMRIQCDir)
		return OutcomeNotFound, fmt.Errorf("no MRIQC output directory: %s", subjectMRIQCDir)
	}

	jsonFiles, err := p.DiscoverJSONFiles(subjectMRIQCDir)
	if err != nil {
		return OutcomeNotFound, err
	}
	if len(jsonFiles) == 0 {
		p.Logger.Warn("no MRIQC JSON files found", "subject", bids.SubjectPrefix+subjectID)
		return OutcomeNotFound, fmt.Errorf("no MRIQC JSON files for sub-%s", subjectID)
	}
	p.Logger.Info("found MRIQC JSON files", "subject", bids.SubjectPrefix+subjectID, "count", len(jsonFiles))

	if p.SkipNIDM {
		p.Logger.Info("skipping NIDM conversion")
		return OutcomeSuccess, nil
	}

	sessionID := p.sessionForRun(jsonFiles)
	if sessionID != "" {
		p.Logger.Info("session detected", "session", bids.SessionPrefix+sessionID)
	}

	baseNIDMDir := filepath.Join(p.OutputDir, p.Config.AppDirName, "nidm")
	subjectNIDMDir := nidm.BuildOutputPath(baseNIDMDir, subjectID, sessionID)
	if err := os.MkdirAll(subjectNIDMDir, 0o755); err != nil {
		return OutcomePartialFailure, err
	}
	p.Logger.Debug("NIDM output directory", "dir", subjectNIDMDir)

	canonical := filepath.Join(subjectNIDMDir, nidm.BuildFilename(subjectID, sessionID))
	p.Logger.Debug("target NIDM file", "path", canonical)

	// Copy a pre-existing graph exactly once, before the scan loop, and
	// rename it to the canonical name. Every csv2nidm call below then
	// augments the same file.
	augmentTarget := ""
	if existingNIDM != "" {
		copied, err := nidm.CopyToOutput(existingNIDM, subjectNIDMDir, p.Logger)
		if err != nil {
			return OutcomePartialFailure, err
		}
		if copied != canonical {
			if err := os.Rename(copied, canonical); err != nil {
				return OutcomePartialFailure, err
			}
			p.Logger.Info("renamed copied NIDM to canonical name", "path", canonical)
		}
		augmentTarget = canonical
		p.Logger.Info("will augment existing NIDM", "path", canonical)
	}

	anyScanFailed := false
	for i, jsonFile := range jsonFiles {
		p.Logger.Info("converting scan", "file", filepath.Base(jsonFile), "index", i+1, "total", len(jsonFiles))

		stem := strings.TrimSuffix(filepath.Base(jsonFile), ".json")
		csvPath, softwareCSV, err := iqm.Reshape(jsonFile, filepath.Join(subjectNIDMDir, stem+".csv"), p.Config.DefaultSession, p.Logger)
		if err != nil {
			p.Logger.Error("failed to convert JSON to CSV", "file", filepath.Base(jsonFile), "error", err)
			anyScanFailed = true
			continue
		}

		existingArg := ""
		if augmentTarget != "" {
			if _, err := os.Stat(augmentTarget); err == nil {
				existingArg = augmentTarget
			}
		}

		err = p.Converter.Convert(ctx, nidm.Request{
			CSVFile:      csvPath,
			SoftwareCSV:  softwareCSV,
			OutputTTL:    canonical,
			ExistingNIDM: existingArg,
		})
		if err != nil {
			p.Logger.Error("NIDM conversion failed", "file", filepath.Base(csvPath), "error", err)
			anyScanFailed = true
			if nidm.IsFatal(err) {
				return OutcomePartialFailure, err
			}
			continue
		}

		// The first successful conversion creates the canonical file;
		// later scans must augment it.
		if augmentTarget == "" {
			augmentTarget = canonical
		}
	}

	// Finalize to both formats exactly once per subject, after the loop.
	if _, err := os.Stat(canonical); err == nil {
		p.Logger.Info("created consolidated NIDM", "path", canonical)
		baseName := strings.TrimSuffix(filepath.Base(canonical), ".ttl")
		if _, _, err := nidm.Reserialize(canonical, subjectNIDMDir, baseName, p.Logger); err != nil {
			// The Turtle file already exists, so a JSON-LD failure is
			// not terminal for the subject.
			p.Logger.Warn("failed to reserialize NIDM formats", "error", err)
		}
	}

	if anyScanFailed {
		p.Logger.Warn("some scans failed to process", "subject", bids.SubjectPrefix+subjectID)
		return OutcomePartialFailure, fmt.Errorf("some scans failed for sub-%s", subjectID)
	}

	p.Logger.Info("successfully processed subject", "subject", bids.SubjectPrefix+subjectID)
	return OutcomeSuccess, nil
}
