package iqm

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"
)

// SoftwareMetadata is the single-row table describing the tool that
// produced an MRIQC record, fed to csv2nidm as derivative provenance.
type SoftwareMetadata struct {
	Title       string
	Description string
	Version     string
	URL         string
	Cmdline     string
	Platform    string
	ID          string
}

const (
	mriqcDescription = "MRIQC extracts no-reference IQMs (image quality metrics) from " +
		"structural (T1w and T2w), functional and diffusion MRI data."
	mriqcURL  = "https://mriqc.readthedocs.io/en/stable/"
	mriqcRRID = "https://scicrunch.org/resolver/RRID:SCR_022942"
)

// softwareFromRecord builds the metadata row from a record's provenance
// block, with defaults when the block is absent.
func softwareFromRecord(rec *Record, logger *slog.Logger) SoftwareMetadata {
	software := "mriqc"
	version := "unknown"
	if rec.Provenance != nil {
		if rec.Provenance.Software != "" {
			software = rec.Provenance.Software
		}
		if rec.Provenance.Version != "" {
			version = rec.Provenance.Version
		}
	} else {
		logger.Warn("no provenance block in MRIQC JSON, using defaults", "path", rec.Path)
	}

	return SoftwareMetadata{
		Title:       software,
		Description: mriqcDescription,
		Version:     version,
		URL:         mriqcURL,
		Cmdline:     fmt.Sprintf("%s --version %s", software, version),
		Platform:    fmt.Sprintf("%s %s", runtime.GOOS, runtime.GOARCH),
		ID:          mriqcRRID,
	}
}

// SoftwareMetadataPath derives the companion metadata CSV name from the
// metric CSV path: <stem>_software_metadata.csv.
func SoftwareMetadataPath(metricCSV string) string {
	return strings.TrimSuffix(metricCSV, ".csv") + "_software_metadata.csv"
}

func writeSoftwareMetadata(rec *Record, metricCSV string, logger *slog.Logger) (string, error) {
	meta := softwareFromRecord(rec, logger)
	path := SoftwareMetadataPath(metricCSV)

	header := []string{"title", "description", "version", "url", "cmdline", "platform", "ID"}
	row := []string{meta.Title, meta.Description, meta.Version, meta.URL, meta.Cmdline, meta.Platform, meta.ID}
	if err := writeCSV(path, header, row); err != nil {
		return "", err
	}

	logger.Info("created software metadata CSV", "path", path, "software", meta.Title, "version", meta.Version)
	return path, nil
}
