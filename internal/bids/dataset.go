package bids

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Validation errors returned by ValidateDataset. Check with errors.Is.
var (
	// ErrDatasetNotFound is returned when the BIDS directory does not exist.
	ErrDatasetNotFound = errors.New("BIDS directory not found")

	// ErrInvalidDataset is returned when the directory exists but is
	// missing required BIDS markers.
	ErrInvalidDataset = errors.New("not a valid BIDS dataset")
)

// DatasetDescriptionName is the required metadata file at a BIDS root.
const DatasetDescriptionName = "dataset_description.json"

// ValidateDataset checks the essential BIDS markers of a dataset root:
// the directory exists, carries a dataset_description.json, and holds
// at least one sub-* directory.
func ValidateDataset(dir string, logger *slog.Logger) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrDatasetNotFound, dir)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidDataset, dir)
	}

	if _, err := os.Stat(filepath.Join(dir, DatasetDescriptionName)); err != nil {
		logger.Warn("BIDS dataset_description.json not found", "dir", dir)
		return fmt.Errorf("%w: missing %s in %s", ErrInvalidDataset, DatasetDescriptionName, dir)
	}

	subjects, err := SubjectDirs(dir)
	if err != nil {
		return err
	}
	if len(subjects) == 0 {
		return fmt.Errorf("%w: no %s* directories in %s", ErrInvalidDataset, SubjectPrefix, dir)
	}

	logger.Debug("valid BIDS directory", "dir", dir, "subjects", len(subjects))
	return nil
}

// SubjectDirs lists the subject labels (without the sub- prefix) of all
// sub-* directories directly under dir, sorted lexicographically.
func SubjectDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var subjects []string
	for _, e := range entries {
		if e.IsDir() && len(e.Name()) > len(SubjectPrefix) && e.Name()[:len(SubjectPrefix)] == SubjectPrefix {
			subjects = append(subjects, e.Name()[len(SubjectPrefix):])
		}
	}
	sort.Strings(subjects)
	return subjects, nil
}

// DiscoverSubjects returns the subject labels to process. The MRIQC
// output tree takes precedence when it exists (it reflects what has
// actually been computed); otherwise the BIDS tree is listed.
func DiscoverSubjects(bidsDir, mriqcDir string) ([]string, error) {
	if _, err := os.Stat(mriqcDir); err == nil {
		subjects, err := SubjectDirs(mriqcDir)
		if err != nil {
			return nil, err
		}
		if len(subjects) > 0 {
			return subjects, nil
		}
	}
	return SubjectDirs(bidsDir)
}

// GeneratedBy describes one tool in a derivatives provenance chain.
type GeneratedBy struct {
	Name        string `json:"Name"`
	Version     string `json:"Version,omitempty"`
	Description string `json:"Description,omitempty"`
	CodeURL     string `json:"CodeURL,omitempty"`
}

// DatasetDescription is the BIDS derivatives metadata document.
type DatasetDescription struct {
	Name             string        `json:"Name"`
	BIDSVersion      string        `json:"BIDSVersion"`
	DatasetType      string        `json:"DatasetType"`
	GeneratedBy      []GeneratedBy `json:"GeneratedBy"`
	HowToAcknowledge string        `json:"HowToAcknowledge,omitempty"`
}

// WriteDatasetDescription writes a dataset_description.json into dir,
// creating the directory if needed. Returns the file path.
func WriteDatasetDescription(dir string, desc DatasetDescription, logger *slog.Logger) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, DatasetDescriptionName)
	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", err
	}

	logger.Info("created dataset description", "path", path)
	return path, nil
}
