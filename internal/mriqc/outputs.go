package mriqc

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sensein/mriqc-nidm/internal/bids"
)

// FindOutputs returns the MRIQC IQM JSON files for a subject, sorted
// lexicographically. searchDir overrides the runner's output tree when
// set; modality (a BIDS suffix such as T1w or bold) filters the results
// when set.
//
// MRIQC writes one JSON per scan into datatype subdirectories, with or
// without a session level:
//
//	sub-01/anat/sub-01_T1w.json
//	sub-01/ses-01/func/sub-01_ses-01_task-rest_bold.json
func (r *Runner) FindOutputs(subjectID, sessionID, searchDir, modality string) ([]string, error) {
	pattern := bids.SubjectPrefix + subjectID
	if sessionID != "" {
		pattern += "_" + bids.SessionPrefix + sessionID
	}

	base := searchDir
	if base == "" {
		base = r.MRIQCDir
	}

	subjectDir := base
	if !strings.Contains(base, bids.SubjectPrefix) {
		subjectDir = filepath.Join(base, bids.SubjectPrefix+subjectID)
	}
	if sessionID != "" && !strings.Contains(subjectDir, bids.SessionPrefix) {
		subjectDir = filepath.Join(subjectDir, bids.SessionPrefix+sessionID)
	}

	if _, err := os.Stat(subjectDir); err != nil {
		return nil, nil
	}

	var outputs []string
	for _, datatype := range r.Datatypes {
		matches, err := filepath.Glob(filepath.Join(subjectDir, datatype, pattern+"*.json"))
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if modality != "" && suffixOf(m) != modality {
				continue
			}
			outputs = append(outputs, m)
		}
	}

	sort.Strings(outputs)
	return outputs, nil
}

// suffixOf extracts the BIDS suffix (the final underscore-separated
// token of the stem): "sub-01_T1w.json" → "T1w".
func suffixOf(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	parts := strings.Split(stem, "_")
	return parts[len(parts)-1]
}
