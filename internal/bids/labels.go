// Package bids provides label normalization, filename entity parsing,
// and dataset validation for BIDS-organized neuroimaging data.
//
// BIDS names files and directories with hyphenated key-value entities
// (sub-01, ses-baseline, task-rest, run-2). The helpers here accept
// labels both with and without their literal prefix so the CLI is
// robust to either form.
package bids

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// SubjectPrefix is the literal prefix of subject labels and directories.
	SubjectPrefix = "sub-"

	// SessionPrefix is the literal prefix of session labels and directories.
	SessionPrefix = "ses-"
)

// NormalizeLabel strips the given literal prefix from a label if present.
//
//	NormalizeLabel("sub-01", "sub-") == "01"
//	NormalizeLabel("01", "sub-")     == "01"
func NormalizeLabel(label, prefix string) string {
	return strings.TrimPrefix(label, prefix)
}

// NormalizeLabels normalizes a list of labels against one prefix.
func NormalizeLabels(labels []string, prefix string) []string {
	if labels == nil {
		return nil
	}
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = NormalizeLabel(l, prefix)
	}
	return out
}

// ParticipantID formats a subject/session pair as a participant
// identifier: "sub-01" or "sub-01_ses-baseline".
func ParticipantID(subjectID, sessionID string) string {
	id := SubjectPrefix + subjectID
	if sessionID != "" {
		id += "_" + SessionPrefix + sessionID
	}
	return id
}

// entityPatterns caches one compiled expression per entity key.
var entityPatterns = map[string]*regexp.Regexp{}

func entityPattern(key string) *regexp.Regexp {
	if re, ok := entityPatterns[key]; ok {
		return re
	}
	re := regexp.MustCompile(fmt.Sprintf(`%s-([a-zA-Z0-9]+)`, regexp.QuoteMeta(key)))
	entityPatterns[key] = re
	return re
}

// Entity extracts the value of a BIDS entity ("sub", "ses", "task",
// "run") from a filename. Returns "" when the entity is absent.
//
//	Entity("sub-02_task-rest_run-2_bold.json", "task") == "rest"
func Entity(filename, key string) string {
	m := entityPattern(key).FindStringSubmatch(filename)
	if m == nil {
		return ""
	}
	return m[1]
}
