package nidm

import (
	"path/filepath"

	"github.com/sensein/mriqc-nidm/internal/bids"
)

// BuildOutputPath returns the canonical per-subject NIDM output
// directory under base: sub-<id>/ or sub-<id>/ses-<id>/. Labels are
// normalized, so prefixed and bare forms are equivalent.
func BuildOutputPath(base, subjectID, sessionID string) string {
	subjectID = bids.NormalizeLabel(subjectID, bids.SubjectPrefix)
	sessionID = bids.NormalizeLabel(sessionID, bids.SessionPrefix)

	dir := filepath.Join(base, bids.SubjectPrefix+subjectID)
	if sessionID != "" {
		dir = filepath.Join(dir, bids.SessionPrefix+sessionID)
	}
	return dir
}

// BuildFilename returns the canonical Turtle filename for a
// subject/session: sub-<id>.ttl or sub-<id>_ses-<id>.ttl. All scans of
// one subject/session accumulate into this single file.
func BuildFilename(subjectID, sessionID string) string {
	subjectID = bids.NormalizeLabel(subjectID, bids.SubjectPrefix)
	sessionID = bids.NormalizeLabel(sessionID, bids.SessionPrefix)
	return bids.ParticipantID(subjectID, sessionID) + ".ttl"
}
