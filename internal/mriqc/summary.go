package mriqc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome recorded for one participant.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusSkipped Status = "skipped"
)

// Results accumulates per-participant outcomes across a batch run.
type Results struct {
	byStatus map[Status][]string
}

// NewResults returns an empty results tracker.
func NewResults() *Results {
	return &Results{byStatus: map[Status][]string{}}
}

// Record appends one participant outcome.
func (r *Results) Record(participantID string, status Status) {
	r.byStatus[status] = append(r.byStatus[status], participantID)
}

// Count returns how many participants ended in the given status.
func (r *Results) Count(status Status) int {
	return len(r.byStatus[status])
}

// List returns the participants recorded with the given status, in
// recording order.
func (r *Results) List(status Status) []string {
	return r.byStatus[status]
}

// Summary is the machine-readable processing report persisted at the
// end of a run.
type Summary struct {
	RunID        string    `json:"run_id"`
	Timestamp    time.Time `json:"timestamp"`
	MRIQCVersion string    `json:"mriqc_version"`
	Total        int       `json:"total"`
	Success      int       `json:"success"`
	Failure      int       `json:"failure"`
	Skipped      int       `json:"skipped"`
	SuccessList  []string  `json:"success_list"`
	FailureList  []string  `json:"failure_list"`
	SkippedList  []string  `json:"skipped_list"`
}

// Summary builds the processing summary from the accumulated results.
func (r *Runner) Summary() Summary {
	res := r.results
	return Summary{
		RunID:        uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		MRIQCVersion: r.Version,
		Total:        res.Count(StatusSuccess) + res.Count(StatusFailure) + res.Count(StatusSkipped),
		Success:      res.Count(StatusSuccess),
		Failure:      res.Count(StatusFailure),
		Skipped:      res.Count(StatusSkipped),
		SuccessList:  res.List(StatusSuccess),
		FailureList:  res.List(StatusFailure),
		SkippedList:  res.List(StatusSkipped),
	}
}

// SaveSummary writes the processing summary as JSON into the MRIQC
// output tree and returns the file path.
func (r *Runner) SaveSummary() (string, error) {
	summary := r.Summary()

	path := filepath.Join(r.MRIQCDir, "processing_summary.json")
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", err
	}

	r.Logger.Info("processing summary saved", "path", path,
		"success", summary.Success, "failure", summary.Failure, "skipped", summary.Skipped)
	return path, nil
}
