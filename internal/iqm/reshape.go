// Package iqm reshapes MRIQC image-quality-metric JSON records into the
// tabular form the csv2nidm converter consumes.
//
// One MRIQC JSON sidecar yields two CSV files: a single metric row
// (scalar IQMs plus injected BIDS identifier columns) and a single-row
// software-metadata table derived from the record's provenance block.
package iqm

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sensein/mriqc-nidm/internal/bids"
)

// ErrInvalidInput is returned when the MRIQC JSON file is missing or
// malformed. The failure is fatal for that one file only; callers
// decide whether to continue with remaining files.
var ErrInvalidInput = errors.New("invalid MRIQC JSON input")

// excludedKeys are record fields that are not image quality metrics and
// must never appear in the reshaped row.
var excludedKeys = []string{
	"bids_meta",
	"provenance",
	"qi_1",
	"qi_2",
	"size_x",
	"size_y",
	"size_z",
	"spacing_x",
	"spacing_y",
	"spacing_z",
}

// identifierColumns are appended after the metric columns, in this order.
var identifierColumns = []string{"subject_id", "ses", "task", "run", "source_url"}

// Meta is the bids_meta block of an MRIQC record.
type Meta struct {
	Subject  string `json:"subject"`
	Datatype string `json:"datatype"`
	Modality string `json:"modality"`
}

// Provenance is the provenance block of an MRIQC record.
type Provenance struct {
	Software string `json:"software"`
	Version  string `json:"version"`
}

// Record is one parsed MRIQC JSON sidecar.
type Record struct {
	// Path is the source JSON file.
	Path string

	// Fields holds every top-level key with numbers kept verbatim
	// (json.Number), so zero-padded and high-precision values survive
	// the round trip to CSV.
	Fields map[string]any

	// Meta is the decoded bids_meta block; nil when absent.
	Meta *Meta

	// Provenance is the decoded provenance block; nil when absent.
	Provenance *Provenance
}

// Identifiers are the BIDS identifier columns injected into each row.
// All four are serialized as strings even when numeric-looking.
type Identifiers struct {
	Subject string
	Session string
	Task    string
	Run     string
}

// Load parses one MRIQC JSON file.
func Load(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInput, path, err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInput, path, err)
	}

	rec := &Record{Path: path, Fields: fields}

	if raw, ok := fields["bids_meta"]; ok {
		rec.Meta = decodeBlock[Meta](raw)
	}
	if raw, ok := fields["provenance"]; ok {
		rec.Provenance = decodeBlock[Provenance](raw)
	}
	return rec, nil
}

// decodeBlock re-marshals an any-typed sub-object into a typed block.
// Returns nil when the value is not an object.
func decodeBlock[T any](raw any) *T {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var block T
	if err := json.Unmarshal(data, &block); err != nil {
		return nil
	}
	return &block
}

// ExtractIdentifiers resolves the BIDS identifier fields for a record.
//
// Precedence:
//   - subject: bids_meta.subject if present, else the filename's sub-
//     token, else "unknown"
//   - session: a ses- path segment, else a ses- filename token, else
//     the supplied default (conventionally "01")
//   - task: the filename's task- token, else "None" for anatomical
//     records, else ""
//   - run: the filename's run- token, else ""
func (r *Record) ExtractIdentifiers(defaultSession string) Identifiers {
	filename := filepath.Base(r.Path)

	subject := ""
	datatype := ""
	if r.Meta != nil {
		subject = r.Meta.Subject
		datatype = r.Meta.Datatype
	}
	if subject == "" {
		subject = bids.Entity(filename, "sub")
	}
	if subject == "" {
		subject = "unknown"
	}

	session := ""
	for _, part := range strings.Split(filepath.ToSlash(filepath.Dir(r.Path)), "/") {
		if strings.HasPrefix(part, "ses-") {
			session = strings.TrimPrefix(part, "ses-")
			break
		}
	}
	if session == "" {
		session = bids.Entity(filename, "ses")
	}
	if session == "" {
		session = defaultSession
	}

	task := bids.Entity(filename, "task")
	if task == "" {
		if datatype == "anat" {
			task = "None"
		}
	}

	return Identifiers{
		Subject: subject,
		Session: session,
		Task:    task,
		Run:     bids.Entity(filename, "run"),
	}
}

// Reshape converts one MRIQC JSON file into its metric-row CSV and the
// companion software-metadata CSV. Returns both output paths.
func Reshape(jsonPath, outputCSV, defaultSession string, logger *slog.Logger) (string, string, error) {
	rec, err := Load(jsonPath)
	if err != nil {
		return "", "", err
	}

	logger.Debug("loaded MRIQC JSON", "path", jsonPath, "fields", len(rec.Fields))

	// Software metadata is derived from provenance before the block is
	// dropped from the metric row.
	softwareCSV, err := writeSoftwareMetadata(rec, outputCSV, logger)
	if err != nil {
		return "", "", err
	}

	ids := rec.ExtractIdentifiers(defaultSession)
	logger.Info("extracted BIDS identifiers",
		"subject", ids.Subject, "session", ids.Session, "task", ids.Task, "run", ids.Run)

	metrics := map[string]string{}
	for key, value := range rec.Fields {
		if isExcluded(key) {
			continue
		}
		metrics[key] = formatValue(value)
	}

	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	header := append(keys, identifierColumns...)
	row := make([]string, 0, len(header))
	for _, k := range keys {
		row = append(row, metrics[k])
	}
	row = append(row, ids.Subject, ids.Session, ids.Task, ids.Run, jsonPath)

	if err := writeCSV(outputCSV, header, row); err != nil {
		return "", "", err
	}

	logger.Info("created metric CSV", "path", outputCSV, "columns", len(header))
	return outputCSV, softwareCSV, nil
}

func isExcluded(key string) bool {
	for _, k := range excludedKeys {
		if key == k {
			return true
		}
	}
	return false
}

// formatValue renders a JSON value for one CSV cell. Numbers keep their
// source text; non-scalars fall back to compact JSON.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

func writeCSV(path string, header, row []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
