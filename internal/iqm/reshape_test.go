package iqm

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeJSON(t *testing.T, path string, doc map[string]any) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readCSV(t *testing.T, path string) (header, row []string) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("CSV %s has %d rows, want 2", path, len(records))
	}
	return records[0], records[1]
}

func TestLoad(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Load() = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := Load(path)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Load() = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("blocks decoded", func(t *testing.T) {
		path := writeJSON(t, filepath.Join(t.TempDir(), "sub-01_T1w.json"), map[string]any{
			"cjv":        0.42,
			"bids_meta":  map[string]any{"subject": "01", "datatype": "anat"},
			"provenance": map[string]any{"software": "mriqc", "version": "24.0.2"},
		})

		rec, err := Load(path)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Meta == nil || rec.Meta.Subject != "01" || rec.Meta.Datatype != "anat" {
			t.Errorf("Meta = %+v", rec.Meta)
		}
		if rec.Provenance == nil || rec.Provenance.Version != "24.0.2" {
			t.Errorf("Provenance = %+v", rec.Provenance)
		}
	})
}

func TestExtractIdentifiers(t *testing.T) {
	tests := []struct {
		name string
		path string
		meta *Meta
		want Identifiers
	}{
		{
			name: "functional with run",
			path: "sub-02/func/sub-02_task-rest_run-2_bold.json",
			want: Identifiers{Subject: "02", Session: "01", Task: "rest", Run: "2"},
		},
		{
			name: "anatomical gets task None",
			path: "sub-42/anat/sub-42_T1w.json",
			meta: &Meta{Subject: "42", Datatype: "anat"},
			want: Identifiers{Subject: "42", Session: "01", Task: "None", Run: ""},
		},
		{
			name: "bids_meta subject wins over filename",
			path: "sub-99/anat/sub-99_T1w.json",
			meta: &Meta{Subject: "01", Datatype: "anat"},
			want: Identifiers{Subject: "01", Session: "01", Task: "None", Run: ""},
		},
		{
			name: "session from path segment",
			path: "sub-03/ses-02/func/sub-03_ses-02_task-nback_bold.json",
			want: Identifiers{Subject: "03", Session: "02", Task: "nback", Run: ""},
		},
		{
			name: "session from filename token",
			path: "flat/sub-03_ses-05_T1w.json",
			want: Identifiers{Subject: "03", Session: "05", Task: "", Run: ""},
		},
		{
			name: "unknown subject fallback",
			path: "flat/metrics.json",
			want: Identifiers{Subject: "unknown", Session: "01", Task: "", Run: ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &Record{Path: tt.path, Meta: tt.meta}
			got := rec.ExtractIdentifiers("01")
			if got != tt.want {
				t.Errorf("ExtractIdentifiers() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestReshape(t *testing.T) {
	dir := t.TempDir()
	jsonPath := writeJSON(t, filepath.Join(dir, "sub-02", "func", "sub-02_task-rest_run-2_bold.json"), map[string]any{
		"tsnr":      54.321,
		"fd_mean":   0.12,
		"dummy_trs": 2,
		"aqi":       nil,
		// Excluded fields must not reach the metric row.
		"qi_1":       0.001,
		"size_x":     64,
		"spacing_z":  3.0,
		"bids_meta":  map[string]any{"subject": "02", "datatype": "func"},
		"provenance": map[string]any{"software": "mriqc", "version": "24.0.2"},
	})

	outCSV := filepath.Join(dir, "out", "sub-02_task-rest_run-2_bold.csv")
	csvPath, softwareCSV, err := Reshape(jsonPath, outCSV, "01", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if csvPath != outCSV {
		t.Errorf("csvPath = %q, want %q", csvPath, outCSV)
	}

	header, row := readCSV(t, csvPath)
	wantHeader := []string{"aqi", "dummy_trs", "fd_mean", "tsnr", "subject_id", "ses", "task", "run", "source_url"}
	if !reflect.DeepEqual(header, wantHeader) {
		t.Errorf("header = %v, want %v", header, wantHeader)
	}
	wantRow := []string{"", "2", "0.12", "54.321", "02", "01", "rest", "2", jsonPath}
	if !reflect.DeepEqual(row, wantRow) {
		t.Errorf("row = %v, want %v", row, wantRow)
	}

	// Companion software metadata CSV.
	if want := SoftwareMetadataPath(outCSV); softwareCSV != want {
		t.Errorf("softwareCSV = %q, want %q", softwareCSV, want)
	}
	sHeader, sRow := readCSV(t, softwareCSV)
	if want := []string{"title", "description", "version", "url", "cmdline", "platform", "ID"}; !reflect.DeepEqual(sHeader, want) {
		t.Errorf("software header = %v, want %v", sHeader, want)
	}
	if sRow[0] != "mriqc" || sRow[2] != "24.0.2" {
		t.Errorf("software row = %v", sRow)
	}
}

func TestReshapeDefaultProvenance(t *testing.T) {
	dir := t.TempDir()
	jsonPath := writeJSON(t, filepath.Join(dir, "sub-01_T1w.json"), map[string]any{
		"cjv": 0.5,
	})

	_, softwareCSV, err := Reshape(jsonPath, filepath.Join(dir, "sub-01_T1w.csv"), "01", testLogger())
	if err != nil {
		t.Fatal(err)
	}

	_, row := readCSV(t, softwareCSV)
	if row[0] != "mriqc" || row[2] != "unknown" {
		t.Errorf("software defaults = %v", row)
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "rest", "rest"},
		{"number keeps source text", json.Number("0.120000000001"), "0.120000000001"},
		{"bool", true, "true"},
		{"array falls back to json", []any{1.0, 2.0}, "[1,2]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatValue(tt.in); got != tt.want {
				t.Errorf("formatValue(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSoftwareMetadataPath(t *testing.T) {
	got := SoftwareMetadataPath("/out/sub-01_T1w.csv")
	if want := "/out/sub-01_T1w_software_metadata.csv"; got != want {
		t.Errorf("SoftwareMetadataPath() = %q, want %q", got, want)
	}
}
