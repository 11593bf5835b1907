package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// makeBIDSDir creates a minimal valid BIDS root with one subject.
func makeBIDSDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "bids")
	if err := os.MkdirAll(filepath.Join(dir, "sub-01"), 0o755); err != nil {
		t.Fatal(err)
	}
	desc := filepath.Join(dir, "dataset_description.json")
	if err := os.WriteFile(desc, []byte(`{"Name":"test","BIDSVersion":"1.6.0"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestSkipMRIQCRequiresExistingOutputs(t *testing.T) {
	bidsDir := makeBIDSDir(t)

	t.Run("missing directory fails fast", func(t *testing.T) {
		outputDir := filepath.Join(t.TempDir(), "out")

		rootCmd.SetArgs([]string{bidsDir, outputDir, "participant",
			"--skip-mriqc", "--skip-nidm-conversion"})
		err := rootCmd.Execute()
		if err == nil || !strings.Contains(err.Error(), "MRIQC output directory") {
			t.Errorf("Execute() = %v, want missing MRIQC directory error", err)
		}
	})

	t.Run("existing directory proceeds", func(t *testing.T) {
		outputDir := filepath.Join(t.TempDir(), "out")
		jsonPath := filepath.Join(outputDir, "mriqc-nidm_bidsapp", "mriqc", "sub-01", "anat", "sub-01_T1w.json")
		if err := os.MkdirAll(filepath.Dir(jsonPath), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(jsonPath, []byte(`{"cjv": 0.5}`), 0o644); err != nil {
			t.Fatal(err)
		}

		rootCmd.SetArgs([]string{bidsDir, outputDir, "participant",
			"--skip-mriqc", "--skip-nidm-conversion"})
		if err := rootCmd.Execute(); err != nil {
			t.Errorf("Execute() = %v, want nil", err)
		}
	})
}
