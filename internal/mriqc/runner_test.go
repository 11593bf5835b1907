package mriqc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeScript creates an executable shell stub standing in for mriqc.
func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "mriqc-stub")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

// testRunner builds a Runner around a stub command without probing the
// version.
func testRunner(t *testing.T, command string) *Runner {
	t.Helper()
	dir := t.TempDir()
	return &Runner{
		Command:   command,
		BIDSDir:   filepath.Join(dir, "bids"),
		MRIQCDir:  filepath.Join(dir, "mriqc"),
		WorkDir:   filepath.Join(dir, "work"),
		Datatypes: []string{"anat", "func", "dwi"},
		Version:   "24.0.2",
		Logger:    testLogger(),
		results:   NewResults(),
	}
}

// seedOutput creates one IQM JSON in the runner's output tree.
func seedOutput(t *testing.T, r *Runner, rel string) string {
	t.Helper()
	path := filepath.Join(r.MRIQCDir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewRunnerMissingBinary(t *testing.T) {
	dir := t.TempDir()
	_, err := NewRunner(filepath.Join(dir, "no-such-mriqc"), dir, filepath.Join(dir, "out"), filepath.Join(dir, "work"), []string{"anat"}, testLogger())
	if !errors.Is(err, ErrNotAvailable) {
		t.Errorf("NewRunner() = %v, want ErrNotAvailable", err)
	}
}

func TestBuildCommand(t *testing.T) {
	r := testRunner(t, "mriqc")
	base := []string{r.BIDSDir, r.MRIQCDir, "participant", "-w", r.WorkDir}

	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{
			name: "minimal",
			opts: Options{SubjectID: "01"},
			want: append(append([]string{}, base...), "--participant-label", "01", "--no-sub"),
		},
		{
			name: "session and modalities",
			opts: Options{SubjectID: "01", SessionID: "02", Modalities: []string{"T1w", "bold"}},
			want: append(append([]string{}, base...),
				"--participant-label", "01", "--session-id", "02", "-m", "T1w", "-m", "bold", "--no-sub"),
		},
		{
			name: "resource limits and verbosity",
			opts: Options{SubjectID: "01", NProcs: 4, MemGB: 16, FDRadius: 0.5, VerboseCount: 2},
			want: append(append([]string{}, base...),
				"--participant-label", "01", "--nprocs", "4", "--mem", "16", "--fd_radius", "0.5", "--no-sub", "-v", "-v"),
		},
		{
			name: "metrics submission enabled",
			opts: Options{SubjectID: "01", SubmitMetrics: true},
			want: append(append([]string{}, base...), "--participant-label", "01"),
		},
		{
			name: "extra args forwarded last",
			opts: Options{SubjectID: "01", ExtraArgs: []string{"--ica", "--ants-nthreads", "2"}},
			want: append(append([]string{}, base...),
				"--participant-label", "01", "--no-sub", "--ica", "--ants-nthreads", "2"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.buildCommand(tt.opts); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("buildCommand() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProcessParticipant(t *testing.T) {
	ctx := context.Background()

	t.Run("success with outputs", func(t *testing.T) {
		dir := t.TempDir()
		r := testRunner(t, writeScript(t, dir, "exit 0\n"))
		seedOutput(t, r, filepath.Join("sub-01", "anat", "sub-01_T1w.json"))

		if err := r.ProcessParticipant(ctx, Options{SubjectID: "01"}); err != nil {
			t.Fatalf("ProcessParticipant() = %v", err)
		}
		if got := r.results.List(StatusSuccess); !reflect.DeepEqual(got, []string{"sub-01"}) {
			t.Errorf("success list = %v", got)
		}
	})

	t.Run("nonzero exit is failure", func(t *testing.T) {
		dir := t.TempDir()
		r := testRunner(t, writeScript(t, dir, "echo crash >&2\nexit 1\n"))

		if err := r.ProcessParticipant(ctx, Options{SubjectID: "01"}); err == nil {
			t.Fatal("ProcessParticipant() = nil, want error")
		}
		if r.results.Count(StatusFailure) != 1 {
			t.Errorf("failure count = %d, want 1", r.results.Count(StatusFailure))
		}
	})

	t.Run("zero exit without outputs is failure", func(t *testing.T) {
		dir := t.TempDir()
		r := testRunner(t, writeScript(t, dir, "exit 0\n"))

		if err := r.ProcessParticipant(ctx, Options{SubjectID: "01"}); err == nil {
			t.Fatal("ProcessParticipant() = nil, want error")
		}
		if r.results.Count(StatusFailure) != 1 {
			t.Errorf("failure count = %d, want 1", r.results.Count(StatusFailure))
		}
	})

	t.Run("skip existing short-circuits", func(t *testing.T) {
		dir := t.TempDir()
		marker := filepath.Join(dir, "ran")
		r := testRunner(t, writeScript(t, dir, "touch "+marker+"\nexit 0\n"))
		seedOutput(t, r, filepath.Join("sub-01", "anat", "sub-01_T1w.json"))

		if err := r.ProcessParticipant(ctx, Options{SubjectID: "01", SkipExisting: true}); err != nil {
			t.Fatalf("ProcessParticipant() = %v", err)
		}
		if _, err := os.Stat(marker); err == nil {
			t.Error("mriqc ran despite existing outputs")
		}
		if r.results.Count(StatusSkipped) != 1 {
			t.Errorf("skipped count = %d, want 1", r.results.Count(StatusSkipped))
		}
	})
}

func TestWriteRunnerDatasetDescription(t *testing.T) {
	dir := t.TempDir()
	r := testRunner(t, writeScript(t, dir, "exit 0\n"))
	if err := os.MkdirAll(r.MRIQCDir, 0o755); err != nil {
		t.Fatal(err)
	}

	path, err := r.WriteDatasetDescription("0.2.0")
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"MRIQC", "24.0.2", "mriqc-nidm", "0.2.0"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("dataset description missing %q", want)
		}
	}

	// Second write keeps the existing file.
	if err := os.WriteFile(path, []byte(`{"Name":"custom"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := r.WriteDatasetDescription("0.2.0"); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(path)
	if !strings.Contains(string(data), "custom") {
		t.Error("existing dataset description was overwritten")
	}
}
