package nidm

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMimeForExtension(t *testing.T) {
	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{"graph.ttl", mimeTurtle, false},
		{"graph.TTL", mimeTurtle, false},
		{"graph.jsonld", mimeJSONLD, false},
		{"graph.json-ld", mimeJSONLD, false},
		{"graph.json", "", true},
		{"graph", "", true},
	}

	for _, tt := range tests {
		got, err := mimeForExtension(tt.path)
		if tt.wantErr {
			if !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("mimeForExtension(%q) err = %v, want ErrUnsupportedFormat", tt.path, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("mimeForExtension(%q) = %q, %v, want %q", tt.path, got, err, tt.want)
		}
	}
}

func TestReserialize(t *testing.T) {
	dir := t.TempDir()
	graph := filepath.Join(dir, "sub-01.ttl")
	ttl := "<http://example.org/scan> <http://example.org/hasMetric> \"0.42\" .\n"
	if err := os.WriteFile(graph, []byte(ttl), 0o644); err != nil {
		t.Fatal(err)
	}

	destDir := filepath.Join(dir, "out")
	ttlPath, jsonldPath, err := Reserialize(graph, destDir, "sub-01", testLogger())
	if err != nil {
		t.Fatal(err)
	}

	if want := filepath.Join(destDir, "sub-01.ttl"); ttlPath != want {
		t.Errorf("ttlPath = %q, want %q", ttlPath, want)
	}
	if want := filepath.Join(destDir, "sub-01.jsonld"); jsonldPath != want {
		t.Errorf("jsonldPath = %q, want %q", jsonldPath, want)
	}

	ttlOut, err := os.ReadFile(ttlPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(ttlOut), "example.org/scan") {
		t.Errorf("serialized Turtle missing triple: %s", ttlOut)
	}

	jsonldOut, err := os.ReadFile(jsonldPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(jsonldOut), "example.org/scan") {
		t.Errorf("serialized JSON-LD missing triple: %s", jsonldOut)
	}
}

func TestReserializeInPlace(t *testing.T) {
	dir := t.TempDir()
	graph := filepath.Join(dir, "sub-01.ttl")
	ttl := "<http://example.org/scan> <http://example.org/hasMetric> \"0.42\" .\n"
	if err := os.WriteFile(graph, []byte(ttl), 0o644); err != nil {
		t.Fatal(err)
	}

	// Re-emitting over the input file must preserve its content and
	// leave no temp files behind.
	ttlPath, _, err := Reserialize(graph, dir, "sub-01", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if ttlPath != graph {
		t.Errorf("ttlPath = %q, want %q", ttlPath, graph)
	}

	out, err := os.ReadFile(graph)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "example.org/scan") {
		t.Errorf("in-place reserialize lost triple: %s", out)
	}

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(leftovers) > 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestReserializeUnsupportedInput(t *testing.T) {
	graph := filepath.Join(t.TempDir(), "graph.json")
	if err := os.WriteFile(graph, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, _, err := Reserialize(graph, t.TempDir(), "graph", testLogger())
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Reserialize() = %v, want ErrUnsupportedFormat", err)
	}
}
