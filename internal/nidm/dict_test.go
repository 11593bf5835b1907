package nidm

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteDictionary(t *testing.T) {
	dir := t.TempDir()

	path, err := WriteDictionary(dir)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, DictionaryName); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "source_variable,label,description,valueType") {
		t.Errorf("dictionary missing header, got: %.80s", data)
	}
	for _, column := range []string{"cjv", "tsnr", "fd_mean", "subject_id", "source_url"} {
		if !strings.Contains(string(data), "\n"+column+",") {
			t.Errorf("dictionary missing entry for %q", column)
		}
	}
}

func TestWriteDictionaryKeepsCustomized(t *testing.T) {
	dir := t.TempDir()
	custom := "source_variable,label,description,valueType\ncustom,c,c,float\n"
	if err := os.WriteFile(filepath.Join(dir, DictionaryName), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}

	path, err := WriteDictionary(dir)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != custom {
		t.Error("WriteDictionary overwrote a customized dictionary")
	}
}
