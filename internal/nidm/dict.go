package nidm

import (
	_ "embed"
	"os"
	"path/filepath"
)

// DictionaryName is the filename the embedded data dictionary is
// materialized under.
const DictionaryName = "mriqc_dictionary_v1.csv"

// dictionaryCSV maps MRIQC metric column names to semantic labels for
// csv2nidm's -csv_map argument.
//
//go:embed data/mriqc_dictionary_v1.csv
var dictionaryCSV []byte

// WriteDictionary materializes the embedded MRIQC data dictionary into
// dir and returns its path. An existing file is reused as-is so a user
// can drop in a customized dictionary.
func WriteDictionary(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, DictionaryName)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.WriteFile(path, dictionaryCSV, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
