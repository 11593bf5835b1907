// Package nidm locates, copies, converts, and produces NIDM provenance
// graph files.
//
// The package wraps the external csv2nidm tool for CSV→RDF generation
// and uses an in-memory triple store for format re-serialization. Input
// graphs are never mutated: a pre-existing graph is always copied into
// the output tree before augmentation.
package nidm

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/sensein/mriqc-nidm/internal/bids"
)

// PreferredName is the conventional filename searched for first.
const PreferredName = "nidm.ttl"

// DefaultExtensions are the recognized graph extensions in preference order.
var DefaultExtensions = []string{".ttl", ".jsonld", ".json-ld"}

// Locator finds pre-existing NIDM graphs for a subject.
type Locator struct {
	// Extensions overrides DefaultExtensions when non-nil.
	Extensions []string

	Logger *slog.Logger
}

func (l *Locator) extensions() []string {
	if len(l.Extensions) > 0 {
		return l.Extensions
	}
	return DefaultExtensions
}

// FindInDirectory searches one directory for a NIDM graph file.
//
// Search order is fixed: the exact filename nidm.ttl, then the
// lexicographically first match per extension in preference order.
// Returns ErrNotFound when the directory is missing or holds no graph.
func (l *Locator) FindInDirectory(dir string) (string, error) {
	if _, err := os.Stat(dir); err != nil {
		l.Logger.Debug("NIDM search directory does not exist", "dir", dir)
		return "", fmt.Errorf("%w: %s", ErrNotFound, dir)
	}

	preferred := filepath.Join(dir, PreferredName)
	if _, err := os.Stat(preferred); err == nil {
		l.Logger.Info("found existing NIDM (preferred)", "path", preferred)
		return preferred, nil
	}

	for _, ext := range l.extensions() {
		matches, err := filepath.Glob(filepath.Join(dir, "*"+ext))
		if err != nil {
			return "", err
		}
		sort.Strings(matches)
		if len(matches) > 0 {
			l.Logger.Info("found existing NIDM", "format", strings.TrimPrefix(ext, "."), "path", matches[0])
			return matches[0], nil
		}
	}

	l.Logger.Debug("no NIDM files found", "dir", dir)
	return "", fmt.Errorf("%w in %s", ErrNotFound, dir)
}

// LocateExisting resolves the pre-existing NIDM graph for a subject.
// When nidmInputDir is set, <nidmInputDir>/sub-<id>/ is searched;
// otherwise the convention location <bidsDir>/../NIDM/sub-<id>/ is used.
func (l *Locator) LocateExisting(subjectID, nidmInputDir, bidsDir string) (string, error) {
	var searchDir string
	if nidmInputDir != "" {
		searchDir = filepath.Join(nidmInputDir, bids.SubjectPrefix+subjectID)
		l.Logger.Debug("using explicit NIDM input directory", "dir", nidmInputDir)
	} else {
		searchDir = filepath.Join(filepath.Dir(bidsDir), "NIDM", bids.SubjectPrefix+subjectID)
		l.Logger.Debug("using convention-based NIDM location", "dir", searchDir)
	}
	return l.FindInDirectory(searchDir)
}

// ValidateInputDir checks that an explicitly supplied NIDM input
// directory exists and holds at least one graph file with a recognized
// extension, at any depth. Returns ErrNotFound otherwise.
func (l *Locator) ValidateInputDir(dir string) error {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: NIDM input directory does not exist: %s", ErrNotFound, dir)
	}

	matches, err := doublestar.FilepathGlob(filepath.Join(dir, "**", "*.*"))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if l.IsNIDMFile(m) {
			l.Logger.Debug("NIDM input directory validated", "dir", dir)
			return nil
		}
	}
	return fmt.Errorf("%w: no NIDM files under %s", ErrNotFound, dir)
}

// IsNIDMFile reports whether the path carries a recognized graph extension.
func (l *Locator) IsNIDMFile(path string) bool {
	ext := filepath.Ext(path)
	for _, e := range l.extensions() {
		if ext == e {
			return true
		}
	}
	return false
}

// CopyToOutput copies an existing NIDM graph into destDir, preserving
// file mode and timestamps. The source is never modified. When source
// and destination resolve to the same file, the copy is skipped and the
// destination path is returned.
func CopyToOutput(src, destDir string, logger *slog.Logger) (string, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("existing NIDM file not found: %s: %w", src, err)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}
	dest := filepath.Join(destDir, filepath.Base(src))

	if destInfo, err := os.Stat(dest); err == nil && os.SameFile(srcInfo, destInfo) {
		logger.Info("input and output NIDM paths are identical, skipping copy", "path", dest)
		return dest, nil
	}

	if err := copyFile(src, dest, srcInfo); err != nil {
		logger.Error("failed to copy NIDM file", "src", src, "dest", dest, "error", err)
		return "", err
	}

	logger.Info("copied existing NIDM to output", "path", dest)
	return dest, nil
}

func copyFile(src, dest string, srcInfo os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	// Match the source's timestamps so augmentation targets are not
	// mistaken for fresh outputs.
	return os.Chtimes(dest, srcInfo.ModTime(), srcInfo.ModTime())
}
