package nidm

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/deiu/rdf2go"
)

const (
	mimeTurtle = "text/turtle"
	mimeJSONLD = "application/ld+json"
)

// mimeForExtension maps a graph file extension to its RDF serialization.
func mimeForExtension(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ttl":
		return mimeTurtle, nil
	case ".jsonld", ".json-ld":
		return mimeJSONLD, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// Reserialize parses a graph file into an in-memory triple set and
// re-emits it as both Turtle and JSON-LD under destDir, named
// <baseName>.ttl and <baseName>.jsonld. The input serialization is
// detected from the file extension. Exactly two files are written.
func Reserialize(graphPath, destDir, baseName string, logger *slog.Logger) (string, string, error) {
	mime, err := mimeForExtension(graphPath)
	if err != nil {
		return "", "", err
	}

	in, err := os.Open(graphPath)
	if err != nil {
		return "", "", fmt.Errorf("opening NIDM graph %s: %w", graphPath, err)
	}
	defer in.Close()

	g := rdf2go.NewGraph("file://" + filepath.ToSlash(graphPath))
	if err := g.Parse(in, mime); err != nil {
		return "", "", fmt.Errorf("parsing NIDM graph %s: %w", graphPath, err)
	}
	logger.Debug("parsed NIDM graph", "path", graphPath, "triples", g.Len())

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", "", err
	}

	ttlPath := filepath.Join(destDir, baseName+".ttl")
	if err := serializeTo(g, ttlPath, mimeTurtle); err != nil {
		return "", "", err
	}
	jsonldPath := filepath.Join(destDir, baseName+".jsonld")
	if err := serializeTo(g, jsonldPath, mimeJSONLD); err != nil {
		return "", "", err
	}

	logger.Info("serialized NIDM graph", "ttl", ttlPath, "jsonld", jsonldPath, "triples", g.Len())
	return ttlPath, jsonldPath, nil
}

// serializeTo writes the graph through a temp file and renames it into
// place. The destination often is the accumulated canonical graph, so a
// mid-write failure must not leave it truncated.
func serializeTo(g *rdf2go.Graph, path, mime string) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	if err := g.Serialize(f, mime); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("serializing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
