package nidm

import "errors"

// Closed set of error categories for the NIDM stages. Callers separate
// "skip and continue" from "abort" with errors.Is:
//
//	if errors.Is(err, nidm.ErrNotFound) {
//	    // no pre-existing graph; proceed in create mode
//	}
var (
	// ErrNotFound is returned when no NIDM graph file exists at a
	// searched location. Not finding one is an expected condition, not
	// a failure.
	ErrNotFound = errors.New("no NIDM file found")

	// ErrToolNotAvailable is returned when the csv2nidm binary cannot
	// be resolved on the execution path.
	ErrToolNotAvailable = errors.New("csv2nidm binary not available")

	// ErrToolFailure is returned when a csv2nidm invocation exits
	// nonzero or fails to launch.
	ErrToolFailure = errors.New("csv2nidm execution failed")

	// ErrTimeout is returned when a csv2nidm invocation exceeds its
	// ceiling.
	ErrTimeout = errors.New("csv2nidm execution timed out")

	// ErrUnsupportedFormat is returned for graph files whose extension
	// maps to no known RDF serialization.
	ErrUnsupportedFormat = errors.New("unsupported NIDM serialization format")
)

// IsFatal reports whether the error makes further NIDM conversion
// pointless for the whole run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrToolNotAvailable)
}
