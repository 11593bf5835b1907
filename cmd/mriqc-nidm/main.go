// Command mriqc-nidm is a BIDS App that runs MRIQC over a BIDS dataset
// and converts the resulting image quality metrics into NIDM RDF
// provenance graphs (Turtle and JSON-LD) via the csv2nidm tool.
//
// Usage follows the BIDS Apps convention:
//
//	mriqc-nidm BIDS_DIR OUTPUT_DIR participant [flags] [mriqc flags...]
//
// Flags the app does not recognize are forwarded verbatim to the MRIQC
// command line, so any MRIQC option works without being mirrored here.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

func main() {
	known, extra := splitPassthrough(os.Args[1:], rootCmd.Flags())
	mriqcExtraArgs = extra

	rootCmd.SetArgs(known)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// splitPassthrough separates the arguments this app declares from
// long flags destined for MRIQC. An unknown --flag keeps its value,
// whether attached (--flag=v) or following (--flag v); a following
// token is taken as the value only when it is not itself a flag.
// Positionals and short flags always stay with the app.
func splitPassthrough(args []string, flags *pflag.FlagSet) (known, extra []string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") || arg == "--" {
			known = append(known, arg)
			continue
		}

		name := strings.TrimPrefix(arg, "--")
		if eq := strings.IndexByte(name, '='); eq >= 0 {
			name = name[:eq]
		}
		// help and version are registered by cobra at Execute time.
		if flags.Lookup(name) != nil || name == "help" || name == "version" {
			known = append(known, arg)
			continue
		}

		extra = append(extra, arg)
		if !strings.Contains(arg, "=") && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			extra = append(extra, args[i+1])
			i++
		}
	}
	return known, extra
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
