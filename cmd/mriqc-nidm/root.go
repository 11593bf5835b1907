package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sensein/mriqc-nidm/internal/bids"
	"github.com/sensein/mriqc-nidm/internal/config"
	"github.com/sensein/mriqc-nidm/internal/logging"
	"github.com/sensein/mriqc-nidm/internal/mriqc"
	"github.com/sensein/mriqc-nidm/internal/nidm"
	"github.com/sensein/mriqc-nidm/internal/pipeline"
	"github.com/sensein/mriqc-nidm/internal/ui"
)

const appVersion = "0.2.0"

// mriqcExtraArgs holds unrecognized long flags, forwarded verbatim to
// the MRIQC command line. Populated in main before Execute.
var mriqcExtraArgs []string

var (
	flagParticipantLabels []string
	flagSessionLabels     []string
	flagModalities        []string
	flagNIDMInputDir      string
	flagMRIQCOutputDir    string
	flagConfigFile        string
	flagSkipMRIQC         bool
	flagSkipNIDM          bool
	flagSkipExisting      bool
	flagNProcs            int
	flagMemGB             int
	flagFDRadius          float64
	flagVerbose           bool
)

var rootCmd = &cobra.Command{
	Use:   "mriqc-nidm BIDS_DIR OUTPUT_DIR ANALYSIS_LEVEL",
	Short: "Run MRIQC and convert its quality metrics to NIDM provenance graphs",
	Long: `mriqc-nidm is a BIDS App: it runs MRIQC participant-level analysis
over a BIDS dataset, reshapes each scan's image quality metrics into
CSV, and converts them into per-subject NIDM RDF graphs serialized as
both Turtle and JSON-LD.

Unrecognized --flags are passed through to MRIQC unchanged.`,
	Version:       appVersion,
	Args:          cobra.ExactArgs(3),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

func init() {
	f := rootCmd.Flags()
	f.StringSliceVar(&flagParticipantLabels, "participant-label", nil, "subject label(s) to process (with or without sub- prefix); default: all")
	f.StringSliceVar(&flagSessionLabels, "session-label", nil, "session label(s) to process (with or without ses- prefix)")
	f.StringSliceVar(&flagModalities, "modalities", nil, "restrict MRIQC to these modalities (e.g. T1w, bold)")
	f.StringVar(&flagNIDMInputDir, "nidm-input-dir", "", "directory holding pre-existing NIDM graphs to augment (default: BIDS_DIR/../NIDM)")
	f.StringVar(&flagMRIQCOutputDir, "mriqc-output-dir", "", "use existing MRIQC outputs from this directory (implies --skip-mriqc)")
	f.StringVar(&flagConfigFile, "config", "", "path to a configuration file (default: ./"+config.ConfigFileName+" if present)")
	f.BoolVar(&flagSkipMRIQC, "skip-mriqc", false, "skip running MRIQC; convert existing outputs only")
	f.BoolVar(&flagSkipNIDM, "skip-nidm-conversion", false, "run MRIQC only; skip the NIDM conversion stage")
	f.BoolVar(&flagSkipExisting, "skip-existing", false, "skip subjects that already have MRIQC output JSONs")
	f.IntVar(&flagNProcs, "nprocs", 0, "cap MRIQC worker processes")
	f.IntVar(&flagMemGB, "mem-gb", 0, "cap MRIQC memory usage in GB")
	f.Float64Var(&flagFDRadius, "fd-radius", 0, "framewise displacement head radius in mm")
	f.BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
}

func runRoot(cmd *cobra.Command, args []string) error {
	bidsDir, err := filepath.Abs(args[0])
	if err != nil {
		fatalf("invalid BIDS directory: %v", err)
	}
	outputDir, err := filepath.Abs(args[1])
	if err != nil {
		fatalf("invalid output directory: %v", err)
	}
	if level := args[2]; level != "participant" {
		fatalf("unsupported analysis level %q: only participant is supported", level)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		fatalf("creating output directory: %v", err)
	}

	logger, logFile, err := logging.Setup(logging.Options{
		OutputDir: outputDir,
		Verbose:   flagVerbose,
	})
	if err != nil {
		fatalf("setting up logging: %v", err)
	}
	logger.Info("mriqc-nidm starting", "version", appVersion, "log_file", logFile)

	cfg, err := config.Load(flagConfigFile)
	if err != nil {
		logger.Error("configuration error", "error", err)
		return err
	}

	if err := bids.ValidateDataset(bidsDir, logger); err != nil {
		logger.Error("BIDS dataset validation failed", "error", err)
		return err
	}

	skipMRIQC := flagSkipMRIQC
	mriqcDir := filepath.Join(outputDir, cfg.AppDirName, "mriqc")
	if flagMRIQCOutputDir != "" {
		mriqcDir, err = filepath.Abs(flagMRIQCOutputDir)
		if err != nil {
			fatalf("invalid MRIQC output directory: %v", err)
		}
		skipMRIQC = true
		logger.Info("using existing MRIQC outputs", "dir", mriqcDir)
	}

	// When MRIQC is skipped its outputs must already exist; otherwise
	// every subject would just come back not-found.
	if skipMRIQC {
		if _, err := os.Stat(mriqcDir); err != nil {
			err := fmt.Errorf("MRIQC output directory does not exist: %s", mriqcDir)
			logger.Error("precondition failed", "error", err)
			return err
		}
	}

	// csv2nidm is required before any work starts unless conversion is
	// skipped entirely. Failing late would waste hours of MRIQC time.
	if !flagSkipNIDM {
		probe := nidm.NewConverter(cfg.CSV2NIDMCommand, "", cfg.CSV2NIDMTimeout, logger)
		if !probe.Available() {
			err := fmt.Errorf("%s not found on PATH; install pynidm or pass --skip-nidm-conversion", cfg.CSV2NIDMCommand)
			logger.Error("precondition failed", "error", err)
			return err
		}
	}

	if flagNIDMInputDir != "" {
		flagNIDMInputDir, err = filepath.Abs(flagNIDMInputDir)
		if err != nil {
			fatalf("invalid NIDM input directory: %v", err)
		}
		locator := &nidm.Locator{Extensions: cfg.NIDMExtensions, Logger: logger}
		if err := locator.ValidateInputDir(flagNIDMInputDir); err != nil {
			logger.Error("NIDM input directory validation failed", "error", err)
			return err
		}
	}

	subjects := bids.NormalizeLabels(flagParticipantLabels, bids.SubjectPrefix)
	if len(subjects) == 0 {
		subjects, err = bids.DiscoverSubjects(bidsDir, mriqcDir)
		if err != nil {
			logger.Error("subject discovery failed", "error", err)
			return err
		}
	}
	if len(subjects) == 0 {
		err := fmt.Errorf("no subjects found in %s", bidsDir)
		logger.Error("nothing to process", "error", err)
		return err
	}
	logger.Info("subjects to process", "count", len(subjects), "subjects", subjects)

	sessions := bids.NormalizeLabels(flagSessionLabels, bids.SessionPrefix)

	ctx := context.Background()

	mriqcFailed := map[string]bool{}
	if !skipMRIQC {
		mriqcFailed, err = runMRIQC(ctx, cfg, bidsDir, outputDir, mriqcDir, subjects, sessions, logger)
		if err != nil {
			return err
		}
	}

	if flagSkipNIDM {
		logger.Info("NIDM conversion skipped")
		if len(mriqcFailed) > 0 {
			fmt.Println(ui.RenderWarning("MRIQC failed for some subjects; see processing_summary.json"))
			return fmt.Errorf("mriqc failed for %d of %d subjects", len(mriqcFailed), len(subjects))
		}
		fmt.Println(ui.RenderSuccess("MRIQC processing complete (NIDM conversion skipped)"))
		return nil
	}

	pipe, err := pipeline.New(cfg, bidsDir, outputDir, mriqcDir, flagNIDMInputDir, false, logger)
	if err != nil {
		logger.Error("pipeline setup failed", "error", err)
		return err
	}

	var converted, failed []string
	for _, subjectID := range subjects {
		if mriqcFailed[subjectID] {
			logger.Warn("skipping NIDM conversion, MRIQC failed", "subject", bids.SubjectPrefix+subjectID)
			failed = append(failed, subjectID)
			continue
		}
		outcome, err := pipe.ProcessSubject(ctx, subjectID)
		switch outcome {
		case pipeline.OutcomeSuccess:
			converted = append(converted, subjectID)
		default:
			failed = append(failed, subjectID)
			logger.Error("subject conversion incomplete", "subject", bids.SubjectPrefix+subjectID,
				"outcome", string(outcome), "error", err)
			if err != nil && nidm.IsFatal(err) {
				return err
			}
		}
	}

	nidmDir := filepath.Join(outputDir, cfg.AppDirName, "nidm")
	if _, err := writeNIDMDatasetDescription(nidmDir, logger); err != nil {
		logger.Warn("failed to write NIDM dataset description", "error", err)
	}

	fmt.Println(ui.RenderAccent(fmt.Sprintf("NIDM conversion: %d succeeded, %d failed", len(converted), len(failed))))
	if len(failed) > 0 {
		fmt.Println(ui.RenderError("failed subjects: " + joinSubjects(failed)))
		return fmt.Errorf("%d of %d subjects failed", len(failed), len(subjects))
	}
	fmt.Println(ui.RenderSuccess("all subjects processed; results in " + nidmDir))
	return nil
}

// runMRIQC executes the participant-level MRIQC stage for every
// subject (and session, when restricted), then persists the processing
// summary and the derivatives metadata. Subjects whose MRIQC run failed
// are returned so conversion can skip them; only a missing MRIQC binary
// stops the batch.
func runMRIQC(ctx context.Context, cfg config.Config, bidsDir, outputDir, mriqcDir string, subjects, sessions []string, logger *slog.Logger) (map[string]bool, error) {
	workDir := filepath.Join(outputDir, cfg.AppDirName, "work")
	runner, err := mriqc.NewRunner(cfg.MRIQCCommand, bidsDir, mriqcDir, workDir, cfg.Datatypes, logger)
	if err != nil {
		logger.Error("MRIQC unavailable", "error", err)
		return nil, err
	}

	runSessions := sessions
	if len(runSessions) == 0 {
		runSessions = []string{""}
	}

	failed := map[string]bool{}
	for _, subjectID := range subjects {
		for _, sessionID := range runSessions {
			err := runner.ProcessParticipant(ctx, mriqc.Options{
				SubjectID:    subjectID,
				SessionID:    sessionID,
				Modalities:   flagModalities,
				NProcs:       flagNProcs,
				MemGB:        flagMemGB,
				FDRadius:     flagFDRadius,
				VerboseCount: verboseCount(),
				SkipExisting: flagSkipExisting,
				ExtraArgs:    mriqcExtraArgs,
			})
			if err != nil {
				failed[subjectID] = true
			}
		}
	}

	if _, err := runner.SaveSummary(); err != nil {
		logger.Warn("failed to save processing summary", "error", err)
	}
	if _, err := runner.WriteDatasetDescription(appVersion); err != nil {
		logger.Warn("failed to write MRIQC dataset description", "error", err)
	}
	return failed, nil
}

// writeNIDMDatasetDescription writes the derivatives metadata for the
// NIDM output tree, keeping an existing file untouched.
func writeNIDMDatasetDescription(nidmDir string, logger *slog.Logger) (string, error) {
	path := filepath.Join(nidmDir, bids.DatasetDescriptionName)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	desc := bids.DatasetDescription{
		Name:        "MRIQC quality metrics as NIDM provenance graphs",
		BIDSVersion: "1.6.0",
		DatasetType: "derivative",
		GeneratedBy: []bids.GeneratedBy{
			{
				Name:        "mriqc-nidm",
				Version:     appVersion,
				Description: "MRIQC to NIDM BIDS App",
			},
		},
	}
	return bids.WriteDatasetDescription(nidmDir, desc, logger)
}

func verboseCount() int {
	if flagVerbose {
		return 1
	}
	return 0
}

func joinSubjects(subjects []string) string {
	out := ""
	for i, s := range subjects {
		if i > 0 {
			out += ", "
		}
		out += bids.SubjectPrefix + s
	}
	return out
}
