package cli

import (
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	projectDir string
	verbose    bool

	logger = slog.New(slog.DiscardHandler)
	clock  = clockwork.NewRealClock()
)

var rootCmd = &cobra.Command{
	Use:   "croak",
	Short: "croak: object-detection ML pipeline orchestrator",
	Long: `croak walks an object-detection model from raw images to a deployed endpoint:
data preparation, training, evaluation and deployment.

Project state lives in .croak/ at the project root (pipeline-state.yaml,
config.yaml, handoff documents and guided workflows). Training, export and
deployment are delegated to yolo, modal and vfrog.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		logger = newLogger(verbose)
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

// newLogger logs to stderr so command output on stdout stays parseable.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", ".", "project directory (searched upward for .croak/)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(splitCmd)
	rootCmd.AddCommand(prepareCmd)
	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(handoffCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(estimateCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(analyticsCmd)
	rootCmd.AddCommand(platformCmd)
	rootCmd.AddCommand(dbCmd)
}
