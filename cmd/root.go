package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// CLI flags shared across subcommands
	logLevel     string // Log verbosity level
	baselinePath string // Path to the PCA baseline artifact
	seed         int64  // Seed for the synthetic process noise
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "tep-monitor",
	Short: "Real-time anomaly monitoring for a simulated Tennessee Eastman Process plant",
}

// setupLogging applies the --log flag; called at the start of every subcommand.
func setupLogging() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up shared CLI flags
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&baselinePath, "baseline", "baseline.json", "PCA baseline artifact path")
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", 42, "Seed for synthetic process noise")
}
