package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/heapkit/internal/logger"
)

var (
	// Global flags
	verbose bool
	quiet   bool
	jsonOut bool
	logJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "scavctl",
	Short: "Drive and inspect the heapkit young-generation collector",
	Long: `scavctl runs simulated workloads against a heapkit heap and reports
what each scavenge copied, promoted and freed. Runs are seeded and
reproducible; the heap verifier can be enabled after every cycle.`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogging()
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output and collector debug logs")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit logs as JSON records")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogging routes collector logs to stderr in verbose mode only.
func initLogging() {
	logger.Init(logger.Options{
		Enabled: verbose && !quiet,
		JSON:    logJSON,
		Level:   slog.LevelDebug,
	})
}

// printInfo writes to stdout unless --quiet is set.
func printInfo(format string, args ...any) {
	if quiet {
		return
	}
	fmt.Fprintf(os.Stdout, format, args...)
}

// printVerbose writes to stdout only with --verbose.
func printVerbose(format string, args ...any) {
	if !verbose {
		return
	}
	printInfo(format, args...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
