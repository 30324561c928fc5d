package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// errRunFailed is returned when a run finished but not every task completed.
var errRunFailed = errors.New("not every task completed")

var rootCmd = &cobra.Command{
	Use:           "taskforge",
	Short:         "taskforge - dependency-aware task runner",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run <plan>",
	Short: "Run every task in a plan file",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

var validateCmd = &cobra.Command{
	Use:   "validate <plan>",
	Short: "Check a plan file and print its execution order",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

var (
	configFlag   string
	logLevelFlag string
	logFileFlag  string
	dirFlag      string
	cascadeFlag  bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Project config file (default .taskforge/config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Override the configured log level")
	rootCmd.PersistentFlags().StringVar(&logFileFlag, "log-file", "", "Write logs to this file instead of stderr")
	runCmd.Flags().StringVarP(&dirFlag, "dir", "d", "", "Working directory for task commands")
	runCmd.Flags().BoolVar(&cascadeFlag, "cascade", false, "Cancel dependents of failed tasks")
	rootCmd.AddCommand(runCmd, validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
