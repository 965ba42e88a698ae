package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const version = "1.0.0"

var (
	scenarioPath string
	verbose      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "schedulerctl",
		Short: "Run the class scheduler offline against YAML scenarios",
		Long: `schedulerctl executes the scheduling pipeline in-process over a scenario file.
Results are printed as JSON on stdout; logs go to stderr with --verbose.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&scenarioPath, "scenario", "f", "", "Scenario YAML file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log pipeline activity to stderr")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newConflictsCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
