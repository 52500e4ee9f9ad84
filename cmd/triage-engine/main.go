package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "triage-engine",
	Short: "Support ticket triage: test-case analysis, priority signals and bulk jobs",
	Long: `triage-engine analyses support tickets with a language model.

It classifies whether a regression test is warranted, drafts and validates test cases,
extracts planning signals for prioritisation, and runs bulk jobs over many tickets.
Run "serve" for the gRPC service or use "analyze" and "bulk" from the shell.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (defaults to $MIRADOR_TRIAGE_CONFIG)")
	rootCmd.AddCommand(serveCmd, analyzeCmd, bulkCmd, jobsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
