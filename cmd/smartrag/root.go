package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set during build.
var Version = "0.1.0"

var cfgPath string

var rootCmd = &cobra.Command{
	Use:     "smartrag",
	Short:   "Retrieval-augmented question answering over databases and documents",
	Version: Version,
	Long: `smartrag is a demo host for the SmartRAG query intelligence router.

It answers natural-language questions by routing them to relational
databases, a document index, or both, depending on what the question
needs.

Examples:
  smartrag ask "which customer placed the most orders?"
  smartrag chat
  smartrag ingest ./docs/handbook.txt`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file path")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
