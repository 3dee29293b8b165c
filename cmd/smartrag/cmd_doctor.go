package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smartrag/smartrag/internal/dependencies"
	"github.com/smartrag/smartrag/pkg/config"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check whether the configured AI provider and vector store are reachable",
	Run: func(cmd *cobra.Command, args []string) {
		runDoctor()
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	result := dependencies.Check(context.Background(), cfg)
	fmt.Print(dependencies.FormatReport(result))
	if result.Degraded() {
		os.Exit(1)
	}
}
