package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smartrag/smartrag/internal/eval"
	"github.com/smartrag/smartrag/pkg/config"
)

var evalCmd = &cobra.Command{
	Use:   "eval <dataset.json>",
	Short: "Score answers against a fixed set of question/expected-answer pairs",
	Long: `Eval loads a JSON dataset of the form

  {"name": "...", "questions": [{"id": "q1", "category": "...", "question": "...", "expected_answer": "..."}]}

runs each question through the query intelligence router, and reports
token-level F1, precision, and recall overall and per category.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runEval(args[0])
	},
}

func init() {
	rootCmd.AddCommand(evalCmd)
}

func runEval(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading %s: %v\n", path, err)
		os.Exit(1)
	}

	var dataset eval.Dataset
	if err := json.Unmarshal(raw, &dataset); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing dataset: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	r, err := buildRouter(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error wiring router: %v\n", err)
		os.Exit(1)
	}
	defer r.Close()

	summary := eval.Run(ctx, r, "eval-"+dataset.Name, dataset)
	fmt.Print(eval.FormatReport(summary))
}
