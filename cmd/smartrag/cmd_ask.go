package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smartrag/smartrag/internal/router"
	"github.com/smartrag/smartrag/pkg/config"
)

var (
	askLanguage string
	askMaxChunks int
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask one question and print the answer",
	Long: `Ask routes a single question through the query intelligence
router and prints the synthesized answer along with its sources.

Examples:
  smartrag ask "which customer placed the most orders last month?"
  smartrag ask "what does the onboarding guide say about SSO?" --language es`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runAsk(strings.Join(args, " "))
	},
}

func init() {
	askCmd.Flags().StringVar(&askLanguage, "language", "", "answer in this ISO 639-1 language instead of mirroring the question")
	askCmd.Flags().IntVar(&askMaxChunks, "max-results", 10, "maximum document chunks to consider")
	rootCmd.AddCommand(askCmd)
}

func runAsk(question string) {
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

	sessionID := "cli-ask"
	answer, err := r.Ask(ctx, sessionID, question, askMaxChunks, router.Options{Language: askLanguage})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error answering question: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(answer.AnswerText)
	if len(answer.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, src := range answer.Sources {
			switch src.SourceType {
			case "Database":
				fmt.Printf("- [%s] %s (%d rows, tables: %s)\n", src.SourceType, src.Identifier, src.RowCount, strings.Join(src.Tables, ", "))
			case "System":
				fmt.Printf("- [%s] %s: %s\n", src.SourceType, src.Identifier, src.Snippet)
			default:
				fmt.Printf("- [%s] %s (score %.3f)\n", src.SourceType, src.Identifier, src.Score)
			}
		}
	}
}
