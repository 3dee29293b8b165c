package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smartrag/smartrag/internal/router"
	"github.com/smartrag/smartrag/pkg/config"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive session against the query intelligence router",
	Long: `Chat opens a REPL that keeps a single conversation session open,
so later questions can refer back to earlier ones.

Type "exit" or press Ctrl-D to leave.`,
	Run: func(cmd *cobra.Command, args []string) {
		runChat()
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat() {
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

	sessionID := "cli-chat"
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("smartrag chat — type 'exit' to leave")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		answer, err := r.Ask(ctx, sessionID, line, 10, router.Options{})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println(answer.AnswerText)
	}
}
