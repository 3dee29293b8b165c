// Package synth implements the Answer Synthesizer: it turns merged
// database evidence and ranked document chunks into the final
// natural-language Answer, with a fixed set of prompt-discipline rules
// rendered verbatim into every prompt — a context-then-question shape
// with an explicit "use only the provided context" instruction, over
// the database-text-plus-chunks evidence this system assembles.
package synth

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/smartrag/smartrag/internal/docsearch"
	"github.com/smartrag/smartrag/internal/logging"
)

var log = logging.GetLogger("synth")

// NotFoundMessage is returned verbatim whenever no database row
// matched and no chunk passed the search threshold.
const NotFoundMessage = "I could not find the answer to your question"

// HistoryTurn mirrors ai.Turn without importing internal/ai, avoiding
// an import cycle since internal/router composes both packages.
type HistoryTurn struct {
	Role string
	Text string
}

// ChatProvider is the subset of the AI provider contract synth needs.
type ChatProvider interface {
	GenerateResponse(ctx context.Context, prompt string, history []HistoryTurn, maxTokens int) (string, error)
}

// DatabaseEvidence describes one executed SQL statement, used both to
// build the merged text block's provenance and the per-result Source
// entries.
type DatabaseEvidence struct {
	DatabaseID string
	SQL        string
	RowCount   int
}

// Evidence is the union fed to the synthesizer: the merged/joined
// database text block, the statements that produced it, and the
// ranked document chunks retrieved for the same query.
type Evidence struct {
	DatabaseText string
	DatabaseRows []DatabaseEvidence
	Chunks       []docsearch.ScoredChunk
	Threshold    float64
}

// TotalDatabaseRows sums RowCount across every executed statement.
func (e Evidence) TotalDatabaseRows() int {
	total := 0
	for _, r := range e.DatabaseRows {
		total += r.RowCount
	}
	return total
}

func (e Evidence) anyChunkPassesThreshold() bool {
	for _, c := range e.Chunks {
		if c.Score >= e.Threshold {
			return true
		}
	}
	return false
}

// Source attributes one piece of evidence behind an answer.
type Source struct {
	SourceType  string // "Database", "Document", "Audio", "Image", "System"
	Identifier  string
	Snippet     string
	Score       float64
	HasScore    bool
	ExecutedSQL string
	RowCount    int
	Tables      []string
}

// Answer is the synthesizer's final output.
type Answer struct {
	Query      string
	AnswerText string
	Sources    []Source
	SearchedAt time.Time
}

// Synthesizer produces the final natural-language answer from merged
// evidence.
type Synthesizer struct {
	provider ChatProvider
	maxTokens int
}

// NewSynthesizer builds a Synthesizer over a chat provider.
func NewSynthesizer(provider ChatProvider, maxTokens int) *Synthesizer {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Synthesizer{provider: provider, maxTokens: maxTokens}
}

// Synthesize answers query using ev, mirroring the query's language
// unless language is non-empty.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, ev Evidence, history []HistoryTurn, language string) Answer {
	if ev.TotalDatabaseRows() == 0 && !ev.anyChunkPassesThreshold() {
		log.Info("no evidence passed threshold, returning not-found", "query", query)
		return Answer{Query: query, AnswerText: NotFoundMessage, SearchedAt: time.Now()}
	}

	prompt := buildPrompt(query, ev, language)
	raw, err := s.provider.GenerateResponse(ctx, prompt, history, s.maxTokens)
	if err != nil {
		log.Error("synthesis failed", "error", err)
		return Answer{
			Query:      query,
			AnswerText: NotFoundMessage,
			Sources:    []Source{{SourceType: "System", Identifier: "synthesizer", Snippet: err.Error()}},
			SearchedAt: time.Now(),
		}
	}

	answerText := postProcess(raw)
	if strings.TrimSpace(answerText) == "" {
		answerText = NotFoundMessage
	}

	return Answer{
		Query:      query,
		AnswerText: answerText,
		Sources:    buildSources(ev),
		SearchedAt: time.Now(),
	}
}

func buildPrompt(query string, ev Evidence, language string) string {
	var b strings.Builder

	b.WriteString("You are answering a question using only the evidence below. Follow these rules exactly:\n")
	b.WriteString("- Use ONLY the data shown below; never invent names, numbers, or examples.\n")
	b.WriteString(fmt.Sprintf("- If there is no usable evidence, reply with exactly: %q\n", NotFoundMessage))
	b.WriteString("- Never include SQL code or ```sql fences in your answer.\n")
	b.WriteString("- If the question asks which item has the most/highest/largest of something and the evidence contains multiple groupings, list every grouping ordered by its aggregate value descending, not just the top one.\n")
	if language != "" {
		b.WriteString(fmt.Sprintf("- Answer in this language: %s.\n", language))
	} else {
		b.WriteString("- Answer in the same language as the question.\n")
	}

	b.WriteString("\nDatabase evidence:\n")
	if ev.DatabaseText != "" {
		b.WriteString(ev.DatabaseText)
		b.WriteString("\n")
	} else {
		b.WriteString("(none)\n")
	}

	b.WriteString("\nDocument evidence:\n")
	if len(ev.Chunks) == 0 {
		b.WriteString("(none)\n")
	} else {
		for i, c := range ev.Chunks {
			b.WriteString(fmt.Sprintf("[%d] (score %.3f) %s\n", i+1, c.Score, c.Chunk.Text))
		}
	}

	b.WriteString(fmt.Sprintf("\nQuestion: %s\n", query))
	b.WriteString("Answer:")
	return b.String()
}

var (
	fencedCodeBlock = regexp.MustCompile("(?s)```(?:sql)?.*?```")
	bareSelect      = regexp.MustCompile(`(?im)^\s*SELECT\s+.*?(?:;|$)`)
)

func postProcess(raw string) string {
	cleaned := fencedCodeBlock.ReplaceAllString(raw, "")
	cleaned = bareSelect.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

func buildSources(ev Evidence) []Source {
	var sources []Source

	for _, r := range ev.DatabaseRows {
		sources = append(sources, Source{
			SourceType:  "Database",
			Identifier:  r.DatabaseID,
			ExecutedSQL: r.SQL,
			RowCount:    r.RowCount,
			Tables:      extractTables(r.SQL),
		})
	}

	for _, c := range ev.Chunks {
		if c.Score < ev.Threshold {
			continue
		}
		sources = append(sources, Source{
			SourceType: string(c.Chunk.ContentType),
			Identifier: c.Chunk.DocumentID,
			Snippet:    snippet(c.Chunk.Text, 200),
			Score:      c.Score,
			HasScore:   true,
		})
	}

	return sources
}

var tableRefPattern = regexp.MustCompile(`(?i)(?:FROM|JOIN)\s+("?[A-Za-z_][A-Za-z0-9_.]*"?)`)

func extractTables(sqlText string) []string {
	matches := tableRefPattern.FindAllStringSubmatch(sqlText, -1)
	seen := make(map[string]bool, len(matches))
	var tables []string
	for _, m := range matches {
		name := strings.Trim(m[1], `"`)
		if seen[name] {
			continue
		}
		seen[name] = true
		tables = append(tables, name)
	}
	sort.Strings(tables)
	return tables
}

func snippet(text string, max int) string {
	text = strings.TrimSpace(text)
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}
