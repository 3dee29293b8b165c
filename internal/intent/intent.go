// Package intent implements the Intent Analyzer: it asks the AI
// provider which databases and tables (if any) are relevant to a
// query, validates the reply against the schema registry, and picks a
// routing strategy. The provider's reply is parsed as JSON rather than
// free text, since the analyzer's output is a list of structured
// targets rather than a single field.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/smartrag/smartrag/internal/logging"
	"github.com/smartrag/smartrag/internal/schema"
)

var log = logging.GetLogger("intent")

// Strategy is the routing decision produced from the analyzer's
// confidence score.
type Strategy string

const (
	DocumentOnly Strategy = "document_only"
	DatabaseOnly Strategy = "database_only"
	Hybrid       Strategy = "hybrid"
)

// NoAnswerMarker is the explicit negation pattern the AI emits when it
// judges no source can answer the query; preserved verbatim so the
// router can fast-fail without touching other sources.
const NoAnswerMarker = "[NO_ANSWER_FOUND]"

// DatabaseQueryIntent is one database's worth of required tables.
type DatabaseQueryIntent struct {
	DatabaseID string
	Tables     []string
	Purpose    string
	// NonEnglishHint marks that Purpose or a requested identifier used a
	// character class forbidden in English SQL; the SQL generator's
	// retry prompt is expected to account for it.
	NonEnglishHint bool
}

// Intent is the analyzer's validated output.
type Intent struct {
	Targets     []DatabaseQueryIntent
	Confidence  float64
	Strategy    Strategy
	NoAnswer    bool
	RawStrategy string // the AI's own strategy hint, informational only
}

// ChatProvider is the subset of the AI Provider contract the analyzer
// needs. Declared locally, same reasoning as docsearch.EmbeddingProvider:
// avoids an import cycle since internal/router composes both this
// package and internal/ai.
type ChatProvider interface {
	GenerateResponse(ctx context.Context, prompt string, history []HistoryTurn, maxTokens int) (string, error)
}

// HistoryTurn mirrors ai.Turn without importing internal/ai.
type HistoryTurn struct {
	Role string
	Text string
}

// Analyzer decides whether a query should hit databases, documents, or
// both.
type Analyzer struct {
	provider ChatProvider
	registry *schema.Registry
}

// NewAnalyzer builds an Analyzer over a chat provider and schema
// registry.
func NewAnalyzer(provider ChatProvider, registry *schema.Registry) *Analyzer {
	return &Analyzer{provider: provider, registry: registry}
}

// Analyze asks the AI for intent targets and validates them against the
// schema registry.
func (a *Analyzer) Analyze(ctx context.Context, query string, history []HistoryTurn) (Intent, error) {
	prompt := a.buildPrompt(query)

	raw, err := a.provider.GenerateResponse(ctx, prompt, history, 1024)
	if err != nil {
		return Intent{}, fmt.Errorf("generate intent: %w", err)
	}

	if strings.Contains(raw, NoAnswerMarker) {
		return Intent{NoAnswer: true, Strategy: DocumentOnly}, nil
	}

	parsed, err := parseReply(raw)
	if err != nil {
		log.Warn("intent reply did not parse as structured JSON, falling back to document-only", "error", err)
		return Intent{Strategy: DocumentOnly, Confidence: 0}, nil
	}

	validated := a.validate(parsed.Targets)
	strategy := selectStrategy(parsed.Confidence, validated)

	return Intent{
		Targets:     validated,
		Confidence:  parsed.Confidence,
		Strategy:    strategy,
		RawStrategy: parsed.Strategy,
	}, nil
}

func (a *Analyzer) buildPrompt(query string) string {
	var b strings.Builder
	b.WriteString("You are a routing assistant for a retrieval system with both databases and documents.\n")
	b.WriteString("Given the user question and the available databases below, decide which databases and tables (if any) are needed to answer it.\n\n")
	b.WriteString("Available databases:\n")

	for _, s := range a.registry.GetAll() {
		if !s.Usable() {
			continue
		}
		b.WriteString(fmt.Sprintf("- database %q (dialect %s)\n", s.Name, s.Dialect))
		for _, t := range s.Tables {
			b.WriteString(fmt.Sprintf("  - table %q (%d rows)\n", t.Name, t.RowCount))
		}
	}

	b.WriteString("\nUser question: ")
	b.WriteString(query)
	b.WriteString("\n\nReply with a single JSON object of the form:\n")
	b.WriteString(`{"targets":[{"database":"<name>","tables":["<table>"],"purpose":"<why>"}],"confidence":0.0,"strategy":"<hint>"}`)
	b.WriteString("\nIf no database can help, use an empty targets list and a low confidence.\n")
	b.WriteString("If nothing at all can answer this question, reply with exactly " + NoAnswerMarker + " instead of JSON.\n")
	return b.String()
}

type aiTarget struct {
	Database string   `json:"database"`
	Tables   []string `json:"tables"`
	Purpose  string   `json:"purpose"`
}

type aiReply struct {
	Targets    []aiTarget `json:"targets"`
	Confidence float64    `json:"confidence"`
	Strategy   string     `json:"strategy"`
}

// parseReply extracts the first balanced JSON object in the text and
// unmarshals it, tolerating prose the AI may wrap it in.
func parseReply(text string) (aiReply, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end == -1 || end < start {
		return aiReply{}, fmt.Errorf("no JSON object found in reply")
	}

	var reply aiReply
	if err := json.Unmarshal([]byte(text[start:end+1]), &reply); err != nil {
		return aiReply{}, fmt.Errorf("unmarshal intent reply: %w", err)
	}
	return reply, nil
}

// validate runs mandatory post-AI validation: drop nonexistent tables,
// relocate tables the AI assigned to the wrong database, drop targets
// left with no tables, and flag non-English identifiers for the SQL
// generator's retry prompt.
func (a *Analyzer) validate(targets []aiTarget) []DatabaseQueryIntent {
	byDB := make(map[string]*DatabaseQueryIntent)
	var order []string

	get := func(dbID string) *DatabaseQueryIntent {
		if existing, ok := byDB[dbID]; ok {
			return existing
		}
		di := &DatabaseQueryIntent{DatabaseID: dbID}
		byDB[dbID] = di
		order = append(order, dbID)
		return di
	}

	for _, t := range targets {
		requestedDB, ok := a.findDatabaseByName(t.Database)
		hint := containsForbiddenChars(t.Purpose)

		for _, table := range t.Tables {
			hint = hint || containsForbiddenChars(table)

			if ok {
				if exact, found := requestedDB.Table(table); found {
					di := get(requestedDB.ID)
					di.Tables = appendUnique(di.Tables, exact.Name)
					di.Purpose = firstNonEmpty(di.Purpose, t.Purpose)
					di.NonEnglishHint = di.NonEnglishHint || hint
					continue
				}
			}

			// Not in the named database (or the database itself doesn't
			// exist): search every known database and relocate.
			if owner, exact, found := a.findTableAnywhere(table); found {
				di := get(owner.ID)
				di.Tables = appendUnique(di.Tables, exact.Name)
				di.Purpose = firstNonEmpty(di.Purpose, t.Purpose)
				di.NonEnglishHint = di.NonEnglishHint || hint
			}
			// Table exists nowhere: silently dropped per spec.
		}
	}

	out := make([]DatabaseQueryIntent, 0, len(order))
	for _, dbID := range order {
		di := byDB[dbID]
		if len(di.Tables) > 0 {
			out = append(out, *di)
		}
	}
	return out
}

func (a *Analyzer) findDatabaseByName(name string) (*schema.DatabaseSchema, bool) {
	for _, s := range a.registry.GetAll() {
		if strings.EqualFold(s.Name, name) || strings.EqualFold(s.ID, name) {
			return s, true
		}
	}
	return nil, false
}

func (a *Analyzer) findTableAnywhere(table string) (*schema.DatabaseSchema, *schema.Table, bool) {
	for _, s := range a.registry.GetAll() {
		if t, ok := s.Table(table); ok {
			return s, t, true
		}
	}
	return nil, nil, false
}

func appendUnique(tables []string, name string) []string {
	for _, t := range tables {
		if strings.EqualFold(t, name) {
			return tables
		}
	}
	return append(tables, name)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// containsForbiddenChars reports characters outside English SQL's usual
// range: Turkish ç/ğ/ı/ö/ş/ü, German ä/ö/ü/ß, and Cyrillic.
func containsForbiddenChars(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Cyrillic, r) {
			return true
		}
		switch r {
		case 'ç', 'ğ', 'ı', 'ö', 'ş', 'ü', 'ä', 'ß', 'Ç', 'Ğ', 'İ', 'Ö', 'Ş', 'Ü', 'Ä':
			return true
		}
	}
	return false
}

// selectStrategy maps intent confidence and target count to a routing
// strategy.
func selectStrategy(confidence float64, targets []DatabaseQueryIntent) Strategy {
	switch {
	case confidence >= 0.7 && len(targets) > 0:
		return DatabaseOnly
	case confidence >= 0.7:
		return DocumentOnly
	case confidence >= 0.3:
		return Hybrid
	default:
		return DocumentOnly
	}
}
