// Package sqlgen implements the SQL Generator: turns one validated
// DatabaseQueryIntent into a single safe SELECT statement via the AI
// provider, validates the result against the dialect's forbidden
// keywords and identifier casing, and retries with a corrective prompt
// on failure.
package sqlgen

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/smartrag/smartrag/internal/dialect"
	"github.com/smartrag/smartrag/internal/intent"
	"github.com/smartrag/smartrag/internal/logging"
	"github.com/smartrag/smartrag/internal/schema"
	"github.com/smartrag/smartrag/pkg/config"
)

var log = logging.GetLogger("sqlgen")

// ChatProvider is the subset of the AI Provider contract this package
// needs, declared locally for the same import-cycle reasons as
// intent.ChatProvider and docsearch.EmbeddingProvider.
type ChatProvider interface {
	GenerateResponse(ctx context.Context, prompt string, history []intent.HistoryTurn, maxTokens int) (string, error)
}

// Result is the outcome of generating SQL for one DatabaseQueryIntent.
type Result struct {
	DatabaseID string
	SQL        string
	Failed     bool
	Reason     string
}

// Generator turns intents into validated SQL.
type Generator struct {
	provider ChatProvider
	registry *schema.Registry
	retry    config.RetryConfig
}

// NewGenerator builds a Generator.
func NewGenerator(provider ChatProvider, registry *schema.Registry, retry config.RetryConfig) *Generator {
	return &Generator{provider: provider, registry: registry, retry: retry}
}

// Generate produces a Result for each surviving intent target.
func (g *Generator) Generate(ctx context.Context, query string, targets []intent.DatabaseQueryIntent) []Result {
	results := make([]Result, 0, len(targets))
	for _, target := range targets {
		results = append(results, g.generateOne(ctx, query, target))
	}
	return results
}

func (g *Generator) generateOne(ctx context.Context, query string, target intent.DatabaseQueryIntent) Result {
	dbSchema, ok := g.registry.Get(target.DatabaseID)
	if !ok || !dbSchema.Usable() {
		return Result{DatabaseID: target.DatabaseID, Failed: true, Reason: "database not available in schema registry"}
	}

	strat, err := dialect.Lookup(dbSchema.Dialect)
	if err != nil {
		return Result{DatabaseID: target.DatabaseID, Failed: true, Reason: err.Error()}
	}

	var violation string
	attempts := g.retry.MaxRetryAttempts + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		prompt := buildPrompt(query, target, dbSchema, strat, violation)

		raw, err := g.provider.GenerateResponse(ctx, prompt, nil, 512)
		if err != nil {
			return Result{DatabaseID: target.DatabaseID, Failed: true, Reason: fmt.Sprintf("AI call failed: %v", err)}
		}

		sqlText := extractSQL(raw)
		if err := validate(sqlText, strat, dbSchema); err != nil {
			violation = err.Error()
			log.Warn("generated SQL failed validation, retrying", "database", target.DatabaseID, "attempt", attempt, "error", err)
			continue
		}

		return Result{DatabaseID: target.DatabaseID, SQL: sqlText}
	}

	return Result{DatabaseID: target.DatabaseID, Failed: true, Reason: violation}
}

// buildPrompt renders the generation prompt: dialect preamble, schema
// detail for each required table (columns, types, PK/FK flags, sample
// rows), and the explicit rule list. violation, when non-empty, is
// appended as a corrective addendum from a previous failed attempt.
func buildPrompt(query string, target intent.DatabaseQueryIntent, dbSchema *schema.DatabaseSchema, strat dialect.Strategy, violation string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n\n", strat.SystemPromptPreamble)
	fmt.Fprintf(&b, "Database: %s (dialect: %s)\n", dbSchema.Name, dbSchema.Dialect)
	fmt.Fprintf(&b, "User question: %s\n", query)
	if target.Purpose != "" {
		fmt.Fprintf(&b, "Purpose: %s\n", target.Purpose)
	}

	b.WriteString("\nTables:\n")
	for _, name := range target.Tables {
		t, ok := dbSchema.Table(name)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %s\n", t.Name)
		for _, c := range t.Columns {
			flags := ""
			if c.IsPrimaryKey {
				flags += " PK"
			}
			if c.IsForeignKey {
				flags += " FK"
			}
			fmt.Fprintf(&b, "    %s %s%s\n", c.Name, c.Type, flags)
		}
		for _, row := range t.SampleRows {
			fmt.Fprintf(&b, "    sample: %s\n", row)
		}
	}

	b.WriteString("\nRules:\n")
	b.WriteString("- Only SELECT is permitted; CREATE, DROP, DELETE, UPDATE, INSERT, EXEC, GRANT, REVOKE are forbidden.\n")
	b.WriteString("- Every non-aggregate column in SELECT must appear in GROUP BY when aggregate functions are used.\n")
	b.WriteString("- CROSS JOIN is forbidden; use INNER JOIN or LEFT JOIN with an ON clause.\n")
	fmt.Fprintf(&b, "- Escape identifiers the way this dialect expects: %s\n", strat.SystemPromptPreamble)
	b.WriteString("- Use schema.table form only, never database.schema.table.\n")
	if strat.CaseSensitiveIdentifiers {
		b.WriteString("- This dialect is case-sensitive: match table and column casing exactly as shown above.\n")
	}
	b.WriteString("- Do not invent tables or columns not shown above.\n")
	b.WriteString("- Always include ID columns in SELECT so results can be joined across databases.\n")
	b.WriteString("- Reply with the SQL statement only, no explanation, no markdown fences.\n")

	if violation != "" {
		fmt.Fprintf(&b, "\nYour previous attempt was rejected: %s\nProduce a corrected statement.\n", violation)
	}

	return b.String()
}

var fencedBlock = regexp.MustCompile("(?s)```(?:sql)?\\s*(.*?)```")

// extractSQL returns the body of the first markdown fence when the reply
// has one, dropping any prose around it, since the AI is asked for bare
// SQL but sometimes wraps it anyway. A reply without a fence is only
// trimmed of surrounding whitespace.
func extractSQL(raw string) string {
	if m := fencedBlock.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(raw)
}

var forbiddenTokenPattern = buildForbiddenPattern()

func buildForbiddenPattern() *regexp.Regexp {
	escaped := make([]string, len(dialect.ForbiddenKeywords))
	for i, kw := range dialect.ForbiddenKeywords {
		escaped[i] = regexp.QuoteMeta(kw)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(escaped, "|") + `)\b`)
}

// validate enforces the statement's safety rules: must start with
// SELECT, must contain no forbidden keyword as a whole token, must
// contain no non-English character class, and for PostgreSQL must
// match the schema's exact table-identifier casing.
func validate(sqlText string, strat dialect.Strategy, dbSchema *schema.DatabaseSchema) error {
	trimmed := strings.TrimSpace(stripLeadingComments(sqlText))
	if trimmed == "" {
		return fmt.Errorf("empty SQL")
	}
	if !strings.HasPrefix(strings.ToUpper(trimmed), "SELECT") {
		return fmt.Errorf("statement must start with SELECT")
	}
	if m := forbiddenTokenPattern.FindString(trimmed); m != "" {
		return fmt.Errorf("forbidden keyword %q", m)
	}
	if containsNonEnglish(trimmed) {
		return fmt.Errorf("statement contains non-English characters")
	}
	if strat.CaseSensitiveIdentifiers {
		if err := checkCasing(trimmed, dbSchema); err != nil {
			return err
		}
	}
	return nil
}

func stripLeadingComments(s string) string {
	for {
		trimmed := strings.TrimLeft(s, " \t\n\r")
		switch {
		case strings.HasPrefix(trimmed, "--"):
			if i := strings.IndexByte(trimmed, '\n'); i >= 0 {
				s = trimmed[i+1:]
				continue
			}
			return ""
		case strings.HasPrefix(trimmed, "/*"):
			if i := strings.Index(trimmed, "*/"); i >= 0 {
				s = trimmed[i+2:]
				continue
			}
			return ""
		default:
			return trimmed
		}
	}
}

func containsNonEnglish(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return true
		}
	}
	return false
}

// checkCasing verifies every table name referenced after FROM/JOIN
// matches the schema's recorded casing exactly, required for
// case-sensitive dialects like quoted PostgreSQL identifiers.
func checkCasing(sqlText string, dbSchema *schema.DatabaseSchema) error {
	refs := tableRefPattern.FindAllStringSubmatch(sqlText, -1)
	for _, m := range refs {
		name := strings.Trim(m[1], `"`)
		if t, ok := dbSchema.Table(name); ok && t.Name != name {
			return fmt.Errorf("identifier %q does not match schema casing %q", name, t.Name)
		}
	}
	return nil
}

var tableRefPattern = regexp.MustCompile(`(?i)(?:FROM|JOIN)\s+("?[A-Za-z_][A-Za-z0-9_]*"?)`)
