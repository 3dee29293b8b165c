// Package dialect implements the four relational dialect strategies the
// schema registry, SQL generator, and result merger depend on: SQLite,
// SQL Server, MySQL, and PostgreSQL. Rather than the polymorphic
// ISqlDialectStrategy interface hierarchy of the source system, dialects
// are a closed set of values selected by a tag, matching how the pack's
// relational examples pick driver-specific SQL by a config string.
package dialect

import (
	"fmt"
	"strings"

	"github.com/smartrag/smartrag/pkg/config"
)

// Strategy is the per-dialect behavior the schema registry, SQL generator
// and result merger need: identifier quoting, LIMIT/TOP clause shape,
// metadata probes, and prompt preambles.
type Strategy struct {
	Name string

	// Quote wraps an identifier per the dialect's escaping rule.
	Quote func(identifier string) string

	// LimitClause returns the dialect-correct way to cap a query to n rows.
	// Prefix is injected right after SELECT (SQL Server's TOP), Suffix is
	// appended at the end of the statement (LIMIT n for the rest).
	LimitClause func(n int) (prefix, suffix string)

	// ForeignKeyQuery returns the metadata query used to enumerate foreign
	// keys for a table during schema analysis.
	ForeignKeyQuery func(table string) string

	// CaseSensitiveIdentifiers reports whether the dialect preserves column
	// and table name casing in metadata lookups (true for PostgreSQL).
	CaseSensitiveIdentifiers bool

	// SystemPromptPreamble is prefixed to SQL-generation prompts targeting
	// this dialect, naming its escaping and join idioms.
	SystemPromptPreamble string
}

// ErrUnknownDialect is returned by Lookup for an unrecognized dialect tag.
var ErrUnknownDialect = fmt.Errorf("unknown dialect")

var strategies = map[string]Strategy{
	config.DialectSQLite: {
		Name:  config.DialectSQLite,
		Quote: func(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` },
		LimitClause: func(n int) (string, string) {
			return "", fmt.Sprintf("LIMIT %d", n)
		},
		ForeignKeyQuery: func(table string) string {
			return fmt.Sprintf("PRAGMA foreign_key_list(%s)", table)
		},
		CaseSensitiveIdentifiers: false,
		SystemPromptPreamble:     "This is a SQLite database. Quote identifiers with double quotes only if they contain special characters. Use LIMIT to cap row counts.",
	},
	config.DialectSqlServer: {
		Name:  config.DialectSqlServer,
		Quote: func(id string) string { return "[" + strings.ReplaceAll(id, "]", "]]") + "]" },
		LimitClause: func(n int) (string, string) {
			return fmt.Sprintf("TOP %d", n), ""
		},
		ForeignKeyQuery: func(table string) string {
			return fmt.Sprintf(`SELECT fk.name, c1.name AS column_name, t2.name AS referenced_table, c2.name AS referenced_column
FROM sys.foreign_keys fk
JOIN sys.foreign_key_columns fkc ON fkc.constraint_object_id = fk.object_id
JOIN sys.columns c1 ON c1.object_id = fkc.parent_object_id AND c1.column_id = fkc.parent_column_id
JOIN sys.columns c2 ON c2.object_id = fkc.referenced_object_id AND c2.column_id = fkc.referenced_column_id
JOIN sys.tables t2 ON t2.object_id = fkc.referenced_object_id
WHERE fk.parent_object_id = OBJECT_ID('%s')`, table)
		},
		CaseSensitiveIdentifiers: false,
		SystemPromptPreamble:     "This is a SQL Server database. Quote identifiers with square brackets. Use SELECT TOP N to cap row counts, placed right after SELECT.",
	},
	config.DialectMySQL: {
		Name:  config.DialectMySQL,
		Quote: func(id string) string { return "`" + strings.ReplaceAll(id, "`", "``") + "`" },
		LimitClause: func(n int) (string, string) {
			return "", fmt.Sprintf("LIMIT %d", n)
		},
		ForeignKeyQuery: func(table string) string {
			return fmt.Sprintf(`SELECT CONSTRAINT_NAME, COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
WHERE TABLE_NAME = '%s' AND REFERENCED_TABLE_NAME IS NOT NULL AND TABLE_SCHEMA = DATABASE()`, table)
		},
		CaseSensitiveIdentifiers: false,
		SystemPromptPreamble:     "This is a MySQL database. Quote identifiers with backticks. Use LIMIT to cap row counts.",
	},
	config.DialectPostgreSQL: {
		Name:  config.DialectPostgreSQL,
		Quote: func(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` },
		LimitClause: func(n int) (string, string) {
			return "", fmt.Sprintf("LIMIT %d", n)
		},
		ForeignKeyQuery: func(table string) string {
			return fmt.Sprintf(`SELECT tc.constraint_name, kcu.column_name, ccu.table_name AS referenced_table, ccu.column_name AS referenced_column
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu ON tc.constraint_name = kcu.constraint_name
JOIN information_schema.constraint_column_usage ccu ON tc.constraint_name = ccu.constraint_name
WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_name = '%s'`, table)
		},
		CaseSensitiveIdentifiers: true,
		SystemPromptPreamble:     "This is a PostgreSQL database. Quote identifiers with double quotes. Table and column names are case-sensitive when quoted. Use LIMIT to cap row counts.",
	},
}

// Lookup returns the Strategy registered for a dialect tag.
func Lookup(name string) (Strategy, error) {
	s, ok := strategies[name]
	if !ok {
		return Strategy{}, fmt.Errorf("%w: %q", ErrUnknownDialect, name)
	}
	return s, nil
}

// QualifyTable renders "schema.table" using the dialect's quoting rule, or
// a bare identifier when schema is empty. Never emits database.schema.table.
func (s Strategy) QualifyTable(schema, table string) string {
	if schema == "" {
		return s.Quote(table)
	}
	return s.Quote(schema) + "." + s.Quote(table)
}

// BuildSelectWithLimit wraps a column list and FROM clause with the
// dialect-correct row cap.
func (s Strategy) BuildSelectWithLimit(columns []string, from string, n int) string {
	prefix, suffix := s.LimitClause(n)
	cols := strings.Join(columns, ", ")
	if prefix != "" {
		return fmt.Sprintf("SELECT %s %s FROM %s %s", prefix, cols, from, suffix)
	}
	return strings.TrimSpace(fmt.Sprintf("SELECT %s FROM %s %s", cols, from, suffix))
}

// ForbiddenKeywords is the SQL generator's keyword denylist; any of these
// appearing as a whole token anywhere in a generated statement fails validation.
var ForbiddenKeywords = []string{
	"CREATE", "DROP", "DELETE", "UPDATE", "INSERT", "EXEC", "EXECUTE",
	"GRANT", "REVOKE", "ALTER", "TRUNCATE", "MERGE", "CROSS JOIN",
}
