// Package schema implements the Schema Registry: discovers and caches
// metadata for every configured database so the Intent Analyzer and SQL
// Generator can reason about tables without hitting a live connection on
// every query. Uses the same transaction-scoped DDL probing and
// analyze-once-then-cache approach as a single embedded SQLite file
// would, generalized to N operator databases across four dialects.
package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/smartrag/smartrag/internal/dbconn"
	"github.com/smartrag/smartrag/internal/dialect"
	"github.com/smartrag/smartrag/internal/logging"
	"github.com/smartrag/smartrag/pkg/config"
)

var log = logging.GetLogger("schema")

// ErrDatabaseUnavailable is wrapped into a DatabaseSchema's Error field
// when analysis could not reach the database.
var ErrDatabaseUnavailable = errors.New("database unavailable")

// Status labels the outcome of schema analysis for one database.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Column describes one column of one table.
type Column struct {
	Name         string
	Type         string
	Nullable     bool
	MaxLength    int
	IsPrimaryKey bool
	IsForeignKey bool
}

// ForeignKey is a column -> referenced table.column edge. Target stays a
// literal string when the referenced table isn't in this schema (a
// cross-database reference, resolved instead via CrossDatabaseMapping).
type ForeignKey struct {
	Column            string
	ReferencedTable   string
	ReferencedColumn  string
}

// Table describes one table or view.
type Table struct {
	Name         string
	Columns      []Column
	ForeignKeys  []ForeignKey
	RowCount     int64
	SampleRows   []string // pre-formatted tab-separated text, up to 3 lines
}

// DatabaseSchema caches one database's structure.
type DatabaseSchema struct {
	ID      string
	Dialect string
	Name    string
	Status  Status
	Error   string
	Tables  []Table
}

// Usable reports whether downstream code (intent validation, SQL
// generation) may target this database. A database whose analysis
// failed is present in the registry but not usable.
func (d *DatabaseSchema) Usable() bool {
	return d != nil && d.Status == StatusOK
}

// Table looks up a table by case-insensitive name, returning the
// schema's exact casing.
func (d *DatabaseSchema) Table(name string) (*Table, bool) {
	for i := range d.Tables {
		if strings.EqualFold(d.Tables[i].Name, name) {
			return &d.Tables[i], true
		}
	}
	return nil, false
}

// Summarize produces a compact per-table digest for the Intent Analyzer
// prompt: table names and column names only, no sample data.
func (d *DatabaseSchema) Summarize() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Database %q (%s):\n", d.Name, d.Dialect)
	for _, t := range d.Tables {
		cols := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = c.Name
		}
		fmt.Fprintf(&b, "  - %s(%s)\n", t.Name, strings.Join(cols, ", "))
	}
	return b.String()
}

// Registry caches DatabaseSchema per database id behind a concurrent map;
// reads are lock-free relative to each other, Refresh replaces an entry
// atomically.
type Registry struct {
	pool    *dbconn.Pool
	mu      sync.RWMutex
	schemas map[string]*DatabaseSchema
}

// NewRegistry creates a registry bound to an already-opened connection pool.
func NewRegistry(pool *dbconn.Pool) *Registry {
	return &Registry{
		pool:    pool,
		schemas: make(map[string]*DatabaseSchema),
	}
}

// Initialize analyzes every database in the pool. Per-database failures
// are logged and recorded as StatusFailed; they do not abort peers.
func (r *Registry) Initialize(ctx context.Context) error {
	for _, name := range r.pool.Names() {
		r.analyzeOne(ctx, name)
	}
	return nil
}

// Refresh re-runs analysis for a single database.
func (r *Registry) Refresh(ctx context.Context, id string) error {
	r.analyzeOne(ctx, id)
	return nil
}

// Get returns the cached schema for a database id.
func (r *Registry) Get(id string) (*DatabaseSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[id]
	return s, ok
}

// GetAll returns every cached schema.
func (r *Registry) GetAll() []*DatabaseSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*DatabaseSchema, 0, len(r.schemas))
	for _, s := range r.schemas {
		out = append(out, s)
	}
	return out
}

func (r *Registry) analyzeOne(ctx context.Context, id string) {
	cfg, ok := r.pool.Config(id)
	if !ok {
		log.Warn("schema analysis requested for unknown database", "database", id)
		return
	}

	db, open := r.pool.Get(id)
	if !open {
		r.store(&DatabaseSchema{ID: id, Dialect: cfg.Dialect, Name: id, Status: StatusFailed, Error: ErrDatabaseUnavailable.Error()})
		return
	}

	strat, err := dialect.Lookup(cfg.Dialect)
	if err != nil {
		r.store(&DatabaseSchema{ID: id, Dialect: cfg.Dialect, Name: id, Status: StatusFailed, Error: err.Error()})
		return
	}

	schema := &DatabaseSchema{ID: id, Dialect: cfg.Dialect, Name: id, Status: StatusOK}

	tableNames, err := listTables(ctx, db, cfg.Dialect, cfg.IncludedTables, cfg.ExcludedTables)
	if err != nil {
		log.Error("failed to list tables", "database", id, "error", err)
		r.store(&DatabaseSchema{ID: id, Dialect: cfg.Dialect, Name: id, Status: StatusFailed, Error: err.Error()})
		return
	}

	for _, tableName := range tableNames {
		table, err := analyzeTable(ctx, db, strat, tableName)
		if err != nil {
			log.Warn("failed to analyze table, skipping", "database", id, "table", tableName, "error", err)
			continue
		}
		schema.Tables = append(schema.Tables, *table)
	}

	r.store(schema)
	log.Info("schema analysis complete", "database", id, "tables", len(schema.Tables))
}

func (r *Registry) store(s *DatabaseSchema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[s.ID] = s
}

func listTables(ctx context.Context, db *sql.DB, dialectName string, included, excluded []string) ([]string, error) {
	var query string
	switch dialectName {
	case config.DialectSQLite:
		query = `SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'`
	case config.DialectPostgreSQL:
		query = `SELECT table_name FROM information_schema.tables WHERE table_schema = 'public'`
	case config.DialectMySQL:
		query = `SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE()`
	case config.DialectSqlServer:
		query = `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_TYPE = 'BASE TABLE'`
	default:
		return nil, fmt.Errorf("unsupported dialect for table listing: %s", dialectName)
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	includeSet := toSet(included)
	excludeSet := toSet(excluded)

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if len(includeSet) > 0 && !includeSet[strings.ToLower(name)] {
			continue
		}
		if excludeSet[strings.ToLower(name)] {
			continue
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[strings.ToLower(it)] = true
	}
	return set
}

func analyzeTable(ctx context.Context, db *sql.DB, strat dialect.Strategy, tableName string) (*Table, error) {
	table := &Table{Name: tableName}

	cols, pkSet, err := columnsOf(ctx, db, strat, tableName)
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	table.Columns = cols

	fks, err := foreignKeysOf(ctx, db, strat, tableName)
	if err == nil {
		table.ForeignKeys = fks
		fkCols := make(map[string]bool, len(fks))
		for _, fk := range fks {
			fkCols[strings.ToLower(fk.Column)] = true
		}
		for i := range table.Columns {
			if fkCols[strings.ToLower(table.Columns[i].Name)] {
				table.Columns[i].IsForeignKey = true
			}
			if pkSet[strings.ToLower(table.Columns[i].Name)] {
				table.Columns[i].IsPrimaryKey = true
			}
		}
	} else {
		log.Debug("foreign key lookup unavailable", "table", tableName, "error", err)
		for i := range table.Columns {
			if pkSet[strings.ToLower(table.Columns[i].Name)] {
				table.Columns[i].IsPrimaryKey = true
			}
		}
	}

	if count, err := rowCount(ctx, db, strat, tableName); err == nil {
		table.RowCount = count
	}

	if rows, err := sampleRows(ctx, db, strat, tableName, 3); err == nil {
		table.SampleRows = rows
	}

	return table, nil
}

func columnsOf(ctx context.Context, db *sql.DB, strat dialect.Strategy, tableName string) ([]Column, map[string]bool, error) {
	pkSet := make(map[string]bool)

	if strat.Name == config.DialectSQLite {
		rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", strat.Quote(tableName)))
		if err != nil {
			return nil, nil, err
		}
		defer rows.Close()

		var cols []Column
		for rows.Next() {
			var cid int
			var name, ctype string
			var notnull, pk int
			var dflt sql.NullString
			if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
				return nil, nil, err
			}
			if pk > 0 {
				pkSet[strings.ToLower(name)] = true
			}
			cols = append(cols, Column{Name: name, Type: ctype, Nullable: notnull == 0, IsPrimaryKey: pk > 0})
		}
		return cols, pkSet, rows.Err()
	}

	query, args := informationSchemaColumnsQuery(strat.Name, tableName)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var name, dataType, nullable string
		var maxLen sql.NullInt64
		if err := rows.Scan(&name, &dataType, &nullable, &maxLen); err != nil {
			return nil, nil, err
		}
		cols = append(cols, Column{
			Name:      name,
			Type:      dataType,
			Nullable:  strings.EqualFold(nullable, "YES"),
			MaxLength: int(maxLen.Int64),
		})
	}
	return cols, pkSet, rows.Err()
}

func informationSchemaColumnsQuery(dialectName, tableName string) (string, []any) {
	switch dialectName {
	case config.DialectMySQL:
		return `SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE, CHARACTER_MAXIMUM_LENGTH
FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_NAME = ? AND TABLE_SCHEMA = DATABASE() ORDER BY ORDINAL_POSITION`, []any{tableName}
	case config.DialectPostgreSQL:
		return `SELECT column_name, data_type, is_nullable, character_maximum_length
FROM information_schema.columns WHERE table_name = $1 AND table_schema = 'public' ORDER BY ordinal_position`, []any{tableName}
	case config.DialectSqlServer:
		return `SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE, CHARACTER_MAXIMUM_LENGTH
FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_NAME = @p1 ORDER BY ORDINAL_POSITION`, []any{tableName}
	default:
		return "", nil
	}
}

func foreignKeysOf(ctx context.Context, db *sql.DB, strat dialect.Strategy, tableName string) ([]ForeignKey, error) {
	if strat.Name == config.DialectSQLite {
		rows, err := db.QueryContext(ctx, strat.ForeignKeyQuery(strat.Quote(tableName)))
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var fks []ForeignKey
		for rows.Next() {
			var id, seq int
			var table, from, to string
			var onUpdate, onDelete, match string
			if err := rows.Scan(&id, &seq, &table, &from, &to, &onUpdate, &onDelete, &match); err != nil {
				return nil, err
			}
			fks = append(fks, ForeignKey{Column: from, ReferencedTable: table, ReferencedColumn: to})
		}
		return fks, rows.Err()
	}

	rows, err := db.QueryContext(ctx, strat.ForeignKeyQuery(tableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var constraintName, column, refTable, refColumn string
		if err := rows.Scan(&constraintName, &column, &refTable, &refColumn); err != nil {
			return nil, err
		}
		fks = append(fks, ForeignKey{Column: column, ReferencedTable: refTable, ReferencedColumn: refColumn})
	}
	return fks, rows.Err()
}

func rowCount(ctx context.Context, db *sql.DB, strat dialect.Strategy, tableName string) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", strat.QualifyTable("", tableName))
	err := db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}

// sampleRows fetches up to n rows and pre-formats them as tab-separated
// text, matching the registry's "format once at analysis time" contract
// rather than re-formatting raw rows on every SQL-generation call.
func sampleRows(ctx context.Context, db *sql.DB, strat dialect.Strategy, tableName string, n int) ([]string, error) {
	query := strat.BuildSelectWithLimit([]string{"*"}, strat.QualifyTable("", tableName), n)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var formatted []string
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = fmt.Sprintf("%v", v)
		}
		formatted = append(formatted, strings.Join(parts, "\t"))
	}
	return formatted, rows.Err()
}
