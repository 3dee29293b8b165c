// Package dbconn manages per-database connection pools for every
// dialect the schema registry, SQL generator and database executor
// touch: SQLite, SQL Server, MySQL, and PostgreSQL. It mirrors the
// teacher's internal/database connection-wrapper shape (mutex-guarded
// *sql.DB, Open/Close, query helpers) generalized from a single
// embedded SQLite file to an arbitrary pool of operator-configured
// relational connections.
package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/smartrag/smartrag/internal/logging"
	"github.com/smartrag/smartrag/pkg/config"
)

var log = logging.GetLogger("dbconn")

// driverNames maps a SmartRAG dialect tag to the database/sql driver name
// registered by the imported driver package.
var driverNames = map[string]string{
	config.DialectSQLite:     "sqlite3",
	config.DialectSqlServer:  "sqlserver",
	config.DialectMySQL:      "mysql",
	config.DialectPostgreSQL: "postgres",
}

// Pool holds one *sql.DB per configured, enabled database, keyed by
// database id (the DatabaseConnectionConfig.Name).
type Pool struct {
	mu    sync.RWMutex
	conns map[string]*sql.DB
	cfgs  map[string]config.DatabaseConnectionConfig
}

// NewPool opens a connection for every enabled database in cfgs. A
// database that fails to open is logged and skipped; it is simply
// absent from the pool, matching the schema registry's "still present
// so downstream code can skip it" failure model at the layer below.
func NewPool(ctx context.Context, cfgs []config.DatabaseConnectionConfig) *Pool {
	p := &Pool{
		conns: make(map[string]*sql.DB),
		cfgs:  make(map[string]config.DatabaseConnectionConfig),
	}

	for _, c := range cfgs {
		if !c.Enabled {
			continue
		}
		name := DeriveName(c)
		p.cfgs[name] = c

		driver, ok := driverNames[c.Dialect]
		if !ok {
			log.Error("unsupported dialect", "database", name, "dialect", c.Dialect)
			continue
		}

		db, err := sql.Open(driver, c.ConnectionString)
		if err != nil {
			log.Error("failed to open database", "database", name, "error", err)
			continue
		}
		db.SetMaxOpenConns(8)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(time.Hour)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			log.Error("failed to ping database", "database", name, "error", err)
			db.Close()
			continue
		}

		p.mu.Lock()
		p.conns[name] = db
		p.mu.Unlock()
		log.Info("database connection established", "database", name, "dialect", c.Dialect)
	}

	return p
}

// DeriveName returns the configured name or, when absent, an id built
// from the dialect and the length of the connection string in hex. The
// database name is not read from the connection string, so two unnamed
// databases of one dialect with equally long connection strings share
// an id.
func DeriveName(c config.DatabaseConnectionConfig) string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("%s-%x", c.Dialect, len(c.ConnectionString))
}

// Get returns the open connection for a database id, or false if it is
// not configured, disabled, or failed to open.
func (p *Pool) Get(name string) (*sql.DB, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	db, ok := p.conns[name]
	return db, ok
}

// Config returns the DatabaseConnectionConfig registered for a database id.
func (p *Pool) Config(name string) (config.DatabaseConnectionConfig, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.cfgs[name]
	return c, ok
}

// Names returns every database id known to the pool (including ones
// whose connection failed to open, per p.cfgs, not p.conns).
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.cfgs))
	for name := range p.cfgs {
		names = append(names, name)
	}
	return names
}

// Close closes every open connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for name, db := range p.conns {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing %s: %w", name, err)
		}
	}
	return firstErr
}
