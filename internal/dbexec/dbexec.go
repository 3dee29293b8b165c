// Package dbexec implements the Database Executor: runs one generated
// SELECT per database target concurrently, bounded by a per-query
// timeout and row cap, capturing each task's outcome independently so
// one database's failure never aborts its peers.
package dbexec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smartrag/smartrag/internal/dbconn"
	"github.com/smartrag/smartrag/internal/logging"
	"github.com/smartrag/smartrag/internal/sqlgen"
)

var log = logging.GetLogger("dbexec")

// DbResult is one database target's execution outcome.
type DbResult struct {
	DatabaseID string
	SQL        string
	Columns    []string
	Rows       [][]any
	Err        error
	Cancelled  bool
}

// Executor runs SQL statements against a connection pool.
type Executor struct {
	pool           *dbconn.Pool
	queryTimeout   time.Duration
	maxRowsDefault int
}

// NewExecutor builds an Executor. queryTimeout bounds each individual
// query; maxRowsDefault is the row cap used when a database's own
// MaxRowsPerQuery is unset.
func NewExecutor(pool *dbconn.Pool, queryTimeout time.Duration, maxRowsDefault int) *Executor {
	if maxRowsDefault <= 0 {
		maxRowsDefault = 500
	}
	return &Executor{pool: pool, queryTimeout: queryTimeout, maxRowsDefault: maxRowsDefault}
}

// Execute runs every generated statement in parallel, one task per
// target, and returns once every task has settled. Validation failures
// from sqlgen are passed through as failed DbResults rather than being
// executed.
func (e *Executor) Execute(ctx context.Context, generated []sqlgen.Result) []DbResult {
	results := make([]DbResult, len(generated))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(generated))

	var mu sync.Mutex
	for i, gen := range generated {
		i, gen := i, gen
		g.Go(func() error {
			r := e.runOne(gctx, gen)
			mu.Lock()
			results[i] = r
			mu.Unlock()
			return nil
		})
	}
	// Errors are captured per-result, never propagated: one database's
	// failure must not cancel its peers.
	_ = g.Wait()

	return results
}

func (e *Executor) runOne(ctx context.Context, gen sqlgen.Result) DbResult {
	if gen.Failed {
		return DbResult{DatabaseID: gen.DatabaseID, Err: fmt.Errorf("sql generation failed: %s", gen.Reason)}
	}

	db, ok := e.pool.Get(gen.DatabaseID)
	if !ok {
		return DbResult{DatabaseID: gen.DatabaseID, SQL: gen.SQL, Err: fmt.Errorf("database %q not connected", gen.DatabaseID)}
	}

	maxRows := e.maxRowsDefault
	if cfg, ok := e.pool.Config(gen.DatabaseID); ok && cfg.MaxRowsPerQuery > 0 {
		maxRows = cfg.MaxRowsPerQuery
	}

	queryCtx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(queryCtx, gen.SQL)
	if err != nil {
		if queryCtx.Err() == context.Canceled {
			return DbResult{DatabaseID: gen.DatabaseID, SQL: gen.SQL, Cancelled: true, Err: err}
		}
		return DbResult{DatabaseID: gen.DatabaseID, SQL: gen.SQL, Err: err}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return DbResult{DatabaseID: gen.DatabaseID, SQL: gen.SQL, Err: fmt.Errorf("read columns: %w", err)}
	}

	var collected [][]any
	for rows.Next() {
		if queryCtx.Err() != nil {
			return DbResult{DatabaseID: gen.DatabaseID, SQL: gen.SQL, Columns: columns, Rows: collected, Cancelled: true}
		}
		if len(collected) >= maxRows {
			break
		}

		scanTargets := make([]any, len(columns))
		scanDest := make([]any, len(columns))
		for i := range scanTargets {
			scanDest[i] = &scanTargets[i]
		}
		if err := rows.Scan(scanDest...); err != nil {
			return DbResult{DatabaseID: gen.DatabaseID, SQL: gen.SQL, Columns: columns, Err: fmt.Errorf("scan row: %w", err)}
		}
		collected = append(collected, scanTargets)
	}
	if err := rows.Err(); err != nil {
		return DbResult{DatabaseID: gen.DatabaseID, SQL: gen.SQL, Columns: columns, Rows: collected, Err: err}
	}

	return DbResult{DatabaseID: gen.DatabaseID, SQL: gen.SQL, Columns: columns, Rows: collected}
}
