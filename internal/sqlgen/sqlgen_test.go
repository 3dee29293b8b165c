package sqlgen

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/smartrag/smartrag/internal/dbconn"
	"github.com/smartrag/smartrag/internal/dialect"
	"github.com/smartrag/smartrag/internal/intent"
	"github.com/smartrag/smartrag/internal/schema"
	"github.com/smartrag/smartrag/pkg/config"
)

type scriptedProvider struct {
	replies []string
	calls   int
}

func (s *scriptedProvider) GenerateResponse(_ context.Context, _ string, _ []intent.HistoryTurn, _ int) (string, error) {
	i := s.calls
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	s.calls++
	return s.replies[i], nil
}

func seedRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TABLE Customers (id INTEGER PRIMARY KEY, name TEXT)`); err != nil {
		t.Fatalf("exec: %v", err)
	}

	ctx := context.Background()
	pool := dbconn.NewPool(ctx, []config.DatabaseConnectionConfig{
		{Name: "shop", Dialect: config.DialectSQLite, ConnectionString: path, Enabled: true},
	})
	t.Cleanup(func() { pool.Close() })

	reg := schema.NewRegistry(pool)
	if err := reg.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return reg
}

func retryWithoutBackoff() config.RetryConfig {
	return config.RetryConfig{MaxRetryAttempts: 2, RetryPolicy: config.RetryPolicyNone}
}

func TestGenerate_HappyPath(t *testing.T) {
	reg := seedRegistry(t)
	provider := &scriptedProvider{replies: []string{"```sql\nSELECT id, name FROM Customers\n```"}}
	g := NewGenerator(provider, reg, retryWithoutBackoff())

	results := g.Generate(context.Background(), "who are the customers", []intent.DatabaseQueryIntent{
		{DatabaseID: "shop", Tables: []string{"Customers"}},
	})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Failed {
		t.Fatalf("expected success, got failure: %s", results[0].Reason)
	}
	if !strings.HasPrefix(results[0].SQL, "SELECT") {
		t.Errorf("expected extracted SQL to start with SELECT, got %q", results[0].SQL)
	}
}

func TestGenerate_RetriesOnForbiddenKeyword(t *testing.T) {
	reg := seedRegistry(t)
	provider := &scriptedProvider{replies: []string{
		"DELETE FROM Customers",
		"SELECT id, name FROM Customers",
	}}
	g := NewGenerator(provider, reg, retryWithoutBackoff())

	results := g.Generate(context.Background(), "q", []intent.DatabaseQueryIntent{
		{DatabaseID: "shop", Tables: []string{"Customers"}},
	})
	if results[0].Failed {
		t.Fatalf("expected eventual success, got failure: %s", results[0].Reason)
	}
	if provider.calls != 2 {
		t.Errorf("expected 2 calls (1 retry), got %d", provider.calls)
	}
}

func TestGenerate_FailsAfterExhaustingRetries(t *testing.T) {
	reg := seedRegistry(t)
	provider := &scriptedProvider{replies: []string{"DROP TABLE Customers"}}
	g := NewGenerator(provider, reg, retryWithoutBackoff())

	results := g.Generate(context.Background(), "q", []intent.DatabaseQueryIntent{
		{DatabaseID: "shop", Tables: []string{"Customers"}},
	})
	if !results[0].Failed {
		t.Fatal("expected failure after exhausting retries")
	}
}

func TestValidate_RejectsCrossJoin(t *testing.T) {
	strat, _ := dialect.Lookup(config.DialectSQLite)
	err := validate("SELECT a FROM t1 CROSS JOIN t2", strat, &schema.DatabaseSchema{})
	if err == nil {
		t.Fatal("expected CROSS JOIN to be rejected")
	}
}

func TestValidate_RejectsNonEnglish(t *testing.T) {
	strat, _ := dialect.Lookup(config.DialectSQLite)
	err := validate("SELECT müşteri FROM t1", strat, &schema.DatabaseSchema{})
	if err == nil {
		t.Fatal("expected non-English characters to be rejected")
	}
}

func TestExtractSQL_StripsFence(t *testing.T) {
	got := extractSQL("```sql\nSELECT 1\n```")
	if got != "SELECT 1" {
		t.Errorf("expected 'SELECT 1', got %q", got)
	}
}

func TestExtractSQL_PlainText(t *testing.T) {
	got := extractSQL("  SELECT 1  ")
	if got != "SELECT 1" {
		t.Errorf("expected 'SELECT 1', got %q", got)
	}
}
