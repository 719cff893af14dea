package database

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/rakunlabs/ingestcore/internal/connector"
	"github.com/rakunlabs/ingestcore/internal/model"
)

// fakeDialect is the minimal dialect a test needs: qualify and quote
// identifiers without touching a real driver.
type fakeDialect struct{}

func (fakeDialect) driverName() string            { return "fake" }
func (fakeDialect) dsn(map[string]any) string     { return "" }
func (fakeDialect) quoteIdent(name string) string { return `"` + name + `"` }

func (fakeDialect) listTables(context.Context, *sql.DB, string) ([]string, error) {
	return nil, nil
}

func (fakeDialect) listColumns(context.Context, *sql.DB, string, string) ([]connector.ColumnInfo, error) {
	return nil, nil
}

func newTestBase(config map[string]any) *base {
	return newBase("conn-1", "test", config, 100, fakeDialect{})
}

// TestIncrementalDatabaseExtractQuery covers the incremental-sync query
// shape: a watermark column filter plus an ORDER BY on that same column, so
// repeated syncs pick up only rows newer than the last run.
func TestIncrementalDatabaseExtractQuery(t *testing.T) {
	b := newTestBase(map[string]any{
		"table":            "claims",
		"watermark_column": "updated_at",
	})

	query, err := b.buildExtractionQuery(model.SyncModeIncremental, "2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("buildExtractionQuery: %v", err)
	}

	const wantSelect = `SELECT * FROM "claims"`
	const wantWhere = `WHERE updated_at > '2026-01-01T00:00:00Z'`
	const wantOrder = `ORDER BY updated_at`
	if !strings.HasPrefix(query, wantSelect) {
		t.Fatalf("expected query to start with %q, got %q", wantSelect, query)
	}
	if !strings.Contains(query, wantWhere) {
		t.Fatalf("expected query to contain watermark filter %q, got %q", wantWhere, query)
	}
	if !strings.HasSuffix(query, wantOrder) {
		t.Fatalf("expected query to end with %q, got %q", wantOrder, query)
	}
}

// TestFullSyncDatabaseExtractQueryOmitsWatermarkFilter covers the
// complementary full-sync shape: no watermark value yet, so no WHERE clause,
// even though the column is configured (it's still used to order results).
func TestFullSyncDatabaseExtractQueryOmitsWatermarkFilter(t *testing.T) {
	b := newTestBase(map[string]any{
		"table":            "claims",
		"watermark_column": "updated_at",
	})

	query, err := b.buildExtractionQuery(model.SyncModeFull, "")
	if err != nil {
		t.Fatalf("buildExtractionQuery: %v", err)
	}
	if strings.Contains(query, "WHERE") {
		t.Fatalf("expected no WHERE clause on a full sync, got %q", query)
	}
	if !strings.HasSuffix(query, `ORDER BY updated_at`) {
		t.Fatalf("expected ORDER BY to still apply, got %q", query)
	}
}

// TestIncrementalDatabaseExtractQueryAppendsToCustomQuery covers the other
// incremental shape: a user-supplied custom query gets the watermark filter
// appended, joined with AND or WHERE depending on whether it already filters.
func TestIncrementalDatabaseExtractQueryAppendsToCustomQuery(t *testing.T) {
	b := newTestBase(map[string]any{
		"query":            "SELECT * FROM claims WHERE status = 'open'",
		"watermark_column": "updated_at",
	})

	query, err := b.buildExtractionQuery(model.SyncModeIncremental, "2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("buildExtractionQuery: %v", err)
	}
	if !strings.Contains(query, "AND updated_at > '2026-01-01T00:00:00Z'") {
		t.Fatalf("expected watermark filter appended with AND, got %q", query)
	}

	b2 := newTestBase(map[string]any{
		"query":            "SELECT * FROM claims",
		"watermark_column": "updated_at",
	})
	query2, err := b2.buildExtractionQuery(model.SyncModeIncremental, "2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("buildExtractionQuery: %v", err)
	}
	if !strings.Contains(query2, "WHERE updated_at > '2026-01-01T00:00:00Z'") {
		t.Fatalf("expected watermark filter appended with WHERE, got %q", query2)
	}
}

func TestBuildExtractionQueryRejectsMissingTableAndQuery(t *testing.T) {
	b := newTestBase(map[string]any{})
	if _, err := b.buildExtractionQuery(model.SyncModeFull, ""); err == nil {
		t.Fatal("expected an error when neither query nor table is configured")
	}
}

func TestBuildExtractionQueryRejectsInvalidTableIdentifier(t *testing.T) {
	b := newTestBase(map[string]any{"table": "claims; DROP TABLE users"})
	if _, err := b.buildExtractionQuery(model.SyncModeFull, ""); err == nil {
		t.Fatal("expected an error for a malformed table identifier")
	}
}
