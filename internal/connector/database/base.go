// Package database implements the database-family connectors (PostgreSQL,
// MySQL, SQL Server) on top of database/sql: a shared query builder, schema
// discovery via each driver's information_schema, and batched, optionally
// watermarked extraction.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rakunlabs/ingestcore/internal/connector"
	"github.com/rakunlabs/ingestcore/internal/model"
)

// dialect captures the handful of things that differ between the three
// supported databases: how to build the DSN, how to quote an identifier,
// and how to ask the driver for its own table list.
type dialect interface {
	driverName() string
	dsn(cfg map[string]any) string
	quoteIdent(name string) string
	listTables(ctx context.Context, db *sql.DB, schemaName string) ([]string, error)
	listColumns(ctx context.Context, db *sql.DB, schemaName, table string) ([]connector.ColumnInfo, error)
}

// base is embedded by each concrete database connector; it owns the
// database/sql.DB handle and implements every connector.Connector method
// except the dialect-specific bits.
type base struct {
	connector.Base
	dialect dialect

	db *sql.DB
}

func newBase(connectorID, name string, config map[string]any, batchSize int, d dialect) *base {
	b := connector.NewBase(connectorID, name, config, batchSize)
	return &base{Base: b, dialect: d}
}

func (b *base) Connect(ctx context.Context) error {
	if b.IsConnected() {
		return nil
	}

	db, err := sql.Open(b.dialect.driverName(), b.dialect.dsn(b.Config))
	if err != nil {
		return &connector.Error{ConnectorID: b.ConnectorID, Op: "connect", Err: err}
	}
	db.SetMaxOpenConns(15)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return &connector.Error{ConnectorID: b.ConnectorID, Op: "connect", Err: err}
	}

	b.db = db
	b.MarkConnected(true)
	return nil
}

func (b *base) Disconnect(_ context.Context) error {
	if b.db != nil {
		b.db.Close()
		b.db = nil
	}
	b.MarkConnected(false)
	return nil
}

func (b *base) TestConnection(ctx context.Context) (*connector.ConnectionTestResult, error) {
	start := time.Now()

	db, err := sql.Open(b.dialect.driverName(), b.dialect.dsn(b.Config))
	if err != nil {
		return &connector.ConnectionTestResult{Success: false, Message: err.Error()}, nil
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return &connector.ConnectionTestResult{
			Success:   false,
			Message:   fmt.Sprintf("connection failed: %v", err),
			LatencyMS: latencyMS(start),
		}, nil
	}

	schemaName, _ := b.Config["schema_name"].(string)
	tables, err := b.dialect.listTables(ctx, db, schemaName)
	if err != nil {
		tables = nil
	}

	sample := tables
	if len(sample) > 5 {
		sample = sample[:5]
	}

	return &connector.ConnectionTestResult{
		Success:   true,
		Message:   fmt.Sprintf("successfully connected to %v", b.Config["database"]),
		LatencyMS: latencyMS(start),
		Details: map[string]any{
			"driver":        b.dialect.driverName(),
			"database":      b.Config["database"],
			"host":          b.Config["host"],
			"tables_found":  len(tables),
			"sample_tables": sample,
		},
	}, nil
}

func (b *base) DiscoverSchema(ctx context.Context) (*connector.SchemaDiscoveryResult, error) {
	if !b.IsConnected() {
		if err := b.Connect(ctx); err != nil {
			return nil, err
		}
	}

	schemaName, _ := b.Config["schema_name"].(string)
	tables, err := b.dialect.listTables(ctx, b.db, schemaName)
	if err != nil {
		return nil, &connector.Error{ConnectorID: b.ConnectorID, Op: "discover_schema", Err: err}
	}
	if len(tables) > 20 {
		tables = tables[:20]
	}

	columns := make(map[string][]connector.ColumnInfo, len(tables))
	samples := make(map[string][]map[string]any, len(tables))

	for _, table := range tables {
		cols, err := b.dialect.listColumns(ctx, b.db, schemaName, table)
		if err != nil {
			continue
		}
		columns[table] = cols

		qualified := b.qualify(schemaName, table)
		rows, err := b.sampleRows(ctx, qualified, 3)
		if err == nil {
			samples[table] = rows
		}
	}

	return &connector.SchemaDiscoveryResult{Tables: tables, Columns: columns, SampleData: samples}, nil
}

func (b *base) sampleRows(ctx context.Context, qualifiedTable string, limit int) ([]map[string]any, error) {
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", qualifiedTable, limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

func (b *base) qualify(schemaName, table string) string {
	if schemaName == "" {
		return b.dialect.quoteIdent(table)
	}
	return b.dialect.quoteIdent(schemaName) + "." + b.dialect.quoteIdent(table)
}

func (b *base) buildExtractionQuery(syncMode model.SyncMode, watermarkValue string) (string, error) {
	if custom, ok := b.Config["query"].(string); ok && custom != "" {
		if err := connector.ValidateQuery(custom); err != nil {
			return "", err
		}
		if syncMode == model.SyncModeIncremental && watermarkValue != "" {
			col := b.watermarkColumn()
			if containsKeyword(custom, "WHERE") {
				custom += fmt.Sprintf(" AND %s > '%s'", col, watermarkValue)
			} else {
				custom += fmt.Sprintf(" WHERE %s > '%s'", col, watermarkValue)
			}
		}
		return custom, nil
	}

	table, _ := b.Config["table"].(string)
	if table == "" {
		return "", fmt.Errorf("either 'query' or 'table' must be specified in config")
	}
	if err := connector.ValidateSQLIdentifier(table); err != nil {
		return "", err
	}
	schemaName, _ := b.Config["schema_name"].(string)
	if schemaName != "" {
		if err := connector.ValidateSQLIdentifier(schemaName); err != nil {
			return "", err
		}
	}

	query := "SELECT * FROM " + b.qualify(schemaName, table)

	watermarkCol := b.watermarkColumn()
	if syncMode == model.SyncModeIncremental && watermarkValue != "" && watermarkCol != "" {
		query += fmt.Sprintf(" WHERE %s > '%s'", watermarkCol, watermarkValue)
	}
	if watermarkCol != "" {
		query += " ORDER BY " + watermarkCol
	}
	return query, nil
}

func (b *base) watermarkColumn() string {
	col, _ := b.Config["watermark_column"].(string)
	return col
}

func containsKeyword(query, keyword string) bool {
	for i := 0; i+len(keyword) <= len(query); i++ {
		if equalFoldASCII(query[i:i+len(keyword)], keyword) {
			return true
		}
	}
	return false
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if ca >= 'a' && ca <= 'z' {
			ca -= 'a' - 'A'
		}
		if cb >= 'a' && cb <= 'z' {
			cb -= 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func (b *base) Extract(ctx context.Context, syncMode model.SyncMode, watermarkValue string) (<-chan connector.Batch, func() error) {
	out := make(chan connector.Batch)
	var extractErr error

	go func() {
		defer close(out)

		if !b.IsConnected() {
			if err := b.Connect(ctx); err != nil {
				extractErr = err
				return
			}
		}

		query, err := b.buildExtractionQuery(syncMode, watermarkValue)
		if err != nil {
			extractErr = err
			return
		}

		rows, err := b.db.QueryContext(ctx, query)
		if err != nil {
			extractErr = &connector.Error{ConnectorID: b.ConnectorID, Op: "extract", Err: err}
			return
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			extractErr = err
			return
		}

		batch := make(connector.Batch, 0, b.BatchSize)
		for rows.Next() {
			record, err := scanRow(rows, cols)
			if err != nil {
				extractErr = err
				return
			}
			batch = append(batch, record)
			if len(batch) >= b.BatchSize {
				select {
				case out <- batch:
				case <-ctx.Done():
					extractErr = ctx.Err()
					return
				}
				batch = make(connector.Batch, 0, b.BatchSize)
			}
		}
		if err := rows.Err(); err != nil {
			extractErr = err
			return
		}
		if len(batch) > 0 {
			select {
			case out <- batch:
			case <-ctx.Done():
				extractErr = ctx.Err()
			}
		}
	}()

	return out, func() error { return extractErr }
}

func (b *base) CurrentWatermark(ctx context.Context) (string, error) {
	col := b.watermarkColumn()
	if col == "" {
		return "", nil
	}
	if !b.IsConnected() {
		if err := b.Connect(ctx); err != nil {
			return "", err
		}
	}

	table, _ := b.Config["table"].(string)
	if table == "" {
		return "", nil
	}
	schemaName, _ := b.Config["schema_name"].(string)

	row := b.db.QueryRowContext(ctx, fmt.Sprintf("SELECT MAX(%s) FROM %s", col, b.qualify(schemaName, table)))
	var value sql.NullString
	if err := row.Scan(&value); err != nil {
		return "", nil
	}
	if !value.Valid {
		return "", nil
	}
	return value.String, nil
}

func scanRow(rows *sql.Rows, cols []string) (map[string]any, error) {
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	record := make(map[string]any, len(cols))
	for i, col := range cols {
		record[col] = normalizeScanned(values[i])
	}
	return record, nil
}

func scanAll(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		record, err := scanRow(rows, cols)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func normalizeScanned(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func latencyMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanColumns(rows *sql.Rows) ([]connector.ColumnInfo, error) {
	var out []connector.ColumnInfo
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return nil, err
		}
		out = append(out, connector.ColumnInfo{Name: name, Type: dataType, Nullable: nullable == "YES"})
	}
	return out, rows.Err()
}

func stringOr(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

func intOr(v any, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}
