package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/denisenkom/go-mssqldb"
	"github.com/rakunlabs/ingestcore/internal/connector"
)

type sqlserverDialect struct{}

func (sqlserverDialect) driverName() string { return "sqlserver" }

func (sqlserverDialect) dsn(cfg map[string]any) string {
	host := stringOr(cfg["host"], "localhost")
	port := intOr(cfg["port"], 1433)
	database := stringOr(cfg["database"], "")
	username := stringOr(cfg["username"], "sa")
	password := stringOr(cfg["password"], "")

	u := url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(username, password),
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	q := u.Query()
	if database != "" {
		q.Set("database", database)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (sqlserverDialect) quoteIdent(name string) string {
	return "[" + name + "]"
}

func (sqlserverDialect) listTables(ctx context.Context, db *sql.DB, schemaName string) ([]string, error) {
	if schemaName == "" {
		schemaName = "dbo"
	}
	rows, err := db.QueryContext(ctx, `SELECT table_name FROM information_schema.tables WHERE table_schema = @p1 ORDER BY table_name`, schemaName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (sqlserverDialect) listColumns(ctx context.Context, db *sql.DB, schemaName, table string) ([]connector.ColumnInfo, error) {
	if schemaName == "" {
		schemaName = "dbo"
	}
	rows, err := db.QueryContext(ctx,
		`SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_schema = @p1 AND table_name = @p2 ORDER BY ordinal_position`,
		schemaName, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanColumns(rows)
}

// NewSQLServer builds a SQL Server connector.
func NewSQLServer(connectorID, name string, config map[string]any, batchSize int) (connector.Connector, error) {
	return newBase(connectorID, name, config, batchSize, sqlserverDialect{}), nil
}
