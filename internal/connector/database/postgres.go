package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rakunlabs/ingestcore/internal/connector"
)

type postgresDialect struct{}

func (postgresDialect) driverName() string { return "pgx" }

func (postgresDialect) dsn(cfg map[string]any) string {
	host := stringOr(cfg["host"], "localhost")
	port := intOr(cfg["port"], 5432)
	database := stringOr(cfg["database"], "postgres")
	username := stringOr(cfg["username"], "postgres")
	password := stringOr(cfg["password"], "")
	sslMode := stringOr(cfg["ssl_mode"], "prefer")

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(username, password),
		Host:   fmt.Sprintf("%s:%d", host, port),
		Path:   "/" + database,
	}
	q := u.Query()
	q.Set("sslmode", sslMode)
	u.RawQuery = q.Encode()
	return u.String()
}

func (postgresDialect) quoteIdent(name string) string {
	return `"` + name + `"`
}

func (postgresDialect) listTables(ctx context.Context, db *sql.DB, schemaName string) ([]string, error) {
	if schemaName == "" {
		schemaName = "public"
	}
	rows, err := db.QueryContext(ctx, `SELECT table_name FROM information_schema.tables WHERE table_schema = $1 ORDER BY table_name`, schemaName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (postgresDialect) quoteSchema(schemaName string) string {
	if schemaName == "" {
		return "public"
	}
	return schemaName
}

func (d postgresDialect) listColumns(ctx context.Context, db *sql.DB, schemaName, table string) ([]connector.ColumnInfo, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`,
		d.quoteSchema(schemaName), table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanColumns(rows)
}

// New builds a PostgreSQL connector.
func New(connectorID, name string, config map[string]any, batchSize int) (connector.Connector, error) {
	return newBase(connectorID, name, config, batchSize, postgresDialect{}), nil
}

