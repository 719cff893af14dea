package database

import (
	"context"
	"database/sql"
	"fmt"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/rakunlabs/ingestcore/internal/connector"
)

type mysqlDialect struct{}

func (mysqlDialect) driverName() string { return "mysql" }

func (mysqlDialect) dsn(cfg map[string]any) string {
	host := stringOr(cfg["host"], "localhost")
	port := intOr(cfg["port"], 3306)
	database := stringOr(cfg["database"], "")
	username := stringOr(cfg["username"], "root")
	password := stringOr(cfg["password"], "")
	sslMode := stringOr(cfg["ssl_mode"], "preferred")

	c := mysqldriver.NewConfig()
	c.User = username
	c.Passwd = password
	c.Net = "tcp"
	c.Addr = fmt.Sprintf("%s:%d", host, port)
	c.DBName = database
	c.ParseTime = true
	c.TLSConfig = mysqlTLSConfig(sslMode)
	return c.FormatDSN()
}

func mysqlTLSConfig(sslMode string) string {
	switch sslMode {
	case "disable", "disabled", "":
		return "false"
	case "skip-verify":
		return "skip-verify"
	default:
		return "true"
	}
}

func (mysqlDialect) quoteIdent(name string) string {
	return "`" + name + "`"
}

func (mysqlDialect) listTables(ctx context.Context, db *sql.DB, schemaName string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT table_name FROM information_schema.tables WHERE table_schema = COALESCE(NULLIF(?, ''), DATABASE()) ORDER BY table_name`, schemaName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (mysqlDialect) listColumns(ctx context.Context, db *sql.DB, schemaName, table string) ([]connector.ColumnInfo, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_schema = COALESCE(NULLIF(?, ''), DATABASE()) AND table_name = ? ORDER BY ordinal_position`,
		schemaName, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanColumns(rows)
}

// NewMySQL builds a MySQL connector.
func NewMySQL(connectorID, name string, config map[string]any, batchSize int) (connector.Connector, error) {
	return newBase(connectorID, name, config, batchSize, mysqlDialect{}), nil
}
