package sqlite3

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rakunlabs/ingestcore/internal/config"

	_ "modernc.org/sqlite"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
)

var DefaultTablePrefix = "ingestcore_"

// SQLite is the embedded-SQLite-backed StorerClose implementation, used
// when no PostgreSQL datasource is configured (DB_PATH mode).
type SQLite struct {
	db   *sql.DB
	goqu *goqu.Database

	tableCredentials  exp.IdentifierExpression
	tableConnectors   exp.IdentifierExpression
	tableMappings     exp.IdentifierExpression
	tableMappingAudit exp.IdentifierExpression
	tableJobs         exp.IdentifierExpression
	tableJobLogs      exp.IdentifierExpression
	tableResults      exp.IdentifierExpression
	tablePolicyDocs   exp.IdentifierExpression

	encKey   []byte
	encKeyMu sync.RWMutex
}

func New(ctx context.Context, cfg *config.StoreSQLite, encKey []byte) (*SQLite, error) {
	if cfg == nil {
		return nil, errors.New("sqlite configuration is nil")
	}

	if cfg.Datasource == "" {
		return nil, errors.New("sqlite datasource is required")
	}

	tablePrefix := DefaultTablePrefix
	if cfg.TablePrefix != nil {
		tablePrefix = *cfg.TablePrefix
	}

	migrate := cfg.Migrate
	if migrate.Table == "" {
		migrate.Table = "migrations"
	}
	if migrate.Datasource == "" {
		migrate.Datasource = cfg.Datasource
	}
	migrate.Table = tablePrefix + migrate.Table
	if migrate.Values == nil {
		migrate.Values = make(map[string]string)
	}
	migrate.Values["TABLE_PREFIX"] = tablePrefix

	if err := MigrateDB(ctx, &migrate); err != nil {
		return nil, fmt.Errorf("migrate store sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Datasource)
	if err != nil {
		return nil, fmt.Errorf("open sqlite connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// SQLite is single-writer; limit connections accordingly.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	slog.Info("connected to store sqlite")

	dbGoqu := goqu.New("sqlite3", db)

	return &SQLite{
		db:                db,
		goqu:              dbGoqu,
		tableCredentials:  goqu.T(tablePrefix + "credentials"),
		tableConnectors:   goqu.T(tablePrefix + "connectors"),
		tableMappings:     goqu.T(tablePrefix + "schema_mappings"),
		tableMappingAudit: goqu.T(tablePrefix + "mapping_audit"),
		tableJobs:         goqu.T(tablePrefix + "sync_jobs"),
		tableJobLogs:      goqu.T(tablePrefix + "job_logs"),
		tableResults:      goqu.T(tablePrefix + "results"),
		tablePolicyDocs:   goqu.T(tablePrefix + "policy_docs"),
		encKey:            encKey,
	}, nil
}

func (s *SQLite) Close() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Error("close store sqlite connection", "error", err)
		}
	}
}
