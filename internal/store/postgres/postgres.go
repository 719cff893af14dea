package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rakunlabs/ingestcore/internal/config"
	"github.com/rakunlabs/ingestcore/internal/ingesterr"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
)

var (
	ConnMaxLifetime = 15 * time.Minute
	MaxIdleConns    = 3
	MaxOpenConns    = 3

	DefaultTablePrefix = "ingestcore_"
)

// Postgres is the PostgreSQL-backed StorerClose implementation.
type Postgres struct {
	db   *sql.DB
	goqu *goqu.Database

	tableCredentials exp.IdentifierExpression
	tableConnectors  exp.IdentifierExpression
	tableMappings    exp.IdentifierExpression
	tableMappingAudit exp.IdentifierExpression
	tableJobs        exp.IdentifierExpression
	tableJobLogs     exp.IdentifierExpression
	tableResults     exp.IdentifierExpression
	tablePolicyDocs  exp.IdentifierExpression

	// encKey is the AES-256 key used to encrypt/decrypt credential fields.
	// nil means encryption is disabled. Protected by encKeyMu.
	encKey   []byte
	encKeyMu sync.RWMutex
}

func New(ctx context.Context, cfg *config.StorePostgres, encKey []byte) (*Postgres, error) {
	if cfg == nil {
		return nil, errors.New("postgres configuration is nil")
	}

	if cfg.Datasource == "" {
		return nil, errors.New("postgres datasource is required")
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
	if migrate.Schema == "" {
		migrate.Schema = cfg.Schema
	}
	migrate.Table = tablePrefix + migrate.Table
	if migrate.Values == nil {
		migrate.Values = make(map[string]string)
	}
	migrate.Values["TABLE_PREFIX"] = tablePrefix

	db, err := sql.Open("pgx", cfg.Datasource)
	if err != nil {
		return nil, ingesterr.Wrap(ingesterr.KindConnection, "open postgres connection", redactedErr(err))
	}

	if err := MigrateDB(ctx, &migrate, db); err != nil {
		db.Close()
		return nil, ingesterr.Wrap(ingesterr.KindConnection, "migrate store postgres", redactedErr(err))
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, ingesterr.Wrap(ingesterr.KindConnection, "ping postgres", redactedErr(err))
	}

	if cfg.Schema != "" {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET search_path TO %s", cfg.Schema)); err != nil {
			db.Close()
			return nil, ingesterr.Wrap(ingesterr.KindConnection, "set search_path", redactedErr(err))
		}
	}

	if cfg.ConnMaxLifetime != nil {
		ConnMaxLifetime = *cfg.ConnMaxLifetime
	}
	if cfg.MaxIdleConns != nil {
		MaxIdleConns = *cfg.MaxIdleConns
	}
	if cfg.MaxOpenConns != nil {
		MaxOpenConns = *cfg.MaxOpenConns
	}

	db.SetConnMaxLifetime(ConnMaxLifetime)
	db.SetMaxIdleConns(MaxIdleConns)
	db.SetMaxOpenConns(MaxOpenConns)

	slog.Info("connected to store postgres")

	dbGoqu := goqu.New("postgres", db)

	return &Postgres{
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

// redactedErr wraps err with its text passed through ingesterr.Redact: the
// pgx driver embeds the datasource (and thus its password) in connection
// and query errors, and that text must never reach error_message as-is.
func redactedErr(err error) error {
	return errors.New(ingesterr.Redact(err.Error()))
}

func (p *Postgres) Close() {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			slog.Error("close store postgres connection", "error", err)
		}
	}
}
