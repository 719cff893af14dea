package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"
	"github.com/rakunlabs/ingestcore/internal/model"
)

type connectorRow struct {
	ID             string          `db:"id"`
	Name           string          `db:"name"`
	Type           string          `db:"type"`
	Subtype        string          `db:"subtype"`
	DataType       string          `db:"data_type"`
	Config         json.RawMessage `db:"config"`
	SyncSchedule   string          `db:"sync_schedule"`
	SyncMode       string          `db:"sync_mode"`
	BatchSize      int             `db:"batch_size"`
	Status         string          `db:"status"`
	LastSyncAt     sql.NullTime    `db:"last_sync_at"`
	LastSyncStatus string          `db:"last_sync_status"`
	CreatedAt      time.Time       `db:"created_at"`
	CreatedBy      string          `db:"created_by"`
}

func (p *Postgres) ListConnectors(ctx context.Context) ([]model.Connector, error) {
	query, _, err := p.goqu.From(p.tableConnectors).
		Select("id", "name", "type", "subtype", "data_type", "config", "sync_schedule", "sync_mode",
			"batch_size", "status", "last_sync_at", "last_sync_status", "created_at", "created_by").
		Order(goqu.I("name").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list connectors query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list connectors: %w", err)
	}
	defer rows.Close()

	var result []model.Connector
	for rows.Next() {
		var row connectorRow
		if err := scanConnectorRow(rows, &row); err != nil {
			return nil, err
		}
		c, err := connectorRowToModel(row)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}

	return result, rows.Err()
}

func (p *Postgres) GetConnector(ctx context.Context, id string) (*model.Connector, error) {
	query, _, err := p.goqu.From(p.tableConnectors).
		Select("id", "name", "type", "subtype", "data_type", "config", "sync_schedule", "sync_mode",
			"batch_size", "status", "last_sync_at", "last_sync_status", "created_at", "created_by").
		Where(goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get connector query: %w", err)
	}

	var row connectorRow
	err = p.db.QueryRowContext(ctx, query).Scan(&row.ID, &row.Name, &row.Type, &row.Subtype, &row.DataType,
		&row.Config, &row.SyncSchedule, &row.SyncMode, &row.BatchSize, &row.Status, &row.LastSyncAt,
		&row.LastSyncStatus, &row.CreatedAt, &row.CreatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get connector %q: %w", id, err)
	}

	return connectorRowToModel(row)
}

func (p *Postgres) CreateConnector(ctx context.Context, c model.Connector) (*model.Connector, error) {
	configJSON, err := json.Marshal(c.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal connector config: %w", err)
	}

	id := ulid.Make().String()
	if c.ID != "" {
		id = c.ID
	}
	now := time.Now().UTC()

	query, _, err := p.goqu.Insert(p.tableConnectors).Rows(
		goqu.Record{
			"id":               id,
			"name":             c.Name,
			"type":             string(c.Type),
			"subtype":          string(c.Subtype),
			"data_type":        string(c.DataType),
			"config":           configJSON,
			"sync_schedule":    c.SyncSchedule,
			"sync_mode":        string(c.SyncMode),
			"batch_size":       c.BatchSize,
			"status":           string(c.Status),
			"last_sync_status": c.LastSyncStatus,
			"created_at":       now,
			"created_by":       c.CreatedBy,
		},
	).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build insert connector query: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("create connector %q: %w", c.Name, err)
	}

	return p.GetConnector(ctx, id)
}

func (p *Postgres) UpdateConnector(ctx context.Context, id string, c model.Connector) (*model.Connector, error) {
	configJSON, err := json.Marshal(c.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal connector config: %w", err)
	}

	set := goqu.Record{
		"name":          c.Name,
		"type":          string(c.Type),
		"subtype":       string(c.Subtype),
		"data_type":     string(c.DataType),
		"config":        configJSON,
		"sync_schedule": c.SyncSchedule,
		"sync_mode":     string(c.SyncMode),
		"batch_size":    c.BatchSize,
		"status":        string(c.Status),
	}
	if c.LastSyncAt != nil {
		set["last_sync_at"] = *c.LastSyncAt
		set["last_sync_status"] = c.LastSyncStatus
	}

	query, _, err := p.goqu.Update(p.tableConnectors).Set(set).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build update connector query: %w", err)
	}

	res, err := p.db.ExecContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("update connector %q: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}

	return p.GetConnector(ctx, id)
}

func (p *Postgres) DeleteConnector(ctx context.Context, id string) error {
	query, _, err := p.goqu.Delete(p.tableConnectors).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete connector query: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("delete connector %q: %w", id, err)
	}

	return nil
}

func scanConnectorRow(rows *sql.Rows, row *connectorRow) error {
	return rows.Scan(&row.ID, &row.Name, &row.Type, &row.Subtype, &row.DataType, &row.Config,
		&row.SyncSchedule, &row.SyncMode, &row.BatchSize, &row.Status, &row.LastSyncAt,
		&row.LastSyncStatus, &row.CreatedAt, &row.CreatedBy)
}

func connectorRowToModel(row connectorRow) (*model.Connector, error) {
	var cfg map[string]any
	if len(row.Config) > 0 {
		if err := json.Unmarshal(row.Config, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal connector config for %q: %w", row.ID, err)
		}
	}

	c := &model.Connector{
		ID:             row.ID,
		Name:           row.Name,
		Type:           model.ConnectorType(row.Type),
		Subtype:        model.ConnectorSubtype(row.Subtype),
		DataType:       model.DataType(row.DataType),
		Config:         cfg,
		SyncSchedule:   row.SyncSchedule,
		SyncMode:       model.SyncMode(row.SyncMode),
		BatchSize:      row.BatchSize,
		Status:         model.ConnectorStatus(row.Status),
		LastSyncStatus: row.LastSyncStatus,
		CreatedAt:      row.CreatedAt,
		CreatedBy:      row.CreatedBy,
	}
	if row.LastSyncAt.Valid {
		c.LastSyncAt = &row.LastSyncAt.Time
	}

	return c, nil
}
