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

type mappingRow struct {
	ID             string         `db:"id"`
	SourceSchemaID string         `db:"source_schema_id"`
	Version        int            `db:"version"`
	FieldMappings  json.RawMessage `db:"field_mappings"`
	Status         string         `db:"status"`
	CreatedAt      time.Time      `db:"created_at"`
	CreatedBy      string         `db:"created_by"`
	ApprovedAt     sql.NullTime   `db:"approved_at"`
	ApprovedBy     string         `db:"approved_by"`
}

func (p *Postgres) ListMappings(ctx context.Context, sourceSchemaID string) ([]model.SchemaMapping, error) {
	query, _, err := p.goqu.From(p.tableMappings).
		Select("id", "source_schema_id", "version", "field_mappings", "status", "created_at", "created_by", "approved_at", "approved_by").
		Where(goqu.I("source_schema_id").Eq(sourceSchemaID)).
		Order(goqu.I("version").Desc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list mappings query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	var result []model.SchemaMapping
	for rows.Next() {
		var row mappingRow
		if err := rows.Scan(&row.ID, &row.SourceSchemaID, &row.Version, &row.FieldMappings, &row.Status,
			&row.CreatedAt, &row.CreatedBy, &row.ApprovedAt, &row.ApprovedBy); err != nil {
			return nil, fmt.Errorf("scan mapping row: %w", err)
		}
		m, err := mappingRowToModel(row)
		if err != nil {
			return nil, err
		}
		result = append(result, *m)
	}

	return result, rows.Err()
}

func (p *Postgres) GetLatestMapping(ctx context.Context, sourceSchemaID string) (*model.SchemaMapping, error) {
	mappings, err := p.ListMappings(ctx, sourceSchemaID)
	if err != nil {
		return nil, err
	}
	if len(mappings) == 0 {
		return nil, nil
	}
	return &mappings[0], nil
}

func (p *Postgres) CreateMapping(ctx context.Context, m model.SchemaMapping) (*model.SchemaMapping, error) {
	fieldsJSON, err := json.Marshal(m.FieldMappings)
	if err != nil {
		return nil, fmt.Errorf("marshal field mappings: %w", err)
	}

	id := ulid.Make().String()
	now := time.Now().UTC()

	version := m.Version
	if version == 0 {
		latest, err := p.GetLatestMapping(ctx, m.SourceSchemaID)
		if err != nil {
			return nil, err
		}
		if latest != nil {
			version = latest.Version + 1
		} else {
			version = 1
		}
	}

	query, _, err := p.goqu.Insert(p.tableMappings).Rows(
		goqu.Record{
			"id":               id,
			"source_schema_id": m.SourceSchemaID,
			"version":          version,
			"field_mappings":   fieldsJSON,
			"status":           string(model.MappingPending),
			"created_at":       now,
			"created_by":       m.CreatedBy,
			"approved_by":      "",
		},
	).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build insert mapping query: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("create mapping for %q: %w", m.SourceSchemaID, err)
	}

	return p.getMappingByID(ctx, id)
}

func (p *Postgres) UpdateMappingStatus(ctx context.Context, id string, status model.MappingStatus, actor string) (*model.SchemaMapping, error) {
	set := goqu.Record{"status": string(status)}
	if status == model.MappingApproved {
		now := time.Now().UTC()
		set["approved_at"] = now
		set["approved_by"] = actor
	}

	query, _, err := p.goqu.Update(p.tableMappings).Set(set).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build update mapping status query: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("update mapping %q status: %w", id, err)
	}

	return p.getMappingByID(ctx, id)
}

func (p *Postgres) AppendMappingAudit(ctx context.Context, mappingID string, entry model.MappingAuditEntry) error {
	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}

	query, _, err := p.goqu.Insert(p.tableMappingAudit).Rows(
		goqu.Record{
			"id":         ulid.Make().String(),
			"mapping_id": mappingID,
			"action":     entry.Action,
			"actor":      entry.Actor,
			"timestamp":  entry.Timestamp,
			"details":    detailsJSON,
		},
	).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert mapping audit query: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("append mapping audit for %q: %w", mappingID, err)
	}

	return nil
}

func (p *Postgres) getMappingByID(ctx context.Context, id string) (*model.SchemaMapping, error) {
	query, _, err := p.goqu.From(p.tableMappings).
		Select("id", "source_schema_id", "version", "field_mappings", "status", "created_at", "created_by", "approved_at", "approved_by").
		Where(goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get mapping query: %w", err)
	}

	var row mappingRow
	err = p.db.QueryRowContext(ctx, query).Scan(&row.ID, &row.SourceSchemaID, &row.Version, &row.FieldMappings,
		&row.Status, &row.CreatedAt, &row.CreatedBy, &row.ApprovedAt, &row.ApprovedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mapping %q: %w", id, err)
	}

	m, err := mappingRowToModel(row)
	if err != nil {
		return nil, err
	}

	m.Audit, err = p.listMappingAudit(ctx, id)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (p *Postgres) listMappingAudit(ctx context.Context, mappingID string) ([]model.MappingAuditEntry, error) {
	query, _, err := p.goqu.From(p.tableMappingAudit).
		Select("action", "actor", "timestamp", "details").
		Where(goqu.I("mapping_id").Eq(mappingID)).
		Order(goqu.I("timestamp").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list mapping audit query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list mapping audit: %w", err)
	}
	defer rows.Close()

	var entries []model.MappingAuditEntry
	for rows.Next() {
		var e model.MappingAuditEntry
		var details json.RawMessage
		if err := rows.Scan(&e.Action, &e.Actor, &e.Timestamp, &details); err != nil {
			return nil, fmt.Errorf("scan mapping audit row: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshal audit details: %w", err)
			}
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func mappingRowToModel(row mappingRow) (*model.SchemaMapping, error) {
	var fields []model.FieldMapping
	if len(row.FieldMappings) > 0 {
		if err := json.Unmarshal(row.FieldMappings, &fields); err != nil {
			return nil, fmt.Errorf("unmarshal field mappings for %q: %w", row.ID, err)
		}
	}

	m := &model.SchemaMapping{
		ID:             row.ID,
		SourceSchemaID: row.SourceSchemaID,
		Version:        row.Version,
		FieldMappings:  fields,
		Status:         model.MappingStatus(row.Status),
		CreatedAt:      row.CreatedAt,
		CreatedBy:      row.CreatedBy,
		ApprovedBy:     row.ApprovedBy,
	}
	if row.ApprovedAt.Valid {
		m.ApprovedAt = &row.ApprovedAt.Time
	}

	return m, nil
}
