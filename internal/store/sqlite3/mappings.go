package sqlite3

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
	ID             string
	SourceSchemaID string
	Version        int
	FieldMappings  string
	Status         string
	CreatedAt      string
	CreatedBy      string
	ApprovedAt     sql.NullString
	ApprovedBy     string
}

func (s *SQLite) ListMappings(ctx context.Context, sourceSchemaID string) ([]model.SchemaMapping, error) {
	query, _, err := s.goqu.From(s.tableMappings).
		Select("id", "source_schema_id", "version", "field_mappings", "status", "created_at", "created_by", "approved_at", "approved_by").
		Where(goqu.I("source_schema_id").Eq(sourceSchemaID)).
		Order(goqu.I("version").Desc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list mappings query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
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

func (s *SQLite) GetLatestMapping(ctx context.Context, sourceSchemaID string) (*model.SchemaMapping, error) {
	mappings, err := s.ListMappings(ctx, sourceSchemaID)
	if err != nil {
		return nil, err
	}
	if len(mappings) == 0 {
		return nil, nil
	}
	return &mappings[0], nil
}

func (s *SQLite) CreateMapping(ctx context.Context, m model.SchemaMapping) (*model.SchemaMapping, error) {
	fieldsJSON, err := json.Marshal(m.FieldMappings)
	if err != nil {
		return nil, fmt.Errorf("marshal field mappings: %w", err)
	}

	id := ulid.Make().String()
	now := time.Now().UTC().Format(time.RFC3339)

	version := m.Version
	if version == 0 {
		latest, err := s.GetLatestMapping(ctx, m.SourceSchemaID)
		if err != nil {
			return nil, err
		}
		if latest != nil {
			version = latest.Version + 1
		} else {
			version = 1
		}
	}

	query, _, err := s.goqu.Insert(s.tableMappings).Rows(
		goqu.Record{
			"id":               id,
			"source_schema_id": m.SourceSchemaID,
			"version":          version,
			"field_mappings":   string(fieldsJSON),
			"status":           string(model.MappingPending),
			"created_at":       now,
			"created_by":       m.CreatedBy,
			"approved_by":      "",
		},
	).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build insert mapping query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("create mapping for %q: %w", m.SourceSchemaID, err)
	}

	return s.getMappingByID(ctx, id)
}

func (s *SQLite) UpdateMappingStatus(ctx context.Context, id string, status model.MappingStatus, actor string) (*model.SchemaMapping, error) {
	set := goqu.Record{"status": string(status)}
	if status == model.MappingApproved {
		set["approved_at"] = time.Now().UTC().Format(time.RFC3339)
		set["approved_by"] = actor
	}

	query, _, err := s.goqu.Update(s.tableMappings).Set(set).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build update mapping status query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("update mapping %q status: %w", id, err)
	}

	return s.getMappingByID(ctx, id)
}

func (s *SQLite) AppendMappingAudit(ctx context.Context, mappingID string, entry model.MappingAuditEntry) error {
	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}

	query, _, err := s.goqu.Insert(s.tableMappingAudit).Rows(
		goqu.Record{
			"id":         ulid.Make().String(),
			"mapping_id": mappingID,
			"action":     entry.Action,
			"actor":      entry.Actor,
			"timestamp":  entry.Timestamp.UTC().Format(time.RFC3339),
			"details":    string(detailsJSON),
		},
	).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert mapping audit query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("append mapping audit for %q: %w", mappingID, err)
	}

	return nil
}

func (s *SQLite) getMappingByID(ctx context.Context, id string) (*model.SchemaMapping, error) {
	query, _, err := s.goqu.From(s.tableMappings).
		Select("id", "source_schema_id", "version", "field_mappings", "status", "created_at", "created_by", "approved_at", "approved_by").
		Where(goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get mapping query: %w", err)
	}

	var row mappingRow
	err = s.db.QueryRowContext(ctx, query).Scan(&row.ID, &row.SourceSchemaID, &row.Version, &row.FieldMappings,
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

	m.Audit, err = s.listMappingAudit(ctx, id)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (s *SQLite) listMappingAudit(ctx context.Context, mappingID string) ([]model.MappingAuditEntry, error) {
	query, _, err := s.goqu.From(s.tableMappingAudit).
		Select("action", "actor", "timestamp", "details").
		Where(goqu.I("mapping_id").Eq(mappingID)).
		Order(goqu.I("timestamp").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list mapping audit query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list mapping audit: %w", err)
	}
	defer rows.Close()

	var entries []model.MappingAuditEntry
	for rows.Next() {
		var (
			e         model.MappingAuditEntry
			ts        string
			details   string
		)
		if err := rows.Scan(&e.Action, &e.Actor, &ts, &details); err != nil {
			return nil, fmt.Errorf("scan mapping audit row: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("parse audit timestamp: %w", err)
		}
		e.Timestamp = parsed
		if details != "" {
			if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshal audit details: %w", err)
			}
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func mappingRowToModel(row mappingRow) (*model.SchemaMapping, error) {
	var fields []model.FieldMapping
	if row.FieldMappings != "" {
		if err := json.Unmarshal([]byte(row.FieldMappings), &fields); err != nil {
			return nil, fmt.Errorf("unmarshal field mappings for %q: %w", row.ID, err)
		}
	}

	createdAt, err := time.Parse(time.RFC3339, row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at for %q: %w", row.ID, err)
	}

	m := &model.SchemaMapping{
		ID:             row.ID,
		SourceSchemaID: row.SourceSchemaID,
		Version:        row.Version,
		FieldMappings:  fields,
		Status:         model.MappingStatus(row.Status),
		CreatedAt:      createdAt,
		CreatedBy:      row.CreatedBy,
		ApprovedBy:     row.ApprovedBy,
	}
	if row.ApprovedAt.Valid && row.ApprovedAt.String != "" {
		t, err := time.Parse(time.RFC3339, row.ApprovedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse approved_at for %q: %w", row.ID, err)
		}
		m.ApprovedAt = &t
	}

	return m, nil
}
