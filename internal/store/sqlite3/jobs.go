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

type jobRow struct {
	ID               string
	ConnectorID      string
	JobType          string
	SyncMode         string
	Status           string
	StartedAt        sql.NullString
	CompletedAt      sql.NullString
	TotalRecords     int
	ProcessedRecords int
	FailedRecords    int
	WatermarkValue   string
	ErrorMessage     string
	TriggeredBy      string
	CreatedAt        string
}

var jobColumns = []any{"id", "connector_id", "job_type", "sync_mode", "status", "started_at", "completed_at",
	"total_records", "processed_records", "failed_records", "watermark_value", "error_message", "triggered_by", "created_at"}

func (s *SQLite) CreateJob(ctx context.Context, j model.SyncJob) (*model.SyncJob, error) {
	id := j.ID
	if id == "" {
		id = ulid.Make().String()
	}
	now := time.Now().UTC().Format(time.RFC3339)

	query, _, err := s.goqu.Insert(s.tableJobs).Rows(
		goqu.Record{
			"id":           id,
			"connector_id": j.ConnectorID,
			"job_type":     string(j.JobType),
			"sync_mode":    string(j.SyncMode),
			"status":       string(model.JobPending),
			"triggered_by": j.TriggeredBy,
			"created_at":   now,
		},
	).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build insert job query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("create job for connector %q: %w", j.ConnectorID, err)
	}

	return s.GetJob(ctx, id)
}

func (s *SQLite) GetJob(ctx context.Context, id string) (*model.SyncJob, error) {
	query, _, err := s.goqu.From(s.tableJobs).Select(jobColumns...).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get job query: %w", err)
	}

	var row jobRow
	err = s.db.QueryRowContext(ctx, query).Scan(&row.ID, &row.ConnectorID, &row.JobType, &row.SyncMode, &row.Status,
		&row.StartedAt, &row.CompletedAt, &row.TotalRecords, &row.ProcessedRecords, &row.FailedRecords,
		&row.WatermarkValue, &row.ErrorMessage, &row.TriggeredBy, &row.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %q: %w", id, err)
	}

	return jobRowToModel(row)
}

func (s *SQLite) ListJobs(ctx context.Context, connectorID string, limit int) ([]model.SyncJob, error) {
	ds := s.goqu.From(s.tableJobs).Select(jobColumns...).Order(goqu.I("created_at").Desc())
	if connectorID != "" {
		ds = ds.Where(goqu.I("connector_id").Eq(connectorID))
	}
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list jobs query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var result []model.SyncJob
	for rows.Next() {
		var row jobRow
		if err := rows.Scan(&row.ID, &row.ConnectorID, &row.JobType, &row.SyncMode, &row.Status, &row.StartedAt,
			&row.CompletedAt, &row.TotalRecords, &row.ProcessedRecords, &row.FailedRecords, &row.WatermarkValue,
			&row.ErrorMessage, &row.TriggeredBy, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		j, err := jobRowToModel(row)
		if err != nil {
			return nil, err
		}
		result = append(result, *j)
	}

	return result, rows.Err()
}

func (s *SQLite) UpdateJobStatus(ctx context.Context, id string, status model.JobStatus, fields map[string]any) (*model.SyncJob, error) {
	set := goqu.Record{"status": string(status)}
	for k, v := range fields {
		if t, ok := v.(time.Time); ok {
			set[k] = t.UTC().Format(time.RFC3339)
			continue
		}
		set[k] = v
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if status == model.JobRunning {
		if _, ok := fields["started_at"]; !ok {
			set["started_at"] = now
		}
	}
	if status == model.JobSuccess || status == model.JobFailed || status == model.JobCancelled {
		if _, ok := fields["completed_at"]; !ok {
			set["completed_at"] = now
		}
	}

	query, _, err := s.goqu.Update(s.tableJobs).Set(set).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build update job status query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("update job %q status: %w", id, err)
	}

	return s.GetJob(ctx, id)
}

func (s *SQLite) AppendJobLog(ctx context.Context, entry model.JobLogEntry) error {
	contextJSON, err := json.Marshal(entry.Context)
	if err != nil {
		return fmt.Errorf("marshal job log context: %w", err)
	}

	id := entry.ID
	if id == "" {
		id = ulid.Make().String()
	}

	query, _, err := s.goqu.Insert(s.tableJobLogs).Rows(
		goqu.Record{
			"id":        id,
			"job_id":    entry.JobID,
			"timestamp": entry.Timestamp.UTC().Format(time.RFC3339),
			"level":     string(entry.Level),
			"message":   entry.Message,
			"context":   string(contextJSON),
		},
	).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert job log query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("append job log for %q: %w", entry.JobID, err)
	}

	return nil
}

func (s *SQLite) ListJobLogs(ctx context.Context, jobID string) ([]model.JobLogEntry, error) {
	query, _, err := s.goqu.From(s.tableJobLogs).
		Select("id", "job_id", "timestamp", "level", "message", "context").
		Where(goqu.I("job_id").Eq(jobID)).
		Order(goqu.I("timestamp").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list job logs query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list job logs: %w", err)
	}
	defer rows.Close()

	var result []model.JobLogEntry
	for rows.Next() {
		var (
			e       model.JobLogEntry
			ts      string
			context string
		)
		if err := rows.Scan(&e.ID, &e.JobID, &ts, &e.Level, &e.Message, &context); err != nil {
			return nil, fmt.Errorf("scan job log row: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("parse job log timestamp: %w", err)
		}
		e.Timestamp = parsed
		if context != "" {
			if err := json.Unmarshal([]byte(context), &e.Context); err != nil {
				return nil, fmt.Errorf("unmarshal job log context: %w", err)
			}
		}
		result = append(result, e)
	}

	return result, rows.Err()
}

func (s *SQLite) PendingOrRunningJob(ctx context.Context, connectorID string) (*model.SyncJob, error) {
	query, _, err := s.goqu.From(s.tableJobs).
		Select(jobColumns...).
		Where(
			goqu.I("connector_id").Eq(connectorID),
			goqu.I("status").In(string(model.JobPending), string(model.JobRunning)),
		).
		Order(goqu.I("created_at").Desc()).
		Limit(1).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build pending job query: %w", err)
	}

	var row jobRow
	err = s.db.QueryRowContext(ctx, query).Scan(&row.ID, &row.ConnectorID, &row.JobType, &row.SyncMode, &row.Status,
		&row.StartedAt, &row.CompletedAt, &row.TotalRecords, &row.ProcessedRecords, &row.FailedRecords,
		&row.WatermarkValue, &row.ErrorMessage, &row.TriggeredBy, &row.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending job for %q: %w", connectorID, err)
	}

	return jobRowToModel(row)
}

func jobRowToModel(row jobRow) (*model.SyncJob, error) {
	createdAt, err := time.Parse(time.RFC3339, row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at for job %q: %w", row.ID, err)
	}

	j := &model.SyncJob{
		ID:               row.ID,
		ConnectorID:      row.ConnectorID,
		JobType:          model.JobType(row.JobType),
		SyncMode:         model.SyncMode(row.SyncMode),
		Status:           model.JobStatus(row.Status),
		TotalRecords:     row.TotalRecords,
		ProcessedRecords: row.ProcessedRecords,
		FailedRecords:    row.FailedRecords,
		WatermarkValue:   row.WatermarkValue,
		ErrorMessage:     row.ErrorMessage,
		TriggeredBy:      row.TriggeredBy,
		CreatedAt:        createdAt,
	}
	if row.StartedAt.Valid && row.StartedAt.String != "" {
		t, err := time.Parse(time.RFC3339, row.StartedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse started_at for job %q: %w", row.ID, err)
		}
		j.StartedAt = &t
	}
	if row.CompletedAt.Valid && row.CompletedAt.String != "" {
		t, err := time.Parse(time.RFC3339, row.CompletedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at for job %q: %w", row.ID, err)
		}
		j.CompletedAt = &t
	}

	return j, nil
}
