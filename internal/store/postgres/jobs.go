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

type jobRow struct {
	ID               string       `db:"id"`
	ConnectorID      string       `db:"connector_id"`
	JobType          string       `db:"job_type"`
	SyncMode         string       `db:"sync_mode"`
	Status           string       `db:"status"`
	StartedAt        sql.NullTime `db:"started_at"`
	CompletedAt      sql.NullTime `db:"completed_at"`
	TotalRecords     int          `db:"total_records"`
	ProcessedRecords int          `db:"processed_records"`
	FailedRecords    int          `db:"failed_records"`
	WatermarkValue   string       `db:"watermark_value"`
	ErrorMessage     string       `db:"error_message"`
	TriggeredBy      string       `db:"triggered_by"`
	CreatedAt        time.Time    `db:"created_at"`
}

var jobColumns = []any{"id", "connector_id", "job_type", "sync_mode", "status", "started_at", "completed_at",
	"total_records", "processed_records", "failed_records", "watermark_value", "error_message", "triggered_by", "created_at"}

func (p *Postgres) CreateJob(ctx context.Context, j model.SyncJob) (*model.SyncJob, error) {
	id := j.ID
	if id == "" {
		id = ulid.Make().String()
	}
	now := time.Now().UTC()

	query, _, err := p.goqu.Insert(p.tableJobs).Rows(
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

	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("create job for connector %q: %w", j.ConnectorID, err)
	}

	return p.GetJob(ctx, id)
}

func (p *Postgres) GetJob(ctx context.Context, id string) (*model.SyncJob, error) {
	query, _, err := p.goqu.From(p.tableJobs).Select(jobColumns...).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get job query: %w", err)
	}

	var row jobRow
	err = p.db.QueryRowContext(ctx, query).Scan(&row.ID, &row.ConnectorID, &row.JobType, &row.SyncMode, &row.Status,
		&row.StartedAt, &row.CompletedAt, &row.TotalRecords, &row.ProcessedRecords, &row.FailedRecords,
		&row.WatermarkValue, &row.ErrorMessage, &row.TriggeredBy, &row.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %q: %w", id, err)
	}

	return jobRowToModel(row), nil
}

func (p *Postgres) ListJobs(ctx context.Context, connectorID string, limit int) ([]model.SyncJob, error) {
	ds := p.goqu.From(p.tableJobs).Select(jobColumns...).Order(goqu.I("created_at").Desc())
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

	rows, err := p.db.QueryContext(ctx, query)
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
		result = append(result, *jobRowToModel(row))
	}

	return result, rows.Err()
}

// UpdateJobStatus transitions a job's status and merges any additional
// fields (progress counters, watermark, error message). Transitions are
// expected to follow pending→running→{success|failed|cancelled}; this
// layer does not itself enforce that, the scheduler's Worker does.
func (p *Postgres) UpdateJobStatus(ctx context.Context, id string, status model.JobStatus, fields map[string]any) (*model.SyncJob, error) {
	set := goqu.Record{"status": string(status)}
	for k, v := range fields {
		set[k] = v
	}

	if status == model.JobRunning {
		if _, ok := fields["started_at"]; !ok {
			set["started_at"] = time.Now().UTC()
		}
	}
	if status == model.JobSuccess || status == model.JobFailed || status == model.JobCancelled {
		if _, ok := fields["completed_at"]; !ok {
			set["completed_at"] = time.Now().UTC()
		}
	}

	query, _, err := p.goqu.Update(p.tableJobs).Set(set).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build update job status query: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("update job %q status: %w", id, err)
	}

	return p.GetJob(ctx, id)
}

func (p *Postgres) AppendJobLog(ctx context.Context, entry model.JobLogEntry) error {
	contextJSON, err := json.Marshal(entry.Context)
	if err != nil {
		return fmt.Errorf("marshal job log context: %w", err)
	}

	id := entry.ID
	if id == "" {
		id = ulid.Make().String()
	}

	query, _, err := p.goqu.Insert(p.tableJobLogs).Rows(
		goqu.Record{
			"id":        id,
			"job_id":    entry.JobID,
			"timestamp": entry.Timestamp,
			"level":     string(entry.Level),
			"message":   entry.Message,
			"context":   contextJSON,
		},
	).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert job log query: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("append job log for %q: %w", entry.JobID, err)
	}

	return nil
}

func (p *Postgres) ListJobLogs(ctx context.Context, jobID string) ([]model.JobLogEntry, error) {
	query, _, err := p.goqu.From(p.tableJobLogs).
		Select("id", "job_id", "timestamp", "level", "message", "context").
		Where(goqu.I("job_id").Eq(jobID)).
		Order(goqu.I("timestamp").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list job logs query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list job logs: %w", err)
	}
	defer rows.Close()

	var result []model.JobLogEntry
	for rows.Next() {
		var e model.JobLogEntry
		var contextJSON json.RawMessage
		if err := rows.Scan(&e.ID, &e.JobID, &e.Timestamp, &e.Level, &e.Message, &contextJSON); err != nil {
			return nil, fmt.Errorf("scan job log row: %w", err)
		}
		if len(contextJSON) > 0 {
			if err := json.Unmarshal(contextJSON, &e.Context); err != nil {
				return nil, fmt.Errorf("unmarshal job log context: %w", err)
			}
		}
		result = append(result, e)
	}

	return result, rows.Err()
}

// PendingOrRunningJob returns the first job for connectorID that is still
// pending or running, or nil if none. Used to enforce that at most one job
// runs per connector at a time.
func (p *Postgres) PendingOrRunningJob(ctx context.Context, connectorID string) (*model.SyncJob, error) {
	query, _, err := p.goqu.From(p.tableJobs).
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
	err = p.db.QueryRowContext(ctx, query).Scan(&row.ID, &row.ConnectorID, &row.JobType, &row.SyncMode, &row.Status,
		&row.StartedAt, &row.CompletedAt, &row.TotalRecords, &row.ProcessedRecords, &row.FailedRecords,
		&row.WatermarkValue, &row.ErrorMessage, &row.TriggeredBy, &row.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending job for %q: %w", connectorID, err)
	}

	return jobRowToModel(row), nil
}

func jobRowToModel(row jobRow) *model.SyncJob {
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
		CreatedAt:        row.CreatedAt,
	}
	if row.StartedAt.Valid {
		j.StartedAt = &row.StartedAt.Time
	}
	if row.CompletedAt.Valid {
		j.CompletedAt = &row.CompletedAt.Time
	}

	return j
}
