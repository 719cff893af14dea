package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"
	"github.com/rakunlabs/ingestcore/internal/model"
)

func (p *Postgres) SaveResult(ctx context.Context, jobID string, record model.CanonicalRecord, findings []model.RuleFinding, decision model.DecisionMode, score float64) (string, error) {
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("marshal canonical record: %w", err)
	}

	findingsJSON, err := json.Marshal(findings)
	if err != nil {
		return "", fmt.Errorf("marshal rule findings: %w", err)
	}

	id := ulid.Make().String()

	query, _, err := p.goqu.Insert(p.tableResults).Rows(
		goqu.Record{
			"id":       id,
			"job_id":   jobID,
			"record":   recordJSON,
			"findings": findingsJSON,
			"decision": string(decision),
			"score":    score,
			"created_at": time.Now().UTC(),
		},
	).ToSQL()
	if err != nil {
		return "", fmt.Errorf("build insert result query: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return "", fmt.Errorf("save result for job %q: %w", jobID, err)
	}

	return id, nil
}

func (p *Postgres) ListResults(ctx context.Context, jobID string, limit int) ([]model.ResultRow, error) {
	ds := p.goqu.From(p.tableResults).
		Select("id", "job_id", "record", "findings", "decision", "score").
		Where(goqu.I("job_id").Eq(jobID)).
		Order(goqu.I("created_at").Asc())
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list results query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var result []model.ResultRow
	for rows.Next() {
		var (
			id, jID, decision string
			recordJSON, findingsJSON json.RawMessage
			score float64
		)
		if err := rows.Scan(&id, &jID, &recordJSON, &findingsJSON, &decision, &score); err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}

		var rec model.CanonicalRecord
		if len(recordJSON) > 0 {
			if err := json.Unmarshal(recordJSON, &rec); err != nil {
				return nil, fmt.Errorf("unmarshal canonical record %q: %w", id, err)
			}
		}

		var findings []model.RuleFinding
		if len(findingsJSON) > 0 {
			if err := json.Unmarshal(findingsJSON, &findings); err != nil {
				return nil, fmt.Errorf("unmarshal rule findings %q: %w", id, err)
			}
		}

		result = append(result, model.ResultRow{
			ID:       id,
			JobID:    jID,
			Record:   rec,
			Findings: findings,
			Decision: model.DecisionMode(decision),
			Score:    score,
		})
	}

	return result, rows.Err()
}
