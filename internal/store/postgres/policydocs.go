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
	"github.com/pgvector/pgvector-go"
	"github.com/rakunlabs/ingestcore/internal/model"
)

// UpsertPolicyDoc inserts or overwrites one policy document, keyed by
// (source, content_hash) so an unchanged document is never re-embedded
// twice.
func (p *Postgres) UpsertPolicyDoc(ctx context.Context, doc model.PolicyDoc) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal policy doc metadata: %w", err)
	}

	id := doc.ID
	if id == "" {
		id = ulid.Make().String()
	}
	fetchedAt := doc.FetchedAt
	if fetchedAt == "" {
		fetchedAt = time.Now().UTC().Format(time.RFC3339)
	}

	embedding := encodeEmbedding(pgvector.NewVector(doc.Embedding))

	insert := p.goqu.Insert(p.tablePolicyDocs).Rows(
		goqu.Record{
			"id":           id,
			"source":       doc.Source,
			"title":        doc.Title,
			"url":          doc.URL,
			"content_hash": doc.ContentHash,
			"embedding":    embedding,
			"fetched_at":   fetchedAt,
			"metadata":     metadataJSON,
		},
	).OnConflict(goqu.DoUpdate(
		"source, content_hash",
		goqu.Record{
			"title":      doc.Title,
			"url":        doc.URL,
			"embedding":  embedding,
			"fetched_at": fetchedAt,
			"metadata":   metadataJSON,
		},
	))

	query, _, err := insert.ToSQL()
	if err != nil {
		return fmt.Errorf("build upsert policy doc query: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("upsert policy doc %s/%s: %w", doc.Source, doc.ContentHash, err)
	}

	return nil
}

func (p *Postgres) GetPolicyDocByHash(ctx context.Context, source, contentHash string) (*model.PolicyDoc, error) {
	query, _, err := p.goqu.From(p.tablePolicyDocs).
		Select("id", "source", "title", "url", "content_hash", "embedding", "fetched_at", "metadata").
		Where(goqu.Ex{"source": source, "content_hash": contentHash}).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get policy doc query: %w", err)
	}

	var (
		id, src, title, url, hash, fetchedAt, embedding string
		metadataJSON                                    json.RawMessage
	)
	err = p.db.QueryRowContext(ctx, query).Scan(&id, &src, &title, &url, &hash, &embedding, &fetchedAt, &metadataJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get policy doc %s/%s: %w", source, contentHash, err)
	}

	doc := &model.PolicyDoc{
		ID:          id,
		Source:      src,
		Title:       title,
		URL:         url,
		ContentHash: hash,
		Embedding:   decodeEmbedding(embedding),
		FetchedAt:   fetchedAt,
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal policy doc metadata: %w", err)
		}
	}

	return doc, nil
}

// GetPolicyDocByID looks a policy document up by its stable policy_key, used
// to tell a first ingestion of a key apart from a later re-ingestion with
// changed content.
func (p *Postgres) GetPolicyDocByID(ctx context.Context, id string) (*model.PolicyDoc, error) {
	query, _, err := p.goqu.From(p.tablePolicyDocs).
		Select("id", "source", "title", "url", "content_hash", "embedding", "fetched_at", "metadata").
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get policy doc by id query: %w", err)
	}

	var (
		docID, src, title, url, hash, fetchedAt, embedding string
		metadataJSON                                       json.RawMessage
	)
	err = p.db.QueryRowContext(ctx, query).Scan(&docID, &src, &title, &url, &hash, &embedding, &fetchedAt, &metadataJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get policy doc %q: %w", id, err)
	}

	doc := &model.PolicyDoc{
		ID:          docID,
		Source:      src,
		Title:       title,
		URL:         url,
		ContentHash: hash,
		Embedding:   decodeEmbedding(embedding),
		FetchedAt:   fetchedAt,
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal policy doc metadata: %w", err)
		}
	}

	return doc, nil
}

// LastSyncedAt returns the most recent fetched_at timestamp recorded for
// source, used by the throttle check.
func (p *Postgres) LastSyncedAt(ctx context.Context, source string) (*string, error) {
	query, _, err := p.goqu.From(p.tablePolicyDocs).
		Select("fetched_at").
		Where(goqu.I("source").Eq(source)).
		Order(goqu.I("fetched_at").Desc()).
		Limit(1).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build last synced query: %w", err)
	}

	var fetchedAt string
	err = p.db.QueryRowContext(ctx, query).Scan(&fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last synced at for %q: %w", source, err)
	}

	return &fetchedAt, nil
}

// encodeEmbedding renders a float32 vector in pgvector's external text
// format ("[v1,v2,v3]") for the embedding column. The insert/upsert queries
// in this file are built with ToSQL() and executed as a literal statement
// (no bound parameters), so the value must already be a SQL string literal;
// decodeEmbedding instead scans through pgvector.Vector's sql.Scanner
// implementation, which accepts this same text format.
func encodeEmbedding(v pgvector.Vector) string {
	return v.String()
}

func decodeEmbedding(raw string) []float32 {
	var vec pgvector.Vector
	if err := vec.Scan(raw); err != nil {
		return nil
	}
	return vec.Slice()
}
