package sqlite3

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"
	"github.com/rakunlabs/ingestcore/internal/model"
)

func (s *SQLite) UpsertPolicyDoc(ctx context.Context, doc model.PolicyDoc) error {
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

	insert := s.goqu.Insert(s.tablePolicyDocs).Rows(
		goqu.Record{
			"id":           id,
			"source":       doc.Source,
			"title":        doc.Title,
			"url":          doc.URL,
			"content_hash": doc.ContentHash,
			"embedding":    encodeEmbedding(doc.Embedding),
			"fetched_at":   fetchedAt,
			"metadata":     string(metadataJSON),
		},
	).OnConflict(goqu.DoUpdate(
		"source, content_hash",
		goqu.Record{
			"title":      doc.Title,
			"url":        doc.URL,
			"embedding":  encodeEmbedding(doc.Embedding),
			"fetched_at": fetchedAt,
			"metadata":   string(metadataJSON),
		},
	))

	query, _, err := insert.ToSQL()
	if err != nil {
		return fmt.Errorf("build upsert policy doc query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("upsert policy doc %s/%s: %w", doc.Source, doc.ContentHash, err)
	}

	return nil
}

func (s *SQLite) GetPolicyDocByHash(ctx context.Context, source, contentHash string) (*model.PolicyDoc, error) {
	query, _, err := s.goqu.From(s.tablePolicyDocs).
		Select("id", "source", "title", "url", "content_hash", "embedding", "fetched_at", "metadata").
		Where(goqu.Ex{"source": source, "content_hash": contentHash}).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get policy doc query: %w", err)
	}

	var (
		id, src, title, url, hash, fetchedAt, embedding, metadataRaw string
	)
	err = s.db.QueryRowContext(ctx, query).Scan(&id, &src, &title, &url, &hash, &embedding, &fetchedAt, &metadataRaw)
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
	if metadataRaw != "" {
		if err := json.Unmarshal([]byte(metadataRaw), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal policy doc metadata: %w", err)
		}
	}

	return doc, nil
}

// GetPolicyDocByID looks a policy document up by its stable policy_key, used
// to tell a first ingestion of a key apart from a later re-ingestion with
// changed content.
func (s *SQLite) GetPolicyDocByID(ctx context.Context, id string) (*model.PolicyDoc, error) {
	query, _, err := s.goqu.From(s.tablePolicyDocs).
		Select("id", "source", "title", "url", "content_hash", "embedding", "fetched_at", "metadata").
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get policy doc by id query: %w", err)
	}

	var (
		docID, src, title, url, hash, fetchedAt, embedding, metadataRaw string
	)
	err = s.db.QueryRowContext(ctx, query).Scan(&docID, &src, &title, &url, &hash, &embedding, &fetchedAt, &metadataRaw)
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
	if metadataRaw != "" {
		if err := json.Unmarshal([]byte(metadataRaw), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal policy doc metadata: %w", err)
		}
	}

	return doc, nil
}

func (s *SQLite) LastSyncedAt(ctx context.Context, source string) (*string, error) {
	query, _, err := s.goqu.From(s.tablePolicyDocs).
		Select("fetched_at").
		Where(goqu.I("source").Eq(source)).
		Order(goqu.I("fetched_at").Desc()).
		Limit(1).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build last synced query: %w", err)
	}

	var fetchedAt string
	err = s.db.QueryRowContext(ctx, query).Scan(&fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last synced at for %q: %w", source, err)
	}

	return &fetchedAt, nil
}

func encodeEmbedding(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'f', -1, 32)
	}
	return strings.Join(parts, ",")
}

func decodeEmbedding(s string) []float32 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(p, 32)
		if err != nil {
			continue
		}
		out = append(out, float32(f))
	}
	return out
}
