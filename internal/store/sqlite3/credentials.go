package sqlite3

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"
	icrypto "github.com/rakunlabs/ingestcore/internal/crypto"
)

func (s *SQLite) UpsertCredential(ctx context.Context, connectorID, credentialType string, fields map[string]string) error {
	s.encKeyMu.RLock()
	encKey := s.encKey
	s.encKeyMu.RUnlock()

	encrypted, err := icrypto.EncryptFields(fields, encKey)
	if err != nil {
		return fmt.Errorf("encrypt credential fields: %w", err)
	}

	payload, err := marshalFields(encrypted)
	if err != nil {
		return fmt.Errorf("marshal credential fields: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	id := ulid.Make().String()

	insert := s.goqu.Insert(s.tableCredentials).Rows(
		goqu.Record{
			"id":              id,
			"connector_id":    connectorID,
			"credential_type": credentialType,
			"fields":          payload,
			"created_at":      now,
			"updated_at":      now,
		},
	).OnConflict(goqu.DoUpdate(
		"connector_id, credential_type",
		goqu.Record{"fields": payload, "updated_at": now},
	))

	query, _, err := insert.ToSQL()
	if err != nil {
		return fmt.Errorf("build upsert credential query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("upsert credential %s/%s: %w", connectorID, credentialType, err)
	}

	return nil
}

func (s *SQLite) GetCredential(ctx context.Context, connectorID, credentialType string) (map[string]string, error) {
	query, _, err := s.goqu.From(s.tableCredentials).
		Select("fields").
		Where(goqu.Ex{"connector_id": connectorID, "credential_type": credentialType}).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get credential query: %w", err)
	}

	var raw string
	err = s.db.QueryRowContext(ctx, query).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %s/%s: %w", connectorID, credentialType, err)
	}

	fields, err := unmarshalFields(raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshal credential fields: %w", err)
	}

	s.encKeyMu.RLock()
	encKey := s.encKey
	s.encKeyMu.RUnlock()

	return icrypto.DecryptFields(fields, encKey)
}

func (s *SQLite) DeleteCredential(ctx context.Context, connectorID, credentialType string) error {
	query, _, err := s.goqu.Delete(s.tableCredentials).
		Where(goqu.Ex{"connector_id": connectorID, "credential_type": credentialType}).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build delete credential query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("delete credential %s/%s: %w", connectorID, credentialType, err)
	}

	return nil
}

// RotateEncryptionKey decrypts all credential rows with the current key,
// re-encrypts them with newKey, and commits the rewrite atomically.
// SQLite's single-writer connection pool makes the transaction itself the
// concurrency guard (no FOR UPDATE clause, unlike the Postgres backend).
func (s *SQLite) RotateEncryptionKey(ctx context.Context, newKey []byte) error {
	s.encKeyMu.Lock()
	defer s.encKeyMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	selectQuery, _, err := s.goqu.From(s.tableCredentials).Select("id", "fields").ToSQL()
	if err != nil {
		return fmt.Errorf("build select query: %w", err)
	}

	rows, err := tx.QueryContext(ctx, selectQuery)
	if err != nil {
		return fmt.Errorf("list credentials for rotation: %w", err)
	}

	type rowData struct {
		id     string
		fields string
	}

	var allRows []rowData
	for rows.Next() {
		var r rowData
		if err := rows.Scan(&r.id, &r.fields); err != nil {
			rows.Close()
			return fmt.Errorf("scan credential row: %w", err)
		}
		allRows = append(allRows, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate credential rows: %w", err)
	}

	for _, r := range allRows {
		fields, err := unmarshalFields(r.fields)
		if err != nil {
			return fmt.Errorf("unmarshal fields for %s: %w", r.id, err)
		}

		fields, err = icrypto.DecryptFields(fields, s.encKey)
		if err != nil {
			return fmt.Errorf("decrypt fields for %s: %w", r.id, err)
		}

		fields, err = icrypto.EncryptFields(fields, newKey)
		if err != nil {
			return fmt.Errorf("re-encrypt fields for %s: %w", r.id, err)
		}

		payload, err := marshalFields(fields)
		if err != nil {
			return fmt.Errorf("marshal fields for %s: %w", r.id, err)
		}

		updateQuery, _, err := s.goqu.Update(s.tableCredentials).Set(
			goqu.Record{"fields": payload},
		).Where(goqu.I("id").Eq(r.id)).ToSQL()
		if err != nil {
			return fmt.Errorf("build update query for %s: %w", r.id, err)
		}

		if _, err := tx.ExecContext(ctx, updateQuery); err != nil {
			return fmt.Errorf("update credential %s: %w", r.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.encKey = newKey

	return nil
}
