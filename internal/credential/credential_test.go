package credential

import (
	"context"
	"testing"

	"github.com/rakunlabs/ingestcore/internal/model"
)

type fakeStore struct {
	fields map[string]map[string]string // key: connectorID/credentialType
}

func newFakeStore() *fakeStore {
	return &fakeStore{fields: make(map[string]map[string]string)}
}

func key(connectorID, credentialType string) string { return connectorID + "/" + credentialType }

func (f *fakeStore) UpsertCredential(_ context.Context, connectorID, credentialType string, fields map[string]string) error {
	f.fields[key(connectorID, credentialType)] = fields
	return nil
}

func (f *fakeStore) GetCredential(_ context.Context, connectorID, credentialType string) (map[string]string, error) {
	return f.fields[key(connectorID, credentialType)], nil
}

func (f *fakeStore) DeleteCredential(_ context.Context, connectorID, credentialType string) error {
	delete(f.fields, key(connectorID, credentialType))
	return nil
}

func (f *fakeStore) RotateEncryptionKey(_ context.Context, _ []byte) error { return nil }

func TestExtractAndStoreSanitizesSecrets(t *testing.T) {
	store := newFakeStore()
	mgr := New(store)
	ctx := context.Background()

	config := map[string]any{
		"host":     "db.internal",
		"port":     5432,
		"password": "hunter2",
	}

	sanitized, err := mgr.ExtractAndStore(ctx, "conn-1", model.ConnectorTypeDatabase, config)
	if err != nil {
		t.Fatalf("ExtractAndStore: %v", err)
	}

	if sanitized["password"] != Placeholder {
		t.Fatalf("expected password to be replaced with placeholder, got %v", sanitized["password"])
	}
	if sanitized["host"] != "db.internal" {
		t.Fatalf("non-secret field should be untouched, got %v", sanitized["host"])
	}

	fields, _ := store.GetCredential(ctx, "conn-1", "password")
	if fields["password"] != "hunter2" {
		t.Fatalf("expected stored password %q, got %q", "hunter2", fields["password"])
	}
}

func TestInjectRestoresSecrets(t *testing.T) {
	store := newFakeStore()
	mgr := New(store)
	ctx := context.Background()

	_, err := mgr.ExtractAndStore(ctx, "conn-1", model.ConnectorTypeDatabase, map[string]any{
		"host": "db.internal", "password": "hunter2",
	})
	if err != nil {
		t.Fatalf("ExtractAndStore: %v", err)
	}

	sanitized := map[string]any{"host": "db.internal", "password": Placeholder}
	injected, err := mgr.Inject(ctx, "conn-1", model.ConnectorTypeDatabase, sanitized)
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}

	if injected["password"] != "hunter2" {
		t.Fatalf("expected injected password %q, got %v", "hunter2", injected["password"])
	}
}

func TestDeleteAllRemovesEveryField(t *testing.T) {
	store := newFakeStore()
	mgr := New(store)
	ctx := context.Background()

	_, _ = mgr.ExtractAndStore(ctx, "conn-1", model.ConnectorTypeAPI, map[string]any{
		"api_key": "sk-123", "oauth_client_secret": "shh", "bearer_token": "tok",
	})

	if err := mgr.DeleteAll(ctx, "conn-1", model.ConnectorTypeAPI); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}

	for _, field := range SecretFields[model.ConnectorTypeAPI] {
		fields, _ := store.GetCredential(ctx, "conn-1", field)
		if fields != nil {
			t.Fatalf("expected field %q to be deleted, got %v", field, fields)
		}
	}
}

// TestCredentialUpsert covers re-extracting a connector's credentials after
// rotation: the second ExtractAndStore call must replace the stored secret
// rather than erroring on the existing (connector_id, credential_type) row
// or leaving the old value in place alongside the new one.
func TestCredentialUpsert(t *testing.T) {
	store := newFakeStore()
	mgr := New(store)
	ctx := context.Background()

	if _, err := mgr.ExtractAndStore(ctx, "conn-1", model.ConnectorTypeDatabase, map[string]any{
		"host": "db.internal", "password": "hunter2",
	}); err != nil {
		t.Fatalf("ExtractAndStore (initial): %v", err)
	}

	if _, err := mgr.ExtractAndStore(ctx, "conn-1", model.ConnectorTypeDatabase, map[string]any{
		"host": "db.internal", "password": "rotated-secret",
	}); err != nil {
		t.Fatalf("ExtractAndStore (rotation): %v", err)
	}

	fields, err := store.GetCredential(ctx, "conn-1", "password")
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if fields["password"] != "rotated-secret" {
		t.Fatalf("expected the upsert to replace the stored password with %q, got %q", "rotated-secret", fields["password"])
	}
}
