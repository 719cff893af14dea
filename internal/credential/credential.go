// Package credential extracts secret fields out of a connector's
// configuration, encrypts and persists them separately keyed by
// (connector_id, credential_type), and injects them back in at connection
// time.
package credential

import (
	"context"
	"fmt"

	"github.com/rakunlabs/ingestcore/internal/model"
)

// Placeholder replaces a secret value in a sanitized config returned to a
// client or logged.
const Placeholder = "***ENCRYPTED***"

// SecretFields is the catalog of field names holding secrets per connector
// type. File connectors carry secrets for every supported
// backend (S3, SFTP, Azure Blob) since the subtype is opaque at this layer.
var SecretFields = map[model.ConnectorType][]string{
	model.ConnectorTypeDatabase: {"password"},
	model.ConnectorTypeAPI:      {"api_key", "oauth_client_secret", "bearer_token"},
	model.ConnectorTypeFile: {
		"aws_access_key",
		"aws_secret_key",
		"password",
		"private_key",
		"account_key",
		"sas_token",
		"azure_connection_string",
	},
}

// Storer is the persistence facet the Manager depends on.
type Storer interface {
	UpsertCredential(ctx context.Context, connectorID, credentialType string, fields map[string]string) error
	GetCredential(ctx context.Context, connectorID, credentialType string) (map[string]string, error)
	DeleteCredential(ctx context.Context, connectorID, credentialType string) error
	RotateEncryptionKey(ctx context.Context, newKey []byte) error
}

// Manager extracts, stores, and re-injects connector secrets. It holds no
// in-memory secret state itself — everything encrypted lives in the store.
type Manager struct {
	store Storer
}

func New(store Storer) *Manager {
	return &Manager{store: store}
}

// ExtractAndStore pulls every secret field present in config for
// connectorType out of config, persists each one individually keyed by
// (connectorID, field name), and returns a sanitized copy of config with
// each extracted field replaced by Placeholder.
func (m *Manager) ExtractAndStore(ctx context.Context, connectorID string, connectorType model.ConnectorType, config map[string]any) (map[string]any, error) {
	sanitized := make(map[string]any, len(config))
	for k, v := range config {
		sanitized[k] = v
	}

	for _, field := range SecretFields[connectorType] {
		raw, ok := config[field]
		if !ok {
			continue
		}
		value, ok := raw.(string)
		if !ok || value == "" {
			continue
		}

		if err := m.store.UpsertCredential(ctx, connectorID, field, map[string]string{field: value}); err != nil {
			return nil, fmt.Errorf("store credential %q for connector %q: %w", field, connectorID, err)
		}
		sanitized[field] = Placeholder
	}

	return sanitized, nil
}

// Inject returns a copy of config with every secret field for
// connectorType filled in from the credential store. Fields with no stored
// value are left untouched (so Placeholder, if present, is still visible —
// callers should treat that as "secret missing").
func (m *Manager) Inject(ctx context.Context, connectorID string, connectorType model.ConnectorType, config map[string]any) (map[string]any, error) {
	injected := make(map[string]any, len(config))
	for k, v := range config {
		injected[k] = v
	}

	for _, field := range SecretFields[connectorType] {
		fields, err := m.store.GetCredential(ctx, connectorID, field)
		if err != nil {
			return nil, fmt.Errorf("load credential %q for connector %q: %w", field, connectorID, err)
		}
		if value, ok := fields[field]; ok && value != "" {
			injected[field] = value
		}
	}

	return injected, nil
}

// DeleteAll removes every stored credential field for connectorType on
// connectorID, used when a connector is deleted.
func (m *Manager) DeleteAll(ctx context.Context, connectorID string, connectorType model.ConnectorType) error {
	for _, field := range SecretFields[connectorType] {
		if err := m.store.DeleteCredential(ctx, connectorID, field); err != nil {
			return fmt.Errorf("delete credential %q for connector %q: %w", field, connectorID, err)
		}
	}
	return nil
}

// RotateEncryptionKey re-encrypts every stored credential under newKey.
func (m *Manager) RotateEncryptionKey(ctx context.Context, newKey []byte) error {
	return m.store.RotateEncryptionKey(ctx, newKey)
}
