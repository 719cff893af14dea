package store

import (
	"context"

	"github.com/rakunlabs/ingestcore/internal/config"
	"github.com/rakunlabs/ingestcore/internal/crypto"
	"github.com/rakunlabs/ingestcore/internal/model"
	"github.com/rakunlabs/ingestcore/internal/store/postgres"
	"github.com/rakunlabs/ingestcore/internal/store/sqlite3"
)

// CredentialStorer persists encrypted connector credentials, keyed by
// (connector_id, credential_type).
type CredentialStorer interface {
	UpsertCredential(ctx context.Context, connectorID, credentialType string, fields map[string]string) error
	GetCredential(ctx context.Context, connectorID, credentialType string) (map[string]string, error)
	DeleteCredential(ctx context.Context, connectorID, credentialType string) error
	RotateEncryptionKey(ctx context.Context, newKey []byte) error
}

// ConnectorStorer persists connector configuration.
type ConnectorStorer interface {
	ListConnectors(ctx context.Context) ([]model.Connector, error)
	GetConnector(ctx context.Context, id string) (*model.Connector, error)
	CreateConnector(ctx context.Context, c model.Connector) (*model.Connector, error)
	UpdateConnector(ctx context.Context, id string, c model.Connector) (*model.Connector, error)
	DeleteConnector(ctx context.Context, id string) error
}

// MappingStorer persists versioned schema mappings and their audit trail.
type MappingStorer interface {
	ListMappings(ctx context.Context, sourceSchemaID string) ([]model.SchemaMapping, error)
	GetLatestMapping(ctx context.Context, sourceSchemaID string) (*model.SchemaMapping, error)
	CreateMapping(ctx context.Context, m model.SchemaMapping) (*model.SchemaMapping, error)
	UpdateMappingStatus(ctx context.Context, id string, status model.MappingStatus, actor string) (*model.SchemaMapping, error)
	AppendMappingAudit(ctx context.Context, mappingID string, entry model.MappingAuditEntry) error
}

// JobStorer persists sync job state and job log entries.
type JobStorer interface {
	CreateJob(ctx context.Context, j model.SyncJob) (*model.SyncJob, error)
	GetJob(ctx context.Context, id string) (*model.SyncJob, error)
	ListJobs(ctx context.Context, connectorID string, limit int) ([]model.SyncJob, error)
	UpdateJobStatus(ctx context.Context, id string, status model.JobStatus, fields map[string]any) (*model.SyncJob, error)
	AppendJobLog(ctx context.Context, entry model.JobLogEntry) error
	ListJobLogs(ctx context.Context, jobID string) ([]model.JobLogEntry, error)
	// PendingOrRunningJob returns the newest job for connectorID that is still
	// pending or running, or nil if none; the Worker uses it to allow at most
	// one active job per connector.
	PendingOrRunningJob(ctx context.Context, connectorID string) (*model.SyncJob, error)
}

// ResultStorer persists canonical records and the rule findings attached
// to them by the rules engine.
type ResultStorer interface {
	SaveResult(ctx context.Context, jobID string, record model.CanonicalRecord, findings []model.RuleFinding, decision model.DecisionMode, score float64) (string, error)
	ListResults(ctx context.Context, jobID string, limit int) ([]model.ResultRow, error)
}

// PolicyDocStorer persists fetched payer policy documents and their
// embeddings for semantic retrieval.
type PolicyDocStorer interface {
	UpsertPolicyDoc(ctx context.Context, doc model.PolicyDoc) error
	GetPolicyDocByHash(ctx context.Context, source, contentHash string) (*model.PolicyDoc, error)
	GetPolicyDocByID(ctx context.Context, id string) (*model.PolicyDoc, error)
	LastSyncedAt(ctx context.Context, source string) (*string, error)
}

// StorerClose is the full storage facade used by the ingestion core,
// backed by either PostgreSQL or SQLite.
type StorerClose interface {
	CredentialStorer
	ConnectorStorer
	MappingStorer
	JobStorer
	ResultStorer
	PolicyDocStorer
	Close()
}

// New creates a StorerClose based on the given store configuration.
// PostgreSQL is preferred when configured; otherwise the embedded SQLite
// backend is used against cfg.Path (DB_PATH).
func New(ctx context.Context, cfg config.Store) (StorerClose, error) {
	encKey, err := encryptionKey(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	if cfg.Postgres != nil {
		return postgres.New(ctx, cfg.Postgres, encKey)
	}

	sqliteCfg := cfg.SQLite
	if sqliteCfg == nil {
		sqliteCfg = &config.StoreSQLite{Datasource: cfg.Path}
	} else if sqliteCfg.Datasource == "" {
		sqliteCfg.Datasource = cfg.Path
	}

	return sqlite3.New(ctx, sqliteCfg, encKey)
}

func encryptionKey(passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, nil
	}
	return crypto.DeriveKey(passphrase)
}
