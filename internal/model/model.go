// Package model holds the data model shared across the ingestion core:
// connectors, canonical fields, schema mappings, sync jobs, canonical
// records, and rule findings.
package model

import "time"

// ConnectorType classifies the transport family of a Connector.
type ConnectorType string

const (
	ConnectorTypeDatabase ConnectorType = "database"
	ConnectorTypeAPI      ConnectorType = "api"
	ConnectorTypeFile     ConnectorType = "file"
)

// ConnectorSubtype is the concrete transport implementation.
type ConnectorSubtype string

const (
	SubtypePostgreSQL ConnectorSubtype = "postgresql"
	SubtypeMySQL      ConnectorSubtype = "mysql"
	SubtypeSQLServer  ConnectorSubtype = "sqlserver"
	SubtypeREST       ConnectorSubtype = "rest"
	SubtypeFHIR       ConnectorSubtype = "fhir"
	SubtypeS3         ConnectorSubtype = "s3"
	SubtypeSFTP       ConnectorSubtype = "sftp"
	SubtypeAzureBlob  ConnectorSubtype = "azure_blob"
	SubtypeLocal      ConnectorSubtype = "local"
)

// DataType is the canonical category of data a connector produces.
type DataType string

const (
	DataTypeClaims      DataType = "claims"
	DataTypeEligibility DataType = "eligibility"
	DataTypeProviders   DataType = "providers"
	DataTypeReference   DataType = "reference"
)

// ConnectorStatus is the connector's lifecycle state.
type ConnectorStatus string

const (
	ConnectorActive   ConnectorStatus = "active"
	ConnectorInactive ConnectorStatus = "inactive"
	ConnectorError    ConnectorStatus = "error"
	ConnectorTesting  ConnectorStatus = "testing"
)

// SyncMode selects whether extraction pulls everything or only new/changed
// records since the last watermark.
type SyncMode string

const (
	SyncModeFull        SyncMode = "full"
	SyncModeIncremental SyncMode = "incremental"
)

// Connector is the persisted configuration of one data source.
// Secret fields never live on this struct's Config map — the Credential
// Store owns them exclusively.
type Connector struct {
	ID       string
	Name     string
	Type     ConnectorType
	Subtype  ConnectorSubtype
	DataType DataType

	// Config is the sanitized (secret-free) connection configuration; the
	// schema depends on Subtype.
	Config map[string]any

	SyncSchedule string // cron expression, empty if unscheduled
	SyncMode     SyncMode
	BatchSize    int

	Status         ConnectorStatus
	LastSyncAt     *time.Time
	LastSyncStatus string

	CreatedAt time.Time
	CreatedBy string
}

// CanonicalField is one entry in the canonical schema.
type CanonicalField struct {
	CanonicalName string
	Type          FieldType
	Required      bool
	Aliases       []string
	Description   string
}

// FieldType is the canonical field's value type.
type FieldType string

const (
	FieldTypeString     FieldType = "string"
	FieldTypeInt        FieldType = "int"
	FieldTypeNumber     FieldType = "number"
	FieldTypeDate       FieldType = "date"
	FieldTypeStringList FieldType = "list<string>"
)

// MappingMethod records how a field mapping decision was reached.
type MappingMethod string

const (
	MethodAlias    MappingMethod = "alias"
	MethodSemantic MappingMethod = "semantic"
	MethodLLMRerank MappingMethod = "llm_rerank"
	MethodManual   MappingMethod = "manual"
)

// FieldMapping is a single source→canonical field resolution.
type FieldMapping struct {
	SourceField string
	TargetField string
	Confidence  float64
	Method      MappingMethod
	Reasoning   string
}

// MappingStatus is a SchemaMapping's review state.
type MappingStatus string

const (
	MappingPending  MappingStatus = "pending"
	MappingApproved MappingStatus = "approved"
	MappingRejected MappingStatus = "rejected"
	MappingArchived MappingStatus = "archived"
)

// SchemaMapping is a versioned decision record mapping a named source
// schema to the canonical schema. Versions are never mutated
// in place — approve/reject update status; a new decision creates a new
// version.
type SchemaMapping struct {
	ID             string
	SourceSchemaID string
	Version        int
	FieldMappings  []FieldMapping
	Status         MappingStatus
	CreatedAt      time.Time
	CreatedBy      string
	ApprovedAt     *time.Time
	ApprovedBy     string
	Audit          []MappingAuditEntry
}

// MappingAuditEntry is one append-only audit trail record for a mapping.
type MappingAuditEntry struct {
	Action    string
	Actor     string
	Timestamp time.Time
	Details   map[string]any
}

// JobType distinguishes how a SyncJob was triggered.
type JobType string

const (
	JobScheduled JobType = "scheduled"
	JobManual    JobType = "manual"
)

// JobStatus is a SyncJob's lifecycle state.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSuccess   JobStatus = "success"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// SyncJob is one execution record of an ETL run against a connector.
type SyncJob struct {
	ID             string
	ConnectorID    string
	JobType        JobType
	SyncMode       SyncMode
	Status         JobStatus
	StartedAt      *time.Time
	CompletedAt    *time.Time
	TotalRecords   int
	ProcessedRecords int
	FailedRecords  int
	WatermarkValue string
	ErrorMessage   string
	TriggeredBy    string
	CreatedAt      time.Time
}

// JobLogLevel is the severity of a JobLogEntry.
type JobLogLevel string

const (
	LogInfo    JobLogLevel = "info"
	LogWarning JobLogLevel = "warning"
	LogError   JobLogLevel = "error"
)

// JobLogEntry is one append-only entry in a job's log stream.
type JobLogEntry struct {
	ID        string
	JobID     string
	Timestamp time.Time
	Level     JobLogLevel
	Message   string
	Context   map[string]any
}

// CanonicalRecord is the output of the Transform stage: a map from
// canonical names to values, with nested shapes for claims-like data.
type CanonicalRecord map[string]any

// Severity is a RuleFinding's severity band.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RuleFinding is one observation emitted by a rule. Weight may
// be negative (risk-reducing).
type RuleFinding struct {
	RuleID      string
	Description string
	Weight      float64
	Severity    Severity
	Flag        string
	Citation    string
	Metadata    map[string]any
}

// DecisionMode is the threshold-driven routing outcome of a rule evaluation.
type DecisionMode string

const (
	DecisionAutoApproveFast DecisionMode = "auto_approve_fast"
	DecisionAutoApprove     DecisionMode = "auto_approve"
	DecisionSoftHold        DecisionMode = "soft_hold"
	DecisionRecommendation  DecisionMode = "recommendation"
	DecisionInformational   DecisionMode = "informational"
)

// ResultRow is one persisted ETL output row joined with its rule verdict.
type ResultRow struct {
	ID       string
	JobID    string
	Record   CanonicalRecord
	Findings []RuleFinding
	Decision DecisionMode
	Score    float64
}

// PolicyDoc is one payer policy artifact tracked by Policy Sync.
type PolicyDoc struct {
	ID          string
	Source      string
	Title       string
	URL         string
	ContentHash string
	Embedding   []float32
	FetchedAt   string
	Metadata    map[string]any
}
