package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"os"

	_ "github.com/rakunlabs/chu/loader/external/loaderconsul"
	_ "github.com/rakunlabs/chu/loader/external/loadervault"
	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/chu"
	"github.com/rakunlabs/tell"
)

var Service = ""

// Config is the root configuration for the ingestion core: the state
// store, scheduler cadence, field-mapper rerank provider, rules engine
// thresholds and policy-sync interval.
type Config struct {
	LogLevel string `cfg:"log_level,no_prefix" default:"info"`

	Store     Store       `cfg:"store"`
	Scheduler Scheduler   `cfg:"scheduler"`
	Mapping   Mapping     `cfg:"mapping"`
	Rules     RulesConfig `cfg:"rules"`
	Policy    PolicySync  `cfg:"policy_sync"`
	Telemetry tell.Config `cfg:"telemetry,noprefix"`
}

type Store struct {
	Postgres *StorePostgres `cfg:"postgres"`
	SQLite   *StoreSQLite   `cfg:"sqlite"`

	// EncryptionKey is the CREDENTIAL_ENCRYPTION_KEY AEAD key used by the
	// Credential Store. Any non-empty string works; it is derived to a
	// 32-byte key via SHA-256. Required for any connector with secret fields.
	EncryptionKey string `cfg:"encryption_key" env:"CREDENTIAL_ENCRYPTION_KEY" log:"-"`

	// Path is DB_PATH — the single-file SQLite datastore path used when
	// Postgres is not configured.
	Path string `cfg:"path" default:"./data/ingestcore.db"`
}

type StorePostgres struct {
	TablePrefix     *string        `cfg:"table_prefix"`
	Datasource      string         `cfg:"datasource" log:"-"`
	Schema          string         `cfg:"schema"`
	ConnMaxLifetime *time.Duration `cfg:"conn_max_lifetime"`
	MaxIdleConns    *int           `cfg:"max_idle_conns"`
	MaxOpenConns    *int           `cfg:"max_open_conns"`

	Migrate Migrate `cfg:"migrate"`
}

type StoreSQLite struct {
	TablePrefix *string `cfg:"table_prefix"`
	Datasource  string  `cfg:"datasource"`

	Migrate Migrate `cfg:"migrate"`
}

type Migrate struct {
	Datasource string            `cfg:"datasource" log:"-"`
	Schema     string            `cfg:"schema"`
	Table      string            `cfg:"table"`
	Values     map[string]string `cfg:"values"`
}

// Scheduler configures the cron runner and the bounded worker pool (C7).
type Scheduler struct {
	// MaxWorkers bounds the number of sync jobs that run concurrently.
	MaxWorkers int `cfg:"max_workers" default:"5"`

	// MisfireGrace is how long after a missed tick a job is still run
	// (coalesced into one execution) rather than skipped.
	MisfireGrace time.Duration `cfg:"misfire_grace" default:"1h"`
}

// Mapping configures the Field Mapper (C3).
type Mapping struct {
	// SemanticThreshold is the minimum cosine similarity for an embedding
	// candidate to be considered.
	SemanticThreshold float64 `cfg:"semantic_threshold" default:"0.3"`

	// EmbeddingCacheSize bounds the LRU cache of encoded source-field vectors.
	EmbeddingCacheSize int `cfg:"embedding_cache_size" default:"1000"`

	// EmbeddingModel selects the embedding backend (EMBEDDING_MODEL).
	EmbeddingModel string `cfg:"embedding_model"`

	// RerankEnabled turns on the optional LLM confidence rerank stage.
	RerankEnabled bool `cfg:"rerank_enabled"`

	// AnthropicAPIKey is ANTHROPIC_API_KEY, used only when RerankEnabled.
	AnthropicAPIKey string `cfg:"anthropic_api_key" log:"-"`

	// RerankModel is the deterministic (temperature 0) model used for rerank.
	RerankModel string `cfg:"rerank_model" default:"claude-haiku-4-5"`

	AutoAcceptConfidence  float64 `cfg:"auto_accept_confidence" default:"85"`
	ReviewConfidenceFloor float64 `cfg:"review_confidence_floor" default:"50"`
}

// RulesConfig configures the Rules Engine (C6) thresholds and base score.
type RulesConfig struct {
	BaseScore float64 `cfg:"base_score" default:"0.5"`

	FastPathMin       float64 `cfg:"fast_path_min" default:"0.95"`
	AutoApproveMin    float64 `cfg:"auto_approve_min" default:"0.90"`
	SoftHoldMin       float64 `cfg:"soft_hold_min" default:"0.80"`
	RecommendationMin float64 `cfg:"recommendation_min" default:"0.60"`

	// TimelyFilingExceptions is the static, per-deployment set of payer
	// codes exempt from the timely-filing rule.
	TimelyFilingExceptions []string `cfg:"timely_filing_exceptions"`
}

// PolicySync configures the Policy Sync (C8) scheduled ingestion.
type PolicySync struct {
	// PersistDir is CHROMA_PERSIST_DIR, repurposed as the pgvector
	// connection/collection namespace when no external vector service is
	// configured.
	PersistDir string `cfg:"persist_dir"`

	MinSyncInterval time.Duration `cfg:"min_sync_interval" default:"24h"`
}

func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, path, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("INGESTCORE_")))); err != nil {
		return nil, err
	}

	applyNormativeEnv(&cfg)

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}

// applyNormativeEnv applies the normative environment variable names as
// overrides on top of the layered config, read once at startup. Rotating
// these requires a restart.
func applyNormativeEnv(cfg *Config) {
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CREDENTIAL_ENCRYPTION_KEY"); v != "" {
		cfg.Store.EncryptionKey = v
	}
	if v := os.Getenv("CHROMA_PERSIST_DIR"); v != "" {
		cfg.Policy.PersistDir = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Mapping.EmbeddingModel = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Mapping.AnthropicAPIKey = v
	}
}
