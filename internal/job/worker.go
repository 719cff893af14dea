// Package job executes one sync job end to end: build a connector from
// persisted configuration and injected credentials, run it through the ETL
// pipeline, and track status, progress, and the log stream through the job
// store. It implements the worker algorithm a scheduler tick or a manual
// "sync now" request both drive.
package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/ingestcore/internal/connector"
	"github.com/rakunlabs/ingestcore/internal/credential"
	"github.com/rakunlabs/ingestcore/internal/etl"
	"github.com/rakunlabs/ingestcore/internal/ingesterr"
	"github.com/rakunlabs/ingestcore/internal/mapping"
	"github.com/rakunlabs/ingestcore/internal/model"
	"github.com/rakunlabs/ingestcore/internal/rules"
	"github.com/rakunlabs/ingestcore/internal/schema"
	"github.com/rakunlabs/ingestcore/internal/store"
)

// ErrConnectorNotFound is returned when a job names a connector id that no
// longer exists.
var ErrConnectorNotFound = errors.New("job: connector not found")

// DefaultPoolSize is the default number of sync jobs the Worker runs at
// once; a scheduled or manual job beyond this count waits for a slot.
const DefaultPoolSize = 5

// MappingSource resolves the latest approved field mapping for a source, so
// the worker can build a Mapper with the connector's reviewed aliases
// instead of alias/semantic matching from scratch on every sync.
type MappingSource interface {
	Current(ctx context.Context, sourceSchemaID string) (*model.SchemaMapping, error)
}

// Worker runs sync jobs against persisted connectors, bounded to a fixed
// pool of concurrent executions. One job id never runs concurrently with
// itself since Execute always creates a fresh job record first.
type Worker struct {
	Jobs        store.JobStorer
	Connectors  store.ConnectorStorer
	Credentials *credential.Manager
	Registry    *connector.Registry
	Mappings    MappingSource
	ResultStore store.ResultStorer
	Rules       *rules.Registry
	Schema      *schema.Schema
	Thresholds  *rules.ThresholdConfig
	Datasets    map[string]any
	RuleConfig  map[string]any

	sem chan struct{}

	mu      sync.Mutex
	cancels map[string]chan struct{}
}

// NewWorker builds a Worker. poolSize <= 0 uses DefaultPoolSize.
func NewWorker(poolSize int, jobs store.JobStorer, connectors store.ConnectorStorer, creds *credential.Manager, registry *connector.Registry, mappings MappingSource, resultStore store.ResultStorer) *Worker {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	if registry == nil {
		panic("job: registry must not be nil")
	}
	return &Worker{
		Jobs:        jobs,
		Connectors:  connectors,
		Credentials: creds,
		Registry:    registry,
		Mappings:    mappings,
		ResultStore: resultStore,
		Rules:       rules.DefaultRegistry,
		Schema:      schema.New(),
		sem:         make(chan struct{}, poolSize),
		cancels:     make(map[string]chan struct{}),
	}
}

// Execute creates a job record for connectorID and runs it in the
// background, returning the new job id immediately. The caller's ctx is not
// used for the run itself (which must outlive the HTTP/cron call that
// triggered it) — only background.Context derived state is used, mirroring
// a daemon thread outliving its caller.
func (w *Worker) Execute(ctx context.Context, connectorID string, jobType model.JobType, syncMode model.SyncMode, triggeredBy string) (string, error) {
	active, err := w.Jobs.PendingOrRunningJob(ctx, connectorID)
	if err != nil {
		return "", fmt.Errorf("job: check active job for connector %q: %w", connectorID, err)
	}
	if active != nil {
		return "", fmt.Errorf("job: connector %q already has job %q pending or running", connectorID, active.ID)
	}

	j, err := w.Jobs.CreateJob(ctx, model.SyncJob{
		ConnectorID: connectorID,
		JobType:     jobType,
		SyncMode:    syncMode,
		Status:      model.JobPending,
		TriggeredBy: triggeredBy,
	})
	if err != nil {
		return "", fmt.Errorf("job: create job for connector %q: %w", connectorID, err)
	}

	cancelCh := make(chan struct{})
	w.mu.Lock()
	w.cancels[j.ID] = cancelCh
	w.mu.Unlock()

	go w.run(context.Background(), j.ID, connectorID, syncMode, cancelCh)

	return j.ID, nil
}

// Cancel signals the named job's cancellation flag. The running worker only
// observes it between batches, so a cancelled job may still report partial
// progress from batches already in flight. Returns false if the job is not
// currently tracked as running.
func (w *Worker) Cancel(jobID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch, ok := w.cancels[jobID]
	if !ok {
		return false
	}
	select {
	case <-ch:
		// already signalled
	default:
		close(ch)
	}
	return true
}

func (w *Worker) run(ctx context.Context, jobID, connectorID string, syncMode model.SyncMode, cancelCh chan struct{}) {
	w.sem <- struct{}{}
	defer func() { <-w.sem }()

	defer func() {
		w.mu.Lock()
		delete(w.cancels, jobID)
		w.mu.Unlock()
	}()

	defer func() {
		if r := recover(); r != nil {
			logi.Ctx(ctx).Error("job: panic during sync", "job_id", jobID, "panic", r)
			w.fail(ctx, jobID, connectorID, fmt.Errorf("job: panic: %v", r))
		}
	}()

	if _, err := w.Jobs.UpdateJobStatus(ctx, jobID, model.JobRunning, map[string]any{"started_at": time.Now().UTC()}); err != nil {
		logi.Ctx(ctx).Error("job: transition to running failed", "job_id", jobID, "error", err)
		return
	}
	w.log(ctx, jobID, model.LogInfo, fmt.Sprintf("starting %s sync for %s", syncMode, connectorID), nil)

	conn, err := w.Connectors.GetConnector(ctx, connectorID)
	if err != nil || conn == nil {
		w.fail(ctx, jobID, connectorID, ingesterr.Wrap(ingesterr.KindConfiguration, "connector not found", fmt.Errorf("%w: %s", ErrConnectorNotFound, connectorID)))
		return
	}

	config := conn.Config
	if w.Credentials != nil {
		injected, err := w.Credentials.Inject(ctx, connectorID, conn.Type, config)
		if err != nil {
			w.fail(ctx, jobID, connectorID, ingesterr.Wrap(ingesterr.KindCredential, "inject secrets", err))
			return
		}
		config = injected
	}

	instance, err := w.Registry.Create(conn.Subtype, conn.ID, conn.Name, config, conn.BatchSize)
	if err != nil {
		w.fail(ctx, jobID, connectorID, fmt.Errorf("job: create connector instance: %w", err))
		return
	}

	var watermarkValue string
	if syncMode == model.SyncModeIncremental {
		watermarkValue, err = w.lastSuccessfulWatermark(ctx, connectorID)
		if err != nil {
			logi.Ctx(ctx).Warn("job: watermark lookup failed, falling back to full history", "job_id", jobID, "error", err)
		} else if watermarkValue != "" {
			w.log(ctx, jobID, model.LogInfo, fmt.Sprintf("using watermark: %s", watermarkValue), nil)
		}
	}

	mapper, err := w.buildMapper(ctx, connectorID)
	if err != nil {
		w.fail(ctx, jobID, connectorID, fmt.Errorf("job: build mapper: %w", err))
		return
	}

	pipeline := etl.New(instance, mapper, w.ResultStore, w.Rules)
	pipeline.Configure(mapping.Options{}, w.Datasets, w.RuleConfig, w.Thresholds)
	pipeline.OnProgress(func(stage string, processed, total int) {
		_, _ = w.Jobs.UpdateJobStatus(ctx, jobID, model.JobRunning, map[string]any{
			"processed_records": processed,
		})
	})
	pipeline.OnError(func(stage string, err error) {
		w.log(ctx, jobID, model.LogError, fmt.Sprintf("%s failed: %v", stage, err), nil)
	})

	cancelCheck := func() bool {
		select {
		case <-cancelCh:
			return true
		default:
			return false
		}
	}

	result := pipeline.Run(ctx, etl.Context{
		ConnectorID:    connectorID,
		JobID:          jobID,
		SyncMode:       syncMode,
		WatermarkValue: watermarkValue,
	}, cancelCheck)

	switch result.Context.Status {
	case model.JobCancelled:
		w.log(ctx, jobID, model.LogWarning, "sync cancelled by user", nil)
		_, _ = w.Jobs.UpdateJobStatus(ctx, jobID, model.JobCancelled, map[string]any{
			"completed_at":      time.Now().UTC(),
			"total_records":     result.ExtractedCount,
			"processed_records": result.LoadedCount,
			"failed_records":    result.FailedCount,
		})
		w.updateConnectorSyncStatus(ctx, connectorID, "cancelled", "")
	case model.JobSuccess:
		w.log(ctx, jobID, model.LogInfo, fmt.Sprintf("sync completed: %d/%d records", result.LoadedCount, result.ExtractedCount), map[string]any{
			"total": result.ExtractedCount, "processed": result.LoadedCount, "failed": result.FailedCount,
		})
		_, _ = w.Jobs.UpdateJobStatus(ctx, jobID, model.JobSuccess, map[string]any{
			"completed_at":      time.Now().UTC(),
			"total_records":     result.ExtractedCount,
			"processed_records": result.LoadedCount,
			"failed_records":    result.FailedCount,
			"watermark_value":   result.FinalWatermark,
		})
		w.updateConnectorSyncStatus(ctx, connectorID, "success", result.FinalWatermark)
	default:
		errMsg := ""
		if result.Err != nil {
			errMsg = ingesterr.Redact(result.Err.Error())
		}
		w.log(ctx, jobID, model.LogError, fmt.Sprintf("sync failed: %s", errMsg), nil)
		_, _ = w.Jobs.UpdateJobStatus(ctx, jobID, model.JobFailed, map[string]any{
			"completed_at":      time.Now().UTC(),
			"total_records":     result.ExtractedCount,
			"processed_records": result.LoadedCount,
			"failed_records":    result.FailedCount,
			"error_message":     errMsg,
		})
		w.updateConnectorSyncStatus(ctx, connectorID, "failed", "")
	}
}

func (w *Worker) fail(ctx context.Context, jobID, connectorID string, err error) {
	logi.Ctx(ctx).Error("job: sync failed", "job_id", jobID, "connector_id", connectorID, "error", err)
	errMsg := ingesterr.Redact(err.Error())
	w.log(ctx, jobID, model.LogError, fmt.Sprintf("sync failed: %s", errMsg), nil)
	_, _ = w.Jobs.UpdateJobStatus(ctx, jobID, model.JobFailed, map[string]any{
		"completed_at":  time.Now().UTC(),
		"error_message": errMsg,
	})
	w.updateConnectorSyncStatus(ctx, connectorID, "failed", "")
}

func (w *Worker) log(ctx context.Context, jobID string, level model.JobLogLevel, message string, details map[string]any) {
	entry := model.JobLogEntry{
		JobID:     jobID,
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Context:   details,
	}
	if err := w.Jobs.AppendJobLog(ctx, entry); err != nil {
		logi.Ctx(ctx).Warn("job: append log failed", "job_id", jobID, "error", err)
	}
}

func (w *Worker) updateConnectorSyncStatus(ctx context.Context, connectorID, status, watermark string) {
	conn, err := w.Connectors.GetConnector(ctx, connectorID)
	if err != nil || conn == nil {
		return
	}
	updated := *conn
	now := time.Now().UTC()
	updated.LastSyncAt = &now
	updated.LastSyncStatus = status
	if _, err := w.Connectors.UpdateConnector(ctx, connectorID, updated); err != nil {
		logi.Ctx(ctx).Warn("job: update connector sync status failed", "connector_id", connectorID, "error", err)
	}
}

// lastSuccessfulWatermark returns the watermark_value of the most recent
// successful job for connectorID, matching get_last_successful_watermark.
// Assumes ListJobs returns jobs newest-first, the same ordering the store's
// SQL-backed implementations use for their "recent jobs" listings.
func (w *Worker) lastSuccessfulWatermark(ctx context.Context, connectorID string) (string, error) {
	jobs, err := w.Jobs.ListJobs(ctx, connectorID, 50)
	if err != nil {
		return "", err
	}
	for _, j := range jobs {
		if j.Status == model.JobSuccess && j.WatermarkValue != "" {
			return j.WatermarkValue, nil
		}
	}
	return "", nil
}

// buildMapper resolves the latest approved field mapping for connectorID,
// if any, into a Mapper's custom alias table. Embedding/rerank stages are
// left disabled here: the worker runs unattended, and semantic matching is
// meant to be exercised interactively during mapping review, not re-run on
// every scheduled sync.
func (w *Worker) buildMapper(ctx context.Context, connectorID string) (*mapping.Mapper, error) {
	custom := map[string]string{}
	if w.Mappings != nil {
		approved, err := w.Mappings.Current(ctx, connectorID)
		if err != nil {
			return nil, fmt.Errorf("load approved mapping: %w", err)
		}
		if approved != nil {
			for _, fm := range approved.FieldMappings {
				custom[fm.SourceField] = fm.TargetField
			}
		}
	}
	return mapping.New(w.Schema, nil, 0, nil, custom)
}
