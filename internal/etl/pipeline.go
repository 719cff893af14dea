// Package etl coordinates extraction, transformation, rules evaluation, and
// load of data from a source connector into the unified results store.
package etl

import (
	"context"
	"errors"
	"time"

	"github.com/rakunlabs/ingestcore/internal/connector"
	"github.com/rakunlabs/ingestcore/internal/etl/stages"
	"github.com/rakunlabs/ingestcore/internal/mapping"
	"github.com/rakunlabs/ingestcore/internal/model"
	"github.com/rakunlabs/ingestcore/internal/rules"
	"github.com/rakunlabs/ingestcore/internal/store"
)

var errCancelled = errors.New("etl: pipeline cancelled")

// Context carries one pipeline execution's identity, inputs, and running
// counters, updated in place as Run progresses.
type Context struct {
	ConnectorID    string
	JobID          string
	SyncMode       model.SyncMode
	WatermarkValue string

	StartedAt   time.Time
	CompletedAt time.Time
	Status      model.JobStatus

	TotalExtracted   int
	TotalTransformed int
	TotalLoaded      int
	TotalFailed      int
}

// Result is the summary returned once a pipeline run finishes, fails, or is
// cancelled.
type Result struct {
	Success          bool
	Context          Context
	ExtractedCount   int
	TransformedCount int
	LoadedCount      int
	FailedCount      int
	FinalWatermark   string
	Err              error
}

// Pipeline coordinates extract, transform, rules-evaluate, and load for one
// connector. Build one with New, wire its stages with Configure, then Run
// it once per sync job.
type Pipeline struct {
	connector   connector.Connector
	mapper      *mapping.Mapper
	resultStore store.ResultStorer
	registry    *rules.Registry

	extract   *stages.Extract
	transform *stages.Transform
	load      *stages.Load

	onProgress func(stage string, processed, total int)
	onError    func(stage string, err error)
}

// New builds a Pipeline for the given connector, field mapper, and result
// store. registry defaults to rules.DefaultRegistry when nil.
func New(c connector.Connector, m *mapping.Mapper, resultStore store.ResultStorer, registry *rules.Registry) *Pipeline {
	if registry == nil {
		registry = rules.DefaultRegistry
	}
	return &Pipeline{connector: c, mapper: m, resultStore: resultStore, registry: registry}
}

// Configure wires the extract/transform/load stages from the pipeline's
// dependencies and the run-specific mapping options, reference datasets,
// rule overrides, and decision thresholds. Returns the pipeline for
// chaining.
func (p *Pipeline) Configure(mappingOptions mapping.Options, datasets, ruleConfig map[string]any, thresholds *rules.ThresholdConfig) *Pipeline {
	p.extract = stages.NewExtract(p.connector)
	p.transform = stages.NewTransform(p.mapper, mappingOptions)
	p.load = stages.NewLoad(p.resultStore, p.registry, datasets, ruleConfig)
	p.load.Thresholds = thresholds
	return p
}

// OnProgress sets the callback invoked as each stage advances. Returns the
// pipeline for chaining.
func (p *Pipeline) OnProgress(fn func(stage string, processed, total int)) *Pipeline {
	p.onProgress = fn
	return p
}

// OnError sets the callback invoked for per-record and pipeline-level
// failures. Returns the pipeline for chaining.
func (p *Pipeline) OnError(fn func(stage string, err error)) *Pipeline {
	p.onError = fn
	return p
}

// Run executes the pipeline for pctx, connecting the source connector if
// needed and always disconnecting afterward. cancelCheck, if non-nil, is
// polled between batches to support cooperative job cancellation.
func (p *Pipeline) Run(ctx context.Context, pctx Context, cancelCheck func() bool) Result {
	if p.extract == nil || p.transform == nil || p.load == nil {
		return Result{Success: false, Context: pctx, Err: errors.New("etl: pipeline not configured, call Configure first")}
	}

	pctx.StartedAt = time.Now()
	pctx.Status = model.JobRunning

	defer func() {
		_ = p.connector.Disconnect(ctx)
	}()

	if !p.connector.IsConnected() {
		if err := p.connector.Connect(ctx); err != nil {
			pctx.Status = model.JobFailed
			pctx.CompletedAt = time.Now()
			p.reportError("pipeline", err)
			return Result{Success: false, Context: pctx, Err: err}
		}
	}

	finalWatermark := pctx.WatermarkValue

	runErr := p.extract.Run(ctx, pctx.SyncMode, pctx.WatermarkValue, func(batch connector.Batch) error {
		if cancelCheck != nil && cancelCheck() {
			pctx.Status = model.JobCancelled
			return errCancelled
		}

		pctx.TotalExtracted += len(batch)
		p.reportProgress("extract", pctx.TotalExtracted, 0)

		transformResult := p.transform.Run(ctx, batch, func(rec map[string]any, err error) {
			p.reportError("transform", err)
		})
		pctx.TotalTransformed += transformResult.TransformedCount
		pctx.TotalFailed += transformResult.FailedCount
		p.reportProgress("transform", pctx.TotalTransformed, pctx.TotalExtracted)

		if len(transformResult.Records) > 0 {
			loadResult, err := p.load.Run(ctx, pctx.JobID, transformResult.Records, func(rec map[string]any, err error) {
				p.reportError("load", err)
			})
			if err != nil {
				return err
			}
			pctx.TotalLoaded += loadResult.InsertedCount
			pctx.TotalFailed += loadResult.FailedCount
			p.reportProgress("load", pctx.TotalLoaded, pctx.TotalTransformed)
		}

		if wm, err := p.connector.CurrentWatermark(ctx); err == nil && wm != "" {
			finalWatermark = wm
		}
		return nil
	})

	pctx.CompletedAt = time.Now()

	switch {
	case pctx.Status == model.JobCancelled:
	case runErr != nil:
		pctx.Status = model.JobFailed
	case pctx.TotalFailed == 0:
		pctx.Status = model.JobSuccess
	default:
		pctx.Status = model.JobFailed
	}

	if runErr != nil && !errors.Is(runErr, errCancelled) {
		p.reportError("pipeline", runErr)
	} else {
		runErr = nil
	}

	return Result{
		Success:          pctx.Status == model.JobSuccess,
		Context:          pctx,
		ExtractedCount:   pctx.TotalExtracted,
		TransformedCount: pctx.TotalTransformed,
		LoadedCount:      pctx.TotalLoaded,
		FailedCount:      pctx.TotalFailed,
		FinalWatermark:   finalWatermark,
		Err:              runErr,
	}
}

func (p *Pipeline) reportProgress(stage string, processed, total int) {
	if p.onProgress != nil {
		p.onProgress(stage, processed, total)
	}
}

func (p *Pipeline) reportError(stage string, err error) {
	if p.onError != nil {
		p.onError(stage, err)
	}
}
