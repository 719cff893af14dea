package stages

import (
	"context"

	"github.com/rakunlabs/ingestcore/internal/model"
	"github.com/rakunlabs/ingestcore/internal/rules"
	"github.com/rakunlabs/ingestcore/internal/store"
)

// Load scores each transformed record against a rules registry and
// persists the canonical record, findings, and decision as one unified
// result row. This collapses the source system's separate rules-evaluation
// call site and per-data-type table load into a single stage, since
// store.ResultStorer.SaveResult takes the decision/score the rules engine
// produces as direct arguments rather than a later enrichment pass.
type Load struct {
	Store      store.ResultStorer
	Registry   *rules.Registry
	Datasets   map[string]any
	Config     map[string]any
	Thresholds *rules.ThresholdConfig
}

// NewLoad builds a Load stage. registry defaults to rules.DefaultRegistry
// when nil.
func NewLoad(s store.ResultStorer, registry *rules.Registry, datasets, config map[string]any) *Load {
	if registry == nil {
		registry = rules.DefaultRegistry
	}
	return &Load{Store: s, Registry: registry, Datasets: datasets, Config: config}
}

// LoadResult is one batch's load outcome.
type LoadResult struct {
	InsertedCount int
	FailedCount   int
}

// Run evaluates and persists every record in records under jobID, reporting
// per-record failures to onError without aborting the rest of the batch.
func (l *Load) Run(ctx context.Context, jobID string, records []map[string]any, onError func(record map[string]any, err error)) (LoadResult, error) {
	result := LoadResult{}

	for _, rec := range records {
		outcome, err := rules.EvaluateBaseline(l.Registry, model.CanonicalRecord(rec), l.Datasets, l.Config, l.Thresholds)
		if err != nil {
			result.FailedCount++
			if onError != nil {
				onError(rec, err)
			}
			continue
		}

		if _, err := l.Store.SaveResult(ctx, jobID, model.CanonicalRecord(rec), outcome.Findings, outcome.Decision, outcome.Score); err != nil {
			result.FailedCount++
			if onError != nil {
				onError(rec, err)
			}
			continue
		}
		result.InsertedCount++
	}

	return result, nil
}
