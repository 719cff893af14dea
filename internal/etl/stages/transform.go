package stages

import (
	"context"

	"github.com/rakunlabs/ingestcore/internal/mapping"
)

// Transform normalizes a batch of raw records onto the canonical schema
// via a mapping.Mapper, counting successes and failures per batch the way
// the source TransformStage does.
type Transform struct {
	Mapper  *mapping.Mapper
	Options mapping.Options
}

// NewTransform builds a Transform stage over m, applying opts to every
// record it resolves.
func NewTransform(m *mapping.Mapper, opts mapping.Options) *Transform {
	return &Transform{Mapper: m, Options: opts}
}

// TransformResult is one batch's transform outcome.
type TransformResult struct {
	Records          []map[string]any
	TransformedCount int
	FailedCount      int
}

// Run transforms every record in records, reporting per-record failures to
// onError without aborting the rest of the batch.
func (t *Transform) Run(ctx context.Context, records []map[string]any, onError func(record map[string]any, err error)) TransformResult {
	result := TransformResult{}

	for _, rec := range records {
		normalized, err := t.Mapper.Transform(ctx, rec, t.Options)
		if err != nil {
			result.FailedCount++
			if onError != nil {
				onError(rec, err)
			}
			continue
		}
		result.Records = append(result.Records, normalized.Normalized)
		result.TransformedCount++
	}

	return result
}
