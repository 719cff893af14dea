// Package stages implements the individual extract/transform/load steps an
// etl.Pipeline drives in sequence.
package stages

import (
	"context"

	"github.com/rakunlabs/ingestcore/internal/connector"
	"github.com/rakunlabs/ingestcore/internal/model"
)

// Extract wraps a connector's channel-based Extract call behind a
// push-style callback, so Pipeline doesn't need to know about the
// channel/finalize-func split connector.Connector.Extract returns.
type Extract struct {
	Connector connector.Connector
}

// NewExtract builds an Extract stage over c.
func NewExtract(c connector.Connector) *Extract {
	return &Extract{Connector: c}
}

// Run streams batches for syncMode starting at watermarkValue, invoking
// onBatch for each one in arrival order. It reads until the connector's
// channel closes and then returns any mid-stream extraction error; if
// onBatch returns an error, Run stops reading and returns that error at once.
func (e *Extract) Run(ctx context.Context, syncMode model.SyncMode, watermarkValue string, onBatch func(batch connector.Batch) error) error {
	batches, errFn := e.Connector.Extract(ctx, syncMode, watermarkValue)

	for batch := range batches {
		if err := onBatch(batch); err != nil {
			return err
		}
	}
	return errFn()
}
