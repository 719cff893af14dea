package etl

import (
	"context"
	"testing"

	"github.com/rakunlabs/ingestcore/internal/connector"
	"github.com/rakunlabs/ingestcore/internal/mapping"
	"github.com/rakunlabs/ingestcore/internal/model"
	"github.com/rakunlabs/ingestcore/internal/rules"
	"github.com/rakunlabs/ingestcore/internal/schema"
)

type fakeConnector struct {
	connected bool
	batches   []connector.Batch
}

func (f *fakeConnector) Connect(context.Context) error    { f.connected = true; return nil }
func (f *fakeConnector) Disconnect(context.Context) error { f.connected = false; return nil }
func (f *fakeConnector) TestConnection(context.Context) (*connector.ConnectionTestResult, error) {
	return &connector.ConnectionTestResult{Success: true}, nil
}
func (f *fakeConnector) DiscoverSchema(context.Context) (*connector.SchemaDiscoveryResult, error) {
	return &connector.SchemaDiscoveryResult{}, nil
}
func (f *fakeConnector) CurrentWatermark(context.Context) (string, error) { return "watermark-1", nil }
func (f *fakeConnector) IsConnected() bool                               { return f.connected }

func (f *fakeConnector) Extract(ctx context.Context, _ model.SyncMode, _ string) (<-chan connector.Batch, func() error) {
	ch := make(chan connector.Batch, len(f.batches))
	for _, b := range f.batches {
		ch <- b
	}
	close(ch)
	return ch, func() error { return nil }
}

type fakeResultStore struct {
	saved []model.CanonicalRecord
}

func (f *fakeResultStore) SaveResult(_ context.Context, _ string, record model.CanonicalRecord, _ []model.RuleFinding, _ model.DecisionMode, _ float64) (string, error) {
	f.saved = append(f.saved, record)
	return "result-id", nil
}

func (f *fakeResultStore) ListResults(context.Context, string, int) ([]model.ResultRow, error) {
	return nil, nil
}

func newTestMapper(t *testing.T) *mapping.Mapper {
	t.Helper()
	m, err := mapping.New(schema.New(), nil, 0, nil, nil)
	if err != nil {
		t.Fatalf("mapping.New: %v", err)
	}
	return m
}

func TestPipelineRunEndToEnd(t *testing.T) {
	conn := &fakeConnector{
		batches: []connector.Batch{
			{
				{"claim_id": "C-1", "cpt_code": "99213", "BilledAmount": 125.0},
				{"claim_id": "C-2", "cpt_code": "99499", "BilledAmount": 11000.0},
			},
		},
	}
	resultStore := &fakeResultStore{}

	p := New(conn, newTestMapper(t), resultStore, nil)
	p.Configure(mapping.Options{}, nil, nil, nil)

	var progressed []string
	p.OnProgress(func(stage string, processed, total int) { progressed = append(progressed, stage) })

	result := p.Run(context.Background(), Context{ConnectorID: "conn-1", JobID: "job-1", SyncMode: model.SyncModeFull}, nil)

	if !result.Success {
		t.Fatalf("expected pipeline success, got %+v", result)
	}
	if result.ExtractedCount != 2 {
		t.Fatalf("expected 2 extracted records, got %d", result.ExtractedCount)
	}
	if result.LoadedCount != 2 || len(resultStore.saved) != 2 {
		t.Fatalf("expected 2 loaded records, got %d (%d saved)", result.LoadedCount, len(resultStore.saved))
	}
	if result.FinalWatermark != "watermark-1" {
		t.Fatalf("expected watermark to be updated, got %q", result.FinalWatermark)
	}
	if conn.connected {
		t.Fatalf("expected connector to be disconnected after Run")
	}
	if len(progressed) == 0 {
		t.Fatalf("expected progress callbacks to fire")
	}
}

func TestPipelineRunCancellation(t *testing.T) {
	conn := &fakeConnector{
		batches: []connector.Batch{
			{{"claim_id": "C-1"}},
			{{"claim_id": "C-2"}},
		},
	}
	resultStore := &fakeResultStore{}

	p := New(conn, newTestMapper(t), resultStore, rules.DefaultRegistry)
	p.Configure(mapping.Options{}, nil, nil, nil)

	calls := 0
	result := p.Run(context.Background(), Context{JobID: "job-1", SyncMode: model.SyncModeFull}, func() bool {
		calls++
		return true
	})

	if result.Context.Status != model.JobCancelled {
		t.Fatalf("expected cancelled status, got %v", result.Context.Status)
	}
	if result.Err != nil {
		t.Fatalf("expected no reported error on cancellation, got %v", result.Err)
	}
}

func TestPipelineRunRequiresConfigure(t *testing.T) {
	p := New(&fakeConnector{}, nil, &fakeResultStore{}, nil)
	result := p.Run(context.Background(), Context{}, nil)
	if result.Success {
		t.Fatalf("expected failure when Configure was not called")
	}
}
