package job

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rakunlabs/ingestcore/internal/connector"
	"github.com/rakunlabs/ingestcore/internal/model"
)

// fakeJobStore is a minimal in-memory store.JobStorer for worker tests.
type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*model.SyncJob
	logs []model.JobLogEntry
	seq  int
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*model.SyncJob)}
}

func (f *fakeJobStore) CreateJob(_ context.Context, j model.SyncJob) (*model.SyncJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	j.ID = "job-" + string(rune('0'+f.seq))
	j.CreatedAt = time.Now().UTC()
	stored := j
	f.jobs[j.ID] = &stored
	return &stored, nil
}

func (f *fakeJobStore) GetJob(_ context.Context, id string) (*model.SyncJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (f *fakeJobStore) ListJobs(_ context.Context, connectorID string, _ int) ([]model.SyncJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.SyncJob
	for _, j := range f.jobs {
		if j.ConnectorID == connectorID {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (f *fakeJobStore) UpdateJobStatus(_ context.Context, id string, status model.JobStatus, fields map[string]any) (*model.SyncJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	j.Status = status
	if v, ok := fields["watermark_value"].(string); ok {
		j.WatermarkValue = v
	}
	if v, ok := fields["error_message"].(string); ok {
		j.ErrorMessage = v
	}
	if v, ok := fields["total_records"].(int); ok {
		j.TotalRecords = v
	}
	if v, ok := fields["processed_records"].(int); ok {
		j.ProcessedRecords = v
	}
	if v, ok := fields["failed_records"].(int); ok {
		j.FailedRecords = v
	}
	cp := *j
	return &cp, nil
}

func (f *fakeJobStore) AppendJobLog(_ context.Context, entry model.JobLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, entry)
	return nil
}

func (f *fakeJobStore) ListJobLogs(_ context.Context, jobID string) ([]model.JobLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.JobLogEntry
	for _, l := range f.logs {
		if l.JobID == jobID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeJobStore) PendingOrRunningJob(_ context.Context, connectorID string) (*model.SyncJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.ConnectorID == connectorID && (j.Status == model.JobPending || j.Status == model.JobRunning) {
			cp := *j
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeJobStore) snapshot(id string) model.SyncJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.jobs[id]
}

type fakeConnectorStore struct {
	mu         sync.Mutex
	connectors map[string]model.Connector
}

func (f *fakeConnectorStore) ListConnectors(context.Context) ([]model.Connector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Connector, 0, len(f.connectors))
	for _, c := range f.connectors {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeConnectorStore) GetConnector(_ context.Context, id string) (*model.Connector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.connectors[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *fakeConnectorStore) CreateConnector(_ context.Context, c model.Connector) (*model.Connector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectors[c.ID] = c
	return &c, nil
}

func (f *fakeConnectorStore) UpdateConnector(_ context.Context, id string, c model.Connector) (*model.Connector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectors[id] = c
	return &c, nil
}

func (f *fakeConnectorStore) DeleteConnector(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.connectors, id)
	return nil
}

type fakeResultStore struct {
	mu    sync.Mutex
	saved int
}

func (f *fakeResultStore) SaveResult(_ context.Context, _ string, _ model.CanonicalRecord, _ []model.RuleFinding, _ model.DecisionMode, _ float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved++
	return "result-id", nil
}

func (f *fakeResultStore) ListResults(context.Context, string, int) ([]model.ResultRow, error) {
	return nil, nil
}

type stubConnector struct {
	batches []connector.Batch
}

func (s *stubConnector) Connect(context.Context) error    { return nil }
func (s *stubConnector) Disconnect(context.Context) error { return nil }
func (s *stubConnector) TestConnection(context.Context) (*connector.ConnectionTestResult, error) {
	return &connector.ConnectionTestResult{Success: true}, nil
}
func (s *stubConnector) DiscoverSchema(context.Context) (*connector.SchemaDiscoveryResult, error) {
	return &connector.SchemaDiscoveryResult{}, nil
}
func (s *stubConnector) CurrentWatermark(context.Context) (string, error) { return "wm-final", nil }
func (s *stubConnector) IsConnected() bool                                { return true }
func (s *stubConnector) Extract(ctx context.Context, _ model.SyncMode, _ string) (<-chan connector.Batch, func() error) {
	ch := make(chan connector.Batch, len(s.batches))
	for _, b := range s.batches {
		ch <- b
	}
	close(ch)
	return ch, func() error { return nil }
}

func newTestRegistry(batches []connector.Batch) *connector.Registry {
	r := connector.NewRegistry()
	r.Register(model.SubtypePostgreSQL, func(_, _ string, _ map[string]any, _ int) (connector.Connector, error) {
		return &stubConnector{batches: batches}, nil
	}, connector.TypeInfo{Type: model.ConnectorTypeDatabase, Subtype: model.SubtypePostgreSQL})
	return r
}

func waitForTerminal(t *testing.T, jobs *fakeJobStore, jobID string) model.SyncJob {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		j := jobs.snapshot(jobID)
		if j.Status == model.JobSuccess || j.Status == model.JobFailed || j.Status == model.JobCancelled {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state in time", jobID)
	return model.SyncJob{}
}

func TestWorkerExecuteSuccess(t *testing.T) {
	jobs := newFakeJobStore()
	connectors := &fakeConnectorStore{connectors: map[string]model.Connector{
		"conn-1": {ID: "conn-1", Name: "test", Type: model.ConnectorTypeDatabase, Subtype: model.SubtypePostgreSQL, BatchSize: 10},
	}}
	results := &fakeResultStore{}
	registry := newTestRegistry([]connector.Batch{
		{{"claim_id": "C-1", "cpt_code": "99213"}},
	})

	w := NewWorker(1, jobs, connectors, nil, registry, nil, results)

	jobID, err := w.Execute(context.Background(), "conn-1", model.JobManual, model.SyncModeFull, "tester")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	final := waitForTerminal(t, jobs, jobID)
	if final.Status != model.JobSuccess {
		t.Fatalf("expected success, got %v (err=%q)", final.Status, final.ErrorMessage)
	}
	if final.WatermarkValue != "wm-final" {
		t.Fatalf("expected final watermark, got %q", final.WatermarkValue)
	}

	conn, _ := connectors.GetConnector(context.Background(), "conn-1")
	if conn.LastSyncStatus != "success" || conn.LastSyncAt == nil {
		t.Fatalf("expected connector sync status updated, got %+v", conn)
	}
}

func TestWorkerExecuteConnectorNotFound(t *testing.T) {
	jobs := newFakeJobStore()
	connectors := &fakeConnectorStore{connectors: map[string]model.Connector{}}
	registry := newTestRegistry(nil)

	w := NewWorker(1, jobs, connectors, nil, registry, nil, &fakeResultStore{})

	jobID, err := w.Execute(context.Background(), "missing", model.JobManual, model.SyncModeFull, "tester")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	final := waitForTerminal(t, jobs, jobID)
	if final.Status != model.JobFailed {
		t.Fatalf("expected failed status, got %v", final.Status)
	}
}

func TestJobCancellation(t *testing.T) {
	jobs := newFakeJobStore()
	connectors := &fakeConnectorStore{connectors: map[string]model.Connector{
		"conn-1": {ID: "conn-1", Name: "test", Type: model.ConnectorTypeDatabase, Subtype: model.SubtypePostgreSQL, BatchSize: 10},
	}}
	registry := newTestRegistry([]connector.Batch{
		{{"claim_id": "C-1"}},
		{{"claim_id": "C-2"}},
	})

	w := NewWorker(1, jobs, connectors, nil, registry, nil, &fakeResultStore{})

	jobID, err := w.Execute(context.Background(), "conn-1", model.JobManual, model.SyncModeFull, "tester")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !w.Cancel(jobID) {
		t.Fatalf("expected Cancel to find the running job")
	}

	final := waitForTerminal(t, jobs, jobID)
	if final.Status != model.JobCancelled && final.Status != model.JobSuccess {
		t.Fatalf("expected cancelled or success (race with fast completion), got %v", final.Status)
	}
}
