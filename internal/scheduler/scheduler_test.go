package scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/rakunlabs/ingestcore/internal/connector"
	"github.com/rakunlabs/ingestcore/internal/job"
	"github.com/rakunlabs/ingestcore/internal/model"
)

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

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*model.SyncJob
	seq  int
}

func newFakeJobStore() *fakeJobStore { return &fakeJobStore{jobs: make(map[string]*model.SyncJob)} }

func (f *fakeJobStore) CreateJob(_ context.Context, j model.SyncJob) (*model.SyncJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	j.ID = "job-" + string(rune('0'+f.seq))
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
func (f *fakeJobStore) ListJobs(context.Context, string, int) ([]model.SyncJob, error) { return nil, nil }
func (f *fakeJobStore) UpdateJobStatus(_ context.Context, id string, status model.JobStatus, _ map[string]any) (*model.SyncJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	j.Status = status
	cp := *j
	return &cp, nil
}
func (f *fakeJobStore) AppendJobLog(context.Context, model.JobLogEntry) error { return nil }
func (f *fakeJobStore) ListJobLogs(context.Context, string) ([]model.JobLogEntry, error) {
	return nil, nil
}
func (f *fakeJobStore) PendingOrRunningJob(context.Context, string) (*model.SyncJob, error) {
	return nil, nil
}

type fakeResultStore struct{}

func (f *fakeResultStore) SaveResult(context.Context, string, model.CanonicalRecord, []model.RuleFinding, model.DecisionMode, float64) (string, error) {
	return "result-id", nil
}
func (f *fakeResultStore) ListResults(context.Context, string, int) ([]model.ResultRow, error) {
	return nil, nil
}

func newTestWorker(connectors *fakeConnectorStore) *job.Worker {
	registry := connector.NewRegistry()
	registry.Register(model.SubtypePostgreSQL, func(_, _ string, _ map[string]any, _ int) (connector.Connector, error) {
		return nil, context.DeadlineExceeded
	}, connector.TypeInfo{Type: model.ConnectorTypeDatabase, Subtype: model.SubtypePostgreSQL})
	return job.NewWorker(1, newFakeJobStore(), connectors, nil, registry, nil, &fakeResultStore{})
}

func TestSchedulerListAndGet(t *testing.T) {
	connectors := &fakeConnectorStore{connectors: map[string]model.Connector{
		"conn-1": {ID: "conn-1", SyncSchedule: "0 */6 * * *"},
		"conn-2": {ID: "conn-2"}, // unscheduled
	}}
	s := New(connectors, newTestWorker(connectors))

	entries, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].ConnectorID != "conn-1" {
		t.Fatalf("expected only conn-1 scheduled, got %+v", entries)
	}

	entry, err := s.Get(context.Background(), "conn-1")
	if err != nil || entry == nil {
		t.Fatalf("Get: %v, %+v", err, entry)
	}
	if entry.Schedule != "0 */6 * * *" {
		t.Fatalf("unexpected schedule %q", entry.Schedule)
	}

	none, err := s.Get(context.Background(), "conn-2")
	if err != nil || none != nil {
		t.Fatalf("expected nil entry for unscheduled connector, got %+v", none)
	}
}

func TestSchedulerPauseResume(t *testing.T) {
	connectors := &fakeConnectorStore{connectors: map[string]model.Connector{
		"conn-1": {ID: "conn-1", SyncSchedule: "0 */6 * * *"},
	}}
	s := New(connectors, newTestWorker(connectors))

	if err := s.Pause("conn-1"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	entry, _ := s.Get(context.Background(), "conn-1")
	if !entry.Paused {
		t.Fatalf("expected paused entry")
	}

	if err := s.Resume("conn-1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	entry, _ = s.Get(context.Background(), "conn-1")
	if entry.Paused {
		t.Fatalf("expected resumed entry")
	}
}

func TestSchedulerRunNow(t *testing.T) {
	connectors := &fakeConnectorStore{connectors: map[string]model.Connector{
		"conn-1": {ID: "conn-1"},
	}}
	s := New(connectors, newTestWorker(connectors))

	jobID, err := s.RunNow(context.Background(), "conn-1", "operator")
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if jobID == "" {
		t.Fatalf("expected a job id")
	}
}

func TestNormalizeTimezone(t *testing.T) {
	if got := normalizeTimezone("0 * * * *"); got != "CRON_TZ=UTC 0 * * * *" {
		t.Fatalf("unexpected normalized spec: %q", got)
	}
	if got := normalizeTimezone("CRON_TZ=America/New_York 0 * * * *"); got != "CRON_TZ=America/New_York 0 * * * *" {
		t.Fatalf("expected explicit timezone preserved, got %q", got)
	}
}
