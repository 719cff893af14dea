// Package scheduler implements a cron-based trigger loop that fires a sync
// job for every connector carrying a schedule, loaded from the connector
// store. Because hardloop's cron job has no dynamic add/remove, the
// scheduler stops and recreates its internal cron runner whenever a
// connector's schedule, pause state, or membership changes.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rakunlabs/logi"
	"github.com/worldline-go/hardloop"

	"github.com/rakunlabs/ingestcore/internal/job"
	"github.com/rakunlabs/ingestcore/internal/model"
	"github.com/rakunlabs/ingestcore/internal/store"
)

// cronRunner is satisfied by hardloop's unexported cron job type, returned
// by hardloop.NewCron, so it can be held without naming the type directly.
type cronRunner interface {
	Start(ctx context.Context) error
	Stop()
}

// Entry describes one connector's schedule state for List/Get.
type Entry struct {
	ConnectorID string
	Schedule    string
	Paused      bool
	NextRunAt   time.Time
}

// Scheduler manages cron-triggered syncs for every scheduled connector.
type Scheduler struct {
	connectors store.ConnectorStorer
	worker     *job.Worker

	mu     sync.Mutex
	cron   cronRunner
	cancel context.CancelFunc
	ctx    context.Context

	paused map[string]bool
}

// New builds a Scheduler over the connector store, triggering syncs through
// worker.
func New(connectors store.ConnectorStorer, worker *job.Worker) *Scheduler {
	return &Scheduler{
		connectors: connectors,
		worker:     worker,
		paused:     make(map[string]bool),
	}
}

// Start loads every connector with a non-empty SyncSchedule and begins
// triggering syncs on their cron schedules. Call once during startup.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx = ctx
	return s.reload()
}

// Stop stops the cron runner. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
}

// Reload rebuilds the cron runner from the connector store's current
// schedules. Call after a connector's SyncSchedule is created, updated, or
// removed.
func (s *Scheduler) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reload()
}

// reload must be called with s.mu held.
func (s *Scheduler) reload() error {
	s.stopLocked()

	if s.ctx == nil {
		return nil
	}

	connectors, err := s.connectors.ListConnectors(s.ctx)
	if err != nil {
		return fmt.Errorf("scheduler: list connectors: %w", err)
	}

	crons := make([]hardloop.Cron, 0, len(connectors))
	for _, c := range connectors {
		if c.SyncSchedule == "" {
			continue
		}
		if s.paused[c.ID] {
			continue
		}

		connectorID := c.ID
		crons = append(crons, hardloop.Cron{
			Name:  fmt.Sprintf("connector-%s", connectorID),
			Specs: []string{normalizeTimezone(c.SyncSchedule)},
			Func:  s.makeCronFunc(connectorID),
		})
	}

	if len(crons) == 0 {
		logi.Ctx(s.ctx).Info("scheduler: no scheduled connectors found")
		return nil
	}

	cronJob, err := hardloop.NewCron(crons...)
	if err != nil {
		return fmt.Errorf("scheduler: create cron runner: %w", err)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.cancel = cancel
	s.cron = cronJob

	if err := cronJob.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("scheduler: start cron runner: %w", err)
	}

	logi.Ctx(s.ctx).Info("scheduler: started scheduled syncs", "count", len(crons))
	return nil
}

// makeCronFunc returns the function hardloop calls on each tick for
// connectorID. It never returns an error itself (a transient trigger
// failure must not stop the cron loop); failures surface through the job's
// own status and log stream.
func (s *Scheduler) makeCronFunc(connectorID string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		logi.Ctx(ctx).Info("scheduler: cron triggered", "connector_id", connectorID)

		jobID, err := s.worker.Execute(ctx, connectorID, model.JobScheduled, model.SyncModeIncremental, "scheduler")
		if err != nil {
			logi.Ctx(ctx).Error("scheduler: trigger sync failed", "connector_id", connectorID, "error", err)
			return nil
		}

		logi.Ctx(ctx).Info("scheduler: sync triggered", "connector_id", connectorID, "job_id", jobID)
		return nil
	}
}

// Pause excludes connectorID from the schedule until Resume is called.
func (s *Scheduler) Pause(connectorID string) error {
	s.mu.Lock()
	s.paused[connectorID] = true
	s.mu.Unlock()
	return s.Reload()
}

// Resume re-includes connectorID in the schedule.
func (s *Scheduler) Resume(connectorID string) error {
	s.mu.Lock()
	delete(s.paused, connectorID)
	s.mu.Unlock()
	return s.Reload()
}

// RunNow triggers an immediate manual sync for connectorID outside the cron
// schedule, returning the new job id. This is a single direct call to the
// worker, not a re-armed cron entry; each successful call creates a new job.
func (s *Scheduler) RunNow(ctx context.Context, connectorID, triggeredBy string) (string, error) {
	return s.worker.Execute(ctx, connectorID, model.JobManual, model.SyncModeIncremental, triggeredBy)
}

// Get returns the schedule entry for connectorID, if it carries one.
func (s *Scheduler) Get(ctx context.Context, connectorID string) (*Entry, error) {
	c, err := s.connectors.GetConnector(ctx, connectorID)
	if err != nil || c == nil || c.SyncSchedule == "" {
		return nil, err
	}

	s.mu.Lock()
	paused := s.paused[connectorID]
	s.mu.Unlock()

	return &Entry{ConnectorID: c.ID, Schedule: c.SyncSchedule, Paused: paused}, nil
}

// List returns every connector currently carrying a schedule.
func (s *Scheduler) List(ctx context.Context) ([]Entry, error) {
	connectors, err := s.connectors.ListConnectors(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]Entry, 0, len(connectors))
	for _, c := range connectors {
		if c.SyncSchedule == "" {
			continue
		}
		entries = append(entries, Entry{ConnectorID: c.ID, Schedule: c.SyncSchedule, Paused: s.paused[c.ID]})
	}
	return entries, nil
}

// normalizeTimezone prefixes a bare cron spec with "CRON_TZ=UTC " if it
// carries no explicit timezone, matching the spec's fixed-UTC schedule.
func normalizeTimezone(spec string) string {
	if strings.HasPrefix(spec, "CRON_TZ=") {
		return spec
	}
	return "CRON_TZ=UTC " + spec
}
