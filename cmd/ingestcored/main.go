package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/ingestcore/internal/config"
	"github.com/rakunlabs/ingestcore/internal/connector/wiring"
	"github.com/rakunlabs/ingestcore/internal/credential"
	"github.com/rakunlabs/ingestcore/internal/job"
	"github.com/rakunlabs/ingestcore/internal/mapping"
	"github.com/rakunlabs/ingestcore/internal/policysync"
	"github.com/rakunlabs/ingestcore/internal/scheduler"
	"github.com/rakunlabs/ingestcore/internal/store"
)

var (
	name    = "ingestcored"
	version = "v0.0.0"
)

func main() {
	config.Service = name + "/" + version

	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

// ///////////////////////////////////////////////////////////////////

// run wires the ingestion core's storage, credential, connector, mapping,
// rules, worker, scheduler, and policy-sync layers, starts the cron
// scheduler and the policy-sync ticker, and blocks until ctx is cancelled.
func run(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	creds := credential.New(st)
	registry := wiring.NewDefaultRegistry()
	mappings := mapping.NewRegistry(st)

	worker := job.NewWorker(cfg.Scheduler.MaxWorkers, st, st, creds, registry, mappings, st)

	sched := scheduler.New(st, worker)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	policy := policysync.NewManager(st, nil, nil, nil)
	stopPolicy := startPolicySyncLoop(ctx, policy, cfg.Policy.MinSyncInterval)
	defer stopPolicy()

	slog.Info("ingestcored started", "max_workers", cfg.Scheduler.MaxWorkers, "policy_sync_interval", cfg.Policy.MinSyncInterval)

	<-ctx.Done()
	return ctx.Err()
}

// startPolicySyncLoop runs policy.SyncAll on a fixed tick, skipping sources
// still inside their throttle window (policy.SyncAll itself checks that
// per source). It returns a stop func the caller defers to release the
// ticker; the loop also exits on its own once ctx is cancelled.
func startPolicySyncLoop(ctx context.Context, policy *policysync.Manager, interval time.Duration) func() {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				results := policy.SyncAll(ctx, false)
				for source, result := range results {
					if len(result.Errors) > 0 {
						logi.Ctx(ctx).Error("policy sync finished with errors",
							"source", source, "added", result.DocumentsAdded,
							"updated", result.DocumentsUpdated, "skipped", result.DocumentsSkipped,
							"errors", result.Errors)
						continue
					}
					logi.Ctx(ctx).Info("policy sync finished",
						"source", source, "added", result.DocumentsAdded,
						"updated", result.DocumentsUpdated, "skipped", result.DocumentsSkipped)
				}
			}
		}
	}()

	return func() {
		ticker.Stop()
	}
}
