package core

// scheduler.go runs background maintenance for ingestion runs.
//
// The reaper closes feed runs that stayed "running" longer than
// StaleRunAfter, typically because the process died mid-run. It logs
// failures and keeps going; a failed sweep is retried on the next tick.

import (
	"context"
	"log/slog"
	"time"

	"github.com/JonMunkholm/catalogsync/internal/database"
	"github.com/JonMunkholm/catalogsync/internal/metrics"
)

// abandonedRunError is recorded on runs closed by the reaper.
const abandonedRunError = "abandoned: run did not finish"

// StartRunReaper sweeps stale runs immediately and then every
// ReaperInterval until ctx is cancelled.
func (s *Service) StartRunReaper(ctx context.Context) {
	slog.Info("run reaper started",
		"stale_after", s.opts.StaleRunAfter.String(),
		"interval", s.opts.ReaperInterval.String(),
	)

	s.reapStaleRuns(ctx)

	ticker := time.NewTicker(s.opts.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("run reaper stopped")
			return
		case <-ticker.C:
			s.reapStaleRuns(ctx)
		}
	}
}

// reapStaleRuns performs one sweep and returns the ids it closed.
func (s *Service) reapStaleRuns(ctx context.Context) []int64 {
	start := time.Now()
	ids, err := s.store.ReapStaleRuns(ctx, database.ReapStaleRunsParams{
		StartedBefore: s.now().Add(-s.opts.StaleRunAfter),
		Error:         abandonedRunError,
	})
	if err != nil {
		slog.Error("reap stale runs failed", "error", err)
		return nil
	}

	for range ids {
		metrics.RecordRun(RunError, 0)
	}
	if len(ids) > 0 {
		slog.Warn("reaped stale runs",
			"count", len(ids),
			"run_ids", ids,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	} else {
		slog.Debug("no stale runs", "duration_ms", time.Since(start).Milliseconds())
	}
	return ids
}
