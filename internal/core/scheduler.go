package core

// scheduler.go runs maintenance jobs for import sessions.
//
// Two jobs share one cron entry:
//  1. Sweep: fail sessions that stopped making progress (worker died, task lost)
//  2. Purge: delete uploaded files of finished sessions past retention
//
// A failing job is logged and retried on the next tick. It never stops the
// scheduler.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/JonMunkholm/catalogimport/internal/session"
	"github.com/JonMunkholm/catalogimport/internal/storage"
)

// DefaultMaintenanceSchedule runs maintenance every five minutes.
const DefaultMaintenanceSchedule = "0 */5 * * * *"

// sweepBatch bounds how many sessions one job run looks at.
const sweepBatch = 500

// SweepStale fails every session a worker owns that has not been updated for
// StaleAfter. Sessions waiting on the user are left alone. It returns the
// number of sessions failed.
func (s *Service) SweepStale(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.StaleAfter)
	stale, err := s.store.List(ctx, session.Filter{
		Statuses:      session.WorkerOwned(),
		UpdatedBefore: cutoff,
		Limit:         sweepBatch,
	})
	if err != nil {
		return 0, fmt.Errorf("list stale sessions: %w", err)
	}

	failed := 0
	for _, sess := range stale {
		if sess.AwaitingUser() {
			continue
		}
		reason := fmt.Sprintf("stale: no progress since %s", sess.UpdatedAt.Format(time.RFC3339))
		diag := fmt.Sprintf("swept in status %s after %s without updates", sess.Status, s.cfg.StaleAfter)
		if err := s.fail(ctx, sess.ID, reason, diag); err != nil {
			slog.Error("could not fail stale session", "session_id", sess.ID, "error", err)
			continue
		}
		failed++
	}
	return failed, nil
}

// PurgeArtifacts deletes the uploaded files of terminal sessions that
// finished more than ArtifactRetention ago. The sessions stay.
func (s *Service) PurgeArtifacts(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.ArtifactRetention)
	done, err := s.store.List(ctx, session.Filter{
		Statuses:      session.Terminal(),
		UpdatedBefore: cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("list finished sessions: %w", err)
	}

	purged := 0
	for _, sess := range done {
		if sess.ArtifactPurgedAt != nil {
			continue
		}
		if err := s.artifacts.Delete(ctx, sess.File.StoragePath); err != nil && !errors.Is(err, storage.ErrNotFound) {
			slog.Error("could not delete upload", "session_id", sess.ID, "key", sess.File.StoragePath, "error", err)
			continue
		}
		if err := s.markPurged(ctx, sess.ID); err != nil {
			slog.Error("could not mark upload purged", "session_id", sess.ID, "error", err)
			continue
		}
		purged++
		if purged >= sweepBatch {
			break
		}
	}
	return purged, nil
}

// markPurged writes ArtifactPurgedAt directly. Terminal sessions reject
// regular mutations, and the purge timestamp is bookkeeping only.
func (s *Service) markPurged(ctx context.Context, id string) error {
	_, err := s.store.Update(ctx, id, func(ss *session.Session) error {
		now := s.now()
		ss.ArtifactPurgedAt = &now
		return nil
	})
	return err
}

// Scheduler runs the maintenance jobs on a cron schedule.
type Scheduler struct {
	svc  *Service
	cron *cron.Cron
}

// NewScheduler registers the maintenance job. spec uses six fields with
// seconds; empty means DefaultMaintenanceSchedule.
func NewScheduler(svc *Service, spec string) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultMaintenanceSchedule
	}
	c := cron.New(cron.WithSeconds())
	sch := &Scheduler{svc: svc, cron: c}

	if _, err := c.AddFunc(spec, func() { sch.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid maintenance schedule %q: %w", spec, err)
	}
	return sch, nil
}

// Start starts the cron loop in the background.
func (sch *Scheduler) Start() {
	sch.cron.Start()
	slog.Info("maintenance scheduler started",
		"stale_after", sch.svc.cfg.StaleAfter,
		"artifact_retention", sch.svc.cfg.ArtifactRetention,
	)
}

// Stop stops scheduling and waits for a running job until ctx expires.
func (sch *Scheduler) Stop(ctx context.Context) {
	done := sch.cron.Stop()
	select {
	case <-done.Done():
		slog.Info("maintenance scheduler stopped")
	case <-ctx.Done():
		slog.Warn("maintenance scheduler stop timed out")
	}
}

// RunOnce runs one sweep and purge cycle.
func (sch *Scheduler) RunOnce(ctx context.Context) {
	start := time.Now()

	swept, err := sch.svc.SweepStale(ctx)
	if err != nil {
		slog.Error("stale sweep failed", "error", err)
	}
	purged, err := sch.svc.PurgeArtifacts(ctx)
	if err != nil {
		slog.Error("artifact purge failed", "error", err)
	}

	slog.Info("maintenance completed",
		"stale_failed", swept,
		"artifacts_purged", purged,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
