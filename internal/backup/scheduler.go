package backup

import (
	"context"
	"time"
)

// Scheduler drives one backup pass at the top of every hour: fetch the
// remote collection, hash it, hand it to the repository, then apply
// retention pruning. Failures in any phase are logged and the loop
// continues. Passes never overlap and missed passes are not caught up.
type Scheduler struct {
	repo          *Repository
	syncClient    SyncClient
	hasher        Hasher
	replicator    Replicator
	retentionDays int
	logger        Logger
	clock         Clock
}

// NewScheduler creates a scheduler. replicator may be nil when offsite
// replication is not configured.
func NewScheduler(repo *Repository, syncClient SyncClient, hasher Hasher, replicator Replicator, retentionDays int, logger Logger, clock Clock) *Scheduler {
	return &Scheduler{
		repo:          repo,
		syncClient:    syncClient,
		hasher:        hasher,
		replicator:    replicator,
		retentionDays: retentionDays,
		logger:        logger,
		clock:         clock,
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		wait := sleepUntilNextHour(s.clock.Now())
		s.logger.Debug("scheduler sleeping", "seconds", int(wait.Seconds()))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		s.runPass(ctx)
	}
}

func (s *Scheduler) runPass(ctx context.Context) {
	result, err := s.syncClient.Fetch(ctx)
	if err != nil {
		s.logger.Error("sync failed", "error", err)
		return
	}

	hash := s.hasher.Sum(result.Collection)
	entry, err := s.repo.RunOnce(ctx, result, hash)
	switch {
	case err != nil:
		s.logger.Error("scheduled backup failed", "error", err)
	case entry.Status == StatusCreated:
		s.logger.Info("scheduled backup created", "id", entry.ID)
		s.replicate(ctx, entry)
	default:
		s.logger.Info("scheduled backup skipped", "reason", "unchanged")
	}

	removed, err := s.repo.PruneCreatedOlderThan(ctx, s.retentionDays)
	if err != nil {
		s.logger.Error("retention pruning failed", "error", err, "retention_days", s.retentionDays)
	} else if removed > 0 {
		s.logger.Info("retention pruning removed old backups", "removed", removed, "retention_days", s.retentionDays)
	}
}

func (s *Scheduler) replicate(ctx context.Context, entry *Entry) {
	if s.replicator == nil {
		return
	}
	if err := s.replicator.Replicate(ctx, entry, s.repo.BackupFilePath(entry)); err != nil {
		s.logger.Error("offsite replication failed", "error", err, "id", entry.ID)
	}
}

// sleepUntilNextHour returns how long to wait before the next pass: the
// remainder of the current hour, at least one second so a pass landing
// exactly on the hour cannot rerun instantly.
func sleepUntilNextHour(now time.Time) time.Duration {
	secs := 3600 - (now.Minute()*60 + now.Second())
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}
