package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bitbondlabs/bitbondd/internal/domain"
)

// archiveLockKey serializes archive runs across replicas.
const archiveLockKey = "archiver"

// ArchiveService runs the blob archiver on an interval, guarded by a
// distributed lock so only one replica exports at a time.
type ArchiveService struct {
	archiver domain.Archiver
	locks    domain.LockManager
	interval time.Duration
	logger   *slog.Logger
}

// NewArchiveService creates an ArchiveService. locks may be nil for
// single-instance deployments.
func NewArchiveService(
	archiver domain.Archiver,
	locks domain.LockManager,
	interval time.Duration,
	logger *slog.Logger,
) *ArchiveService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &ArchiveService{
		archiver: archiver,
		locks:    locks,
		interval: interval,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// Run exports on the configured interval until the context is cancelled.
// Call in a goroutine.
func (a *ArchiveService) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.RunOnce(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce performs a single export pass.
func (a *ArchiveService) RunOnce(ctx context.Context) error {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, archiveLockKey, a.interval)
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.DebugContext(ctx, "archive lock held elsewhere, skipping")
			return nil
		}
		if err != nil {
			return err
		}
		defer unlock()
	}

	positions, err := a.archiver.ArchiveSettledPositions(ctx)
	if err != nil {
		return err
	}
	sales, err := a.archiver.ArchiveSales(ctx)
	if err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("positions", positions),
		slog.Int64("sales", sales),
	)
	return nil
}
