package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bitbondlabs/bitbondd/internal/domain"
	"github.com/bitbondlabs/bitbondd/internal/market"
)

// StatsService assembles the combined marketplace/vault snapshot served by
// the stats endpoint, with an optional cache-aside layer in front of the
// ledger reads.
type StatsService struct {
	ledger  domain.Ledger
	market  *market.Engine
	heights domain.HeightSource
	cache   domain.StatsCache
	logger  *slog.Logger
}

// NewStatsService creates a StatsService. cache may be nil, in which case
// every call reads through to the ledger.
func NewStatsService(
	ledger domain.Ledger,
	m *market.Engine,
	heights domain.HeightSource,
	cache domain.StatsCache,
	logger *slog.Logger,
) *StatsService {
	return &StatsService{
		ledger:  ledger,
		market:  m,
		heights: heights,
		cache:   cache,
		logger:  logger.With(slog.String("component", "stats")),
	}
}

// Snapshot returns the current stats, serving from cache when fresh.
func (s *StatsService) Snapshot(ctx context.Context) (domain.StatsSnapshot, error) {
	if s.cache != nil {
		snap, err := s.cache.Get(ctx)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "stats cache read failed", slog.String("error", err.Error()))
		}
	}

	snap, err := s.build(ctx)
	if err != nil {
		return domain.StatsSnapshot{}, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, snap); err != nil {
			s.logger.WarnContext(ctx, "stats cache write failed", slog.String("error", err.Error()))
		}
	}
	return snap, nil
}

// Invalidate drops the cached snapshot after ledger activity.
func (s *StatsService) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.WarnContext(ctx, "stats cache invalidate failed", slog.String("error", err.Error()))
	}
}

func (s *StatsService) build(ctx context.Context) (domain.StatsSnapshot, error) {
	height, err := s.heights.Height(ctx)
	if err != nil {
		return domain.StatsSnapshot{}, err
	}

	marketStats, activeListings, err := s.market.Stats(ctx)
	if err != nil {
		return domain.StatsSnapshot{}, err
	}

	snap := domain.StatsSnapshot{
		ActiveListings: activeListings,
		Market:         marketStats,
		Height:         height,
	}
	err = s.ledger.View(ctx, func(tx domain.Tx) error {
		active, err := tx.ActivePositions(ctx)
		if err != nil {
			return err
		}
		snap.ActivePositions = len(active)
		for _, p := range active {
			snap.LockedPrincipal += p.Principal
		}
		pool, err := tx.InsurancePool(ctx)
		if err != nil {
			return err
		}
		snap.InsurancePool = pool
		return nil
	})
	if err != nil {
		return domain.StatsSnapshot{}, err
	}
	return snap, nil
}
