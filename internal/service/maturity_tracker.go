package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bitbondlabs/bitbondd/internal/domain"
	"github.com/bitbondlabs/bitbondd/internal/notify"
	"github.com/bitbondlabs/bitbondd/internal/vault"
)

// MaturityTracker watches active positions and announces maturity: it polls
// the current height, finds active positions whose maturity height has been
// reached, publishes a bond_matured event once per position, and alerts
// operators through the notifier. It never settles anything itself; the
// holder still has to withdraw.
type MaturityTracker struct {
	vault    *vault.Engine
	heights  domain.HeightSource
	bus      domain.EventPublisher
	notifier *notify.Notifier
	pollDur  time.Duration
	logger   *slog.Logger

	announced map[uint64]bool
}

// NewMaturityTracker creates a MaturityTracker. bus and notifier may be nil.
func NewMaturityTracker(
	v *vault.Engine,
	heights domain.HeightSource,
	bus domain.EventPublisher,
	notifier *notify.Notifier,
	pollInterval time.Duration,
	logger *slog.Logger,
) *MaturityTracker {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &MaturityTracker{
		vault:     v,
		heights:   heights,
		bus:       bus,
		notifier:  notifier,
		pollDur:   pollInterval,
		logger:    logger.With(slog.String("component", "maturity_tracker")),
		announced: make(map[uint64]bool),
	}
}

// Run polls until the context is cancelled. Call in a goroutine.
func (m *MaturityTracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.pollDur)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.checkMaturities(ctx); err != nil {
				m.logger.ErrorContext(ctx, "maturity check failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (m *MaturityTracker) checkMaturities(ctx context.Context) error {
	height, err := m.heights.Height(ctx)
	if err != nil {
		return err
	}
	matured, err := m.vault.MaturedPositions(ctx, height)
	if err != nil {
		return err
	}

	for _, pos := range matured {
		if m.announced[pos.ID] {
			continue
		}
		m.announced[pos.ID] = true

		payout := pos.Principal + vault.CalculateYield(pos.Principal, pos.LockPeriod)
		m.logger.InfoContext(ctx, "bond matured",
			slog.Uint64("position_id", pos.ID),
			slog.String("owner", pos.Owner.String()),
			slog.Uint64("payout", uint64(payout)),
		)

		if m.bus != nil {
			event := domain.Event{
				ID:         uuid.NewString(),
				Type:       domain.EventBondMatured,
				PositionID: pos.ID,
				Actor:      pos.Owner,
				Height:     height,
				Payload:    map[string]any{"payout": uint64(payout)},
			}
			if err := m.bus.PublishEvent(ctx, event); err != nil {
				m.logger.ErrorContext(ctx, "maturity event publish failed",
					slog.Uint64("position_id", pos.ID),
					slog.String("error", err.Error()),
				)
			}
		}

		if m.notifier != nil {
			title := fmt.Sprintf("Bond #%d matured", pos.ID)
			msg := fmt.Sprintf("Position %d held by %s matured at height %d; payout %d.",
				pos.ID, pos.Owner, height, payout)
			if err := m.notifier.Notify(ctx, domain.EventBondMatured, title, msg); err != nil {
				m.logger.ErrorContext(ctx, "maturity notification failed",
					slog.Uint64("position_id", pos.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return nil
}
