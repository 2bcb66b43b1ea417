package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/bitbondlabs/bitbondd/internal/domain"
	"github.com/bitbondlabs/bitbondd/internal/nft"
)

// Vault errors. Codes are scoped to this package; the marketplace and the
// certificate registry carry their own spaces.
var (
	ErrUnauthorized   = errors.New("vault: unauthorized")
	ErrBadLockPeriod  = errors.New("vault: invalid lock period")
	ErrTransferFailed = errors.New("vault: asset transfer failed")
	ErrNotMatured     = errors.New("vault: bond not matured")
	ErrNotFound       = errors.New("vault: bond not found")
	ErrAmountTooLarge = errors.New("vault: principal exceeds maximum")
)

// penaltyPct is the early-exit penalty in whole percent.
const penaltyPct = 10

// maxYieldMultiplier is the largest apy_pct * days product across the lock
// tiers (12% over 180 days).
const maxYieldMultiplier = 12 * 180

// MaxPrincipal is the largest principal CreateBond accepts. Above it the
// yield numerator principal * apy_pct * days would wrap uint64.
const MaxPrincipal = domain.Micros(math.MaxUint64 / maxYieldMultiplier)

// Config carries the vault's fixed wiring parameters.
type Config struct {
	// Custody is the engine account holding locked principal and the yield
	// reserve it pays withdrawals from.
	Custody domain.Principal
	// BlocksPerDay converts lock periods in days to maturity heights.
	BlocksPerDay uint64
}

// Engine is the position registry: it locks principal, tracks bond
// lifecycles, and settles withdrawals and early exits. All authorization is
// checked against the live certificate holder inside the same transaction
// that applies the mutation.
type Engine struct {
	ledger  domain.Ledger
	heights domain.HeightSource
	certs   *nft.Registry
	cfg     Config
	bus     domain.EventPublisher
	logger  *slog.Logger
}

// NewEngine creates the vault engine. bus may be nil.
func NewEngine(ledger domain.Ledger, heights domain.HeightSource, certs *nft.Registry, cfg Config, bus domain.EventPublisher, logger *slog.Logger) *Engine {
	return &Engine{
		ledger:  ledger,
		heights: heights,
		certs:   certs,
		cfg:     cfg,
		bus:     bus,
		logger:  logger.With(slog.String("component", "vault")),
	}
}

// CalculateYield returns the fixed yield for a full lock period, floor
// truncated: floor(principal * apy_pct * days / 36500). The numerator stays
// within uint64 for any principal CreateBond accepts (see MaxPrincipal).
func CalculateYield(principal domain.Micros, lock domain.LockPeriod) domain.Micros {
	if !lock.Valid() {
		return 0
	}
	return principal * domain.Micros(lock.APYPercent()) * domain.Micros(lock) / 36500
}

// CreateBond locks the caller's principal and issues a new bond position
// with a certificate minted to the caller. The position id is allocated
// only after every precondition, including the asset debit, has passed.
func (e *Engine) CreateBond(ctx context.Context, call domain.Call, principal domain.Micros, lock domain.LockPeriod) (domain.Position, error) {
	if !lock.Valid() {
		return domain.Position{}, ErrBadLockPeriod
	}
	if principal == 0 {
		return domain.Position{}, ErrTransferFailed
	}
	if principal > MaxPrincipal {
		return domain.Position{}, ErrAmountTooLarge
	}

	var pos domain.Position
	err := e.ledger.Update(ctx, func(tx domain.Tx) error {
		if err := tx.MoveAsset(ctx, call.Caller, e.cfg.Custody, principal); err != nil {
			if errors.Is(err, domain.ErrInsufficientFunds) {
				return ErrTransferFailed
			}
			return err
		}

		id, err := tx.NextPositionID(ctx)
		if err != nil {
			return err
		}
		pos = domain.Position{
			ID:         id,
			Owner:      call.Caller,
			Principal:  principal,
			LockPeriod: lock,
			CreatedAt:  call.Height,
			MaturityAt: call.Height + uint64(lock)*e.cfg.BlocksPerDay,
			APYBps:     lock.APYBps(),
			Status:     domain.BondActive,
		}
		if err := tx.PutPosition(ctx, pos); err != nil {
			return err
		}
		return e.certs.MintTx(ctx, tx, domain.Call{Caller: e.cfg.Custody, Height: call.Height}, id, call.Caller)
	})
	if err != nil {
		return domain.Position{}, err
	}

	e.logger.Info("bond created",
		slog.Uint64("position_id", pos.ID),
		slog.String("owner", pos.Owner.String()),
		slog.Uint64("principal", uint64(pos.Principal)),
		slog.Uint64("lock_days", uint64(lock)),
	)
	e.emit(ctx, domain.EventBondCreated, pos.ID, call, map[string]any{
		"principal":   uint64(pos.Principal),
		"lock_period": uint64(lock),
		"maturity_at": pos.MaturityAt,
	})
	return pos, nil
}

// WithdrawBond pays out principal plus the full fixed yield to the current
// certificate holder once the bond has matured. Terminal and one-shot.
func (e *Engine) WithdrawBond(ctx context.Context, call domain.Call, positionID uint64) (domain.Micros, error) {
	var payout domain.Micros
	err := e.ledger.Update(ctx, func(tx domain.Tx) error {
		pos, err := e.activePosition(ctx, tx, call, positionID)
		if err != nil {
			return err
		}
		if !pos.Matured(call.Height) {
			return ErrNotMatured
		}

		payout = pos.Principal + CalculateYield(pos.Principal, pos.LockPeriod)
		if err := tx.MoveAsset(ctx, e.cfg.Custody, call.Caller, payout); err != nil {
			if errors.Is(err, domain.ErrInsufficientFunds) {
				return fmt.Errorf("%w: yield reserve exhausted", ErrTransferFailed)
			}
			return err
		}

		pos.Status = domain.BondWithdrawn
		return tx.PutPosition(ctx, pos)
	})
	if err != nil {
		return 0, err
	}

	e.logger.Info("bond withdrawn",
		slog.Uint64("position_id", positionID),
		slog.Uint64("payout", uint64(payout)),
	)
	e.emit(ctx, domain.EventBondWithdrawn, positionID, call, map[string]any{
		"payout": uint64(payout),
	})
	return payout, nil
}

// EarlyExit refunds the caller's principal minus a 10% penalty before
// maturity. The penalty accrues to the insurance pool; refund plus penalty
// always equals the principal exactly.
func (e *Engine) EarlyExit(ctx context.Context, call domain.Call, positionID uint64) (domain.Micros, error) {
	var refund domain.Micros
	err := e.ledger.Update(ctx, func(tx domain.Tx) error {
		pos, err := e.activePosition(ctx, tx, call, positionID)
		if err != nil {
			return err
		}

		penalty := pos.Principal * penaltyPct / 100
		refund = pos.Principal - penalty

		if err := tx.MoveAsset(ctx, e.cfg.Custody, call.Caller, refund); err != nil {
			if errors.Is(err, domain.ErrInsufficientFunds) {
				return ErrTransferFailed
			}
			return err
		}
		if err := tx.CreditInsurancePool(ctx, penalty); err != nil {
			return err
		}

		pos.Status = domain.BondEarlyExited
		return tx.PutPosition(ctx, pos)
	})
	if err != nil {
		return 0, err
	}

	e.logger.Info("bond early exit",
		slog.Uint64("position_id", positionID),
		slog.Uint64("refund", uint64(refund)),
	)
	e.emit(ctx, domain.EventBondEarlyExited, positionID, call, map[string]any{
		"refund": uint64(refund),
	})
	return refund, nil
}

// activePosition loads a position and enforces the shared withdraw/exit
// preconditions: the position exists, is still active, and the caller is
// the live certificate holder.
func (e *Engine) activePosition(ctx context.Context, tx domain.Tx, call domain.Call, positionID uint64) (domain.Position, error) {
	pos, err := tx.Position(ctx, positionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Position{}, ErrNotFound
		}
		return domain.Position{}, err
	}
	holder, err := e.certs.HolderTx(ctx, tx, positionID)
	if err != nil {
		return domain.Position{}, err
	}
	if call.Caller != holder {
		return domain.Position{}, ErrUnauthorized
	}
	if pos.Status != domain.BondActive {
		// Terminal positions are gone as far as settlement is concerned.
		return domain.Position{}, ErrNotFound
	}
	return pos, nil
}

// GetBondInfo returns the full position record.
func (e *Engine) GetBondInfo(ctx context.Context, positionID uint64) (domain.Position, error) {
	var pos domain.Position
	err := e.ledger.View(ctx, func(tx domain.Tx) error {
		p, err := tx.Position(ctx, positionID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		pos = p
		return nil
	})
	return pos, err
}

// PositionsByOwner lists positions whose beneficial owner is the given
// principal. Ownership follows marketplace sales.
func (e *Engine) PositionsByOwner(ctx context.Context, owner domain.Principal) ([]domain.Position, error) {
	var out []domain.Position
	err := e.ledger.View(ctx, func(tx domain.Tx) error {
		ps, err := tx.PositionsByOwner(ctx, owner)
		if err != nil {
			return err
		}
		out = ps
		return nil
	})
	return out, err
}

// InsurancePoolBalance returns the accumulated early-exit penalties.
func (e *Engine) InsurancePoolBalance(ctx context.Context) (domain.Micros, error) {
	var bal domain.Micros
	err := e.ledger.View(ctx, func(tx domain.Tx) error {
		b, err := tx.InsurancePool(ctx)
		if err != nil {
			return err
		}
		bal = b
		return nil
	})
	return bal, err
}

// MaturedPositions returns active positions whose maturity height has been
// reached. The maturity tracker polls this.
func (e *Engine) MaturedPositions(ctx context.Context, height uint64) ([]domain.Position, error) {
	var out []domain.Position
	err := e.ledger.View(ctx, func(tx domain.Tx) error {
		ps, err := tx.ActivePositions(ctx)
		if err != nil {
			return err
		}
		for _, p := range ps {
			if p.Matured(height) {
				out = append(out, p)
			}
		}
		return nil
	})
	return out, err
}

func (e *Engine) emit(ctx context.Context, typ string, positionID uint64, call domain.Call, payload map[string]any) {
	if e.bus == nil {
		return
	}
	evt := domain.Event{
		ID:         uuid.NewString(),
		Type:       typ,
		PositionID: positionID,
		Actor:      call.Caller,
		Height:     call.Height,
		Payload:    payload,
	}
	if err := e.bus.PublishEvent(ctx, evt); err != nil {
		e.logger.Warn("event publish failed",
			slog.String("type", typ),
			slog.String("error", err.Error()),
		)
	}
}
