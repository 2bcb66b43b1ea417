package market

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/bitbondlabs/bitbondd/internal/domain"
	"github.com/bitbondlabs/bitbondd/internal/nft"
	"github.com/bitbondlabs/bitbondd/internal/vault"
)

// Marketplace errors. Scoped to this package; the vault's error space is
// independent even where conditions sound alike.
var (
	ErrUnauthorized   = errors.New("market: unauthorized")
	ErrAlreadyListed  = errors.New("market: bond already listed")
	ErrNotFound       = errors.New("market: listing not found")
	ErrBadPrice       = errors.New("market: price must be positive")
	ErrSelfPurchase   = errors.New("market: cannot buy own listing")
	ErrTransferFailed = errors.New("market: payment transfer failed")
	ErrBondNotActive  = errors.New("market: bond not active")
)

// protocolFeePct is the marketplace cut on every sale, in whole percent.
const protocolFeePct = 2

// Config carries the marketplace's fixed wiring parameters.
type Config struct {
	// Escrow is the engine account that holds certificates while listed.
	Escrow domain.Principal
	// Treasury receives protocol fees.
	Treasury domain.Principal
}

// Engine is the escrow marketplace: it lists bond certificates for sale,
// holds them in escrow, and settles purchases atomically. Seller capability
// is re-checked against the live certificate holder at every call.
type Engine struct {
	ledger domain.Ledger
	certs  *nft.Registry
	cfg    Config
	bus    domain.EventPublisher
	logger *slog.Logger
}

// NewEngine creates the marketplace engine. bus may be nil.
func NewEngine(ledger domain.Ledger, certs *nft.Registry, cfg Config, bus domain.EventPublisher, logger *slog.Logger) *Engine {
	return &Engine{
		ledger: ledger,
		certs:  certs,
		cfg:    cfg,
		bus:    bus,
		logger: logger.With(slog.String("component", "market")),
	}
}

// CalculateProtocolFee returns the marketplace cut for a sale price, floor
// truncated.
func CalculateProtocolFee(price domain.Price) domain.Price {
	return price * protocolFeePct / 100
}

// ListBond escrows the caller's certificate and records a listing at the
// given price. The listing id is the position id; one listing per position.
func (e *Engine) ListBond(ctx context.Context, call domain.Call, positionID uint64, price domain.Price) (domain.Listing, error) {
	if price == 0 {
		return domain.Listing{}, ErrBadPrice
	}

	var listing domain.Listing
	err := e.ledger.Update(ctx, func(tx domain.Tx) error {
		pos, err := tx.Position(ctx, positionID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if pos.Status != domain.BondActive {
			return ErrBondNotActive
		}
		if _, err := tx.Listing(ctx, positionID); err == nil {
			return ErrAlreadyListed
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		// The certificate transfer is the capability check: it fails unless
		// the caller is the live holder.
		if err := e.certs.TransferTx(ctx, tx, call, positionID, call.Caller, e.cfg.Escrow); err != nil {
			if errors.Is(err, nft.ErrUnauthorized) {
				return ErrUnauthorized
			}
			if errors.Is(err, nft.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}

		listing = domain.Listing{
			PositionID: positionID,
			Seller:     call.Caller,
			Price:      price,
			ListedAt:   call.Height,
		}
		return tx.PutListing(ctx, listing)
	})
	if err != nil {
		return domain.Listing{}, err
	}

	e.logger.Info("bond listed",
		slog.Uint64("position_id", positionID),
		slog.String("seller", call.Caller.String()),
		slog.Uint64("price", uint64(price)),
	)
	e.emit(ctx, domain.EventBondListed, positionID, call, map[string]any{
		"price": uint64(price),
	})
	return listing, nil
}

// CancelListing returns the certificate from escrow to the seller and
// removes the listing.
func (e *Engine) CancelListing(ctx context.Context, call domain.Call, positionID uint64) error {
	err := e.ledger.Update(ctx, func(tx domain.Tx) error {
		listing, err := e.sellerListing(ctx, tx, call, positionID)
		if err != nil {
			return err
		}
		escrowCall := domain.Call{Caller: e.cfg.Escrow, Height: call.Height}
		if err := e.certs.TransferTx(ctx, tx, escrowCall, positionID, e.cfg.Escrow, listing.Seller); err != nil {
			return err
		}
		return tx.DeleteListing(ctx, positionID)
	})
	if err != nil {
		return err
	}

	e.logger.Info("listing cancelled", slog.Uint64("position_id", positionID))
	e.emit(ctx, domain.EventListingCancelled, positionID, call, nil)
	return nil
}

// UpdatePrice changes the asking price on an existing listing. Escrow is
// untouched.
func (e *Engine) UpdatePrice(ctx context.Context, call domain.Call, positionID uint64, price domain.Price) error {
	if price == 0 {
		return ErrBadPrice
	}
	err := e.ledger.Update(ctx, func(tx domain.Tx) error {
		listing, err := e.sellerListing(ctx, tx, call, positionID)
		if err != nil {
			return err
		}
		listing.Price = price
		return tx.PutListing(ctx, listing)
	})
	if err != nil {
		return err
	}

	e.emit(ctx, domain.EventPriceUpdated, positionID, call, map[string]any{
		"price": uint64(price),
	})
	return nil
}

// BuyBond settles a purchase: the buyer pays the listed price, the seller
// receives the price minus the protocol fee, the treasury receives the fee,
// the certificate leaves escrow for the buyer, and the listing is removed.
// All of it commits together or not at all.
func (e *Engine) BuyBond(ctx context.Context, call domain.Call, positionID uint64) (domain.Sale, error) {
	var sale domain.Sale
	err := e.ledger.Update(ctx, func(tx domain.Tx) error {
		listing, err := tx.Listing(ctx, positionID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if call.Caller == listing.Seller {
			return ErrSelfPurchase
		}

		fee := CalculateProtocolFee(listing.Price)
		sellerAmount := listing.Price - fee

		if err := tx.MoveSettlement(ctx, call.Caller, listing.Seller, sellerAmount); err != nil {
			if errors.Is(err, domain.ErrInsufficientFunds) {
				return ErrTransferFailed
			}
			return err
		}
		if err := tx.MoveSettlement(ctx, call.Caller, e.cfg.Treasury, fee); err != nil {
			if errors.Is(err, domain.ErrInsufficientFunds) {
				return ErrTransferFailed
			}
			return err
		}

		escrowCall := domain.Call{Caller: e.cfg.Escrow, Height: call.Height}
		if err := e.certs.TransferTx(ctx, tx, escrowCall, positionID, e.cfg.Escrow, call.Caller); err != nil {
			return err
		}

		// Beneficial ownership follows the certificate.
		pos, err := tx.Position(ctx, positionID)
		if err != nil {
			return err
		}
		pos.Owner = call.Caller
		if err := tx.PutPosition(ctx, pos); err != nil {
			return err
		}

		if err := tx.DeleteListing(ctx, positionID); err != nil {
			return err
		}

		stats, err := tx.MarketStats(ctx)
		if err != nil {
			return err
		}
		stats.TotalVolume += listing.Price
		stats.TotalFees += fee
		stats.SalesCount++
		if err := tx.PutMarketStats(ctx, stats); err != nil {
			return err
		}

		sale = domain.Sale{
			PositionID: positionID,
			Seller:     listing.Seller,
			Buyer:      call.Caller,
			Price:      listing.Price,
			Fee:        fee,
			Height:     call.Height,
		}
		return tx.AppendSale(ctx, sale)
	})
	if err != nil {
		return domain.Sale{}, err
	}

	e.logger.Info("bond sold",
		slog.Uint64("position_id", positionID),
		slog.String("buyer", sale.Buyer.String()),
		slog.Uint64("price", uint64(sale.Price)),
		slog.Uint64("fee", uint64(sale.Fee)),
	)
	e.emit(ctx, domain.EventBondSold, positionID, call, map[string]any{
		"price": uint64(sale.Price),
		"fee":   uint64(sale.Fee),
	})
	return sale, nil
}

// sellerListing loads a listing and checks the caller is its seller.
func (e *Engine) sellerListing(ctx context.Context, tx domain.Tx, call domain.Call, positionID uint64) (domain.Listing, error) {
	listing, err := tx.Listing(ctx, positionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Listing{}, ErrNotFound
		}
		return domain.Listing{}, err
	}
	if call.Caller != listing.Seller {
		return domain.Listing{}, ErrUnauthorized
	}
	return listing, nil
}

// GetListing returns an active listing.
func (e *Engine) GetListing(ctx context.Context, positionID uint64) (domain.Listing, error) {
	var listing domain.Listing
	err := e.ledger.View(ctx, func(tx domain.Tx) error {
		l, err := tx.Listing(ctx, positionID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		listing = l
		return nil
	})
	return listing, err
}

// Listings returns all active listings ordered by position id.
func (e *Engine) Listings(ctx context.Context) ([]domain.Listing, error) {
	var out []domain.Listing
	err := e.ledger.View(ctx, func(tx domain.Tx) error {
		ls, err := tx.Listings(ctx)
		if err != nil {
			return err
		}
		out = ls
		return nil
	})
	return out, err
}

// CalculateSuggestedPrice quotes a fair asking price for a position:
// principal plus yield accrued pro-rata over the elapsed fraction of the
// lock period, the full payout once matured. Quoted 1:1 in settlement
// units. Never below principal.
func (e *Engine) CalculateSuggestedPrice(ctx context.Context, positionID uint64, height uint64) (domain.Price, error) {
	var price domain.Price
	err := e.ledger.View(ctx, func(tx domain.Tx) error {
		pos, err := tx.Position(ctx, positionID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}

		fullYield := vault.CalculateYield(pos.Principal, pos.LockPeriod)
		if pos.Matured(height) {
			price = domain.Price(pos.Principal + fullYield)
			return nil
		}

		elapsed := uint64(0)
		if height > pos.CreatedAt {
			elapsed = height - pos.CreatedAt
		}
		duration := pos.MaturityAt - pos.CreatedAt
		accrued := domain.Micros(0)
		if duration > 0 {
			accrued = fullYield * domain.Micros(elapsed) / domain.Micros(duration)
		}
		price = domain.Price(pos.Principal + accrued)
		return nil
	})
	return price, err
}

// Stats returns the persisted sale rollups plus the live listing count.
func (e *Engine) Stats(ctx context.Context) (domain.MarketStats, int, error) {
	var stats domain.MarketStats
	var active int
	err := e.ledger.View(ctx, func(tx domain.Tx) error {
		s, err := tx.MarketStats(ctx)
		if err != nil {
			return err
		}
		ls, err := tx.Listings(ctx)
		if err != nil {
			return err
		}
		stats = s
		active = len(ls)
		return nil
	})
	return stats, active, err
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
