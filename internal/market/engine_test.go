package market

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitbondlabs/bitbondd/internal/domain"
	"github.com/bitbondlabs/bitbondd/internal/nft"
	"github.com/bitbondlabs/bitbondd/internal/store/memory"
	"github.com/bitbondlabs/bitbondd/internal/vault"
)

const (
	custody  = domain.Principal("0x00000000000000000000000000000000000000aa")
	escrow   = domain.Principal("0x00000000000000000000000000000000000000bb")
	treasury = domain.Principal("0x00000000000000000000000000000000000000cc")
	alice    = domain.Principal("0x0000000000000000000000000000000000000001")
	bob      = domain.Principal("0x0000000000000000000000000000000000000002")
)

type fixture struct {
	ledger *memory.Ledger
	vault  *vault.Engine
	market *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := memory.NewLedger()
	logger := slog.Default()
	certs := nft.NewRegistry(ledger, custody, "https://bonds.example/meta/", logger)
	v := vault.NewEngine(ledger, ledger, certs, vault.Config{
		Custody:      custody,
		BlocksPerDay: 144,
	}, nil, logger)
	m := NewEngine(ledger, certs, Config{
		Escrow:   escrow,
		Treasury: treasury,
	}, nil, logger)
	ledger.SeedAsset(custody, 1_000_000)
	return &fixture{ledger: ledger, vault: v, market: m}
}

// createBond funds alice and locks a 1000-micro bond at height 0.
func (f *fixture) createBond(t *testing.T) domain.Position {
	t.Helper()
	f.ledger.SeedAsset(alice, 1000)
	pos, err := f.vault.CreateBond(context.Background(), domain.Call{Caller: alice, Height: 0}, 1000, domain.Lock90)
	require.NoError(t, err)
	return pos
}

func TestCalculateProtocolFee(t *testing.T) {
	assert.Equal(t, domain.Price(20), CalculateProtocolFee(1000))
	assert.Equal(t, domain.Price(0), CalculateProtocolFee(49))
	assert.Equal(t, domain.Price(1), CalculateProtocolFee(50))
}

func TestListBond(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pos := f.createBond(t)

	_, err := f.market.ListBond(ctx, domain.Call{Caller: alice, Height: 1}, pos.ID, 0)
	assert.ErrorIs(t, err, ErrBadPrice)

	_, err = f.market.ListBond(ctx, domain.Call{Caller: bob, Height: 1}, pos.ID, 1200)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.market.ListBond(ctx, domain.Call{Caller: alice, Height: 1}, 99, 1200)
	assert.ErrorIs(t, err, ErrNotFound)

	listing, err := f.market.ListBond(ctx, domain.Call{Caller: alice, Height: 1}, pos.ID, 1200)
	require.NoError(t, err)
	assert.Equal(t, pos.ID, listing.PositionID)
	assert.Equal(t, alice, listing.Seller)
	assert.Equal(t, domain.Price(1200), listing.Price)
	assert.Equal(t, uint64(1), listing.ListedAt)

	// Certificate is now escrowed.
	require.NoError(t, f.ledger.View(ctx, func(tx domain.Tx) error {
		cert, err := tx.Certificate(ctx, pos.ID)
		require.NoError(t, err)
		assert.Equal(t, escrow, cert.Holder)
		return nil
	}))

	_, err = f.market.ListBond(ctx, domain.Call{Caller: alice, Height: 2}, pos.ID, 1300)
	assert.ErrorIs(t, err, ErrAlreadyListed)
}

func TestListBondRejectsSettledBond(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pos := f.createBond(t)

	_, err := f.vault.EarlyExit(ctx, domain.Call{Caller: alice, Height: 1}, pos.ID)
	require.NoError(t, err)

	_, err = f.market.ListBond(ctx, domain.Call{Caller: alice, Height: 2}, pos.ID, 1200)
	assert.ErrorIs(t, err, ErrBondNotActive)
}

func TestCancelListingRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pos := f.createBond(t)

	err := f.market.CancelListing(ctx, domain.Call{Caller: alice, Height: 1}, pos.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.market.ListBond(ctx, domain.Call{Caller: alice, Height: 1}, pos.ID, 1200)
	require.NoError(t, err)

	err = f.market.CancelListing(ctx, domain.Call{Caller: bob, Height: 2}, pos.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, f.market.CancelListing(ctx, domain.Call{Caller: alice, Height: 2}, pos.ID))

	// Holder restored, listing gone; the position can list again.
	require.NoError(t, f.ledger.View(ctx, func(tx domain.Tx) error {
		cert, err := tx.Certificate(ctx, pos.ID)
		require.NoError(t, err)
		assert.Equal(t, alice, cert.Holder)
		_, err = tx.Listing(ctx, pos.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		return nil
	}))

	_, err = f.market.ListBond(ctx, domain.Call{Caller: alice, Height: 3}, pos.ID, 1100)
	require.NoError(t, err)
}

func TestUpdatePrice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pos := f.createBond(t)

	_, err := f.market.ListBond(ctx, domain.Call{Caller: alice, Height: 1}, pos.ID, 1200)
	require.NoError(t, err)

	err = f.market.UpdatePrice(ctx, domain.Call{Caller: alice, Height: 2}, pos.ID, 0)
	assert.ErrorIs(t, err, ErrBadPrice)

	err = f.market.UpdatePrice(ctx, domain.Call{Caller: bob, Height: 2}, pos.ID, 900)
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, f.market.UpdatePrice(ctx, domain.Call{Caller: alice, Height: 2}, pos.ID, 900))

	listing, err := f.market.GetListing(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Price(900), listing.Price)

	// Escrow untouched.
	require.NoError(t, f.ledger.View(ctx, func(tx domain.Tx) error {
		cert, err := tx.Certificate(ctx, pos.ID)
		require.NoError(t, err)
		assert.Equal(t, escrow, cert.Holder)
		return nil
	}))
}

func TestBuyBondSettlement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pos := f.createBond(t)
	f.ledger.SeedSettlement(bob, 1500)

	_, err := f.market.ListBond(ctx, domain.Call{Caller: alice, Height: 1}, pos.ID, 1000)
	require.NoError(t, err)

	sale, err := f.market.BuyBond(ctx, domain.Call{Caller: bob, Height: 2}, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Price(1000), sale.Price)
	assert.Equal(t, domain.Price(20), sale.Fee)
	assert.Equal(t, alice, sale.Seller)
	assert.Equal(t, bob, sale.Buyer)

	require.NoError(t, f.ledger.View(ctx, func(tx domain.Tx) error {
		// Seller nets price minus the 2% fee; treasury collects the fee.
		sellerBal, err := tx.SettlementBalance(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, domain.Price(980), sellerBal)
		treasuryBal, err := tx.SettlementBalance(ctx, treasury)
		require.NoError(t, err)
		assert.Equal(t, domain.Price(20), treasuryBal)
		buyerBal, err := tx.SettlementBalance(ctx, bob)
		require.NoError(t, err)
		assert.Equal(t, domain.Price(500), buyerBal)

		// Certificate to the buyer, ownership follows, listing gone.
		cert, err := tx.Certificate(ctx, pos.ID)
		require.NoError(t, err)
		assert.Equal(t, bob, cert.Holder)
		p, err := tx.Position(ctx, pos.ID)
		require.NoError(t, err)
		assert.Equal(t, bob, p.Owner)
		_, err = tx.Listing(ctx, pos.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		return nil
	}))

	stats, active, err := f.market.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Price(1000), stats.TotalVolume)
	assert.Equal(t, domain.Price(20), stats.TotalFees)
	assert.Equal(t, uint64(1), stats.SalesCount)
	assert.Equal(t, 0, active)
}

func TestBuyBondAtomicOnInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pos := f.createBond(t)
	f.ledger.SeedSettlement(bob, 999)

	listing, err := f.market.ListBond(ctx, domain.Call{Caller: alice, Height: 1}, pos.ID, 1000)
	require.NoError(t, err)

	_, err = f.market.BuyBond(ctx, domain.Call{Caller: bob, Height: 2}, pos.ID)
	assert.ErrorIs(t, err, ErrTransferFailed)

	// Listing, escrow holder, and every balance are untouched.
	require.NoError(t, f.ledger.View(ctx, func(tx domain.Tx) error {
		got, err := tx.Listing(ctx, pos.ID)
		require.NoError(t, err)
		assert.Equal(t, listing, got)
		cert, err := tx.Certificate(ctx, pos.ID)
		require.NoError(t, err)
		assert.Equal(t, escrow, cert.Holder)
		buyerBal, err := tx.SettlementBalance(ctx, bob)
		require.NoError(t, err)
		assert.Equal(t, domain.Price(999), buyerBal)
		sellerBal, err := tx.SettlementBalance(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, domain.Price(0), sellerBal)
		return nil
	}))

	stats, active, err := f.market.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.SalesCount)
	assert.Equal(t, 1, active)
}

func TestBuyBondRejectsSelfPurchase(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pos := f.createBond(t)
	f.ledger.SeedSettlement(alice, 2000)

	_, err := f.market.ListBond(ctx, domain.Call{Caller: alice, Height: 1}, pos.ID, 1000)
	require.NoError(t, err)

	_, err = f.market.BuyBond(ctx, domain.Call{Caller: alice, Height: 2}, pos.ID)
	assert.ErrorIs(t, err, ErrSelfPurchase)
}

func TestBuyBondUnknownListing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.market.BuyBond(ctx, domain.Call{Caller: bob, Height: 2}, 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSuggestedPrice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pos := f.createBond(t) // 1000 micros, 90 days, created at height 0

	fullYield := vault.CalculateYield(pos.Principal, pos.LockPeriod) // 19

	// Fresh bond: no accrual, exactly principal.
	price, err := f.market.CalculateSuggestedPrice(ctx, pos.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.Price(1000), price)

	// Halfway: principal plus floor(19/2).
	mid := pos.CreatedAt + (pos.MaturityAt-pos.CreatedAt)/2
	price, err = f.market.CalculateSuggestedPrice(ctx, pos.ID, mid)
	require.NoError(t, err)
	assert.Equal(t, domain.Price(1009), price)

	// At and past maturity: full payout.
	for _, h := range []uint64{pos.MaturityAt, pos.MaturityAt + 5000} {
		price, err = f.market.CalculateSuggestedPrice(ctx, pos.ID, h)
		require.NoError(t, err)
		assert.Equal(t, domain.Price(uint64(pos.Principal)+uint64(fullYield)), price)
	}

	// Never below principal at any height.
	for h := uint64(0); h <= pos.MaturityAt+100; h += 997 {
		price, err = f.market.CalculateSuggestedPrice(ctx, pos.ID, h)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, uint64(price), uint64(pos.Principal))
	}

	_, err = f.market.CalculateSuggestedPrice(ctx, 99, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestCreateListBuyScenario walks the full happy path: alice locks a bond,
// lists it, bob buys it and later withdraws the matured payout.
func TestCreateListBuyScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pos := f.createBond(t)
	f.ledger.SeedSettlement(bob, 1000)

	_, err := f.market.ListBond(ctx, domain.Call{Caller: alice, Height: 10}, pos.ID, 1000)
	require.NoError(t, err)

	sale, err := f.market.BuyBond(ctx, domain.Call{Caller: bob, Height: 20}, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Price(20), sale.Fee)

	// Alice can no longer settle the bond; bob can, once matured.
	_, err = f.vault.WithdrawBond(ctx, domain.Call{Caller: alice, Height: pos.MaturityAt}, pos.ID)
	assert.ErrorIs(t, err, vault.ErrUnauthorized)

	payout, err := f.vault.WithdrawBond(ctx, domain.Call{Caller: bob, Height: pos.MaturityAt}, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.Principal+vault.CalculateYield(pos.Principal, pos.LockPeriod), payout)
}
