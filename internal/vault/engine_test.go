package vault

import (
	"context"
	"log/slog"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitbondlabs/bitbondd/internal/domain"
	"github.com/bitbondlabs/bitbondd/internal/nft"
	"github.com/bitbondlabs/bitbondd/internal/store/memory"
)

const (
	custody = domain.Principal("0x00000000000000000000000000000000000000aa")
	alice   = domain.Principal("0x0000000000000000000000000000000000000001")
	bob     = domain.Principal("0x0000000000000000000000000000000000000002")
)

func newTestEngine(t *testing.T) (*Engine, *memory.Ledger) {
	t.Helper()
	ledger := memory.NewLedger()
	logger := slog.Default()
	certs := nft.NewRegistry(ledger, custody, "https://bonds.example/meta/", logger)
	eng := NewEngine(ledger, ledger, certs, Config{
		Custody:      custody,
		BlocksPerDay: 144,
	}, nil, logger)
	// Yield reserve so withdrawals can pay out more than locked principal.
	ledger.SeedAsset(custody, 1_000_000)
	return eng, ledger
}

func TestCalculateYieldTable(t *testing.T) {
	assert.Equal(t, domain.Micros(4), CalculateYield(1000, domain.Lock30))
	assert.Equal(t, domain.Micros(19), CalculateYield(1000, domain.Lock90))
	assert.Equal(t, domain.Micros(59), CalculateYield(1000, domain.Lock180))
	assert.Equal(t, domain.Micros(0), CalculateYield(1000, domain.LockPeriod(60)))
}

func TestCreateBond(t *testing.T) {
	ctx := context.Background()
	eng, ledger := newTestEngine(t)
	ledger.SeedAsset(alice, 5000)

	pos, err := eng.CreateBond(ctx, domain.Call{Caller: alice, Height: 10}, 1000, domain.Lock90)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pos.ID)
	assert.Equal(t, alice, pos.Owner)
	assert.Equal(t, domain.Micros(1000), pos.Principal)
	assert.Equal(t, uint64(10), pos.CreatedAt)
	assert.Equal(t, uint64(10+90*144), pos.MaturityAt)
	assert.Equal(t, uint64(800), pos.APYBps)
	assert.Equal(t, domain.BondActive, pos.Status)

	// Principal moved into custody.
	require.NoError(t, ledger.View(ctx, func(tx domain.Tx) error {
		bal, err := tx.AssetBalance(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, domain.Micros(4000), bal)
		cert, err := tx.Certificate(ctx, pos.ID)
		require.NoError(t, err)
		assert.Equal(t, alice, cert.Holder)
		assert.Equal(t, "https://bonds.example/meta/1", cert.TokenURI)
		return nil
	}))

	pos2, err := eng.CreateBond(ctx, domain.Call{Caller: alice, Height: 11}, 1000, domain.Lock30)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), pos2.ID)
}

func TestCreateBondRejectsBadLockPeriod(t *testing.T) {
	ctx := context.Background()
	eng, ledger := newTestEngine(t)
	ledger.SeedAsset(alice, 5000)

	_, err := eng.CreateBond(ctx, domain.Call{Caller: alice, Height: 1}, 1000, domain.LockPeriod(45))
	assert.ErrorIs(t, err, ErrBadLockPeriod)
}

func TestCreateBondRejectsZeroAndInsufficient(t *testing.T) {
	ctx := context.Background()
	eng, ledger := newTestEngine(t)
	ledger.SeedAsset(alice, 100)

	_, err := eng.CreateBond(ctx, domain.Call{Caller: alice, Height: 1}, 0, domain.Lock30)
	assert.ErrorIs(t, err, ErrTransferFailed)

	_, err = eng.CreateBond(ctx, domain.Call{Caller: alice, Height: 1}, 1000, domain.Lock30)
	assert.ErrorIs(t, err, ErrTransferFailed)

	// Failed attempts consume nothing: the next success still gets id 1 and
	// alice's balance is untouched.
	pos, err := eng.CreateBond(ctx, domain.Call{Caller: alice, Height: 1}, 100, domain.Lock30)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pos.ID)
}

func TestCreateBondRejectsOversizedPrincipal(t *testing.T) {
	ctx := context.Background()
	eng, ledger := newTestEngine(t)
	ledger.SeedAsset(alice, MaxPrincipal+1)

	_, err := eng.CreateBond(ctx, domain.Call{Caller: alice, Height: 1}, MaxPrincipal+1, domain.Lock180)
	assert.ErrorIs(t, err, ErrAmountTooLarge)

	// At the cap the yield numerator still fits uint64: the floor matches
	// arbitrary-precision arithmetic at the widest tier.
	want := new(big.Int).SetUint64(uint64(MaxPrincipal))
	want.Mul(want, big.NewInt(12*180))
	want.Div(want, big.NewInt(36500))
	assert.Equal(t, want.Uint64(), uint64(CalculateYield(MaxPrincipal, domain.Lock180)))
}

func TestWithdrawBond(t *testing.T) {
	ctx := context.Background()
	eng, ledger := newTestEngine(t)
	ledger.SeedAsset(alice, 1000)

	pos, err := eng.CreateBond(ctx, domain.Call{Caller: alice, Height: 0}, 1000, domain.Lock30)
	require.NoError(t, err)

	// Before maturity.
	_, err = eng.WithdrawBond(ctx, domain.Call{Caller: alice, Height: pos.MaturityAt - 1}, pos.ID)
	assert.ErrorIs(t, err, ErrNotMatured)

	// Wrong caller.
	_, err = eng.WithdrawBond(ctx, domain.Call{Caller: bob, Height: pos.MaturityAt}, pos.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Unknown id.
	_, err = eng.WithdrawBond(ctx, domain.Call{Caller: alice, Height: pos.MaturityAt}, 99)
	assert.ErrorIs(t, err, ErrNotFound)

	// At maturity: principal + yield.
	payout, err := eng.WithdrawBond(ctx, domain.Call{Caller: alice, Height: pos.MaturityAt}, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Micros(1004), payout)

	require.NoError(t, ledger.View(ctx, func(tx domain.Tx) error {
		bal, err := tx.AssetBalance(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, domain.Micros(1004), bal)
		p, err := tx.Position(ctx, pos.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.BondWithdrawn, p.Status)
		return nil
	}))

	// One-shot: a second withdrawal fails.
	_, err = eng.WithdrawBond(ctx, domain.Call{Caller: alice, Height: pos.MaturityAt + 1}, pos.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEarlyExit(t *testing.T) {
	ctx := context.Background()
	eng, ledger := newTestEngine(t)
	ledger.SeedAsset(alice, 1005)

	pos, err := eng.CreateBond(ctx, domain.Call{Caller: alice, Height: 0}, 1005, domain.Lock180)
	require.NoError(t, err)

	_, err = eng.EarlyExit(ctx, domain.Call{Caller: bob, Height: 5}, pos.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	refund, err := eng.EarlyExit(ctx, domain.Call{Caller: alice, Height: 5}, pos.ID)
	require.NoError(t, err)

	// penalty = floor(1005 * 10 / 100) = 100, refund = 905; the truncation
	// remainder stays on the refund side so refund+penalty == principal.
	assert.Equal(t, domain.Micros(905), refund)

	pool, err := eng.InsurancePoolBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Micros(100), pool)
	assert.Equal(t, pos.Principal, refund+pool)

	// Terminal: no second exit, no withdrawal.
	_, err = eng.EarlyExit(ctx, domain.Call{Caller: alice, Height: 6}, pos.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = eng.WithdrawBond(ctx, domain.Call{Caller: alice, Height: pos.MaturityAt}, pos.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEarlyExitRefundPlusPenaltyIsPrincipal(t *testing.T) {
	ctx := context.Background()
	for _, principal := range []domain.Micros{1, 9, 10, 99, 1000, 12345, 999_999} {
		eng, ledger := newTestEngine(t)
		ledger.SeedAsset(alice, principal)

		pos, err := eng.CreateBond(ctx, domain.Call{Caller: alice, Height: 0}, principal, domain.Lock30)
		require.NoError(t, err)

		refund, err := eng.EarlyExit(ctx, domain.Call{Caller: alice, Height: 1}, pos.ID)
		require.NoError(t, err)

		pool, err := eng.InsurancePoolBalance(ctx)
		require.NoError(t, err)
		assert.Equal(t, principal, refund+pool, "principal %d", principal)
		assert.Equal(t, principal*10/100, pool)
	}
}

func TestGetBondInfoAndPortfolio(t *testing.T) {
	ctx := context.Background()
	eng, ledger := newTestEngine(t)
	ledger.SeedAsset(alice, 3000)

	_, err := eng.GetBondInfo(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	p1, err := eng.CreateBond(ctx, domain.Call{Caller: alice, Height: 0}, 1000, domain.Lock30)
	require.NoError(t, err)
	p2, err := eng.CreateBond(ctx, domain.Call{Caller: alice, Height: 0}, 2000, domain.Lock90)
	require.NoError(t, err)

	got, err := eng.GetBondInfo(ctx, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, p1, got)

	ps, err := eng.PositionsByOwner(ctx, alice)
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, []domain.Position{p1, p2}, ps)

	ps, err = eng.PositionsByOwner(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, ps)
}

func TestMaturedPositions(t *testing.T) {
	ctx := context.Background()
	eng, ledger := newTestEngine(t)
	ledger.SeedAsset(alice, 2000)

	p1, err := eng.CreateBond(ctx, domain.Call{Caller: alice, Height: 0}, 1000, domain.Lock30)
	require.NoError(t, err)
	_, err = eng.CreateBond(ctx, domain.Call{Caller: alice, Height: 0}, 1000, domain.Lock180)
	require.NoError(t, err)

	matured, err := eng.MaturedPositions(ctx, p1.MaturityAt)
	require.NoError(t, err)
	require.Len(t, matured, 1)
	assert.Equal(t, p1.ID, matured[0].ID)

	matured, err = eng.MaturedPositions(ctx, p1.MaturityAt-1)
	require.NoError(t, err)
	assert.Empty(t, matured)
}
