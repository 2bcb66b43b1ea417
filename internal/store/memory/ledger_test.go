package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitbondlabs/bitbondd/internal/domain"
)

const (
	alice = domain.Principal("0x0000000000000000000000000000000000000001")
	bob   = domain.Principal("0x0000000000000000000000000000000000000002")
)

func TestUpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	l.SeedAsset(alice, 100)

	boom := errors.New("boom")
	err := l.Update(ctx, func(tx domain.Tx) error {
		require.NoError(t, tx.CreditAsset(ctx, alice, 900))
		id, err := tx.NextPositionID(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.PutPosition(ctx, domain.Position{ID: id, Owner: alice, Status: domain.BondActive}))
		require.NoError(t, tx.CreditInsurancePool(ctx, 50))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// Nothing staged by the failed closure is visible, including the id
	// counter.
	require.NoError(t, l.View(ctx, func(tx domain.Tx) error {
		bal, err := tx.AssetBalance(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, domain.Micros(100), bal)
		_, err = tx.Position(ctx, 1)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		pool, err := tx.InsurancePool(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.Micros(0), pool)
		id, err := tx.NextPositionID(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), id)
		return nil
	}))
}

func TestMoveRejectsOverdraft(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	l.SeedAsset(alice, 10)
	l.SeedSettlement(alice, 10)

	err := l.Update(ctx, func(tx domain.Tx) error {
		return tx.MoveAsset(ctx, alice, bob, 11)
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	err = l.Update(ctx, func(tx domain.Tx) error {
		return tx.MoveSettlement(ctx, alice, bob, 11)
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestReadsSeeStagedWrites(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	require.NoError(t, l.Update(ctx, func(tx domain.Tx) error {
		require.NoError(t, tx.PutListing(ctx, domain.Listing{PositionID: 3, Seller: alice, Price: 500}))
		got, err := tx.Listing(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, domain.Price(500), got.Price)
		return nil
	}))

	ls := domain.Listing{}
	require.NoError(t, l.View(ctx, func(tx domain.Tx) error {
		got, err := tx.Listing(ctx, 3)
		require.NoError(t, err)
		ls = got
		return nil
	}))
	assert.Equal(t, alice, ls.Seller)
}

func TestHeightAdvance(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	h, err := l.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), h)

	h, err = l.Advance(ctx, 144)
	require.NoError(t, err)
	assert.Equal(t, uint64(144), h)

	h, err = l.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(144), h)
}
